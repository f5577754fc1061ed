// Package health exposes liveness and readiness probes for the focus
// process, grounded on the teacher's health handler but checking the
// dependencies this service actually has: the presence bus and the bridge
// registry's operational count.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/meetfocus/focus/internal/bus"
	"github.com/meetfocus/focus/internal/logging"
)

// BridgeChecker reports whether grpcAddr is serving, using the standard gRPC
// health-checking protocol (no custom wire format).
type BridgeChecker interface {
	Check(ctx context.Context, grpcAddr string) bool
}

// GRPCBridgeChecker is the default BridgeChecker, dialing each bridge's gRPC
// health endpoint.
type GRPCBridgeChecker struct {
	DialOptions []grpc.DialOption
}

// Check dials grpcAddr and queries the standard Health service.
func (c *GRPCBridgeChecker) Check(ctx context.Context, grpcAddr string) bool {
	conn, err := grpc.NewClient(grpcAddr, c.dialOptions()...)
	if err != nil {
		logging.Error(ctx, "failed to dial bridge for health check", zap.String("addr", grpcAddr), zap.Error(err))
		return false
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ""})
	if err != nil {
		logging.Error(ctx, "bridge health check RPC failed", zap.String("addr", grpcAddr), zap.Error(err))
		return false
	}
	return resp.Status == healthpb.HealthCheckResponse_SERVING
}

func (c *GRPCBridgeChecker) dialOptions() []grpc.DialOption {
	if len(c.DialOptions) > 0 {
		return c.DialOptions
	}
	return nil
}

// RegistrySnapshot is the subset of the bridge registry's state the
// readiness probe needs. Implemented by internal/bridge.Registry.
type RegistrySnapshot interface {
	OperationalCount() int
	TotalCount() int
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	bus      *bus.Service
	registry RegistrySnapshot
}

// NewHandler builds a health Handler. registry may be nil before the bridge
// registry is wired (readiness then reports bridges as "unknown").
func NewHandler(busService *bus.Service, registry RegistrySnapshot) *Handler {
	return &Handler{bus: busService, registry: registry}
}

// LivenessResponse is the /health/live payload.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the /health/ready payload.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness reports the process is alive with no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness reports 200 only when every checked dependency is healthy,
// 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	redisStatus := h.checkBus(ctx)
	checks["bus"] = redisStatus
	if redisStatus == "unhealthy" {
		healthy = false
	}

	bridgeStatus := h.checkBridges()
	checks["bridges"] = bridgeStatus
	if bridgeStatus == "unhealthy" {
		healthy = false
	}

	status := "ready"
	code := http.StatusOK
	if !healthy {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkBus(ctx context.Context) string {
	if h.bus == nil {
		return "healthy"
	}
	if err := h.bus.Ping(ctx); err != nil {
		logging.Error(ctx, "presence bus health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

func (h *Handler) checkBridges() string {
	if h.registry == nil {
		return "unknown"
	}
	if h.registry.OperationalCount() == 0 && h.registry.TotalCount() > 0 {
		return "unhealthy"
	}
	return "healthy"
}
