// Command focus is the conference-focus process: it wires the ambient
// stack (config, logging, tracing, metrics, rate limiting) to the domain
// packages (sourcemodel, bridge, worker, colibri, conference, supervisor)
// and serves the HTTP dispatcher described in spec.md §4.H, grounded on
// `cmd_teacher/v1/session/main.go`'s bootstrap/graceful-shutdown shape.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meetfocus/focus/internal/allocator"
	"github.com/meetfocus/focus/internal/auth"
	"github.com/meetfocus/focus/internal/bridge"
	"github.com/meetfocus/focus/internal/bus"
	"github.com/meetfocus/focus/internal/colibri"
	"github.com/meetfocus/focus/internal/config"
	"github.com/meetfocus/focus/internal/conference"
	"github.com/meetfocus/focus/internal/dispatch"
	"github.com/meetfocus/focus/internal/health"
	"github.com/meetfocus/focus/internal/logging"
	"github.com/meetfocus/focus/internal/presence"
	"github.com/meetfocus/focus/internal/ratelimit"
	"github.com/meetfocus/focus/internal/supervisor"
	"github.com/meetfocus/focus/internal/tracing"
	"github.com/meetfocus/focus/internal/transport"
	"github.com/meetfocus/focus/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		// Fine in production, where config comes from the environment
		// directly; logging isn't up yet so this goes to stderr.
		os.Stderr.WriteString("no .env file found, relying on environment variables\n")
	}

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logging.L().Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "focus", cfg.OTLPCollectorAddr)
		if err != nil {
			logging.Error(ctx, "failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	var busService *bus.Service
	var rateLimitRedis *redis.Client
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Error(ctx, "failed to connect to presence bus, continuing single-instance", zap.Error(err))
		} else {
			defer func() { _ = busService.Close() }()
		}
		rateLimitRedis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}

	// --- Bridge registry/selector, worker pool/manager ---

	registry := bridge.NewRegistry(cfg.BridgeFailureResetThreshold)
	var selector bridge.Selector
	switch cfg.BridgeSelectorStrategy {
	case "single":
		selector = bridge.NewSingleSelector(registry, cfg.BridgeFailureResetThreshold)
	case "split":
		selector = bridge.NewSplitSelector(registry, cfg.BridgeFailureResetThreshold)
	default:
		selector = bridge.NewRegionSelector(registry, cfg)
	}
	bridgeClient := bridge.NewHTTPClient(cfg.AllocationTimeout)

	workerPool := worker.NewPool(cfg)
	workerClient := worker.NewHTTPClient(cfg.DialOutPerWorkerTTL)
	addrs := presence.NewAddressBook()
	workerManager := worker.NewManager(workerPool, workerClient, worker.WorkerAddr(addrs.Resolve), cfg.DialOutMaxRetries)

	var presenceWG sync.WaitGroup
	if busService != nil {
		busService.SubscribePresence(ctx, "bridge", &presenceWG, presence.BridgeHandler(registry, addrs))
		busService.SubscribePresence(ctx, "worker", &presenceWG, presence.WorkerHandler(workerPool, addrs))
	}

	// --- Authentication authority ---

	var authority auth.Authority
	if cfg.SkipAuth {
		logging.Warn(ctx, "authentication disabled (SKIP_AUTH=true); do not use in production")
		authority = auth.SkipAuthority{}
	} else {
		validator, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			logging.Error(ctx, "failed to initialize auth validator", zap.Error(err))
			os.Exit(1)
		}
		authority = validator
	}

	// --- Supervisor (spec.md §4.I): per-conference collaborators, bound
	// together as a services struct, not module-level singletons (§9) ---

	deps := supervisor.Deps{
		Registry:     registry,
		Selector:     selector,
		BridgeClient: bridgeClient,
		ResolveBridge: colibri.BridgeAddr(addrs.Resolve),
		Features:     transport.NewStanzaFeatureDiscoverer("", transport.LoggingSender{}, 5*time.Second),
		NewSignaling: func(roomID string) allocator.Signaling {
			return transport.NewStanzaSignaling(roomID, transport.LoggingSender{})
		},
		NewRolePolicy: func() conference.RolePolicy { return conference.AutoOwnerPolicy{} },
		SessionConfig: conference.Config{
			LingerDuration:  cfg.ConferenceLingerDuration,
			StripSimulcast:  true,
			StartMutedAudio: false,
			StartMutedVideo: false,
		},
		MaxSsrcsPerUser:  cfg.MaxSsrcsPerUser,
		MaxGroupsPerUser: cfg.MaxSsrcGroupsPerUser,
	}
	sup := supervisor.New(deps)

	// --- HTTP front door ---

	var limiter *ratelimit.Limiter
	if limiter, err = ratelimit.New(cfg, rateLimitRedis); err != nil {
		logging.Error(ctx, "failed to initialize rate limiter", zap.Error(err))
		os.Exit(1)
	}

	healthHandler := health.NewHandler(busService, registry)

	d := &dispatch.Dispatcher{
		Supervisor:      sup,
		Workers:         workerManager,
		Auth:            authority,
		TrustedDomains:  cfg.AllowedOrigins,
		SipGatewayReady: true,
	}
	router := d.Router(cfg.AllowedOrigins, limiter, healthHandler)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "focus server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info(context.Background(), "shutdown signal received, draining")

	// Stop admitting new conferences and let existing ones drain naturally
	// (spec.md §4.I EnableGracefulShutdown).
	sup.EnableGracefulShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(context.Background(), "server forced to shut down", zap.Error(err))
	}

	presenceWG.Wait()
	logging.Info(context.Background(), "focus server exiting")
}
