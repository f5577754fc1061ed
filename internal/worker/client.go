package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/meetfocus/focus/internal/apperror"
	"github.com/meetfocus/focus/internal/metrics"
)

// StartRequest is forwarded verbatim to a worker to start a recording,
// streaming, or SIP-dial session (spec.md §4.C dial-out fan-out step 2).
type StartRequest struct {
	SessionID       string            `json:"sessionId"`
	Type            SessionType       `json:"type"`
	SipAddress      string            `json:"sipAddress,omitempty"`
	StreamID        string            `json:"streamId,omitempty"`
	ApplicationData map[string]string `json:"applicationData,omitempty"`
}

// StartResponse is a worker's reply to a start request.
type StartResponse struct {
	Accepted    bool   `json:"accepted"`
	Busy        bool   `json:"busy"`
	ShouldRetry bool   `json:"shouldRetry"`
	Reason      string `json:"reason,omitempty"`
}

// Client is the interface the session manager uses to talk to one worker.
// Like internal/bridge.Client, this is HTTP+JSON: spec.md puts the worker
// wire protocol out of scope, so there is no protobuf schema to bind to.
type Client interface {
	Start(ctx context.Context, workerAddr string, req StartRequest) (*StartResponse, error)
	Stop(ctx context.Context, workerAddr, sessionID string) error
}

// HTTPClient is the default worker Client, circuit-breaker wrapped per
// worker address.
type HTTPClient struct {
	httpClient *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHTTPClient builds an HTTPClient with a per-call timeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *HTTPClient) breakerFor(addr string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[addr]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "worker:" + addr,
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	c.breakers[addr] = cb
	return cb
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Start sends a start request to workerAddr, matching spec.md §4.C's
// "forward the request verbatim to it" dial-out step.
func (c *HTTPClient) Start(ctx context.Context, workerAddr string, req StartRequest) (*StartResponse, error) {
	cb := c.breakerFor(workerAddr)
	result, err := cb.Execute(func() (any, error) {
		payload, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshaling start request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+workerAddr+"/session/start", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			metrics.WorkerSingleInstanceTimeouts.Inc()
			return nil, apperror.Wrap(apperror.KindRemoteServerTimeout, "worker request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusServiceUnavailable {
			return &StartResponse{Busy: true, ShouldRetry: true}, nil
		}
		if resp.StatusCode != http.StatusOK {
			metrics.WorkerSingleInstanceErrors.Inc()
			return nil, apperror.Newf(apperror.KindInternalServer, "worker returned status %d", resp.StatusCode)
		}

		var out StartResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, apperror.Wrap(apperror.KindUnexpectedResponse, "decoding worker response", err)
		}
		return &out, nil
	})
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("worker:" + workerAddr).Inc()
		return nil, apperror.New(apperror.KindRemoteServerTimeout, "worker circuit breaker open")
	}
	if err != nil {
		return nil, err
	}
	return result.(*StartResponse), nil
}

// Stop requests the worker end sessionID. Idempotent on the worker side.
func (c *HTTPClient) Stop(ctx context.Context, workerAddr, sessionID string) error {
	cb := c.breakerFor(workerAddr)
	_, err := cb.Execute(func() (any, error) {
		payload, _ := json.Marshal(struct {
			SessionID string `json:"sessionId"`
		}{sessionID})
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+workerAddr+"/session/stop", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindRemoteServerTimeout, "worker stop request failed", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
			return nil, apperror.Newf(apperror.KindInternalServer, "worker returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err == gobreaker.ErrOpenState {
		return nil // stop is idempotent/best-effort; an open breaker is not a caller-visible failure
	}
	return err
}
