package bridge

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
	"github.com/meetfocus/focus/internal/sourcemodel"
)

// AllocateRequest is the channel-allocation request sent to a bridge for one
// participant (spec.md §4.D/§4.F blocking op "allocate").
type AllocateRequest struct {
	ConferenceID  string                        `json:"conferenceId"`
	ParticipantID string                        `json:"participantId"`
	Contents      []sourcemodel.Content          `json:"contents"`
	RelayIDs      []string                       `json:"relayIds,omitempty"`
}

// AllocateResponse is the bridge's answer to an allocation request.
type AllocateResponse struct {
	Contents  []sourcemodel.Content `json:"contents"`
	SessionID string                `json:"sessionId"`
	Transport TransportInfo         `json:"transport"`
}

// TransportInfo is the bridge-side ICE/DTLS transport returned with an
// allocation, used to decorate the offer sent to the participant
// (spec.md §4.F step 4).
type TransportInfo struct {
	IceUfrag        string   `json:"iceUfrag"`
	IcePwd          string   `json:"icePwd"`
	Candidates      []string `json:"candidates"`
	DtlsFingerprint string   `json:"dtlsFingerprint"`
	DtlsHashFunc    string   `json:"dtlsHashFunc"`
	IceRtcpMux      bool     `json:"iceRtcpMux"`
}

// Client is the interface the colibri/allocator packages use to talk to a
// bridge. This is an HTTP+JSON RPC surface: spec.md explicitly puts the wire
// encoding for bridge-side signaling out of scope (§1), so no protocol
// buffer schema exists to generate a client from — see DESIGN.md for the
// full rationale.
type Client interface {
	Allocate(ctx context.Context, bridgeAddr string, req AllocateRequest) (*AllocateResponse, error)
	UpdateChannels(ctx context.Context, bridgeAddr, conferenceID, participantID string, contents []sourcemodel.Content) error
	SetRelays(ctx context.Context, bridgeAddr, conferenceID string, relayIDs []string) error
	Expire(ctx context.Context, bridgeAddr, conferenceID string) error
}

// HTTPClient is the default Client, wrapping each call in a circuit breaker
// the same way the teacher wraps its SFU gRPC client (pkg/sfu/client.go).
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

func (c *HTTPClient) breakerFor(bridgeAddr string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[bridgeAddr]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bridge:" + bridgeAddr,
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	c.breakers[bridgeAddr] = cb
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

// Allocate performs the blocking channel-allocation round trip.
func (c *HTTPClient) Allocate(ctx context.Context, bridgeAddr string, req AllocateRequest) (*AllocateResponse, error) {
	var resp AllocateResponse
	if err := c.doJSON(ctx, bridgeAddr, "/colibri/allocate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateChannels pushes a participant's updated RTP description and sources.
func (c *HTTPClient) UpdateChannels(ctx context.Context, bridgeAddr, conferenceID, participantID string, contents []sourcemodel.Content) error {
	req := struct {
		ConferenceID  string                 `json:"conferenceId"`
		ParticipantID string                 `json:"participantId"`
		Contents      []sourcemodel.Content `json:"contents"`
	}{conferenceID, participantID, contents}
	return c.doJSON(ctx, bridgeAddr, "/colibri/update-channels", req, nil)
}

// SetRelays updates the relay participant's remote-bridge set.
func (c *HTTPClient) SetRelays(ctx context.Context, bridgeAddr, conferenceID string, relayIDs []string) error {
	req := struct {
		ConferenceID string   `json:"conferenceId"`
		RelayIDs     []string `json:"relayIds"`
	}{conferenceID, relayIDs}
	return c.doJSON(ctx, bridgeAddr, "/colibri/set-relays", req, nil)
}

// Expire tears down the conference's resources on the bridge.
func (c *HTTPClient) Expire(ctx context.Context, bridgeAddr, conferenceID string) error {
	req := struct {
		ConferenceID string `json:"conferenceId"`
	}{conferenceID}
	return c.doJSON(ctx, bridgeAddr, "/colibri/expire", req, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, bridgeAddr, path string, body any, out any) error {
	cb := c.breakerFor(bridgeAddr)
	_, err := cb.Execute(func() (any, error) {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+bridgeAddr+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindTimeout, "bridge request failed", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			if out != nil {
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
					return nil, apperror.Wrap(apperror.KindWrongResponseType, "decoding bridge response", err)
				}
			}
			return nil, nil
		case http.StatusNotFound:
			return nil, apperror.New(apperror.KindConferenceNotFound, "conference expired on bridge")
		case http.StatusBadRequest:
			return nil, apperror.New(apperror.KindBadRequest, "bridge rejected request")
		case http.StatusGatewayTimeout, http.StatusRequestTimeout:
			return nil, apperror.New(apperror.KindTimeout, "bridge request timed out")
		default:
			return nil, apperror.Newf(apperror.KindGenericColibri, "bridge returned status %d", resp.StatusCode)
		}
	})
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("bridge:" + bridgeAddr).Inc()
		return apperror.New(apperror.KindTimeout, "bridge circuit breaker open")
	}
	return err
}
