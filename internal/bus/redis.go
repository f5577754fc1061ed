// Package bus provides the Redis-backed presence/pub-sub channel used to
// distribute bridge and worker status events, and to fan out conference
// notifications across focus instances (spec.md §6 "worker presence
// channel").
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/meetfocus/focus/internal/logging"
	"github.com/meetfocus/focus/internal/metrics"
)

// PresenceUpdate is the envelope carried over the bridge/worker presence
// channel. Kind distinguishes bridge-stats updates from worker-status
// updates; Fields carries the raw key/value status the publisher reported
// (spec.md §6: "the core interprets missing keys as defaults").
type PresenceUpdate struct {
	Kind   string            `json:"kind"`
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Service wraps a Redis client with a circuit breaker, matching the
// graceful-degradation behavior expected from the presence bus: a Redis
// outage must not take the focus process down, only fall back to
// single-instance behavior.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewService connects to Redis and verifies connectivity with a ping.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(breakerStateValue(to))
		},
	}

	logging.Info(context.Background(), "connected to redis presence bus", zap.String("addr", addr))
	return &Service{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// PublishPresence announces a bridge/worker presence update on the shared
// "brewery" channel for the given kind ("bridge" or "worker").
func (s *Service) PublishPresence(ctx context.Context, kind string, update PresenceUpdate) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (any, error) {
		data, err := json.Marshal(update)
		if err != nil {
			return nil, fmt.Errorf("marshaling presence update: %w", err)
		}
		channel := fmt.Sprintf("focus:presence:%s", kind)
		return nil, s.client.Publish(ctx, channel, data).Err()
	})
	return s.degradeOrError(ctx, err, "publish presence")
}

// SubscribePresence starts a background goroutine delivering presence
// updates of the given kind to handler until ctx is cancelled.
func (s *Service) SubscribePresence(ctx context.Context, kind string, wg *sync.WaitGroup, handler func(PresenceUpdate)) {
	if s == nil || s.client == nil {
		return
	}
	channel := fmt.Sprintf("focus:presence:%s", kind)
	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var update PresenceUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					logging.Error(ctx, "failed to unmarshal presence update", zap.Error(err))
					continue
				}
				handler(update)
			}
		}
	}()
}

// conferenceEnvelope wraps a conference-scoped fan-out event.
type conferenceEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// PublishConferenceEvent fans out a conference-scoped event (e.g. bridge
// failure requiring re-invite) to every focus instance watching the room.
func (s *Service) PublishConferenceEvent(ctx context.Context, roomID, event string, payload any) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (any, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling conference event payload: %w", err)
		}
		envelope, err := json.Marshal(conferenceEnvelope{Event: event, Payload: innerBytes})
		if err != nil {
			return nil, fmt.Errorf("marshaling conference envelope: %w", err)
		}
		channel := fmt.Sprintf("focus:conference:%s", roomID)
		return nil, s.client.Publish(ctx, channel, envelope).Err()
	})
	return s.degradeOrError(ctx, err, "publish conference event")
}

// Ping verifies Redis connectivity; used by health checks.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Service) degradeOrError(ctx context.Context, err error, op string) error {
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		logging.Warn(ctx, "redis circuit breaker open, degrading gracefully", zap.String("op", op))
		return nil
	}
	logging.Error(ctx, "redis operation failed", zap.String("op", op), zap.Error(err))
	return err
}
