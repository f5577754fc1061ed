// Package ratelimit enforces the per-operation request limits that protect
// allocate-conference, dial-out, and WebSocket signaling from abuse, backed
// by Redis when available and falling back to an in-memory store otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/meetfocus/focus/internal/auth"
	"github.com/meetfocus/focus/internal/config"
	"github.com/meetfocus/focus/internal/logging"
	"github.com/meetfocus/focus/internal/metrics"
)

// Limiter holds the per-operation rate limiter instances described in
// spec.md's ambient resource-protection stack.
type Limiter struct {
	allocateConference *limiter.Limiter
	dialOut            *limiter.Limiter
	wsIP               *limiter.Limiter
	wsUser             *limiter.Limiter
	store              limiter.Store
}

// New builds a Limiter, using a Redis-backed store when redisClient is
// non-nil and an in-memory store otherwise (single-instance deployments).
func New(cfg *config.Config, redisClient *redis.Client) (*Limiter, error) {
	allocateRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAllocateConference)
	if err != nil {
		return nil, fmt.Errorf("invalid allocate-conference rate: %w", err)
	}
	dialOutRate, err := limiter.NewRateFromFormatted(cfg.RateLimitDialOut)
	if err != nil {
		return nil, fmt.Errorf("invalid dial-out rate: %w", err)
	}
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid ws-ip rate: %w", err)
	}
	wsUserRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsUser)
	if err != nil {
		return nil, fmt.Errorf("invalid ws-user rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "focus:limiter:"})
		if err != nil {
			return nil, fmt.Errorf("creating redis limiter store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store; limits are per-instance")
	}

	return &Limiter{
		allocateConference: limiter.New(store, allocateRate),
		dialOut:             limiter.New(store, dialOutRate),
		wsIP:                limiter.New(store, wsIPRate),
		wsUser:              limiter.New(store, wsUserRate),
		store:               store,
	}, nil
}

// AllocateConferenceMiddleware rate-limits the allocate-conference endpoint.
// The key is the subject of claims stored under the gin key "claims" when
// present, otherwise the client IP; the dispatcher stores its claims under a
// different key, so requests routed through it are keyed by IP.
func (l *Limiter) AllocateConferenceMiddleware() gin.HandlerFunc {
	return l.middleware(l.allocateConference, "allocate_conference")
}

// DialOutMiddleware rate-limits dial-out requests per spec.md §4.C's
// retry-abuse concern.
func (l *Limiter) DialOutMiddleware() gin.HandlerFunc {
	return l.middleware(l.dialOut, "dial_out")
}

func (l *Limiter) middleware(lim *limiter.Limiter, endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		reason := "ip"
		if claims, ok := c.Get("claims"); ok {
			if cc, ok := claims.(*auth.Claims); ok {
				key = cc.Subject
				reason = "user"
			}
		}

		ctx := c.Request.Context()
		lctx, err := lim.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed, failing open", zap.String("endpoint", endpoint), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(endpoint, reason).Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(endpoint).Inc()
		c.Next()
	}
}

// CheckWebSocketIP enforces the per-IP WebSocket connection limit before the
// upgrade handshake. Fails open on store errors.
func (l *Limiter) CheckWebSocketIP(ctx context.Context, ip string) bool {
	lctx, err := l.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed (ip)", zap.Error(err))
		return true
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		return false
	}
	metrics.RateLimitRequests.WithLabelValues("websocket_connect").Inc()
	return true
}

// CheckWebSocketUser enforces the per-user WebSocket connection limit after
// authentication succeeds.
func (l *Limiter) CheckWebSocketUser(ctx context.Context, userID string) error {
	lctx, err := l.wsUser.Get(ctx, userID)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed (user)", zap.Error(err))
		return nil
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "user").Inc()
		return fmt.Errorf("rate limit exceeded for user %s", userID)
	}
	return nil
}
