// Package config loads and validates the focus service's environment-based
// configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/meetfocus/focus/internal/logging"
	"go.uber.org/zap"
)

// Config holds validated environment configuration for the focus process.
type Config struct {
	// Port defaults to 8080. JWTSecret is required unless AUTH0_DOMAIN is
	// set or SKIP_AUTH=true.
	Port      string
	JWTSecret string

	// Optional, defaulted.
	GoEnv    string
	LogLevel string

	// Auth0 / authentication authority.
	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  []string

	// Redis (bridge/worker presence bus, rate limit store).
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Rate limits (ulule/limiter formatted rates, e.g. "100-M").
	RateLimitAllocateConference string
	RateLimitDialOut            string
	RateLimitWsIP               string
	RateLimitWsUser             string

	// Bridge / conference timing knobs (spec.md §5).
	BridgeFailureResetThreshold time.Duration
	AllocationTimeout           time.Duration
	ConferenceLingerDuration    time.Duration

	// Worker pool timing knobs.
	WorkerPendingTimeout time.Duration
	DialOutPerWorkerTTL  time.Duration
	DialOutMaxRetries    int

	// Per-endpoint source limits (spec.md §4.A).
	MaxSsrcsPerUser      int
	MaxSsrcGroupsPerUser int

	// RegionGroups maps a region to the set of regions considered part of
	// its region-group for bridge/worker selection purposes.
	RegionGroups map[string][]string
	LocalRegion  string

	// BridgeSelectorStrategy picks which spec.md §4.B strategy the registry
	// is wired with: "single", "region", or "split".
	BridgeSelectorStrategy string

	// Tracing.
	TracingEnabled   bool
	OTLPCollectorAddr string
}

// Load validates all required environment variables and returns a Config.
// Returns an aggregated error describing every problem found.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number (got %q)", cfg.Port))
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	if !cfg.SkipAuth && cfg.JWTSecret == "" && os.Getenv("AUTH0_DOMAIN") == "" {
		errs = append(errs, "one of JWT_SECRET or AUTH0_DOMAIN is required unless SKIP_AUTH=true")
	}

	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = splitCSV(getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000"))

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
		if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be host:port (got %q)", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.RateLimitAllocateConference = getEnvOrDefault("RATE_LIMIT_ALLOCATE_CONFERENCE", "30-M")
	cfg.RateLimitDialOut = getEnvOrDefault("RATE_LIMIT_DIAL_OUT", "10-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	cfg.BridgeFailureResetThreshold = getEnvDuration("BRIDGE_FAILURE_RESET_THRESHOLD", 60*time.Second)
	cfg.AllocationTimeout = getEnvDuration("ALLOCATION_TIMEOUT", 15*time.Second)
	cfg.ConferenceLingerDuration = getEnvDuration("CONFERENCE_LINGER_DURATION", 20*time.Second)

	cfg.WorkerPendingTimeout = getEnvDuration("WORKER_PENDING_TIMEOUT", 30*time.Second)
	cfg.DialOutPerWorkerTTL = getEnvDuration("DIAL_OUT_PER_WORKER_TIMEOUT", 60*time.Second)
	cfg.DialOutMaxRetries = getEnvInt("DIAL_OUT_MAX_RETRIES", 2)

	cfg.MaxSsrcsPerUser = getEnvInt("MAX_SSRCS_PER_USER", 20)
	cfg.MaxSsrcGroupsPerUser = getEnvInt("MAX_SSRC_GROUPS_PER_USER", 20)

	cfg.LocalRegion = getEnvOrDefault("LOCAL_REGION", "default")
	regionGroups, err := parseRegionGroups(os.Getenv("REGION_GROUPS"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("REGION_GROUPS is malformed: %v", err))
	}
	cfg.RegionGroups = regionGroups

	cfg.BridgeSelectorStrategy = getEnvOrDefault("BRIDGE_SELECTOR_STRATEGY", "region")
	switch cfg.BridgeSelectorStrategy {
	case "single", "region", "split":
	default:
		errs = append(errs, fmt.Sprintf("BRIDGE_SELECTOR_STRATEGY must be single, region, or split (got %q)", cfg.BridgeSelectorStrategy))
	}

	cfg.TracingEnabled = os.Getenv("TRACING_ENABLED") == "true"
	cfg.OTLPCollectorAddr = getEnvOrDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidated(cfg)
	return cfg, nil
}

// RegionGroup returns the region-group list configured for region, as
// configured (nil if none); region itself is not added to it.
func (c *Config) RegionGroup(region string) []string {
	if group, ok := c.RegionGroups[region]; ok {
		return group
	}
	return nil
}

func parseRegionGroups(raw string) (map[string][]string, error) {
	if raw == "" {
		return map[string][]string{}, nil
	}
	var groups map[string][]string
	if err := json.Unmarshal([]byte(raw), &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	return err == nil && port >= 1 && port <= 65535
}

func logValidated(cfg *Config) {
	logging.Info(nil, "configuration validated",
		zap.String("port", cfg.Port),
		zap.String("go_env", cfg.GoEnv),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
		zap.Duration("bridge_failure_reset_threshold", cfg.BridgeFailureResetThreshold),
		zap.Duration("allocation_timeout", cfg.AllocationTimeout),
		zap.Int("max_ssrcs_per_user", cfg.MaxSsrcsPerUser),
	)
}

func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
