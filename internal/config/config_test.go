package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "JWT_SECRET", "SKIP_AUTH", "AUTH0_DOMAIN", "AUTH0_AUDIENCE",
		"DEVELOPMENT_MODE", "ALLOWED_ORIGINS", "GO_ENV", "LOG_LEVEL",
		"REDIS_ENABLED", "REDIS_ADDR", "REDIS_PASSWORD",
		"RATE_LIMIT_ALLOCATE_CONFERENCE", "RATE_LIMIT_DIAL_OUT",
		"RATE_LIMIT_WS_IP", "RATE_LIMIT_WS_USER",
		"BRIDGE_FAILURE_RESET_THRESHOLD", "ALLOCATION_TIMEOUT",
		"CONFERENCE_LINGER_DURATION", "WORKER_PENDING_TIMEOUT",
		"DIAL_OUT_MAX_RETRIES", "DIAL_OUT_MAX_RETRIES", "MAX_SSRCS_PER_USER",
		"MAX_SSRC_GROUPS_PER_USER", "LOCAL_REGION", "REGION_GROUPS",
		"BRIDGE_SELECTOR_STRATEGY", "TRACING_ENABLED", "OTEL_COLLECTOR_ADDR",
		"DIAL_OUT_PER_WORKER_TIMEOUT",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoad_DefaultsWithSkipAuth(t *testing.T) {
	clearEnv(t)
	os.Setenv("SKIP_AUTH", "true")
	defer clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "region", cfg.BridgeSelectorStrategy)
	assert.Equal(t, 20, cfg.MaxSsrcsPerUser)
	assert.False(t, cfg.RedisEnabled)
}

func TestLoad_MissingAuthFailsClosed(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_InvalidPortIsRejected(t *testing.T) {
	clearEnv(t)
	os.Setenv("SKIP_AUTH", "true")
	os.Setenv("PORT", "not-a-port")
	defer clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}

func TestLoad_InvalidSelectorStrategyIsRejected(t *testing.T) {
	clearEnv(t)
	os.Setenv("SKIP_AUTH", "true")
	os.Setenv("BRIDGE_SELECTOR_STRATEGY", "round-robin")
	defer clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BRIDGE_SELECTOR_STRATEGY")
}

func TestLoad_RegionGroupsParsed(t *testing.T) {
	clearEnv(t)
	os.Setenv("SKIP_AUTH", "true")
	os.Setenv("REGION_GROUPS", `{"us-east":["us-west"]}`)
	defer clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"us-west"}, cfg.RegionGroup("us-east"))
	assert.Nil(t, cfg.RegionGroup("unknown"))
}

func TestLoad_MalformedRegionGroupsIsRejected(t *testing.T) {
	clearEnv(t)
	os.Setenv("SKIP_AUTH", "true")
	os.Setenv("REGION_GROUPS", `not-json`)
	defer clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REGION_GROUPS")
}

func TestLoad_RedisRequiresValidHostPort(t *testing.T) {
	clearEnv(t)
	os.Setenv("SKIP_AUTH", "true")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "not-a-hostport")
	defer clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}
