package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	for _, k := range keys {
		t.Setenv(strings.ToUpper(k), "")
	}
	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Minute, cfg.HoldDuration)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.Equal(t, 500, cfg.SweepBatchSize)
	assert.False(t, cfg.UseDatabase())
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 60, cfg.RateLimit.Capacity)
	assert.GreaterOrEqual(t, cfg.RateLimit.TTL, 5*cfg.RateLimit.RefillInterval)
}

func TestFromViper_Environment(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_HOST", "mysql")
	t.Setenv("HOLD_DURATION", "90s")
	t.Setenv("SWEEP_INTERVAL", "250ms")
	t.Setenv("PRECISE_EXPIRY", "true")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("RATE_LIMIT_CAPACITY", "0")

	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.UseDatabase())
	assert.Equal(t, 90*time.Second, cfg.HoldDuration)
	assert.Equal(t, 250*time.Millisecond, cfg.SweepInterval)
	assert.True(t, cfg.PreciseExpiry)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 1, cfg.RateLimit.Capacity, "capacity is clamped to at least one token")
}
