package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "0.0.0.0:8080", cfg.API.Address())
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 2000, cfg.Cache.MaxEntries)
	assert.Equal(t, 2, cfg.Upstream.RetryMax)
	assert.Equal(t, 6*time.Hour, cfg.KEV.RefreshInterval())
	assert.False(t, cfg.KEV.SchedulerDisabled)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 120, cfg.RateLimit.MaxRequests)
	assert.False(t, cfg.Captcha.Enabled())
}

func TestLoad_NonNumericRefreshHoursFallsBack(t *testing.T) {
	t.Setenv("SECSCORE_KEV_REFRESH_HOURS", "six")

	cfg, err := Load()
	require.NoError(t, err, "a malformed refresh interval must not fail the load")
	assert.Equal(t, 6*time.Hour, cfg.KEV.RefreshInterval())
}

func TestKEVRefreshInterval(t *testing.T) {
	tests := []struct {
		hours string
		want  time.Duration
	}{
		{"6", 6 * time.Hour},
		{"12", 12 * time.Hour},
		{"0.5", 30 * time.Minute},
		{" 2 ", 2 * time.Hour},
		{"six", 6 * time.Hour},
		{"", 6 * time.Hour},
		{"0", 6 * time.Hour},
		{"-3", 6 * time.Hour},
		{"NaN", 6 * time.Hour},
		{"+Inf", 6 * time.Hour},
		{"1e9", 6 * time.Hour},
	}

	for _, tt := range tests {
		c := KEVConfig{RefreshHours: tt.hours}
		assert.Equal(t, tt.want, c.RefreshInterval(), "hours %q", tt.hours)
	}
}

func TestValidateProduction(t *testing.T) {
	cfg := &Config{Env: "production"}
	err := cfg.validateProduction()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SECSCORE_INTERNAL_CRON_SECRET")

	cfg.Internal.CronSecret = "secret"
	cfg.Cache.Backend = "redis"
	err = cfg.validateProduction()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SECSCORE_REDIS_ADDR")

	cfg.Redis.Addr = "localhost:6379"
	assert.NoError(t, cfg.validateProduction())

	dev := &Config{Env: "development"}
	assert.NoError(t, dev.validateProduction())
}
