package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, time.Hour, cfg.WarningDedup)
	assert.Equal(t, int64(999999), cfg.UnlimitedDollars)
	assert.Equal(t, 5, cfg.UsageBreakerThreshold)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PORT", "9999")
	t.Setenv("ENV", "production")
	t.Setenv("CACHE_TTL_SECONDS", "30")
	t.Setenv("WARNING_DEDUP_MINUTES", "15")
	t.Setenv("DATABASE_URL", "postgres://localhost/spendgate")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 15*time.Minute, cfg.WarningDedup)
	assert.Equal(t, "postgres://localhost/spendgate", cfg.DatabaseURL)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate_ShortSecret(t *testing.T) {
	cfg := &Config{JWTSecret: "short", CacheTTL: time.Minute, UnlimitedDollars: 999999}
	assert.Error(t, cfg.Validate())
}

func TestValidate_BadTTL(t *testing.T) {
	cfg := &Config{JWTSecret: testSecret, CacheTTL: 0, UnlimitedDollars: 999999}
	assert.Error(t, cfg.Validate())
}

func TestLoad_MalformedIntFallsBack(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("CACHE_TTL_SECONDS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
}
