// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Quota engine
	CacheTTL         time.Duration // resolver cache TTL
	WarningDedup     time.Duration // suppress duplicate same-threshold warnings within this window
	UnlimitedDollars int64         // limits at/above this are treated as unlimited

	// Auth
	JWTSecret   string // HS256 secret for bearer-token principals
	AdminSecret string // Admin API secret

	// External collaborators
	PermissionsURL string // identity/permission service base URL (optional)
	OTLPEndpoint   string // OTLP gRPC endpoint for tracing (optional)

	// Usage source circuit breaker
	UsageBreakerThreshold int
	UsageBreakerOpenFor   time.Duration
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultCacheTTLSeconds  = 300
	DefaultWarningDedupMins = 60
	DefaultUnlimited        = 999999
	DefaultBreakerThreshold = 5
	DefaultBreakerOpenSecs  = 30
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:           os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		CacheTTL:              time.Duration(getEnvInt64("CACHE_TTL_SECONDS", DefaultCacheTTLSeconds)) * time.Second,
		WarningDedup:          time.Duration(getEnvInt64("WARNING_DEDUP_MINUTES", DefaultWarningDedupMins)) * time.Minute,
		UnlimitedDollars:      getEnvInt64("UNLIMITED_SENTINEL", DefaultUnlimited),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		AdminSecret:           os.Getenv("ADMIN_SECRET"),
		PermissionsURL:        os.Getenv("PERMISSIONS_URL"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		UsageBreakerThreshold: int(getEnvInt64("USAGE_BREAKER_THRESHOLD", DefaultBreakerThreshold)),
		UsageBreakerOpenFor:   time.Duration(getEnvInt64("USAGE_BREAKER_OPEN_SECONDS", DefaultBreakerOpenSecs)) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive")
	}
	if c.UnlimitedDollars <= 0 {
		return fmt.Errorf("UNLIMITED_SENTINEL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
