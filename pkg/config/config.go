// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	// HTTP
	Port        int
	MetricsPort int

	// Database
	DatabaseURL        string
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration

	// Auth
	OIDCIssuerURL string
	OIDCAudience  string
	AuthDisabled  bool

	// Redis (optional, used for distributed rate limiting)
	RedisURL string

	// Rate limiting
	RateLimitEnabled bool
	RateLimitPerMin  int

	// Observability
	LogLevel         string
	OTelEnabled      bool
	OTelEndpoint     string
	OTelServiceName  string
	StatsCronSpec    string
	AuditEnabled     bool

	// Shared service registry seed file (YAML), optional
	SharedServiceSeedFile string
}

// Load reads configuration from TMS_* environment variables, applying
// defaults where unset.
func Load() *Config {
	return &Config{
		Port:        getEnvInt("TMS_PORT", 4144),
		MetricsPort: getEnvInt("TMS_METRICS_PORT", 9090),

		DatabaseURL:       getEnv("TMS_DATABASE_URL", ""),
		DBMaxOpenConns:    getEnvInt("TMS_DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("TMS_DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("TMS_DB_CONN_MAX_LIFETIME", 30*time.Minute),

		OIDCIssuerURL: getEnv("TMS_OIDC_ISSUER_URL", ""),
		OIDCAudience:  getEnv("TMS_OIDC_AUDIENCE", "tenant-management-system"),
		AuthDisabled:  getEnvBool("TMS_AUTH_DISABLED", false),

		RedisURL: getEnv("TMS_REDIS_URL", ""),

		RateLimitEnabled: getEnvBool("TMS_RATE_LIMIT_ENABLED", true),
		RateLimitPerMin:  getEnvInt("TMS_RATE_LIMIT_PER_MIN", 120),

		LogLevel:        getEnv("TMS_LOG_LEVEL", "info"),
		OTelEnabled:     getEnvBool("TMS_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("TMS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName: getEnv("TMS_OTEL_SERVICE_NAME", "tenant-management-system"),
		StatsCronSpec:   getEnv("TMS_STATS_CRON", "@every 1m"),
		AuditEnabled:    getEnvBool("TMS_AUDIT_ENABLED", true),

		SharedServiceSeedFile: getEnv("TMS_SHARED_SERVICE_SEED", ""),
	}
}

// Validate checks that required settings are present and consistent
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("TMS_DATABASE_URL is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("TMS_PORT must be a valid port, got %d", c.Port)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("TMS_METRICS_PORT must be a valid port, got %d", c.MetricsPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("TMS_PORT and TMS_METRICS_PORT must differ")
	}
	if !c.AuthDisabled && c.OIDCIssuerURL == "" {
		return fmt.Errorf("TMS_OIDC_ISSUER_URL is required unless TMS_AUTH_DISABLED is set")
	}
	if c.RateLimitEnabled && c.RateLimitPerMin <= 0 {
		return fmt.Errorf("TMS_RATE_LIMIT_PER_MIN must be positive, got %d", c.RateLimitPerMin)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("TMS_LOG_LEVEL must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
