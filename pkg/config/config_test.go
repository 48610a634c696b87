package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := Load()

		assert.Equal(t, 4144, cfg.Port)
		assert.Equal(t, 9090, cfg.MetricsPort)
		assert.Equal(t, 25, cfg.DBMaxOpenConns)
		assert.Equal(t, 30*time.Minute, cfg.DBConnMaxLifetime)
		assert.Equal(t, "tenant-management-system", cfg.OIDCAudience)
		assert.False(t, cfg.AuthDisabled)
		assert.True(t, cfg.RateLimitEnabled)
		assert.Equal(t, 120, cfg.RateLimitPerMin)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "@every 1m", cfg.StatsCronSpec)
		assert.True(t, cfg.AuditEnabled)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("TMS_PORT", "8080")
		t.Setenv("TMS_DATABASE_URL", "postgres://localhost/tms")
		t.Setenv("TMS_AUTH_DISABLED", "true")
		t.Setenv("TMS_RATE_LIMIT_PER_MIN", "30")
		t.Setenv("TMS_DB_CONN_MAX_LIFETIME", "5m")
		t.Setenv("TMS_LOG_LEVEL", "debug")

		cfg := Load()

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/tms", cfg.DatabaseURL)
		assert.True(t, cfg.AuthDisabled)
		assert.Equal(t, 30, cfg.RateLimitPerMin)
		assert.Equal(t, 5*time.Minute, cfg.DBConnMaxLifetime)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("unparseable values fall back to defaults", func(t *testing.T) {
		t.Setenv("TMS_PORT", "not-a-port")
		t.Setenv("TMS_AUDIT_ENABLED", "maybe")

		cfg := Load()

		assert.Equal(t, 4144, cfg.Port)
		assert.True(t, cfg.AuditEnabled)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:             4144,
			MetricsPort:      9090,
			DatabaseURL:      "postgres://localhost/tms",
			OIDCIssuerURL:    "https://sso.example.com/realms/standard",
			RateLimitEnabled: true,
			RateLimitPerMin:  120,
			LogLevel:         "info",
		}
	}

	t.Run("valid config", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.DatabaseURL = "" },
			wantErr: "TMS_DATABASE_URL is required",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Port = 70000 },
			wantErr: "TMS_PORT",
		},
		{
			name:    "ports collide",
			mutate:  func(c *Config) { c.MetricsPort = c.Port },
			wantErr: "must differ",
		},
		{
			name:    "issuer required when auth enabled",
			mutate:  func(c *Config) { c.OIDCIssuerURL = "" },
			wantErr: "TMS_OIDC_ISSUER_URL is required",
		},
		{
			name:    "rate limit must be positive when enabled",
			mutate:  func(c *Config) { c.RateLimitPerMin = 0 },
			wantErr: "TMS_RATE_LIMIT_PER_MIN",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "TMS_LOG_LEVEL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("auth disabled skips issuer requirement", func(t *testing.T) {
		cfg := valid()
		cfg.OIDCIssuerURL = ""
		cfg.AuthDisabled = true
		require.NoError(t, cfg.Validate())
	})
}
