package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/roommates")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Booking.InviteCodeMaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Booking.PaymentHoldWindow)
	assert.Equal(t, 30*time.Minute, cfg.Booking.PaymentPendingTTL)
	assert.Equal(t, 5*time.Second, cfg.Database.LockTimeout)
	assert.Equal(t, "booking.events", cfg.Events.Exchange)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/roommates")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("INVITE_CODE_MAX_ATTEMPTS", "3")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("ENABLE_AUDIT_LOGGING", "false")
	t.Setenv("JOIN_RATE_LIMIT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Booking.InviteCodeMaxAttempts)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.False(t, cfg.Security.EnableAuditLog)
	assert.Equal(t, 10, cfg.Redis.JoinAttempts)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Environment: "development"},
			Database: DatabaseConfig{URL: "postgres://localhost/roommates"},
			JWT:      JWTConfig{Secret: "secret"},
			Booking:  BookingConfig{InviteCodeMaxAttempts: 10},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing database url", func(c *Config) { c.Database.URL = "" }, "DATABASE_URL is required"},
		{"missing jwt secret", func(c *Config) { c.JWT.Secret = "" }, "JWT_SECRET is required"},
		{"zero invite attempts", func(c *Config) { c.Booking.InviteCodeMaxAttempts = 0 }, "INVITE_CODE_MAX_ATTEMPTS"},
		{"redis without limits", func(c *Config) { c.Redis.URL = "redis://localhost:6379" }, "JOIN_RATE_LIMIT"},
		{"production without callback secret", func(c *Config) { c.Server.Environment = "production" }, "GATEWAY_CALLBACK_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
