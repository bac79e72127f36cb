package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Security configuration
	Security SecurityConfig

	// Booking rules
	Booking BookingConfig

	// Payment redirect configuration
	Payment PaymentConfig

	// Redis (join-attempt rate limiting)
	Redis RedisConfig

	// Booking event publishing
	Events EventsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	LockTimeout        time.Duration // Postgres lock_timeout for FOR UPDATE waits, 0 = server default
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRequestLog bool
	EnableAuditLog   bool
}

// BookingConfig holds the tunables of the booking core
type BookingConfig struct {
	InviteCodeMaxAttempts int
	PaymentHoldWindow     time.Duration // Recent PENDING payment blocks a new one
	PaymentPendingTTL     time.Duration // PENDING payments older than this are cancelled
	DefaultCurrency       string
}

// PaymentConfig holds gateway redirect and callback settings
type PaymentConfig struct {
	GatewayURL     string // Hosted checkout page the tenant is redirected to
	StoreID        string
	SuccessURL     string
	FailURL        string
	CancelURL      string
	CallbackSecret string // Shared secret for the callback check value, empty disables verification
}

// RedisConfig holds the join-attempt limiter settings
type RedisConfig struct {
	URL               string // Empty disables the limiter
	JoinAttempts      int
	JoinWindowSeconds int
}

// EventsConfig holds the RabbitMQ publisher settings
type EventsConfig struct {
	URL      string // Empty disables publishing
	Exchange string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			LockTimeout:        time.Duration(getEnvAsInt("DATABASE_LOCK_TIMEOUT_MS", 5000)) * time.Millisecond,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Security: SecurityConfig{
			EnableRequestLog: getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
			EnableAuditLog:   getEnvAsBool("ENABLE_AUDIT_LOGGING", true),
		},
		Booking: BookingConfig{
			InviteCodeMaxAttempts: getEnvAsInt("INVITE_CODE_MAX_ATTEMPTS", 10),
			PaymentHoldWindow:     time.Duration(getEnvAsInt("PAYMENT_HOLD_WINDOW_MINUTES", 10)) * time.Minute,
			PaymentPendingTTL:     time.Duration(getEnvAsInt("PAYMENT_PENDING_TTL_MINUTES", 30)) * time.Minute,
			DefaultCurrency:       getEnv("DEFAULT_CURRENCY", "BDT"),
		},
		Payment: PaymentConfig{
			GatewayURL:     getEnv("PAYMENT_GATEWAY_URL", ""),
			StoreID:        getEnv("GATEWAY_STORE_ID", ""),
			SuccessURL:     getEnv("PAYMENT_SUCCESS_URL", "http://localhost:8080/api/v1/payments/success"),
			FailURL:        getEnv("PAYMENT_FAIL_URL", "http://localhost:8080/api/v1/payments/fail"),
			CancelURL:      getEnv("PAYMENT_CANCEL_URL", "http://localhost:8080/api/v1/payments/cancel"),
			CallbackSecret: getEnv("GATEWAY_CALLBACK_SECRET", ""),
		},
		Redis: RedisConfig{
			URL:               getEnv("REDIS_URL", ""),
			JoinAttempts:      getEnvAsInt("JOIN_RATE_LIMIT", 10),
			JoinWindowSeconds: getEnvAsInt("JOIN_RATE_WINDOW_SECONDS", 600),
		},
		Events: EventsConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("EVENTS_EXCHANGE", "booking.events"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Booking.InviteCodeMaxAttempts < 1 {
		return fmt.Errorf("INVITE_CODE_MAX_ATTEMPTS must be at least 1")
	}

	if c.Redis.URL != "" && (c.Redis.JoinAttempts < 1 || c.Redis.JoinWindowSeconds < 1) {
		return fmt.Errorf("JOIN_RATE_LIMIT and JOIN_RATE_WINDOW_SECONDS must be positive when REDIS_URL is set")
	}

	if c.Server.Environment == "production" && c.Payment.CallbackSecret == "" {
		return fmt.Errorf("GATEWAY_CALLBACK_SECRET is required in production")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
