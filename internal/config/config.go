// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Environment designations. The webhook signature dev bypass is only
// permitted under EnvDevelopment.
const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
)

// Config holds all configuration for the application. Platform credentials
// (channel secret/token) are deliberately absent: those live in the persisted
// settings table so they can change without a redeploy.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Environment designation
	Environment string

	// Postgres settings
	PostgresDSN string

	// Redis settings (realtime mirror)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS settings (UI notifier)
	NATSURL   string
	NATSToken string

	// JWT settings (staff API)
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Long-poll gateway
	PollCheckInterval time.Duration
	PollMaxTimeout    time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),

		Environment: getEnv("ENVIRONMENT", EnvProduction),

		// Postgres
		PostgresDSN: getEnv("POSTGRES_DSN", "host=localhost port=5432 user=postgres dbname=crm sslmode=disable"),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		// NATS
		NATSURL:   getEnv("NATS_URL", "nats://localhost:4222"),
		NATSToken: getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Long-poll
		PollCheckInterval: getDurationEnv("POLL_CHECK_INTERVAL", 500*time.Millisecond),
		PollMaxTimeout:    getDurationEnv("POLL_MAX_TIMEOUT", 30*time.Second),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// DevBypassAllowed reports whether the signature-verification bypass may be
// enabled. Only the explicit development designation qualifies.
func (c *Config) DevBypassAllowed() bool {
	return c.Environment == EnvDevelopment
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
