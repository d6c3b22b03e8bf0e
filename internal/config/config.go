// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Upload     UploadConfig
	Validation ValidationConfig
	Store      StoreConfig
	Retention  RetentionConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown,
	// including in-flight validation jobs (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// UploadConfig holds upload parsing settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 10MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"10485760"`
}

// ValidationConfig holds record validation settings.
type ValidationConfig struct {
	// Concurrency is the maximum number of in-flight validator calls (default: 5)
	Concurrency int `env:"VALIDATION_CONCURRENCY" envAlt:"MAX_CONCURRENT" default:"5"`

	// Delay is the simulated latency of one validator call (default: 100ms)
	Delay time.Duration `env:"VALIDATION_DELAY" default:"100ms"`
}

// StoreConfig selects and configures the job state store.
type StoreConfig struct {
	// Backend is "memory" or "redis" (default: memory)
	Backend string `env:"STORE_BACKEND" default:"memory"`

	// RedisURL is the Redis connection string, required for the redis backend
	RedisURL string `env:"REDIS_URL"`

	// TTL expires job keys in Redis; 0 keeps them until swept (default: 24h)
	TTL time.Duration `env:"STORE_TTL" default:"24h"`
}

// RetentionConfig holds settings for evicting finished jobs.
type RetentionConfig struct {
	// Enabled controls whether the retention sweeper runs (default: true)
	Enabled bool `env:"RETENTION_ENABLED" default:"true"`

	// MaxAge is how long a finished job stays queryable (default: 1h)
	MaxAge time.Duration `env:"RETENTION_MAX_AGE" default:"1h"`

	// CheckInterval is how often to sweep (default: 10m)
	CheckInterval time.Duration `env:"RETENTION_CHECK_INTERVAL" default:"10m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
