// Package config provides centralized configuration management for the service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Ingest    IngestConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
	Events    EventsConfig
	Lock      LockConfig
	S3        S3Config
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing a response (default: 0, waits on sync ingests)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-ingest requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL selects the store: postgres:// or postgresql:// for PostgreSQL,
	// sqlite: or file: for the embedded SQLite store (required).
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// Migrate applies the embedded schema on startup (default: true)
	Migrate bool `env:"DB_MIGRATE" default:"true"`
}

// IngestConfig holds feed ingestion settings.
type IngestConfig struct {
	// MaxFileSize is the maximum accepted upload size in bytes (default: 200MB)
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" default:"209715200"`

	// MaxConcurrent is the maximum number of simultaneous runs (default: 5)
	MaxConcurrent int `env:"INGEST_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long a new run waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the number of mapped records per flush (default: 500)
	BatchSize int `env:"INGEST_BATCH_SIZE" default:"500"`

	// Timeout is the maximum duration of a single run (default: 30m)
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"30m"`

	// MaxXMLBytes caps the buffered size of XML feeds (default: 25MiB)
	MaxXMLBytes int64 `env:"INGEST_MAX_XML_BYTES" default:"26214400"`

	// ErrorSnapshotBytes truncates raw item snapshots in feed errors (default: 2048)
	ErrorSnapshotBytes int `env:"INGEST_ERROR_SNAPSHOT_BYTES" default:"2048"`

	// FetchTimeout bounds remote feed downloads started by URL (default: 5m)
	FetchTimeout time.Duration `env:"INGEST_FETCH_TIMEOUT" default:"5m"`

	// AllowLocalFiles lets ingest requests name server-side paths (default: false)
	AllowLocalFiles bool `env:"INGEST_ALLOW_LOCAL_FILES" default:"false"`

	// DedupTimeout is the maximum duration of one deduplication pass (default: 10m)
	DedupTimeout time.Duration `env:"DEDUP_TIMEOUT" default:"10m"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// IngestLimit is requests per minute for ingest and dedup endpoints (default: 10)
	IngestLimit int `env:"RATE_LIMIT_INGEST" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey rejects /api requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

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

// TelemetryConfig holds OpenTelemetry tracing settings.
type TelemetryConfig struct {
	// Enabled turns on OTLP trace export (default: false)
	Enabled bool `env:"OTEL_ENABLED" default:"false"`

	// Endpoint is the OTLP/HTTP collector host:port (default: localhost:4318)
	Endpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4318"`

	// Insecure disables TLS to the collector (default: true)
	Insecure bool `env:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`

	// ServiceName is reported as service.name (default: feedpipe)
	ServiceName string `env:"OTEL_SERVICE_NAME" default:"feedpipe"`

	// ServiceVersion is reported as service.version (default: dev)
	ServiceVersion string `env:"SERVICE_VERSION" default:"dev"`
}

// EventsConfig holds run event publishing settings.
type EventsConfig struct {
	// NATSURL enables publishing when set, e.g. nats://localhost:4222
	NATSURL string `env:"NATS_URL"`

	// Subject is the subject finished runs are published on (default: feedpipe.run.finished)
	Subject string `env:"EVENTS_SUBJECT" default:"feedpipe.run.finished"`
}

// LockConfig holds settings for the per-workspace dedup lock.
type LockConfig struct {
	// RedisURL switches the lock to Redis when set, e.g. redis://localhost:6379/0
	RedisURL string `env:"REDIS_URL"`

	// TTL is how long a lock is held before it expires on its own (default: 15m)
	TTL time.Duration `env:"LOCK_TTL" default:"15m"`

	// WaitTime is how long to wait for a busy lock (default: 0, fail immediately)
	WaitTime time.Duration `env:"LOCK_WAIT_TIME" default:"0s"`
}

// S3Config holds settings for s3:// feed sources.
type S3Config struct {
	// Region is the AWS region (default: us-east-1)
	Region string `env:"AWS_REGION" envAlt:"S3_REGION" default:"us-east-1"`

	// Endpoint overrides the S3 endpoint for S3-compatible storage
	Endpoint string `env:"S3_ENDPOINT"`

	// ForcePathStyle uses path-style addressing (default: false)
	ForcePathStyle bool `env:"S3_FORCE_PATH_STYLE" default:"false"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Driver reports which store the database URL selects: "postgres",
// "sqlite" or "" when the scheme is not recognized.
func (c *DatabaseConfig) Driver() string {
	u := strings.ToLower(c.URL)
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(u, "sqlite:"), strings.HasPrefix(u, "file:"):
		return "sqlite"
	}
	return ""
}

// SQLitePath returns the DSN handed to the SQLite driver, with the
// "sqlite:" prefix removed. "file:" URLs are passed through.
func (c *DatabaseConfig) SQLitePath() string {
	if strings.HasPrefix(strings.ToLower(c.URL), "sqlite:") {
		return strings.TrimPrefix(c.URL[len("sqlite:"):], "//")
	}
	return c.URL
}
