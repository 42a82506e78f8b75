// Package config provides centralized configuration management for the service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"

	"github.com/JonMunkholm/cdmtriage/internal/core"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Import     ImportConfig
	Policy     PolicyConfig
	Simulation SimulationConfig
	Retriage   RetriageConfig
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

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects and tunes the event store.
type StoreConfig struct {
	// Driver is memory, sqlite, or postgres (default: sqlite)
	Driver string `env:"STORE_DRIVER" default:"sqlite"`

	// URL is the PostgreSQL connection string, required for the postgres driver.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// SQLitePath is the database file for the sqlite driver (default: cdm.db)
	SQLitePath string `env:"SQLITE_PATH" default:"cdm.db"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds CDM ingestion settings.
type ImportConfig struct {
	// MaxFileSize is the maximum accepted upload in bytes (default: 256MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"268435456"`

	// MaxConcurrent is the maximum number of parallel imports (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the number of events written per batch (default: 1000)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"1000"`

	// ChunkSize is the read size in bytes (default: 64KiB)
	ChunkSize int `env:"IMPORT_CHUNK_SIZE" default:"65536"`

	// Timeout is the maximum duration for a single import (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`
}

// PolicyConfig holds the initial triage thresholds. File, when set, is
// loaded on top of these values.
type PolicyConfig struct {
	PcRedThreshold        float64 `env:"POLICY_PC_RED_THRESHOLD" default:"1e-4"`
	EtaThreshold          float64 `env:"POLICY_ETA_THRESHOLD" default:"10"`
	TangencyThreshold     float64 `env:"POLICY_TANGENCY_THRESHOLD" default:"0.97"`
	ConditioningThreshold float64 `env:"POLICY_CONDITIONING_THRESHOLD" default:"5.0"`
	WarningTimeThreshold  float64 `env:"POLICY_WARNING_TIME_HOURS" default:"24"`

	// File is an optional YAML or JSONC policy file
	File string `env:"POLICY_FILE"`
}

// SimulationConfig holds Monte Carlo refinement settings.
type SimulationConfig struct {
	// DefaultSamples is used when a request does not specify a count (default: 5000)
	DefaultSamples int `env:"SIM_DEFAULT_SAMPLES" default:"5000"`

	// MaxSamples caps the per-request sample count (default: 1000000)
	MaxSamples int `env:"SIM_MAX_SAMPLES" default:"1000000"`

	// Seed fixes the random source; 0 seeds from the clock
	Seed int64 `env:"SIM_SEED" default:"0"`

	MaxConcurrent int           `env:"SIM_MAX_CONCURRENT" default:"4"`
	MaxWaitTime   time.Duration `env:"SIM_MAX_WAIT_TIME" default:"5s"`
	Timeout       time.Duration `env:"SIM_TIMEOUT" default:"30s"`
}

// RetriageConfig controls the periodic re-classification job.
type RetriageConfig struct {
	Enabled  bool          `env:"RETRIAGE_ENABLED" default:"true"`
	Interval time.Duration `env:"RETRIAGE_INTERVAL" default:"15m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for import and simulate endpoints (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key checks on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
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
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Thresholds converts the env-level policy to the domain type.
func (c *PolicyConfig) Thresholds() core.PolicyConfig {
	return core.PolicyConfig{
		PcRedThreshold:        c.PcRedThreshold,
		EtaThreshold:          c.EtaThreshold,
		TangencyThreshold:     c.TangencyThreshold,
		ConditioningThreshold: c.ConditioningThreshold,
		WarningTimeThreshold:  c.WarningTimeThreshold,
	}
}

// ResolvePolicy returns the env thresholds, overlaid by Policy.File when set.
func (c *Config) ResolvePolicy() (core.PolicyConfig, error) {
	if c.Policy.File == "" {
		p := c.Policy.Thresholds()
		return p, p.Validate()
	}
	return core.LoadPolicyFile(c.Policy.File)
}

// ServiceConfig builds the core service settings from this config.
func (c *Config) ServiceConfig(policy core.PolicyConfig) core.ServiceConfig {
	return core.ServiceConfig{
		Policy:                   policy,
		BatchSize:                c.Import.BatchSize,
		ChunkSize:                c.Import.ChunkSize,
		ImportTimeout:            c.Import.Timeout,
		MaxConcurrentImports:     c.Import.MaxConcurrent,
		ImportMaxWait:            c.Import.MaxWaitTime,
		DefaultSamples:           c.Simulation.DefaultSamples,
		SimulationTimeout:        c.Simulation.Timeout,
		MaxConcurrentSimulations: c.Simulation.MaxConcurrent,
		SimulationMaxWait:        c.Simulation.MaxWaitTime,
	}
}
