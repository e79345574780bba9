// Package config loads the collector configuration from a YAML file,
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"probehub/pkg/statuscache"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// ErrInvalidConfig is returned when the merged configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// IngestConfig holds ingestion limits and the shared secret
type IngestConfig struct {
	HMACSecret   string        `yaml:"hmac_secret"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	MaxClockSkew time.Duration `yaml:"max_clock_skew"`
}

// StatusConfig holds snapshot lifetime and liveness configuration
type StatusConfig struct {
	TTLSeconds       int           `yaml:"ttl_seconds"`
	OfflineThreshold time.Duration `yaml:"offline_threshold"`
}

// QueryConfig holds read path limits
type QueryConfig struct {
	NodeListLimit     int `yaml:"node_list_limit"`
	MetricRowLimit    int `yaml:"metric_row_limit"`
	LookupConcurrency int `yaml:"lookup_concurrency"`
}

// DatabaseConfig selects the durable store
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig selects the status cache
type CacheConfig struct {
	Backend         string        `yaml:"backend"`
	Redis           RedisConfig   `yaml:"redis"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config represents the complete collector configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Status   StatusConfig   `yaml:"status"`
	Query    QueryConfig    `yaml:"query"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Ingest: IngestConfig{
			MaxBodyBytes: 64 * 1024,
			MaxClockSkew: 300 * time.Second,
		},
		Status: StatusConfig{
			TTLSeconds:       120,
			OfflineThreshold: 120 * time.Second,
		},
		Query: QueryConfig{
			NodeListLimit:     100,
			MetricRowLimit:    10000,
			LookupConcurrency: 16,
		},
		Database: DatabaseConfig{
			Driver:   DriverSQLite,
			DSN:      "probehub.db",
			MaxConns: 10,
		},
		Cache: CacheConfig{
			Backend:         CacheMemory,
			Redis:           RedisConfig{Addr: "localhost:6379"},
			JanitorInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFile reads a YAML file over the defaults. An empty path yields the
// defaults unchanged.
func LoadFile(filePath string) (*Config, error) {
	cfg := Default()
	if filePath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// StatusTTL is the snapshot lifetime clamped to [1s, 24h].
func (c *Config) StatusTTL() time.Duration {
	return statuscache.ClampTTL(time.Duration(c.Status.TTLSeconds) * time.Second)
}

// Validate checks the merged configuration. It reports every problem at once.
func (c *Config) Validate() error {
	var problems []error

	if c.Ingest.HMACSecret == "" {
		problems = append(problems, errors.New("ingest.hmac_secret is required"))
	}
	if c.Ingest.MaxBodyBytes <= 0 {
		problems = append(problems, errors.New("ingest.max_body_bytes must be positive"))
	}
	if c.Ingest.MaxClockSkew < time.Second {
		problems = append(problems, errors.New("ingest.max_clock_skew must be at least 1s"))
	}
	if c.Status.OfflineThreshold <= 0 {
		problems = append(problems, errors.New("status.offline_threshold must be positive"))
	}
	if c.Query.NodeListLimit <= 0 || c.Query.MetricRowLimit <= 0 || c.Query.LookupConcurrency <= 0 {
		problems = append(problems, errors.New("query limits must be positive"))
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		problems = append(problems, fmt.Errorf("database.driver %q is not one of sqlite, postgres", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		problems = append(problems, errors.New("database.dsn is required"))
	}

	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			problems = append(problems, errors.New("cache.redis.addr is required for the redis backend"))
		}
	default:
		problems = append(problems, fmt.Errorf("cache.backend %q is not one of memory, redis", c.Cache.Backend))
	}

	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		problems = append(problems, errors.New("metrics.path must start with /"))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
	}
	return nil
}
