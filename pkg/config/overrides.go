package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// override is one setting that can be changed from the environment or a flag.
type override struct {
	env   string
	flag  string
	usage string
	get   func(*Config) string
	set   func(*Config, string) error
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, value string) error {
		*field(c) = value
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, value string) error {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*field(c) = parsed
		return nil
	}
}

func setDuration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, value string) error {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*field(c) = parsed
		return nil
	}
}

var overrides = []override{
	{
		env: "PROBE_LISTEN_ADDR", flag: "listen", usage: "address to listen on",
		get: func(c *Config) string { return c.Server.ListenAddr },
		set: setString(func(c *Config) *string { return &c.Server.ListenAddr }),
	},
	{
		env: "PROBE_HMAC_SECRET", flag: "hmac-secret", usage: "shared secret agents sign reports with",
		get: func(*Config) string { return "" },
		set: setString(func(c *Config) *string { return &c.Ingest.HMACSecret }),
	},
	{
		env: "PROBE_STATUS_TTL_SECONDS", flag: "status-ttl", usage: "status snapshot lifetime in seconds, clamped to [1, 86400]",
		get: func(c *Config) string { return strconv.Itoa(c.Status.TTLSeconds) },
		set: setInt(func(c *Config) *int { return &c.Status.TTLSeconds }),
	},
	{
		env: "PROBE_OFFLINE_THRESHOLD", flag: "offline-threshold", usage: "silence after which a node is shown offline",
		get: func(c *Config) string { return c.Status.OfflineThreshold.String() },
		set: setDuration(func(c *Config) *time.Duration { return &c.Status.OfflineThreshold }),
	},
	{
		env: "PROBE_DB_DRIVER", flag: "db-driver", usage: "durable store driver (sqlite, postgres)",
		get: func(c *Config) string { return c.Database.Driver },
		set: setString(func(c *Config) *string { return &c.Database.Driver }),
	},
	{
		env: "PROBE_DB_DSN", flag: "db-dsn", usage: "SQLite path or PostgreSQL connection string",
		get: func(c *Config) string { return c.Database.DSN },
		set: setString(func(c *Config) *string { return &c.Database.DSN }),
	},
	{
		env: "PROBE_CACHE_BACKEND", flag: "cache-backend", usage: "status cache backend (memory, redis)",
		get: func(c *Config) string { return c.Cache.Backend },
		set: setString(func(c *Config) *string { return &c.Cache.Backend }),
	},
	{
		env: "PROBE_REDIS_ADDR", flag: "redis-addr", usage: "Redis address for the redis cache backend",
		get: func(c *Config) string { return c.Cache.Redis.Addr },
		set: setString(func(c *Config) *string { return &c.Cache.Redis.Addr }),
	},
	{
		env: "PROBE_REDIS_PASSWORD", flag: "redis-password", usage: "Redis password",
		get: func(*Config) string { return "" },
		set: setString(func(c *Config) *string { return &c.Cache.Redis.Password }),
	},
	{
		env: "PROBE_LOG_LEVEL", flag: "log-level", usage: "log level (debug, info, warn, error)",
		get: func(c *Config) string { return c.Logging.Level },
		set: setString(func(c *Config) *string { return &c.Logging.Level }),
	},
}

// ApplyEnv overrides settings from environment variables found by lookup,
// typically os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, o := range overrides {
		value, ok := lookup(o.env)
		if !ok {
			continue
		}
		if err := o.set(c, value); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, o.env, err)
		}
	}
	return nil
}

// RegisterFlags adds one string flag per overridable setting. Defaults shown
// in help come from the built-in configuration; secrets show none.
func RegisterFlags(flagSet *pflag.FlagSet) {
	defaults := Default()
	for _, o := range overrides {
		flagSet.String(o.flag, o.get(defaults), o.usage)
	}
}

// ApplyFlags overrides settings with the flags that were set explicitly.
func (c *Config) ApplyFlags(flagSet *pflag.FlagSet) error {
	for _, o := range overrides {
		flag := flagSet.Lookup(o.flag)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := o.set(c, flag.Value.String()); err != nil {
			return fmt.Errorf("%w: --%s: %w", ErrInvalidConfig, o.flag, err)
		}
	}
	return nil
}

// Load builds the configuration: file, then environment, then flags.
func Load(filePath string, lookupEnv func(string) (string, bool), flagSet *pflag.FlagSet) (*Config, error) {
	cfg, err := LoadFile(filePath)
	if err != nil {
		return nil, err
	}

	if lookupEnv != nil {
		if err := cfg.ApplyEnv(lookupEnv); err != nil {
			return nil, err
		}
	}

	if flagSet != nil {
		if err := cfg.ApplyFlags(flagSet); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
