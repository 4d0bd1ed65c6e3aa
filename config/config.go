/*
Package config loads server configuration.

SOURCES (later wins):
  1. Defaults (Default())
  2. .env in the working directory, if present (godotenv, never overrides
     variables already set in the process)
  3. YAML file, if a path is given
  4. Environment variables

ENVIRONMENT:
  HTTP_ADDR, STORE_DRIVER (sqlite|postgres), SQLITE_PATH, DATABASE_URL,
  CACHE_DRIVER (memory|redis|none), REDIS_ADDR (comma separated),
  REDIS_PASS, REDIS_DB, REDIS_CLUSTER, CACHE_TIMEOUT, KAFKA_BROKERS
  (comma separated), KAFKA_TOPIC, LOG_LEVEL, LOG_FILE, SNAPSHOT_THRESHOLD,
  DEFAULT_CURRENCY, SCHEDULER_ENABLED, SCHEDULER_INTERVAL
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/balance-engine/ledger"
)

type Config struct {
	HTTP struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"http"`

	Store struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
		Postgres   struct {
			URL      string `yaml:"url"`
			MaxConns int32  `yaml:"max_conns"`
			MinConns int32  `yaml:"min_conns"`
		} `yaml:"postgres"`
	} `yaml:"store"`

	Cache struct {
		Driver   string        `yaml:"driver"`
		Addrs    []string      `yaml:"addrs"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Cluster  bool          `yaml:"cluster"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"cache"`

	Events struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"events"`

	Ledger struct {
		SnapshotThreshold int    `yaml:"snapshot_threshold"`
		DefaultCurrency   string `yaml:"default_currency"`
	} `yaml:"ledger"`

	Scheduler struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"scheduler"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// Default returns a config that runs a single node on SQLite with an
// in-process cache.
func Default() *Config {
	var c Config
	c.HTTP.Addr = ":8080"
	c.HTTP.ReadTimeout = 15 * time.Second
	c.HTTP.WriteTimeout = 15 * time.Second
	c.HTTP.ShutdownTimeout = 30 * time.Second
	c.HTTP.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	c.Store.Driver = "sqlite"
	c.Store.SQLitePath = "ledger.db"
	c.Store.Postgres.MaxConns = 20
	c.Cache.Driver = "memory"
	c.Cache.Timeout = ledger.DefaultCacheTimeout
	c.Ledger.SnapshotThreshold = ledger.DefaultSnapshotThreshold
	c.Ledger.DefaultCurrency = "BRL"
	c.Scheduler.Interval = time.Hour
	c.Logging.Level = "info"
	return &c
}

// Load builds the config from defaults, .env, the YAML file at path (may be
// empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.Postgres.URL == "" {
			return errors.New("store.postgres.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Cache.Driver {
	case "memory", "none":
	case "redis":
		if len(c.Cache.Addrs) == 0 {
			return errors.New("cache.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}
	if c.Cache.Timeout <= 0 {
		return errors.New("cache.timeout must be positive")
	}

	if c.Ledger.SnapshotThreshold <= 0 {
		return errors.New("ledger.snapshot_threshold must be positive")
	}
	if err := ledger.ValidateCurrency(c.Ledger.DefaultCurrency); err != nil {
		return fmt.Errorf("ledger.default_currency: %w", err)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

func overrideWithEnv(c *Config) error {
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.SQLitePath, "SQLITE_PATH")
	setString(&c.Store.Postgres.URL, "DATABASE_URL")
	setString(&c.Cache.Driver, "CACHE_DRIVER")
	setSlice(&c.Cache.Addrs, "REDIS_ADDR")
	setString(&c.Cache.Password, "REDIS_PASS")
	setSlice(&c.Events.Brokers, "KAFKA_BROKERS")
	setString(&c.Events.Topic, "KAFKA_TOPIC")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.File, "LOG_FILE")
	setString(&c.Ledger.DefaultCurrency, "DEFAULT_CURRENCY")

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Cache.DB = n
	}
	if v := os.Getenv("REDIS_CLUSTER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REDIS_CLUSTER: %w", err)
		}
		c.Cache.Cluster = b
	}
	if v := os.Getenv("CACHE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CACHE_TIMEOUT: %w", err)
		}
		c.Cache.Timeout = d
	}
	if v := os.Getenv("SNAPSHOT_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SNAPSHOT_THRESHOLD: %w", err)
		}
		c.Ledger.SnapshotThreshold = n
	}
	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SCHEDULER_ENABLED: %w", err)
		}
		c.Scheduler.Enabled = b
	}
	if v := os.Getenv("SCHEDULER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SCHEDULER_INTERVAL: %w", err)
		}
		c.Scheduler.Interval = d
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
