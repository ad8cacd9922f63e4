// Package config loads the service configuration from a YAML file, an
// optional .env file and environment overrides, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/valuation"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Gateway GatewayConfig `yaml:"gateway"`
	Agent   AgentConfig   `yaml:"agent"`
	Pool    model.Config  `yaml:"pool"` // seeds the ledger on first boot only
	Keeper  KeeperConfig  `yaml:"keeper"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	// JWTSecret verifies bearer tokens on commands. Empty trusts the sender
	// named in the request body.
	JWTSecret string `yaml:"jwt_secret"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

type StorageConfig struct {
	Driver          string `yaml:"driver"` // memory | postgres | sqlite
	DatabaseURL     string `yaml:"database_url"`
	RedisURL        string `yaml:"redis_url"`
	SQLitePath      string `yaml:"sqlite_path"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// GatewayConfig points at a remote chain gateway. An empty URL runs the
// agent against the in-process simulator.
type GatewayConfig struct {
	URL               string  `yaml:"url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type AgentConfig struct {
	Address      string `yaml:"address"`
	BidValuation string `yaml:"bid_valuation"` // router | exchange
}

type KeeperConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Sender          string `yaml:"sender"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

// Load reads path (skipped when empty), then .env if present, then the
// environment, and fills defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("GATEWAY_URL"); v != "" {
		cfg.Gateway.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Storage.Driver == "" {
		switch {
		case cfg.Storage.DatabaseURL != "":
			cfg.Storage.Driver = DriverPostgres
		case cfg.Storage.SQLitePath != "":
			cfg.Storage.Driver = DriverSQLite
		default:
			cfg.Storage.Driver = DriverMemory
		}
	}
	if cfg.Storage.CacheTTLSeconds <= 0 {
		cfg.Storage.CacheTTLSeconds = 30
	}
	if cfg.Gateway.RequestsPerSecond <= 0 {
		cfg.Gateway.RequestsPerSecond = 20
	}
	if cfg.Agent.Address == "" {
		cfg.Agent.Address = "pool-agent"
	}
	if cfg.Agent.BidValuation == "" {
		cfg.Agent.BidValuation = valuation.NameRouter
	}
	if cfg.Keeper.Sender == "" {
		cfg.Keeper.Sender = "keeper"
	}
	if cfg.Keeper.IntervalSeconds <= 0 {
		cfg.Keeper.IntervalSeconds = 30
	}
}

// Validate checks the loaded configuration, including the pool seed.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("%w: postgres driver needs database_url", ErrInvalid)
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite driver needs sqlite_path", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalid, c.Storage.Driver)
	}
	switch c.Agent.BidValuation {
	case valuation.NameRouter, valuation.NameExchange:
	default:
		return fmt.Errorf("%w: unknown bid valuation %q", ErrInvalid, c.Agent.BidValuation)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("%w: pool: %w", ErrInvalid, err)
	}
	return nil
}

// CacheTTL returns the Redis cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Storage.CacheTTLSeconds) * time.Second
}

// KeeperInterval returns the keeper tick interval.
func (c *Config) KeeperInterval() time.Duration {
	return time.Duration(c.Keeper.IntervalSeconds) * time.Second
}

// Handler builds the slog handler described by the log section.
func (l LogConfig) Handler(w io.Writer) slog.Handler {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalid, s)
}
