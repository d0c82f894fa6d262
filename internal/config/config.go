// Package config loads polyledger configuration from a YAML file, an optional
// .env file and POLYLEDGER_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rewired-gh/polyledger/internal/models"
	"github.com/rewired-gh/polyledger/internal/odds"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Guard    GuardConfig    `mapstructure:"guard"`
	Market   MarketConfig   `mapstructure:"market"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// StorageConfig selects and configures the market store
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	DBPath   string         `mapstructure:"db_path"`
	FilePath string         `mapstructure:"file_path"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig holds the Postgres connection settings
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// RedisConfig holds the Redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	TLS      bool   `mapstructure:"tls"`
}

// GuardConfig holds the default anti-manipulation parameters. They apply
// until an administrator writes the parameter register.
type GuardConfig struct {
	MaxPriceDelta      float64       `mapstructure:"max_price_delta"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	MinStake           uint64        `mapstructure:"min_stake"`
	EnforceMinStake    bool          `mapstructure:"enforce_min_stake"`
	BootstrapLiquidity uint64        `mapstructure:"bootstrap_liquidity"`
}

// MarketConfig holds lifecycle policy
type MarketConfig struct {
	ResolveAfterCutoff bool `mapstructure:"resolve_after_cutoff"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MonitorConfig holds alerting behavior configuration
type MonitorConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	AlertWindow time.Duration `mapstructure:"alert_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("POLYLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.db_path", "./data/polyledger.db")
	v.SetDefault("storage.file_path", "")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "polyledger:")
	v.SetDefault("storage.redis.tls", false)

	// Guard defaults
	v.SetDefault("guard.max_price_delta", 0.15)
	v.SetDefault("guard.cooldown", "5s")
	v.SetDefault("guard.min_stake", 1000)
	v.SetDefault("guard.enforce_min_stake", false)
	v.SetDefault("guard.bootstrap_liquidity", 0)

	v.SetDefault("market.resolve_after_cutoff", true)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Monitor defaults
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.alert_window", "10m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Storage config
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required for the sqlite backend")
		}
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
		}
		if c.Storage.Postgres.MaxConns < 1 {
			return fmt.Errorf("storage.postgres.max_conns must be at least 1")
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
		if c.Storage.Redis.DB < 0 {
			return fmt.Errorf("storage.redis.db must not be negative")
		}
	default:
		return fmt.Errorf("storage.backend must be one of: sqlite, memory, postgres, redis")
	}

	// Validate Guard config
	if c.Guard.MaxPriceDelta <= 0.0 || c.Guard.MaxPriceDelta > 1.0 {
		return fmt.Errorf("guard.max_price_delta must be in (0.0, 1.0]")
	}
	if c.Guard.Cooldown < 0 {
		return fmt.Errorf("guard.cooldown must not be negative")
	}
	if c.Guard.Cooldown%time.Millisecond != 0 {
		return fmt.Errorf("guard.cooldown must be a whole number of milliseconds")
	}
	if c.Guard.EnforceMinStake && c.Guard.MinStake == 0 {
		return fmt.Errorf("guard.min_stake must be positive when enforce_min_stake is set")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Monitor config
	if c.Monitor.AlertWindow < 0 {
		return fmt.Errorf("monitor.alert_window must not be negative")
	}
	if c.Monitor.Enabled && !c.Telegram.Enabled {
		return fmt.Errorf("monitor.enabled requires telegram.enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// GuardParams converts the guard section into engine parameters.
func (c *Config) GuardParams() models.GuardParams {
	return models.GuardParams{
		MaxPriceDelta:      odds.FromFraction(c.Guard.MaxPriceDelta),
		CooldownMs:         uint64(c.Guard.Cooldown / time.Millisecond),
		MinStake:           models.NewAmount(c.Guard.MinStake),
		EnforceMinStake:    c.Guard.EnforceMinStake,
		BootstrapLiquidity: models.NewAmount(c.Guard.BootstrapLiquidity),
	}
}
