// Package envconfig loads process configuration for the sessionguard
// binaries from the environment and an optional .env file using Viper.
package envconfig

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/sessionguard"
	"github.com/spf13/viper"
)

// Config holds process settings. Durations are Go duration strings.
type Config struct {
	// Store selects the backend: "redis" or "postgres".
	Store         string `mapstructure:"SESSIONGUARD_STORE"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`

	LogLevel    string `mapstructure:"LOG_LEVEL"`
	MetricsAddr string `mapstructure:"METRICS_ADDR"`

	SessionIdleTimeout      string `mapstructure:"SESSION_IDLE_TIMEOUT"`
	SessionRefreshThreshold string `mapstructure:"SESSION_REFRESH_THRESHOLD"`
	SessionRedisPrefix      string `mapstructure:"SESSION_REDIS_PREFIX"`
	RateLimitRedisPrefix    string `mapstructure:"RATE_LIMIT_REDIS_PREFIX"`

	JanitorInterval            string  `mapstructure:"JANITOR_INTERVAL"`
	JanitorBatchSize           int     `mapstructure:"JANITOR_BATCH_SIZE"`
	JanitorMaxBatchesPerSecond float64 `mapstructure:"JANITOR_MAX_BATCHES_PER_SECOND"`

	StoreOperationTimeout string `mapstructure:"STORE_OPERATION_TIMEOUT"`
	AuditLog              bool   `mapstructure:"AUDIT_LOG"`
	AuditCoalesceWindow   string `mapstructure:"AUDIT_COALESCE_WINDOW"`
}

// Load reads envFile (if it exists), then the environment. Environment
// variables override the file. An empty envFile means ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	v := viper.New()

	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	def := sessionguard.DefaultConfig()
	v.SetDefault("SESSIONGUARD_STORE", "redis")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("SESSION_IDLE_TIMEOUT", def.Session.IdleTimeout.String())
	v.SetDefault("SESSION_REFRESH_THRESHOLD", def.Session.RefreshThreshold.String())
	v.SetDefault("SESSION_REDIS_PREFIX", def.Session.RedisPrefix)
	v.SetDefault("RATE_LIMIT_REDIS_PREFIX", def.RateLimit.RedisPrefix)
	v.SetDefault("JANITOR_INTERVAL", def.Janitor.Interval.String())
	v.SetDefault("JANITOR_BATCH_SIZE", def.Janitor.BatchSize)
	v.SetDefault("JANITOR_MAX_BATCHES_PER_SECOND", def.Janitor.MaxBatchesPerSecond)
	v.SetDefault("STORE_OPERATION_TIMEOUT", def.Store.OperationTimeout.String())
	v.SetDefault("AUDIT_LOG", false)
	v.SetDefault("AUDIT_COALESCE_WINDOW", def.Audit.CoalesceWindow.String())

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("envconfig: %w", err)
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	switch cfg.Store {
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, errors.New("envconfig: REDIS_ADDR must be set when SESSIONGUARD_STORE=redis")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("envconfig: DATABASE_URL must be set when SESSIONGUARD_STORE=postgres")
		}
	default:
		return nil, fmt.Errorf("envconfig: SESSIONGUARD_STORE must be redis or postgres, got %q", cfg.Store)
	}

	if _, err := cfg.EngineConfig(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EngineConfig overlays the process settings on sessionguard.DefaultConfig
// and validates the result.
func (c *Config) EngineConfig() (sessionguard.Config, error) {
	out := sessionguard.DefaultConfig()

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"SESSION_IDLE_TIMEOUT", c.SessionIdleTimeout, &out.Session.IdleTimeout},
		{"SESSION_REFRESH_THRESHOLD", c.SessionRefreshThreshold, &out.Session.RefreshThreshold},
		{"JANITOR_INTERVAL", c.JanitorInterval, &out.Janitor.Interval},
		{"STORE_OPERATION_TIMEOUT", c.StoreOperationTimeout, &out.Store.OperationTimeout},
		{"AUDIT_COALESCE_WINDOW", c.AuditCoalesceWindow, &out.Audit.CoalesceWindow},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return sessionguard.Config{}, fmt.Errorf("envconfig: %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if c.SessionRedisPrefix != "" {
		out.Session.RedisPrefix = c.SessionRedisPrefix
	}
	if c.RateLimitRedisPrefix != "" {
		out.RateLimit.RedisPrefix = c.RateLimitRedisPrefix
	}
	if c.JanitorBatchSize > 0 {
		out.Janitor.BatchSize = c.JanitorBatchSize
	}
	if c.JanitorMaxBatchesPerSecond > 0 {
		out.Janitor.MaxBatchesPerSecond = c.JanitorMaxBatchesPerSecond
	}
	out.Audit.Enabled = c.AuditLog
	out.Metrics.Enabled = c.MetricsAddr != ""
	out.Metrics.EnableLatencyHistograms = out.Metrics.Enabled

	if err := out.Validate(); err != nil {
		return sessionguard.Config{}, fmt.Errorf("envconfig: %w", err)
	}
	return out, nil
}
