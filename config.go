package sessionguard

import (
	"fmt"
	"time"

	"github.com/MrEthical07/sessionguard/internal/rate"
)

// Config is the full engine configuration. It is cloned at [Builder.Build]
// and never mutated afterwards.
type Config struct {
	Session   SessionConfig
	RateLimit RateLimitConfig
	Janitor   JanitorConfig
	Store     StoreConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime and key layout.
type SessionConfig struct {
	// IdleTimeout is the sliding lifetime. Create and refresh both set
	// expiresAt = now + IdleTimeout.
	IdleTimeout time.Duration
	// RefreshThreshold flags a session as NeedsRefresh when less than this
	// much lifetime remains.
	RefreshThreshold time.Duration
	RedisPrefix      string
	// RetentionGrace is added to each Redis key TTL on top of the remaining
	// lifetime so that expired rows stay readable until swept.
	RetentionGrace time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitPolicy is the static limit for one action.
type RateLimitPolicy = rate.Policy

// RateLimitConfig holds the per-action limiter table.
type RateLimitConfig struct {
	Policies    map[Action]RateLimitPolicy
	RedisPrefix string
}

/*
====================================
JANITOR CONFIG
====================================
*/

// JanitorConfig controls the background expired-session sweep.
type JanitorConfig struct {
	Enabled             bool
	Interval            time.Duration
	BatchSize           int
	MaxBatchesPerSecond float64
	// MaxBatchesPerRun bounds a single run; 0 means run until caught up.
	MaxBatchesPerRun int
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig applies to every call into the session and attempt stores.
type StoreConfig struct {
	OperationTimeout time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// CoalesceWindow folds rate_limit_attempt events per identifier and
	// action into one summary event per window. Zero disables folding.
	CoalesceWindow time.Duration
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the stock configuration: 30 day sliding sessions,
// 7 day refresh threshold, and the standard limiter table.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			IdleTimeout:      30 * 24 * time.Hour,
			RefreshThreshold: 7 * 24 * time.Hour,
			RedisPrefix:      "sg",
			RetentionGrace:   time.Hour,
		},
		RateLimit: RateLimitConfig{
			Policies:    rate.DefaultPolicies(),
			RedisPrefix: "rl",
		},
		Janitor: JanitorConfig{
			Enabled:             true,
			Interval:            time.Hour,
			BatchSize:           500,
			MaxBatchesPerSecond: 10,
		},
		Store: StoreConfig{
			OperationTimeout: 2 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:        false,
			BufferSize:     1024,
			DropIfFull:     true,
			CoalesceWindow: time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.RateLimit.Policies != nil {
		out.RateLimit.Policies = make(map[Action]RateLimitPolicy, len(cfg.RateLimit.Policies))
		for a, p := range cfg.RateLimit.Policies {
			out.RateLimit.Policies[a] = p
		}
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks c for values the engine cannot run with. Every returned
// error wraps [ErrInvalidConfig].
func (c *Config) Validate() error {
	// Session
	if c.Session.IdleTimeout <= 0 {
		return invalidConfig("Session IdleTimeout must be > 0")
	}
	if c.Session.RefreshThreshold < 0 {
		return invalidConfig("Session RefreshThreshold must be >= 0")
	}
	if c.Session.RetentionGrace < 0 {
		return invalidConfig("Session RetentionGrace must be >= 0")
	}
	if c.Session.RedisPrefix == "" {
		return invalidConfig("Session RedisPrefix must be set")
	}

	// Rate limit
	if c.RateLimit.RedisPrefix == "" {
		return invalidConfig("RateLimit RedisPrefix must be set")
	}
	if c.RateLimit.RedisPrefix == c.Session.RedisPrefix {
		return invalidConfig("RateLimit RedisPrefix must differ from Session RedisPrefix")
	}
	for _, a := range rate.Actions {
		p, ok := c.RateLimit.Policies[a]
		if !ok {
			return invalidConfig(fmt.Sprintf("RateLimit policy missing for action %s", a))
		}
		if p.MaxAttempts <= 0 {
			return invalidConfig(fmt.Sprintf("RateLimit %s MaxAttempts must be > 0", a))
		}
		if p.Window <= 0 {
			return invalidConfig(fmt.Sprintf("RateLimit %s Window must be > 0", a))
		}
		if p.BlockDuration <= 0 {
			return invalidConfig(fmt.Sprintf("RateLimit %s BlockDuration must be > 0", a))
		}
	}
	for a := range c.RateLimit.Policies {
		if !a.Valid() {
			return fmt.Errorf("%w: %w: %d", ErrInvalidConfig, ErrUnknownAction, uint8(a))
		}
	}

	// Janitor
	if c.Janitor.Enabled {
		if c.Janitor.Interval <= 0 {
			return invalidConfig("Janitor Interval must be > 0")
		}
		if c.Janitor.BatchSize <= 0 {
			return invalidConfig("Janitor BatchSize must be > 0")
		}
		if c.Janitor.MaxBatchesPerSecond < 0 {
			return invalidConfig("Janitor MaxBatchesPerSecond must be >= 0")
		}
		if c.Janitor.MaxBatchesPerRun < 0 {
			return invalidConfig("Janitor MaxBatchesPerRun must be >= 0")
		}
	}

	// Store
	if c.Store.OperationTimeout <= 0 {
		return invalidConfig("Store OperationTimeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return invalidConfig("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.CoalesceWindow < 0 {
		return invalidConfig("Audit CoalesceWindow must be >= 0")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return invalidConfig("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

func invalidConfig(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
