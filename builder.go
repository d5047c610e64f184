package sessionguard

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/sessionguard/internal/audit"
	"github.com/MrEthical07/sessionguard/internal/rate"
	"github.com/MrEthical07/sessionguard/session"
	"github.com/MrEthical07/sessionguard/stores/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. It is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	pgPool *pgxpool.Pool

	sessionStore SessionStore
	attemptStore AttemptStore

	userProvider UserProvider
	auditSink    AuditSink
	logger       *slog.Logger
	clock        func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs sessions and rate-limit records with Redis.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres backs sessions and rate-limit records with PostgreSQL. The
// schema must already be migrated (see postgres.Migrate).
func (b *Builder) WithPostgres(pool *pgxpool.Pool) *Builder {
	b.pgPool = pool
	return b
}

// WithStores sets custom store implementations. Either may be nil to keep
// the one chosen by WithRedis or WithPostgres.
func (b *Builder) WithStores(sessions SessionStore, attempts AttemptStore) *Builder {
	b.sessionStore = sessions
	b.attemptStore = attempts
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock sets the time source used for every expiry and window decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine. When
// Janitor.Enabled is set, the janitor starts here and stops on Engine.Close.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis != nil && b.pgPool != nil {
		return nil, errors.New("choose one of WithRedis or WithPostgres")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	engine := &Engine{
		config:       cfg,
		clock:        b.clock,
		userProvider: b.userProvider,
		logger:       b.logger,
		metrics:      NewMetrics(cfg.Metrics),
	}
	if engine.clock == nil {
		engine.clock = time.Now
	}
	if engine.logger == nil {
		engine.logger = slog.New(slog.DiscardHandler)
	}

	// -------- STORES --------
	switch {
	case b.redis != nil:
		engine.sessions = session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.RetentionGrace)
		engine.attempts = rate.NewRedisStore(b.redis, cfg.RateLimit.RedisPrefix)
		engine.sessionBackend, engine.attemptBackend = "redis", "redis"
	case b.pgPool != nil:
		engine.sessions = postgres.NewSessionStore(b.pgPool)
		engine.attempts = postgres.NewAttemptStore(b.pgPool)
		engine.sessionBackend, engine.attemptBackend = "postgres", "postgres"
	}
	if b.sessionStore != nil {
		engine.sessions = b.sessionStore
		engine.sessionBackend = "custom"
	}
	if b.attemptStore != nil {
		engine.attempts = b.attemptStore
		engine.attemptBackend = "custom"
	}
	if engine.sessions == nil || engine.attempts == nil {
		return nil, errors.New("session and attempt stores required: use WithRedis, WithPostgres, or WithStores")
	}

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:        cfg.Audit.Enabled,
		BufferSize:     cfg.Audit.BufferSize,
		DropIfFull:     cfg.Audit.DropIfFull,
		CoalesceWindow: cfg.Audit.CoalesceWindow,
	}, b.auditSink)

	if cfg.Janitor.Enabled {
		engine.janitor = NewJanitor(engine, cfg.Janitor, engine.logger)
		engine.janitor.Start()
	}

	for _, w := range cfg.Lint() {
		engine.logger.Warn("config lint", slog.String("code", w.Code), slog.String("severity", w.Severity.String()), slog.String("message", w.Message))
	}

	b.built = true

	return engine, nil
}
