package sessionguard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultJanitorBatchSize = 500

// Janitor periodically deletes expired sessions. Each run sweeps in batches
// paced by MaxBatchesPerSecond so that a large backlog does not monopolise
// the store.
type Janitor struct {
	engine  *Engine
	cfg     JanitorConfig
	logger  *slog.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewJanitor returns a stopped janitor for engine. Zero fields in cfg take
// their defaults: one hour interval, 500 rows per batch, unpaced.
func NewJanitor(engine *Engine, cfg JanitorConfig, logger *slog.Logger) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultJanitorBatchSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	limit := rate.Inf
	if cfg.MaxBatchesPerSecond > 0 {
		limit = rate.Limit(cfg.MaxBatchesPerSecond)
	}

	return &Janitor{
		engine:  engine,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "janitor")),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Start launches the sweep loop. The first sweep runs one Interval after
// Start. Calling Start on a running janitor does nothing.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.done = make(chan struct{})
	j.running = true

	go j.loop(ctx, j.done)
}

// Stop cancels the loop, including an in-flight sweep, and waits for it to
// exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	cancel, done := j.cancel, j.done
	j.running = false
	j.mu.Unlock()

	cancel()
	<-done
}

func (j *Janitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("sweep failed", slog.Any("error", err))
			}
		}
	}
}

// RunOnce performs one full sweep and returns the number of sessions
// deleted.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	if err := j.engine.ready(); err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := j.engine.sweepExpired(ctx, j.cfg.BatchSize, j.cfg.MaxBatchesPerRun, j.limiter.Wait)
	j.logger.Debug("sweep finished",
		slog.Int("deleted", n),
		slog.Duration("elapsed", time.Since(start)),
	)
	return n, err
}
