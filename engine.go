package sessionguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/sessionguard/internal/audit"
)

// Engine owns session lifecycle and rate limiting on top of a [SessionStore]
// and an [AttemptStore]. It is safe for concurrent use once built.
type Engine struct {
	config       Config
	clock        func() time.Time
	sessions     SessionStore
	attempts     AttemptStore
	userProvider UserProvider
	logger       *slog.Logger
	audit        *audit.Dispatcher
	metrics      *Metrics
	janitor      *Janitor

	sessionBackend string
	attemptBackend string

	closed atomic.Bool
}

// Close stops the background janitor and drains pending audit events.
// Engine methods called after Close return [ErrEngineClosed].
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	if e.janitor != nil {
		e.janitor.Stop()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditCoalesced returns the number of rate_limit_attempt events folded into
// a summary event instead of being delivered individually.
func (e *Engine) AuditCoalesced() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Coalesced()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// SessionStoreHealth pings the session store and, when it is a different
// backend, the attempt store.
func (e *Engine) SessionStoreHealth(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.sessions.Ping(sctx); err != nil {
		return e.storeFailure(sctx, "ping session store", err)
	}

	actx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.attempts.Ping(actx); err != nil {
		return e.storeFailure(actx, "ping attempt store", err)
	}
	return nil
}

// now is truncated to the millisecond resolution both stores persist, so a
// timestamp handed to a caller equals the one later read back.
func (e *Engine) now() time.Time {
	return e.clock().Truncate(time.Millisecond)
}

func (e *Engine) ready() error {
	if e == nil || e.sessions == nil || e.attempts == nil {
		return errors.New("engine not initialized")
	}
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// storeContext bounds one store call by Store.OperationTimeout.
func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.config.Store.OperationTimeout)
}

// storeFailure maps a store error to ErrStoreUnavailable. When the bounded
// context has expired, its error is joined so callers can match
// context.DeadlineExceeded as well.
func (e *Engine) storeFailure(ctx context.Context, op string, err error) error {
	e.metricInc(MetricStoreUnavailable)
	if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
		err = errors.Join(err, cerr)
	}
	e.logger.Warn("store operation failed", slog.String("op", op), slog.Any("error", err))
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
