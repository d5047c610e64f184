package sessionguard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/sessionguard/internal/rate"
)

func (e *Engine) policy(action Action) (RateLimitPolicy, error) {
	p, ok := e.config.RateLimit.Policies[action]
	if !action.Valid() || !ok {
		return RateLimitPolicy{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return p, nil
}

// CheckRateLimit reports whether identifier may attempt action now. It is a
// pure read: a lapsed window is projected as a fresh budget but not reset.
// Pair it with [Engine.RecordAttempt]; the two are deliberately not atomic.
//
//	Performance: 1 store read.
func (e *Engine) CheckRateLimit(ctx context.Context, identifier string, action Action) (RateLimitResult, error) {
	if err := e.ready(); err != nil {
		return RateLimitResult{}, err
	}
	p, err := e.policy(action)
	if err != nil {
		return RateLimitResult{}, err
	}
	if identifier == "" {
		return RateLimitResult{}, ErrEmptyIdentifier
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	rec, err := e.attempts.Get(sctx, identifier, action)
	if err != nil {
		return RateLimitResult{}, e.storeFailure(sctx, "get rate limit record", err)
	}

	d := rate.Evaluate(rec, p, e.now())
	if d.Allowed {
		e.metricInc(MetricRateLimitAllowed)
	} else {
		e.metricInc(MetricRateLimitDenied)
	}

	return RateLimitResult{
		Allowed:           d.Allowed,
		RemainingAttempts: d.Remaining,
		ResetAt:           d.ResetAt,
	}, nil
}

// RecordAttempt counts one real attempt of action by identifier, whatever
// its outcome. success is carried into audit metadata only; every attempt
// counts toward the limit. Reaching MaxAttempts sets a block of
// BlockDuration from now.
//
//	Performance: 1 serialized read-modify-write.
func (e *Engine) RecordAttempt(ctx context.Context, identifier string, action Action, success bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	p, err := e.policy(action)
	if err != nil {
		return err
	}
	if identifier == "" {
		return ErrEmptyIdentifier
	}

	now := e.now()
	var blocked bool

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	rec, err := e.attempts.Update(sctx, identifier, action, func(cur *RateLimitRecord) RateLimitRecord {
		next := rate.Advance(cur, identifier, action, p, now)
		blocked = next.BlockedUntil.Equal(now.Add(p.BlockDuration)) && !cur.Blocked(now)
		return next
	})
	if err != nil {
		return e.storeFailure(sctx, "record attempt", err)
	}

	e.metricInc(MetricAttemptRecorded)
	fields := auditFields{identifier: identifier, action: action}
	e.emitAudit(ctx, AuditRateLimitAttempt, success, fields, nil, func() map[string]string {
		return map[string]string{"attempts": strconv.Itoa(rec.Attempts)}
	})

	if blocked {
		e.metricInc(MetricRateLimitBlocked)
		e.emitAudit(ctx, AuditRateLimitTriggered, false, fields, nil, func() map[string]string {
			return map[string]string{
				"attempts":      strconv.Itoa(rec.Attempts),
				"blocked_until": rec.BlockedUntil.UTC().Format(time.RFC3339),
			}
		})
		e.logger.Info("rate limit block started",
			slog.String("identifier", identifier),
			slog.String("action", action.String()),
			slog.Time("blocked_until", rec.BlockedUntil),
		)
	}

	return nil
}

// ClearRateLimit deletes the records of identifier for the given actions,
// or for every action when none are given.
func (e *Engine) ClearRateLimit(ctx context.Context, identifier string, actions ...Action) error {
	if err := e.ready(); err != nil {
		return err
	}
	if identifier == "" {
		return ErrEmptyIdentifier
	}
	if len(actions) == 0 {
		actions = rate.Actions[:]
	}
	for _, a := range actions {
		if !a.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownAction, a)
		}
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.attempts.Delete(sctx, identifier, actions...); err != nil {
		return e.storeFailure(sctx, "clear rate limit", err)
	}

	e.metricInc(MetricRateLimitCleared)
	for _, a := range actions {
		e.emitAudit(ctx, AuditRateLimitCleared, true, auditFields{identifier: identifier, action: a}, nil, nil)
	}
	e.logger.Info("rate limit cleared", slog.String("identifier", identifier), slog.Int("actions", len(actions)))
	return nil
}

// GetRateLimitStatus lists the stored records of identifier in action order.
// Untracked actions are omitted.
func (e *Engine) GetRateLimitStatus(ctx context.Context, identifier string) ([]RateLimitStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if identifier == "" {
		return nil, ErrEmptyIdentifier
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	recs, err := e.attempts.List(sctx, identifier)
	if err != nil {
		return nil, e.storeFailure(sctx, "list rate limit records", err)
	}

	now := e.now()
	out := make([]RateLimitStatus, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		out = append(out, RateLimitStatus{
			Action:          rec.Action,
			Attempts:        rec.Attempts,
			Blocked:         rec.Blocked(now),
			BlockedUntil:    rec.BlockedUntil,
			WindowExpiresAt: rec.WindowExpiresAt,
			LastAttemptAt:   rec.LastAttemptAt,
		})
	}
	return out, nil
}
