package sessionguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/MrEthical07/sessionguard/internal"
	"github.com/MrEthical07/sessionguard/session"
	"github.com/google/uuid"
)

const (
	maxUserIDBytes    = 255
	maxUserAgentBytes = 1024
	maxIPAddressBytes = 255
)

// CreateSession mints a new session for userID and returns its bearer token.
// The token is returned only here; the store keeps its SHA-256.
//
//	Performance: 1 store write.
func (e *Engine) CreateSession(ctx context.Context, userID string, opts CreateSessionOptions) (*CreatedSession, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" || len(userID) > maxUserIDBytes {
		return nil, ErrInvalidUserID
	}

	token, err := internal.NewSessionToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = userAgentFromContext(ctx)
	}
	ipAddress := opts.IPAddress
	if ipAddress == "" {
		ipAddress = clientIPFromContext(ctx)
	}

	now := e.now()
	sess := &Session{
		SchemaVersion:  session.CurrentSchemaVersion,
		SessionID:      uuid.NewString(),
		UserID:         userID,
		TokenHash:      internal.HashSessionToken(token),
		UserAgent:      truncate(userAgent, maxUserAgentBytes),
		IPAddress:      truncate(ipAddress, maxIPAddressBytes),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(e.config.Session.IdleTimeout),
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.sessions.Save(sctx, sess, now); err != nil {
		return nil, e.storeFailure(sctx, "save session", err)
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, AuditSessionCreated, true, auditFields{userID: userID, sessionID: sess.SessionID}, nil, nil)
	e.logger.Debug("session created",
		slog.String("session_id", sess.SessionID),
		slog.String("user_id", userID),
	)

	return &CreatedSession{
		SessionID: sess.SessionID,
		Token:     token,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// ValidateSession resolves token to its user. It returns (nil, nil) when the
// token is unknown or malformed, the session has expired, or the user is
// missing or inactive. A non-nil error always wraps [ErrStoreUnavailable].
//
// On success lastActivityAt is updated best-effort; an expired row found
// here is deleted best-effort.
//
//	Performance: 1 store read, 1 user lookup, 1 store write.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*ValidatedSession, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	if internal.CheckSessionToken(token) != nil {
		e.metricInc(MetricSessionValidateMiss)
		return nil, nil
	}
	hash := internal.HashSessionToken(token)

	sess, err := e.getSession(ctx, hash)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		e.metricInc(MetricSessionValidateMiss)
		return nil, nil
	}

	now := e.now()
	if sess.Expired(now) {
		e.metricInc(MetricSessionValidateMiss)
		e.metricInc(MetricSessionLazyExpired)
		e.deleteExpiredBestEffort(ctx, sess)
		return nil, nil
	}

	user, ok, err := e.lookupUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricSessionValidateMiss)
		return nil, nil
	}

	tctx, cancel := e.storeContext(ctx)
	if err := e.sessions.Touch(tctx, hash, now); err != nil {
		e.logger.Warn("session touch failed",
			slog.String("session_id", sess.SessionID),
			slog.Any("error", err),
		)
	}
	cancel()

	e.metricInc(MetricSessionValidated)
	return &ValidatedSession{
		User: user,
		Session: SessionState{
			SessionID:    sess.SessionID,
			ExpiresAt:    sess.ExpiresAt,
			NeedsRefresh: sess.ExpiresAt.Sub(now) < e.config.Session.RefreshThreshold,
		},
	}, nil
}

// getSession returns (nil, nil) for a missing or undecodable row.
func (e *Engine) getSession(ctx context.Context, hash [32]byte) (*Session, error) {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	sess, err := e.sessions.Get(sctx, hash)
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, session.ErrNotFound):
		return nil, nil
	case errors.Is(err, session.ErrCorrupt):
		e.logger.Error("corrupt session row", slog.Any("error", err))
		return nil, nil
	default:
		return nil, e.storeFailure(sctx, "get session", err)
	}
}

func (e *Engine) lookupUser(ctx context.Context, userID string) (UserRecord, bool, error) {
	uctx, cancel := e.storeContext(ctx)
	defer cancel()

	user, err := e.userProvider.GetUserByID(uctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return UserRecord{}, false, nil
	}
	if err != nil {
		return UserRecord{}, false, e.storeFailure(uctx, "get user", err)
	}
	if !user.Active {
		return UserRecord{}, false, nil
	}
	return user, true, nil
}

func (e *Engine) deleteExpiredBestEffort(ctx context.Context, sess *Session) {
	dctx, cancel := e.storeContext(ctx)
	defer cancel()
	if _, err := e.sessions.Delete(dctx, sess.TokenHash); err != nil {
		e.logger.Warn("lazy delete of expired session failed",
			slog.String("session_id", sess.SessionID),
			slog.Any("error", err),
		)
	}
}

// RefreshSession resets the session expiry to now + IdleTimeout. It is a
// full reset, not an extension. An unknown, malformed, or expired token
// yields Success false and a nil error.
//
//	Performance: 1 atomic store call.
func (e *Engine) RefreshSession(ctx context.Context, token string) (RefreshResult, error) {
	if err := e.ready(); err != nil {
		return RefreshResult{}, err
	}
	if internal.CheckSessionToken(token) != nil {
		e.metricInc(MetricSessionRefreshMiss)
		return RefreshResult{}, nil
	}

	now := e.now()
	expiresAt := now.Add(e.config.Session.IdleTimeout)

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	status, err := e.sessions.Refresh(sctx, internal.HashSessionToken(token), now, expiresAt)
	if err != nil {
		return RefreshResult{}, e.storeFailure(sctx, "refresh session", err)
	}

	if status != RefreshApplied {
		e.metricInc(MetricSessionRefreshMiss)
		if status == RefreshExpired {
			e.metricInc(MetricSessionLazyExpired)
		}
		return RefreshResult{}, nil
	}

	e.metricInc(MetricSessionRefreshed)
	e.emitAudit(ctx, AuditSessionRefreshed, true, auditFields{}, nil, func() map[string]string {
		return map[string]string{"expires_at": expiresAt.UTC().Format(time.RFC3339)}
	})
	return RefreshResult{Success: true, ExpiresAt: expiresAt}, nil
}

// DeleteSession removes the session for token. Deleting an unknown session
// is a no-op.
func (e *Engine) DeleteSession(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if internal.CheckSessionToken(token) != nil {
		return nil
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	existed, err := e.sessions.Delete(sctx, internal.HashSessionToken(token))
	if err != nil {
		return e.storeFailure(sctx, "delete session", err)
	}
	if existed {
		e.metricInc(MetricLogout)
		e.emitAudit(ctx, AuditLogoutSession, true, auditFields{}, nil, nil)
	}
	return nil
}

// DeleteAllUserSessions removes every session of userID and returns how many
// existed.
func (e *Engine) DeleteAllUserSessions(ctx context.Context, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, ErrInvalidUserID
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	n, err := e.sessions.DeleteAllForUser(sctx, userID)
	if err != nil {
		return 0, e.storeFailure(sctx, "delete user sessions", err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditLogoutAll, true, auditFields{userID: userID}, nil, func() map[string]string {
		return map[string]string{"deleted_count": strconv.Itoa(n)}
	})
	e.logger.Info("user sessions deleted", slog.String("user_id", userID), slog.Int("count", n))
	return n, nil
}

// GetUserSessions lists the live sessions of userID, oldest first. Rows
// already past expiry are omitted. Tokens are never included.
func (e *Engine) GetUserSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	rows, err := e.sessions.ListForUser(sctx, userID)
	if err != nil {
		return nil, e.storeFailure(sctx, "list user sessions", err)
	}

	now := e.now()
	out := make([]SessionInfo, 0, len(rows))
	for _, s := range rows {
		if s.Expired(now) {
			continue
		}
		out = append(out, SessionInfo{
			ID:             s.SessionID,
			UserAgent:      s.UserAgent,
			IPAddress:      s.IPAddress,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
			ExpiresAt:      s.ExpiresAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CleanupExpiredSessions deletes every session with expiresAt before now, in
// batches of Janitor.BatchSize, and returns the number deleted.
func (e *Engine) CleanupExpiredSessions(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.sweepExpired(ctx, e.config.Janitor.BatchSize, e.config.Janitor.MaxBatchesPerRun, nil)
}

// sweepExpired runs DeleteExpired until a batch comes back short, maxBatches
// is reached, or wait fails. wait, when set, is called before every batch
// after the first.
func (e *Engine) sweepExpired(ctx context.Context, batchSize, maxBatches int, wait func(context.Context) error) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultJanitorBatchSize
	}

	total := 0
	for batch := 0; maxBatches <= 0 || batch < maxBatches; batch++ {
		if batch > 0 && wait != nil {
			if err := wait(ctx); err != nil {
				return total, err
			}
		}

		now := e.now()
		sctx, cancel := e.storeContext(ctx)
		deleted, scanned, err := e.sessions.DeleteExpired(sctx, now, batchSize)
		if err != nil {
			err = e.storeFailure(sctx, "delete expired sessions", err)
			cancel()
			e.recordSweep(ctx, total)
			return total, err
		}
		cancel()

		total += deleted
		if scanned < batchSize {
			break
		}
	}

	e.recordSweep(ctx, total)
	return total, nil
}

func (e *Engine) recordSweep(ctx context.Context, deleted int) {
	if deleted == 0 {
		return
	}
	e.metrics.Add(MetricSessionSwept, uint64(deleted))
	e.emitAudit(ctx, AuditSessionsSwept, true, auditFields{}, nil, func() map[string]string {
		return map[string]string{"deleted_count": strconv.Itoa(deleted)}
	})
	e.logger.Info("expired sessions swept", slog.Int("count", deleted))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
