package sessionguard

import (
	"context"
	"time"

	"github.com/MrEthical07/sessionguard/internal/rate"
	"github.com/MrEthical07/sessionguard/session"
)

// Session is the persisted session row.
type Session = session.Session

// RefreshStatus is the outcome of [SessionStore.Refresh].
type RefreshStatus = session.RefreshStatus

const (
	RefreshNotFound = session.RefreshNotFound
	RefreshExpired  = session.RefreshExpired
	RefreshApplied  = session.RefreshApplied
)

// RateLimitRecord is the persisted counter for one (identifier, action).
type RateLimitRecord = rate.Record

// SessionStore persists sessions keyed by token hash. Stores never judge
// expiry on reads; the engine does, using its own clock. Implementations:
// session.Store (Redis) and stores/postgres.SessionStore.
type SessionStore interface {
	Save(ctx context.Context, sess *Session, now time.Time) error
	// Get returns session.ErrNotFound when no row exists.
	Get(ctx context.Context, tokenHash [32]byte) (*Session, error)
	Touch(ctx context.Context, tokenHash [32]byte, at time.Time) error
	Refresh(ctx context.Context, tokenHash [32]byte, now, expiresAt time.Time) (RefreshStatus, error)
	Delete(ctx context.Context, tokenHash [32]byte) (bool, error)
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
	ListForUser(ctx context.Context, userID string) ([]*Session, error)
	DeleteExpired(ctx context.Context, now time.Time, limit int) (deleted int, scanned int, err error)
	Ping(ctx context.Context) error
}

// AttemptStore persists rate-limit records. Update must serialize
// read-modify-write per (identifier, action) so that no attempt is lost.
// Implementations: the Redis store in internal/rate and
// stores/postgres.AttemptStore.
type AttemptStore interface {
	// Get returns (nil, nil) when no record exists.
	Get(ctx context.Context, identifier string, action Action) (*RateLimitRecord, error)
	Update(ctx context.Context, identifier string, action Action, next func(current *RateLimitRecord) RateLimitRecord) (RateLimitRecord, error)
	Delete(ctx context.Context, identifier string, actions ...Action) error
	List(ctx context.Context, identifier string) ([]RateLimitRecord, error)
	Ping(ctx context.Context) error
}

var (
	_ SessionStore = (*session.Store)(nil)
	_ AttemptStore = (*rate.RedisStore)(nil)
)
