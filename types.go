package sessionguard

import (
	"context"
	"time"

	"github.com/MrEthical07/sessionguard/internal/rate"
)

// Action identifies one rate-limited operation. The set is closed.
type Action = rate.Action

const (
	ActionLogin         = rate.ActionLogin
	ActionSignup        = rate.ActionSignup
	ActionPasswordReset = rate.ActionPasswordReset
	ActionAPI           = rate.ActionAPI
)

// Actions lists every guarded operation in stable order.
var Actions = rate.Actions

// ParseAction maps a wire name (login, signup, passwordReset, api) to its
// Action. Unknown names return an error wrapping [ErrUnknownAction].
func ParseAction(name string) (Action, error) {
	return rate.ParseAction(name)
}

// UserRecord is the subset of the user entity that session validation
// needs. Metadata is passed through to callers untouched.
type UserRecord struct {
	UserID        string
	Email         string
	Active        bool
	EmailVerified bool
	Metadata      map[string]string
}

// UserProvider looks users up by ID. Returning [ErrUserNotFound] (or a nil
// error with an inactive record) makes validation report no session; any
// other error is treated as an infrastructure failure.
type UserProvider interface {
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
}

// CreateSessionOptions carries optional client metadata for a new session.
// Empty fields fall back to [WithUserAgent] and [WithClientIP] values on ctx.
type CreateSessionOptions struct {
	UserAgent string
	IPAddress string
}

// CreatedSession is returned once by [Engine.CreateSession]. Token is the
// bearer secret; it is never retrievable again.
type CreatedSession struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// SessionState is the session half of a successful validation.
type SessionState struct {
	SessionID    string
	ExpiresAt    time.Time
	NeedsRefresh bool
}

// ValidatedSession is the authenticated result of [Engine.ValidateSession].
type ValidatedSession struct {
	User    UserRecord
	Session SessionState
}

// RefreshResult reports whether a refresh applied. ExpiresAt is zero when
// Success is false.
type RefreshResult struct {
	Success   bool
	ExpiresAt time.Time
}

// SessionInfo is the listing view of a session. It never includes a token.
type SessionInfo struct {
	ID             string
	UserAgent      string
	IPAddress      string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
}

// RateLimitResult is the advisory outcome of [Engine.CheckRateLimit].
type RateLimitResult struct {
	Allowed           bool
	RemainingAttempts int
	ResetAt           time.Time
}

// RetryAfter returns the whole seconds until ResetAt, rounded up, or 0 when
// the result is allowed or already reset.
func (r RateLimitResult) RetryAfter(now time.Time) int {
	if r.Allowed || !r.ResetAt.After(now) {
		return 0
	}
	d := r.ResetAt.Sub(now)
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// RateLimitStatus is one row of [Engine.GetRateLimitStatus].
type RateLimitStatus struct {
	Action          Action
	Attempts        int
	Blocked         bool
	BlockedUntil    time.Time
	WindowExpiresAt time.Time
	LastAttemptAt   time.Time
}
