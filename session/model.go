package session

import "time"

// Session is one persisted login session.
//
// TokenHash is the SHA-256 of the bearer token; the token itself never reaches
// this package.
type Session struct {
	SchemaVersion uint8

	SessionID string
	UserID    string
	TokenHash [32]byte

	UserAgent string
	IPAddress string

	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the session's absolute deadline is before now.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// RefreshStatus is the outcome of a conditional expiry reset.
type RefreshStatus uint8

const (
	// RefreshNotFound means no session exists for the token hash.
	RefreshNotFound RefreshStatus = iota
	// RefreshExpired means the session had already expired and was removed.
	RefreshExpired
	// RefreshApplied means the new expiry was written.
	RefreshApplied
)
