package rate

import (
	"fmt"
	"time"
)

// Action identifies one guarded operation.
type Action uint8

const (
	ActionLogin Action = iota + 1
	ActionSignup
	ActionPasswordReset
	ActionAPI
)

// Actions lists every guarded operation in stable order.
var Actions = [...]Action{ActionLogin, ActionSignup, ActionPasswordReset, ActionAPI}

// String returns the wire name used in keys, rows, and audit metadata.
func (a Action) String() string {
	switch a {
	case ActionLogin:
		return "login"
	case ActionSignup:
		return "signup"
	case ActionPasswordReset:
		return "passwordReset"
	case ActionAPI:
		return "api"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Valid reports whether a is one of the closed set of actions.
func (a Action) Valid() bool {
	switch a {
	case ActionLogin, ActionSignup, ActionPasswordReset, ActionAPI:
		return true
	}
	return false
}

// ParseAction maps a wire name back to its Action.
func ParseAction(name string) (Action, error) {
	for _, a := range Actions {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// Policy is the static limit for one action.
type Policy struct {
	MaxAttempts   int
	Window        time.Duration
	BlockDuration time.Duration
}

// DefaultPolicies returns the stock limiter table.
func DefaultPolicies() map[Action]Policy {
	return map[Action]Policy{
		ActionLogin:         {MaxAttempts: 5, Window: 15 * time.Minute, BlockDuration: time.Hour},
		ActionSignup:        {MaxAttempts: 3, Window: time.Hour, BlockDuration: 24 * time.Hour},
		ActionPasswordReset: {MaxAttempts: 3, Window: time.Hour, BlockDuration: 24 * time.Hour},
		ActionAPI:           {MaxAttempts: 100, Window: time.Minute, BlockDuration: 5 * time.Minute},
	}
}

// Record is the persisted counter state for one (identifier, action) pair.
type Record struct {
	Identifier      string
	Action          Action
	Attempts        int
	WindowExpiresAt time.Time
	BlockedUntil    time.Time // zero when not blocked
	LastAttemptAt   time.Time
	CreatedAt       time.Time
}

// Blocked reports whether the block deadline is still in the future at now.
func (r *Record) Blocked(now time.Time) bool {
	return r != nil && !r.BlockedUntil.IsZero() && now.Before(r.BlockedUntil)
}

// WindowLapsed reports whether the counting window ended before now.
func (r *Record) WindowLapsed(now time.Time) bool {
	return r.WindowExpiresAt.Before(now)
}

// Decision is the advisory outcome of a check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Evaluate projects rec at now without mutating it. rec may be nil.
func Evaluate(rec *Record, p Policy, now time.Time) Decision {
	if rec == nil {
		return Decision{Allowed: true, Remaining: p.MaxAttempts, ResetAt: now.Add(p.Window)}
	}
	if rec.Blocked(now) {
		return Decision{Allowed: false, Remaining: 0, ResetAt: rec.BlockedUntil}
	}
	if rec.WindowLapsed(now) {
		return Decision{Allowed: true, Remaining: p.MaxAttempts, ResetAt: now.Add(p.Window)}
	}

	remaining := p.MaxAttempts - rec.Attempts
	if remaining <= 0 {
		return Decision{Allowed: false, Remaining: 0, ResetAt: rec.WindowExpiresAt}
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: rec.WindowExpiresAt}
}

// Advance returns the record after one more attempt at now. rec may be nil.
// The returned record is always a fresh value; rec is not modified.
func Advance(rec *Record, identifier string, action Action, p Policy, now time.Time) Record {
	if rec == nil {
		return Record{
			Identifier:      identifier,
			Action:          action,
			Attempts:        1,
			WindowExpiresAt: now.Add(p.Window),
			LastAttemptAt:   now,
			CreatedAt:       now,
		}
	}

	next := *rec
	next.Identifier = identifier
	next.Action = action
	next.LastAttemptAt = now

	if rec.WindowLapsed(now) {
		next.Attempts = 1
		next.WindowExpiresAt = now.Add(p.Window)
		next.BlockedUntil = time.Time{}
		return next
	}

	next.Attempts++
	if next.Attempts >= p.MaxAttempts {
		next.BlockedUntil = now.Add(p.BlockDuration)
	}
	return next
}
