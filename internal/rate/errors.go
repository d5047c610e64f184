package rate

import "errors"

var (
	// ErrUnknownAction is returned for an action outside the closed set or
	// without a configured policy.
	ErrUnknownAction = errors.New("unknown rate limit action")
	// ErrRedisUnavailable wraps Redis transport and protocol failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrContention is returned when an optimistic update keeps losing the
	// race for a key after all retries.
	ErrContention = errors.New("rate limit record contention")
	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt rate limit record")
)
