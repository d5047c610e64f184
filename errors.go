package sessionguard

import (
	"errors"

	"github.com/MrEthical07/sessionguard/internal/rate"
)

var (
	// ErrStoreUnavailable wraps any failure of the backing session or attempt
	// store, including operation timeouts. Callers choose fail-open or
	// fail-closed on it; the bundled middleware fails closed.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrUnknownAction is returned for an action outside the guarded set.
	ErrUnknownAction = rate.ErrUnknownAction
	// ErrInvalidConfig is returned by [Config.Validate] and [Builder.Build].
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidUserID is returned when a session operation receives an empty
	// user id or one longer than 255 bytes.
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrUserNotFound is returned by a [UserProvider] for an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmptyIdentifier is returned when a rate-limit call receives an empty
	// identifier.
	ErrEmptyIdentifier = errors.New("empty rate limit identifier")
	// ErrEngineClosed is returned by operations after [Engine.Close].
	ErrEngineClosed = errors.New("engine closed")
)
