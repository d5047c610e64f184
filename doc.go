// Package sessionguard provides opaque-token session management with sliding
// expiry and a per-(identifier, action) attempt limiter with blocking.
//
// Sessions are keyed by the SHA-256 of a 256-bit random bearer token; the
// token itself is returned once by [Engine.CreateSession] and never stored.
// Rate limiting keeps check ([Engine.CheckRateLimit]) and record
// ([Engine.RecordAttempt]) as separate calls so that the advisory read can
// drive "N attempts remaining" hints.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// sessionguard is the public surface. It exposes [Engine], [Builder],
// [Config], the [SessionStore] and [AttemptStore] interfaces, and value
// types. Session encoding lives in session/, limiter arithmetic and the Redis
// attempt store in internal/rate, PostgreSQL stores in stores/postgres.
//
// # Outcomes and errors
//
// "Not authenticated" and "rate limited" are return values, never errors.
// Errors are reserved for configuration problems ([ErrUnknownAction],
// [ErrInvalidConfig]) and infrastructure failures ([ErrStoreUnavailable]).
// Every store call is bounded by Store.OperationTimeout.
//
// # What this package must NOT do
//
//   - Persist, log, or list a session token.
//   - Consult wall time for expiry decisions; the injected clock is used.
//   - Collapse CheckRateLimit and RecordAttempt into one atomic call.
package sessionguard
