// Package session provides Redis-backed session persistence and compact binary
// encoding of the immutable part of a session.
//
// # Layout
//
// A session lives in one Redis hash keyed by the SHA-256 of its bearer token:
//
//   - meta: binary-encoded immutable fields (schema v1)
//   - user_id, expires_at, last_activity_at: mutable or indexed fields
//
// Two secondary indexes support listing and sweeping:
//
//   - <prefix>:u:<userID>: set of token hashes owned by a user
//   - <prefix>:exp: sorted set of token hashes scored by expiry (unix ms)
//
// The session key carries a TTL of its remaining lifetime plus a retention
// grace, so Redis may drop it before any sweep runs. <prefix>:own maps each
// token hash to its user ID without a TTL; delete, refresh and sweep use it to
// clear the user set entry of a session whose key is already gone.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model. It
// does NOT decide whether a session is authenticated; expiry is judged by the
// caller against its own clock, and the store only applies conditional writes.
//
// # What this package must NOT do
//
//   - Import sessionguard (no upward imports).
//   - Store or accept plaintext bearer tokens.
//   - Rely on Redis key expiry as the authoritative session lifetime.
package session
