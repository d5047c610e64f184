// Package internal contains helpers private to sessionguard, chiefly session
// token generation and hashing.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - rate: rate-limit policy evaluation and the Redis attempt store
//   - envconfig: process configuration for the sessionguardctl binary
//
// # What this package must NOT do
//
//   - Export types that appear in the public sessionguard API.
//   - Be imported by any package outside the sessionguard module.
package internal
