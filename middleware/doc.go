// Package middleware adapts a sessionguard.Engine to net/http.
//
// # Handlers
//
//   - [RequireSession] authenticates a bearer header or session cookie,
//     slides the session forward when it is close to expiry, and stores the
//     validated session in the request context.
//   - [RateLimit] checks an action's limit before the handler runs and
//     records the attempt afterwards, whatever the outcome.
//   - [ClientMetadata] copies the client IP and user agent into the context
//     so CreateSession and audit events pick them up.
//
// Both guards fail closed when the store is unavailable. This package makes
// no authentication decisions of its own; every decision comes from the
// Engine.
package middleware
