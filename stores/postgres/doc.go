// Package postgres implements the session and rate-limit stores on
// PostgreSQL through pgx.
//
// The schema ships as embedded golang-migrate migrations; apply it with
// [Migrate] before handing a pool to the engine builder. Tokens are never
// stored: sessions are keyed by the 32-byte SHA-256 of the bearer token.
//
// Rate-limit updates run in a transaction that locks the row with
// SELECT ... FOR UPDATE. A first attempt for a key inserts with
// ON CONFLICT DO NOTHING and retries when a concurrent writer won the
// insert, so no attempt is lost.
package postgres
