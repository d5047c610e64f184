package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrPostgresUnavailable wraps connection, query, and transaction failures.
var ErrPostgresUnavailable = errors.New("postgres unavailable")

// ErrDuplicateSession is returned by SessionStore.Save when a row already
// exists for the token hash.
var ErrDuplicateSession = errors.New("session token hash already stored")

// errInsertRace signals that a concurrent writer created the row first.
var errInsertRace = errors.New("rate limit record inserted concurrently")

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
