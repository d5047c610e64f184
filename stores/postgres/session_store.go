package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/sessionguard/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `
	token_hash, session_id, user_id, user_agent, ip_address,
	schema_version, created_at, last_activity_at, expires_at`

// SessionStore persists sessions in the sessionguard_sessions table.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore returns a store using pool. The schema must be migrated.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Save inserts a new row. A row already stored under the same token hash is
// never overwritten; Save returns ErrDuplicateSession instead.
func (s *SessionStore) Save(ctx context.Context, sess *session.Session, _ time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessionguard_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		sess.TokenHash[:], sess.SessionID, sess.UserID, sess.UserAgent, sess.IPAddress,
		int16(sess.SchemaVersion), sess.CreatedAt.UTC(), sess.LastActivityAt.UTC(), sess.ExpiresAt.UTC(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: session %s", ErrDuplicateSession, sess.SessionID)
	}
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Get returns session.ErrNotFound when no row exists for tokenHash.
func (s *SessionStore) Get(ctx context.Context, tokenHash [32]byte) (*session.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessionguard_sessions WHERE token_hash = $1`, tokenHash[:])
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Touch sets last_activity_at. A missing row is not an error.
func (s *SessionStore) Touch(ctx context.Context, tokenHash [32]byte, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessionguard_sessions SET last_activity_at = $2 WHERE token_hash = $1
	`, tokenHash[:], at.UTC())
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Refresh sets expires_at under a row lock. A row already past expiry at now
// is deleted instead.
func (s *SessionStore) Refresh(ctx context.Context, tokenHash [32]byte, now, expiresAt time.Time) (session.RefreshStatus, error) {
	status := session.RefreshNotFound

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var current time.Time
		err := tx.QueryRow(ctx, `
			SELECT expires_at FROM sessionguard_sessions WHERE token_hash = $1 FOR UPDATE
		`, tokenHash[:]).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			status = session.RefreshNotFound
			return nil
		}
		if err != nil {
			return err
		}

		if current.Before(now) {
			if _, err := tx.Exec(ctx, `DELETE FROM sessionguard_sessions WHERE token_hash = $1`, tokenHash[:]); err != nil {
				return err
			}
			status = session.RefreshExpired
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE sessionguard_sessions SET expires_at = $2 WHERE token_hash = $1
		`, tokenHash[:], expiresAt.UTC()); err != nil {
			return err
		}
		status = session.RefreshApplied
		return nil
	})
	if err != nil {
		return session.RefreshNotFound, unavailable(err)
	}
	return status, nil
}

// Delete removes the row for tokenHash and reports whether it existed.
func (s *SessionStore) Delete(ctx context.Context, tokenHash [32]byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessionguard_sessions WHERE token_hash = $1`, tokenHash[:])
	if err != nil {
		return false, unavailable(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessionguard_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, unavailable(err)
	}
	return int(tag.RowsAffected()), nil
}

// ListForUser returns every row of userID, expired or not, oldest first.
func (s *SessionStore) ListForUser(ctx context.Context, userID string) ([]*session.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessionguard_sessions
		WHERE user_id = $1
		ORDER BY created_at, session_id
	`, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	out := []*session.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// DeleteExpired deletes up to limit rows with expires_at before now. Rows
// locked by a concurrent sweep are skipped.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, int, error) {
	if limit <= 0 {
		limit = 500
	}
	tag, err := s.pool.Exec(ctx, `
		WITH doomed AS (
			SELECT token_hash FROM sessionguard_sessions
			WHERE expires_at < $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		DELETE FROM sessionguard_sessions s
		USING doomed
		WHERE s.token_hash = doomed.token_hash
	`, now.UTC(), limit)
	if err != nil {
		return 0, 0, unavailable(err)
	}
	n := int(tag.RowsAffected())
	return n, n, nil
}

func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var (
		hash    []byte
		version int16
		sess    session.Session
	)
	err := row.Scan(
		&hash,
		&sess.SessionID,
		&sess.UserID,
		&sess.UserAgent,
		&sess.IPAddress,
		&version,
		&sess.CreatedAt,
		&sess.LastActivityAt,
		&sess.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if len(hash) != len(sess.TokenHash) {
		return nil, fmt.Errorf("%w: token hash is %d bytes", session.ErrCorrupt, len(hash))
	}
	if version < 0 || version > 255 || uint8(version) != session.CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d", session.ErrCorrupt, version)
	}
	copy(sess.TokenHash[:], hash)
	sess.SchemaVersion = uint8(version)
	return &sess, nil
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrPostgresUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrPostgresUnavailable, err)
}
