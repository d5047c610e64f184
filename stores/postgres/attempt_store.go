package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/sessionguard/internal/rate"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultMaxRetries = 16

const attemptColumns = `
	action, attempts, window_expires_at, blocked_until, last_attempt_at, created_at`

// AttemptStore persists rate-limit records in the sessionguard_rate_limits
// table. Records carry no expiry; they live until rolled over or cleared.
type AttemptStore struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// NewAttemptStore returns a store using pool. The schema must be migrated.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool, maxRetries: defaultMaxRetries}
}

// Get returns (nil, nil) when no record exists.
func (s *AttemptStore) Get(ctx context.Context, identifier string, action rate.Action) (*rate.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+attemptColumns+` FROM sessionguard_rate_limits
		WHERE identifier = $1 AND action = $2
	`, identifier, action.String())
	rec, err := scanRecord(identifier, row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update applies next to the current record inside a transaction holding the
// row lock.
func (s *AttemptStore) Update(
	ctx context.Context,
	identifier string,
	action rate.Action,
	next func(current *rate.Record) rate.Record,
) (rate.Record, error) {
	for i := 0; i < s.maxRetries; i++ {
		out, err := s.update(ctx, identifier, action, next)
		if errors.Is(err, errInsertRace) {
			continue
		}
		return out, err
	}
	return rate.Record{}, rate.ErrContention
}

func (s *AttemptStore) update(
	ctx context.Context,
	identifier string,
	action rate.Action,
	next func(current *rate.Record) rate.Record,
) (rate.Record, error) {
	var out rate.Record

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+attemptColumns+` FROM sessionguard_rate_limits
			WHERE identifier = $1 AND action = $2
			FOR UPDATE
		`, identifier, action.String())
		current, err := scanRecord(identifier, row)
		if errors.Is(err, pgx.ErrNoRows) {
			current = nil
		} else if err != nil {
			return err
		}

		updated := next(current)
		if current == nil {
			tag, err := tx.Exec(ctx, `
				INSERT INTO sessionguard_rate_limits (identifier, `+attemptColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (identifier, action) DO NOTHING
			`, recordArgs(identifier, updated)...)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return errInsertRace
			}
		} else {
			if _, err := tx.Exec(ctx, `
				UPDATE sessionguard_rate_limits SET
					attempts = $3,
					window_expires_at = $4,
					blocked_until = $5,
					last_attempt_at = $6,
					created_at = $7
				WHERE identifier = $1 AND action = $2
			`, recordArgs(identifier, updated)...); err != nil {
				return err
			}
		}

		out = updated
		return nil
	})
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, errInsertRace), errors.Is(err, rate.ErrCorruptRecord), errors.Is(err, ErrPostgresUnavailable):
		return rate.Record{}, err
	default:
		return rate.Record{}, unavailable(err)
	}
}

// Delete removes the records for identifier under each action.
func (s *AttemptStore) Delete(ctx context.Context, identifier string, actions ...rate.Action) error {
	if len(actions) == 0 {
		return nil
	}
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, a.String())
	}
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM sessionguard_rate_limits WHERE identifier = $1 AND action = ANY($2)
	`, identifier, names); err != nil {
		return unavailable(err)
	}
	return nil
}

// List returns every stored record for identifier, in [rate.Actions] order.
func (s *AttemptStore) List(ctx context.Context, identifier string) ([]rate.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+` FROM sessionguard_rate_limits WHERE identifier = $1
	`, identifier)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	byAction := make(map[rate.Action]rate.Record, len(rate.Actions))
	for rows.Next() {
		rec, err := scanRecord(identifier, rows)
		if err != nil {
			return nil, err
		}
		byAction[rec.Action] = *rec
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}

	out := make([]rate.Record, 0, len(byAction))
	for _, a := range rate.Actions {
		if rec, ok := byAction[a]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *AttemptStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func recordArgs(identifier string, r rate.Record) []any {
	var blocked *time.Time
	if !r.BlockedUntil.IsZero() {
		b := r.BlockedUntil.UTC()
		blocked = &b
	}
	return []any{
		identifier,
		r.Action.String(),
		r.Attempts,
		r.WindowExpiresAt.UTC(),
		blocked,
		r.LastAttemptAt.UTC(),
		r.CreatedAt.UTC(),
	}
}

func scanRecord(identifier string, row pgx.Row) (*rate.Record, error) {
	var (
		actionName string
		blocked    *time.Time
		rec        = rate.Record{Identifier: identifier}
	)
	err := row.Scan(
		&actionName,
		&rec.Attempts,
		&rec.WindowExpiresAt,
		&blocked,
		&rec.LastAttemptAt,
		&rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, unavailable(err)
	}

	action, err := rate.ParseAction(actionName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rate.ErrCorruptRecord, err)
	}
	rec.Action = action
	if blocked != nil {
		rec.BlockedUntil = *blocked
	}
	return &rec, nil
}
