package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldAttempts      = "attempts"
	fieldWindowExpires = "window_expires_at"
	fieldBlockedUntil  = "blocked_until"
	fieldLastAttempt   = "last_attempt_at"
	fieldCreated       = "created_at"

	defaultMaxRetries = 16
)

// RedisStore persists rate-limit records as Redis hashes. Records carry no
// TTL; they live until overwritten on window rollover or cleared.
type RedisStore struct {
	redis      redis.UniversalClient
	prefix     string
	maxRetries int
}

// NewRedisStore creates a [RedisStore] backed by the given Redis client.
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisStore{
		redis:      redisClient,
		prefix:     prefix,
		maxRetries: defaultMaxRetries,
	}
}

func (s *RedisStore) key(identifier string, action Action) string {
	return s.prefix + ":" + action.String() + ":" + identifier
}

// Get loads the record for (identifier, action). A missing record returns
// (nil, nil).
func (s *RedisStore) Get(ctx context.Context, identifier string, action Action) (*Record, error) {
	values, err := s.redis.HGetAll(ctx, s.key(identifier, action)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeRecord(identifier, action, values)
}

// Update applies next to the current record under optimistic locking. The
// key is WATCHed, read, and rewritten in a MULTI block; a concurrent writer
// aborts the transaction and the read-modify-write is retried.
func (s *RedisStore) Update(
	ctx context.Context,
	identifier string,
	action Action,
	next func(current *Record) Record,
) (Record, error) {
	key := s.key(identifier, action)
	var out Record

	txf := func(tx *redis.Tx) error {
		values, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current, err := decodeRecord(identifier, action, values)
		if err != nil {
			return err
		}

		updated := next(current)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeRecord(updated))
			if updated.BlockedUntil.IsZero() {
				pipe.HDel(ctx, key, fieldBlockedUntil)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = updated
		return nil
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrCorruptRecord) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return Record{}, ErrContention
}

// Delete removes the records for identifier under each action.
func (s *RedisStore) Delete(ctx context.Context, identifier string, actions ...Action) error {
	if len(actions) == 0 {
		return nil
	}
	keys := make([]string, 0, len(actions))
	for _, a := range actions {
		keys = append(keys, s.key(identifier, a))
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// List returns every stored record for identifier, in [Actions] order.
func (s *RedisStore) List(ctx context.Context, identifier string) ([]Record, error) {
	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(Actions))
	for i, a := range Actions {
		cmds[i] = pipe.HGetAll(ctx, s.key(identifier, a))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]Record, 0, len(Actions))
	for i, cmd := range cmds {
		values, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		rec, err := decodeRecord(identifier, Actions[i], values)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// Ping reports Redis availability.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func encodeRecord(r Record) map[string]interface{} {
	fields := map[string]interface{}{
		fieldAttempts:      r.Attempts,
		fieldWindowExpires: r.WindowExpiresAt.UnixMilli(),
		fieldLastAttempt:   r.LastAttemptAt.UnixMilli(),
		fieldCreated:       r.CreatedAt.UnixMilli(),
	}
	if !r.BlockedUntil.IsZero() {
		fields[fieldBlockedUntil] = r.BlockedUntil.UnixMilli()
	}
	return fields
}

func decodeRecord(identifier string, action Action, values map[string]string) (*Record, error) {
	if len(values) == 0 {
		return nil, nil
	}

	attempts, err := strconv.Atoi(values[fieldAttempts])
	if err != nil {
		return nil, fmt.Errorf("%w: attempts: %v", ErrCorruptRecord, err)
	}
	rec := &Record{
		Identifier: identifier,
		Action:     action,
		Attempts:   attempts,
	}

	for field, dst := range map[string]*time.Time{
		fieldWindowExpires: &rec.WindowExpiresAt,
		fieldLastAttempt:   &rec.LastAttemptAt,
		fieldCreated:       &rec.CreatedAt,
		fieldBlockedUntil:  &rec.BlockedUntil,
	} {
		raw, ok := values[field]
		if !ok {
			if field == fieldBlockedUntil {
				continue
			}
			return nil, fmt.Errorf("%w: missing %s", ErrCorruptRecord, field)
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, field, err)
		}
		*dst = time.UnixMilli(ms)
	}

	return rec, nil
}
