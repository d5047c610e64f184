package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when a Redis command fails.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when no session exists for a token hash.
var ErrNotFound = errors.New("session not found")

// ErrCorrupt is returned when a stored session cannot be decoded.
var ErrCorrupt = errors.New("session corrupt")

const (
	fieldMeta         = "meta"
	fieldUserID       = "user_id"
	fieldExpiresAt    = "expires_at"
	fieldLastActivity = "last_activity_at"

	minKeyTTL = time.Second
)

const (
	refreshStatusNotFound int64 = 0
	refreshStatusExpired  int64 = 1
	refreshStatusApplied  int64 = 2
)

const deleteSessionScript = `
local uid = redis.call("HGET", KEYS[1], "user_id")
if not uid then
  uid = redis.call("HGET", KEYS[3], ARGV[1])
end
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[3], ARGV[1])
if not uid then
  return 0
end
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[2] .. uid, ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

const touchSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "last_activity_at", ARGV[1])
return 1
`

var touchSessionLua = redis.NewScript(touchSessionScript)

const refreshSessionScript = `
local session_key = KEYS[1]
local exp_key = KEYS[2]
local owner_key = KEYS[3]
local member = ARGV[1]
local user_prefix = ARGV[2]
local now_ms = tonumber(ARGV[3])
local next_exp = ARGV[4]
local ttl_ms = tonumber(ARGV[5])

local fields = redis.call("HMGET", session_key, "user_id", "expires_at")
local uid = fields[1]
local exp = fields[2]
if not uid or not exp then
  local owner = redis.call("HGET", owner_key, member)
  if owner then
    redis.call("SREM", user_prefix .. owner, member)
    redis.call("ZREM", exp_key, member)
    redis.call("HDEL", owner_key, member)
  end
  return 0
end

if tonumber(exp) < now_ms then
  redis.call("DEL", session_key)
  redis.call("SREM", user_prefix .. uid, member)
  redis.call("ZREM", exp_key, member)
  redis.call("HDEL", owner_key, member)
  return 1
end

redis.call("HSET", session_key, "expires_at", next_exp)
redis.call("PEXPIRE", session_key, ttl_ms)
redis.call("ZADD", exp_key, next_exp, member)
return 2
`

var refreshSessionLua = redis.NewScript(refreshSessionScript)

const sweepSessionScript = `
local session_key = KEYS[1]
local exp_key = KEYS[2]
local owner_key = KEYS[3]
local member = ARGV[1]
local user_prefix = ARGV[2]
local now_ms = tonumber(ARGV[3])

local fields = redis.call("HMGET", session_key, "user_id", "expires_at")
local uid = fields[1]
local exp = fields[2]
if not uid or not exp then
  -- Redis already dropped the row; only its index entries remain.
  local owner = redis.call("HGET", owner_key, member)
  redis.call("ZREM", exp_key, member)
  redis.call("HDEL", owner_key, member)
  if not owner then
    return 0
  end
  redis.call("SREM", user_prefix .. owner, member)
  return 1
end

if tonumber(exp) >= now_ms then
  redis.call("ZADD", exp_key, exp, member)
  return 0
end

redis.call("DEL", session_key)
redis.call("SREM", user_prefix .. uid, member)
redis.call("ZREM", exp_key, member)
redis.call("HDEL", owner_key, member)
return 1
`

var sweepSessionLua = redis.NewScript(sweepSessionScript)

// Store is a Redis-backed session store that handles persistence, lazy and
// swept expiry, sliding renewal, and per-user indexing.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace. Each session key carries a Redis TTL
// of its remaining lifetime plus retention, so that rows normally stay until
// read or swept; retention <= 0 makes Redis expire keys exactly at expiry.
func NewStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "sg"
	}
	if retention < 0 {
		retention = 0
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
		grace:  retention,
	}
}

func (s *Store) key(tokenHash [32]byte) string {
	return s.prefix + ":t:" + member(tokenHash)
}

func (s *Store) userPrefix() string {
	return s.prefix + ":u:"
}

func (s *Store) userKey(userID string) string {
	return s.userPrefix() + userID
}

func (s *Store) expiryKey() string {
	return s.prefix + ":exp"
}

// ownerKey maps token-hash members to user IDs. It carries no TTL, so index
// entries stay removable after Redis evicts the session key itself.
func (s *Store) ownerKey() string {
	return s.prefix + ":own"
}

func member(tokenHash [32]byte) string {
	return hex.EncodeToString(tokenHash[:])
}

func (s *Store) keyTTL(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now) + s.grace
	if ttl < minKeyTTL {
		ttl = minKeyTTL
	}
	return ttl
}

// Save persists a new [Session] and its indexes.
//
//	Performance: 1 MULTI/EXEC (HSET + PEXPIRE + SADD + ZADD + HSET).
func (s *Store) Save(ctx context.Context, sess *Session, now time.Time) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	key := s.key(sess.TokenHash)
	m := member(sess.TokenHash)
	expMs := sess.ExpiresAt.UnixMilli()

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldMeta, data,
			fieldUserID, sess.UserID,
			fieldExpiresAt, expMs,
			fieldLastActivity, sess.LastActivityAt.UnixMilli(),
		)
		pipe.PExpire(ctx, key, s.keyTTL(sess.ExpiresAt, now))
		pipe.SAdd(ctx, s.userKey(sess.UserID), m)
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(expMs), Member: m})
		pipe.HSet(ctx, s.ownerKey(), m, sess.UserID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get loads a session by token hash without mutating anything. Expiry is not
// judged here; an expired row is returned as stored.
//
//	Performance: 1 Redis HGETALL.
func (s *Store) Get(ctx context.Context, tokenHash [32]byte) (*Session, error) {
	values, err := s.redis.HGetAll(ctx, s.key(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}
	return decodeHash(values)
}

// Touch records activity on an existing session. A missing session is a no-op.
func (s *Store) Touch(ctx context.Context, tokenHash [32]byte, at time.Time) error {
	_, err := touchSessionLua.Run(ctx, s.redis, []string{s.key(tokenHash)}, at.UnixMilli()).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Refresh atomically resets the session expiry to expiresAt if the session
// exists and has not expired at now. An expired session is deleted.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Refresh(ctx context.Context, tokenHash [32]byte, now, expiresAt time.Time) (RefreshStatus, error) {
	result, err := refreshSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(tokenHash), s.expiryKey(), s.ownerKey()},
		member(tokenHash),
		s.userPrefix(),
		now.UnixMilli(),
		expiresAt.UnixMilli(),
		s.keyTTL(expiresAt, now).Milliseconds(),
	).Int64()
	if err != nil {
		return RefreshNotFound, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch result {
	case refreshStatusNotFound:
		return RefreshNotFound, nil
	case refreshStatusExpired:
		return RefreshExpired, nil
	case refreshStatusApplied:
		return RefreshApplied, nil
	default:
		return RefreshNotFound, fmt.Errorf("%w: unknown refresh script status %d", ErrRedisUnavailable, result)
	}
}

// Delete removes a session and its index entries. It reports whether a
// session existed; deleting an absent session is not an error.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Delete(ctx context.Context, tokenHash [32]byte) (bool, error) {
	n, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(tokenHash), s.expiryKey(), s.ownerKey()},
		member(tokenHash),
		s.userPrefix(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// DeleteAllForUser removes every session owned by userID and returns how many
// rows existed.
//
// ATOMICITY NOTE: the member set is read before the MULTI block, so a session
// created between the two phases survives this call. Logout-everywhere
// callers that need a hard cut can repeat the call.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	members, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(members))
	zmembers := make([]interface{}, 0, len(members))
	for _, m := range members {
		keys = append(keys, s.prefix+":t:"+m)
		zmembers = append(zmembers, m)
	}

	var delCmd *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, userKey, zmembers...)
		pipe.ZRem(ctx, s.expiryKey(), zmembers...)
		pipe.HDel(ctx, s.ownerKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return int(delCmd.Val()), nil
}

// ListForUser returns the stored sessions indexed under userID. Index entries
// whose session key Redis already evicted are skipped and pruned.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	members, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(members) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.HGetAll(ctx, s.prefix+":t:"+m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]*Session, 0, len(members))
	var gone []string
	for i, cmd := range cmds {
		values, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(values) == 0 {
			gone = append(gone, members[i])
			continue
		}
		sess, err := decodeHash(values)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}

	if len(gone) > 0 {
		s.pruneIndex(ctx, userID, gone)
	}
	return out, nil
}

// pruneIndex drops index entries for session keys that no longer exist. It is
// best-effort: a failure leaves entries for the next sweep.
func (s *Store) pruneIndex(ctx context.Context, userID string, members []string) {
	zmembers := make([]interface{}, len(members))
	for i, m := range members {
		zmembers[i] = m
	}
	_, _ = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, s.userKey(userID), zmembers...)
		pipe.ZRem(ctx, s.expiryKey(), zmembers...)
		pipe.HDel(ctx, s.ownerKey(), members...)
		return nil
	})
}

// DeleteExpired removes up to limit sessions whose expiry is before now. It
// returns the number of sessions deleted and the number of index entries
// examined; scanned < limit means the sweep has caught up. A session whose
// key Redis already evicted counts as deleted once its indexes are cleared.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time, limit int) (deleted int, scanned int, err error) {
	if limit <= 0 {
		limit = 500
	}

	members, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	for _, m := range members {
		raw, err := hex.DecodeString(m)
		if err != nil || len(raw) != 32 {
			if err := s.redis.ZRem(ctx, s.expiryKey(), m).Err(); err != nil {
				return deleted, scanned, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			scanned++
			continue
		}
		var hash [32]byte
		copy(hash[:], raw)

		n, err := sweepSessionLua.Run(
			ctx,
			s.redis,
			[]string{s.key(hash), s.expiryKey(), s.ownerKey()},
			m,
			s.userPrefix(),
			now.UnixMilli(),
		).Int64()
		if err != nil {
			return deleted, scanned, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		scanned++
		deleted += int(n)
	}

	return deleted, scanned, nil
}

// Ping returns a point-in-time Redis availability check.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func decodeHash(values map[string]string) (*Session, error) {
	sess, err := Decode([]byte(values[fieldMeta]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	expMs, err := strconv.ParseInt(values[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: expires_at: %v", ErrCorrupt, err)
	}
	sess.ExpiresAt = time.UnixMilli(expMs)

	if raw, ok := values[fieldLastActivity]; ok {
		lastMs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: last_activity_at: %v", ErrCorrupt, err)
		}
		sess.LastActivityAt = time.UnixMilli(lastMs)
	}

	return sess, nil
}
