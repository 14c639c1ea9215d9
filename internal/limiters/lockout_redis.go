package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockoutFieldAttempts = "attempts"
	lockoutFieldUntil    = "until"

	defaultLockoutPrefix  = "shopauth:lockout:"
	defaultLockoutRetries = 32
)

// DefaultLockoutRetention is the Redis key TTL used when none is configured.
const DefaultLockoutRetention = 24 * time.Hour

// RedisLockoutOptions configures a [RedisLockoutStore].
type RedisLockoutOptions struct {
	// Prefix namespaces lockout keys. Defaults to "shopauth:lockout:".
	Prefix string
	// Retention is the idle TTL refreshed on every write. It must exceed the
	// lockout duration. Defaults to 24h.
	Retention time.Duration
	// MaxRetries bounds the optimistic transaction loop. Defaults to 32.
	MaxRetries int
}

// RedisLockoutStore keeps lockout state in one Redis hash per identity so it
// survives restarts and is shared across replicas.
//
// Updates are WATCH/MULTI/EXEC transactions retried on conflict; the state
// transition itself runs in Go.
type RedisLockoutStore struct {
	redis   redis.UniversalClient
	options RedisLockoutOptions
}

// NewRedisLockoutStore creates a Redis-backed lockout store.
func NewRedisLockoutStore(client redis.UniversalClient, opts RedisLockoutOptions) *RedisLockoutStore {
	if opts.Prefix == "" {
		opts.Prefix = defaultLockoutPrefix
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultLockoutRetention
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultLockoutRetries
	}
	return &RedisLockoutStore{redis: client, options: opts}
}

func (s *RedisLockoutStore) key(identity string) string {
	return s.options.Prefix + identity
}

// Load returns the state for identity, or the zero state if none exists.
func (s *RedisLockoutStore) Load(ctx context.Context, identity string) (LockoutState, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(identity)).Result()
	if err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return decodeLockoutState(fields)
}

// Update applies fn inside an optimistic transaction on the identity's key.
func (s *RedisLockoutStore) Update(ctx context.Context, identity string, fn func(LockoutState) LockoutState) (LockoutState, error) {
	key := s.key(identity)

	var next LockoutState
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		prev, err := decodeLockoutState(fields)
		if err != nil {
			return err
		}

		next = fn(prev)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next.IsClear() {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.HSet(ctx, key, encodeLockoutState(next)...)
			pipe.PExpire(ctx, key, s.options.Retention)
			return nil
		})
		return err
	}

	for i := 0; i < s.options.MaxRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrLockoutUnavailable) {
			return LockoutState{}, err
		}
		return LockoutState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	return LockoutState{}, fmt.Errorf("%w: %w", ErrLockoutUnavailable, ErrLockoutContention)
}

// Reset deletes the identity's key.
func (s *RedisLockoutStore) Reset(ctx context.Context, identity string) error {
	if err := s.redis.Del(ctx, s.key(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

func encodeLockoutState(s LockoutState) []interface{} {
	until := int64(0)
	if !s.LockedUntil.IsZero() {
		until = s.LockedUntil.UnixNano()
	}
	return []interface{}{
		lockoutFieldAttempts, s.FailedAttempts,
		lockoutFieldUntil, until,
	}
}

func decodeLockoutState(fields map[string]string) (LockoutState, error) {
	if len(fields) == 0 {
		return LockoutState{}, nil
	}

	var state LockoutState
	if raw, ok := fields[lockoutFieldAttempts]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return LockoutState{}, fmt.Errorf("%w: corrupt attempts field %q", ErrLockoutUnavailable, raw)
		}
		state.FailedAttempts = n
	}
	if raw, ok := fields[lockoutFieldUntil]; ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return LockoutState{}, fmt.Errorf("%w: corrupt until field %q", ErrLockoutUnavailable, raw)
		}
		if n > 0 {
			state.LockedUntil = time.Unix(0, n)
		}
	}
	return state, nil
}
