package redisinfra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-identity-core/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps every Redis transport failure.
var ErrUnavailable = fmt.Errorf("redis unavailable: %w", domain.ErrInternal)

// incrementWithCeilingLua increments a counter unless it already reached the
// ceiling, refreshing its TTL on every increment.
// KEYS[1] = counter key
// ARGV[1] = ceiling
// ARGV[2] = ttl in milliseconds
//
// Returns {count, allowed} where allowed is 1 when the increment happened.
var incrementWithCeilingLua = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local ceiling = tonumber(ARGV[1])
if current >= ceiling then
  return {current, 0}
end
current = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {current, 1}
`)

// Store is a TTL-keyed string store backed by Redis.
type Store struct {
	redis redis.UniversalClient
}

func NewStore(client redis.UniversalClient) *Store {
	return &Store{redis: client}
}

// Get returns the value at key. found is false when the key is absent or expired.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	return v, true, nil
}

// Set overwrites key and resets its TTL.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
	}
	return nil
}

// SetIfAbsent writes key only when it does not exist yet. It reports whether
// the write happened.
func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// Delete removes keys. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: del: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) HasKey(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// TTL returns the time key has left. found is false for absent keys; a key
// without expiry reports found with a zero duration.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: pttl: %v", ErrUnavailable, err)
	}
	switch {
	case d == -2:
		return 0, false, nil
	case d < 0:
		return 0, true, nil
	}
	return d, true, nil
}

// GetMany reads keys in one round trip. Only present keys appear in the result.
func (s *Store) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: mget: %v", ErrUnavailable, err)
	}
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}

// IncrementWithCeiling atomically increments the counter at key unless it is
// already at ceiling. allowed is false when the ceiling blocked the increment;
// count is the counter value after the call.
func (s *Store) IncrementWithCeiling(ctx context.Context, key string, ceiling int64, ttl time.Duration) (int64, bool, error) {
	res, err := incrementWithCeilingLua.Run(ctx, s.redis, []string{key}, ceiling, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("%w: increment: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("%w: unexpected script result %v", ErrUnavailable, res)
	}
	return res[0], res[1] == 1, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return nil
}
