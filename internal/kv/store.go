// internal/kv/store.go
//
// Shared cache and counter store.
//
// Context
// -------
// Store is the narrow key-value contract the gate components depend on:
//
//   - Get / Set / Delete             - tenant and billing snapshots.
//   - IncrementWithWindow            - atomic fixed-window counters.
//   - PushCapped / Range             - short event histories.
//   - Ping                           - health checks.
//
// Redis implements it.  Every call is bounded by the store's operation
// timeout, so a wedged connection can never hold a request open.
//
// Notes
// -----
//   - Keys are prefixed with the configured namespace so several
//     deployments can share one Redis.
//   - Get reports a missing key as ErrMiss, never as (nil, nil).
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key does not exist.
var ErrMiss = errors.New("kv: key not found")

// Counter is the state of a fixed-window counter after an increment.
type Counter struct {
	Count int64         // value after this increment
	TTL   time.Duration // time left in the current window
}

// Store is satisfied by *RedisStore and by test doubles.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	IncrementWithWindow(ctx context.Context, key string, window time.Duration) (Counter, error)
	PushCapped(ctx context.Context, key string, val []byte, max int64, ttl time.Duration) error
	Range(ctx context.Context, key string) ([][]byte, error)
	Ping(ctx context.Context) error
}

// incrWindow increments KEYS[1] and starts its window on the first hit.
// A key found without an expiry, or with one longer than the current
// window (the policy behind the key was shortened), is re-armed, so every
// counter resets within one window of the policy in force.
var incrWindow = goredis.NewScript(`
local window = tonumber(ARGV[1])
local n = redis.call("INCR", KEYS[1])
if n == 1 then
    redis.call("PEXPIRE", KEYS[1], window)
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 or ttl > window then
    redis.call("PEXPIRE", KEYS[1], window)
    ttl = window
end
return {n, ttl}
`)

// RedisStore implements Store on top of a go-redis UniversalClient.
type RedisStore struct {
	client  goredis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisStore wraps client.  prefix may be empty; timeout <= 0 selects
// the one-second default.
func NewRedisStore(client goredis.UniversalClient, prefix string, timeout time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, timeout: orDefault(timeout)}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Get returns the raw value stored at key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return b, nil
}

// Set stores val under key.  ttl must be positive; the gate never writes
// entries without an expiry.
func (s *RedisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("kv set %s: ttl must be positive", key)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Set(ctx, s.key(key), val, ttl).Err(); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys.  Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	// Cluster mode rejects multi-key DEL across slots, so delete one by one.
	for _, k := range full {
		if err := s.client.Del(ctx, k).Err(); err != nil {
			return fmt.Errorf("kv delete %s: %w", k, err)
		}
	}
	return nil
}

// IncrementWithWindow atomically increments key and returns the new count
// together with the time left in its window.
func (s *RedisStore) IncrementWithWindow(ctx context.Context, key string, window time.Duration) (Counter, error) {
	if window <= 0 {
		return Counter{}, fmt.Errorf("kv incr %s: window must be positive", key)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	vals, err := incrWindow.Run(ctx, s.client, []string{s.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("kv incr %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Counter{}, fmt.Errorf("kv incr %s: unexpected reply length %d", key, len(vals))
	}
	return Counter{Count: vals[0], TTL: time.Duration(vals[1]) * time.Millisecond}, nil
}

// PushCapped prepends val to the list at key, keeps the newest max items,
// and refreshes the list expiry.  The three commands run in one MULTI.
func (s *RedisStore) PushCapped(ctx context.Context, key string, val []byte, max int64, ttl time.Duration) error {
	if max <= 0 || ttl <= 0 {
		return fmt.Errorf("kv push %s: max and ttl must be positive", key)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	k := s.key(key)
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LPush(ctx, k, val)
		p.LTrim(ctx, k, 0, max-1)
		p.Expire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv push %s: %w", key, err)
	}
	return nil
}

// Range returns every list item at key, newest first.
func (s *RedisStore) Range(ctx context.Context, key string) ([][]byte, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	items, err := s.client.LRange(ctx, s.key(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("kv range %s: %w", key, err)
	}
	out := make([][]byte, len(items))
	for i, it := range items {
		out[i] = []byte(it)
	}
	return out, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}
