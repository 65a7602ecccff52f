package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments the counter and refreshes its TTL in one atomic
// step. Doing both server-side keeps the worst-case overshoot under
// concurrent load to a single unit: callers may race past the pre-check,
// but no increment is ever lost or applied without an expiry.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[1])
return count
`)

// RedisStore implements Store on a shared Redis instance reachable by every
// process instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed counter store and verifies
// connectivity before returning.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Incr atomically increments key and resets its TTL.
func (rs *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	count, err := incrScript.Run(ctx, rs.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, ttl, nil
}

// Get reads the current count and remaining TTL in a single pipelined round
// trip. Redis reports a missing key as a negative TTL; both cases collapse
// to NoWindow here.
func (rs *RedisStore) Get(ctx context.Context, key string) (int64, time.Duration, error) {
	pipe := rs.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("failed to read counter: %w", err)
	}

	count, err := getCmd.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, NoWindow, nil
		}
		return 0, 0, fmt.Errorf("failed to parse counter: %w", err)
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = NoWindow
	}

	return count, ttl, nil
}

// Delete removes the counter for key.
func (rs *RedisStore) Delete(ctx context.Context, key string) error {
	if err := rs.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete counter: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (rs *RedisStore) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
