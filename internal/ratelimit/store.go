package ratelimit

import (
	"context"
	"time"
)

// NoWindow is the TTL reported by Get when no counter exists for the key,
// meaning a fresh window starts on the next increment.
const NoWindow = time.Duration(-1)

// Store is the window counter store: a thin wrapper over a shared key-value
// backend with atomic increment-plus-TTL primitives. It is the only part of
// the limiter that touches network I/O, and counters in it are shared by
// every process instance so limits hold cluster-wide.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Incr atomically increments the counter for key and refreshes its TTL
	// to ttl in a single round trip. It returns the post-increment count and
	// the TTL that was set. Two concurrent callers must never lose an
	// increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)

	// Get returns the current count and remaining TTL for key without
	// mutating anything. A missing key returns count 0 and NoWindow.
	Get(ctx context.Context, key string) (int64, time.Duration, error)

	// Delete removes the counter for key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Ping checks the health of the backend.
	Ping(ctx context.Context) error

	// Close releases the backend connection and any background resources.
	Close() error
}

// keyBuilder namespaces counter keys so the limiter can share a store with
// unrelated data.
type keyBuilder struct {
	prefix string
}

// window builds the counter key for a (category, identity) pair.
func (k keyBuilder) window(c Category, identity string) string {
	return k.prefix + ":rl:" + string(c) + ":" + identity
}

// quota builds the daily quota key for a (user, UTC day) pair. The day is
// part of the key, so the quota rolls over at UTC midnight without any
// scheduled job.
func (k keyBuilder) quota(userID, day string) string {
	return k.prefix + ":quota:" + day + ":" + userID
}
