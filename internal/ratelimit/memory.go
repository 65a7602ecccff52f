package ratelimit

import (
	"context"
	"sync"
	"time"
)

// counter holds a window count and its expiry.
type counter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-process Store used for development and tests. It
// enforces limits per-process only; production deployments use RedisStore
// so counters are shared cluster-wide. A background goroutine periodically
// evicts expired counters.
type MemoryStore struct {
	cleanupInterval time.Duration

	mu       sync.Mutex
	counters map[string]*counter
	done     chan struct{}
	closed   bool
}

// NewMemoryStore creates an in-memory counter store with the given eviction
// interval. It starts a background goroutine for cleanup.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	m := &MemoryStore{
		cleanupInterval: cleanupInterval,
		counters:        make(map[string]*counter),
		done:            make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Incr increments the counter for key and refreshes its expiry.
func (m *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.counters[key]
	if !exists || now.After(c.expiresAt) {
		c = &counter{}
		m.counters[key] = c
	}
	c.count++
	c.expiresAt = now.Add(ttl)

	return c.count, ttl, nil
}

// Get returns the current count and remaining TTL without mutating state.
func (m *MemoryStore) Get(ctx context.Context, key string) (int64, time.Duration, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.counters[key]
	if !exists || now.After(c.expiresAt) {
		return 0, NoWindow, nil
	}

	return c.count, c.expiresAt.Sub(now), nil
}

// Delete removes the counter for key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, key)
	return nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// cleanup periodically evicts expired counters.
func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

// evictExpired removes counters whose window has already ended.
func (m *MemoryStore) evictExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, c := range m.counters {
		if now.After(c.expiresAt) {
			delete(m.counters, key)
		}
	}
}
