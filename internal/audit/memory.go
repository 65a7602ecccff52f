package audit

import (
	"context"
	"sort"
	"sync"
)

// maxBufferedEvents caps the in-memory backend so an abusive client cannot
// grow the process without bound. Oldest events are dropped first.
const maxBufferedEvents = 10000

// MemoryStore is an in-process audit backend for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends the event, evicting the oldest entries past the cap.
func (m *MemoryStore) Record(ctx context.Context, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *ev
	m.events = append(m.events, &copied)
	if len(m.events) > maxBufferedEvents {
		m.events = m.events[len(m.events)-maxBufferedEvents:]
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Event, len(m.events))
	copy(out, m.events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TierStats aggregates rejection counts by tier and code.
func (m *MemoryStore) TierStats(ctx context.Context) ([]TierStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type group struct {
		tier, code string
	}
	counts := make(map[group]int)
	for _, ev := range m.events {
		counts[group{ev.Tier, ev.Code}]++
	}

	stats := make([]TierStat, 0, len(counts))
	for g, n := range counts {
		stats = append(stats, TierStat{Tier: g.tier, Code: g.code, Count: n})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Tier != stats[j].Tier {
			return stats[i].Tier < stats[j].Tier
		}
		return stats[i].Code < stats[j].Code
	})
	return stats, nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close releases the buffered events.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	return nil
}
