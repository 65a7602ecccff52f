package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(id, tier, code string, at time.Time) *Event {
	return &Event{
		ID:         id,
		Key:        "user:u1",
		UserID:     "u1",
		Tier:       tier,
		Category:   "default",
		Code:       code,
		Limit:      60,
		RetryAfter: 12,
		OccurredAt: at,
	}
}

func TestMemoryStore_RecentNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ev := testEvent(fmt.Sprintf("ev-%d", i), "free", "RATE_LIMIT_EXCEEDED", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Record(context.Background(), ev))
	}

	events, err := store.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-2", events[0].ID)
	assert.Equal(t, "ev-1", events[1].ID)
}

func TestMemoryStore_RecordCopiesEvent(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ev := testEvent("ev-1", "free", "RATE_LIMIT_EXCEEDED", time.Now())
	require.NoError(t, store.Record(context.Background(), ev))
	ev.Tier = "mutated"

	events, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "free", events[0].Tier)
}

func TestMemoryStore_TierStats(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	now := time.Now()
	require.NoError(t, store.Record(context.Background(), testEvent("a", "free", "RATE_LIMIT_EXCEEDED", now)))
	require.NoError(t, store.Record(context.Background(), testEvent("b", "free", "RATE_LIMIT_EXCEEDED", now)))
	require.NoError(t, store.Record(context.Background(), testEvent("c", "free", "DAILY_QUOTA_EXCEEDED", now)))
	require.NoError(t, store.Record(context.Background(), testEvent("d", "basic", "RATE_LIMIT_EXCEEDED", now)))

	stats, err := store.TierStats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, TierStat{Tier: "basic", Code: "RATE_LIMIT_EXCEEDED", Count: 1}, stats[0])
	assert.Equal(t, TierStat{Tier: "free", Code: "DAILY_QUOTA_EXCEEDED", Count: 1}, stats[1])
	assert.Equal(t, TierStat{Tier: "free", Code: "RATE_LIMIT_EXCEEDED", Count: 2}, stats[2])
}

func TestMemoryStore_EvictsOldestPastCap(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < maxBufferedEvents+5; i++ {
		ev := testEvent(fmt.Sprintf("ev-%d", i), "free", "RATE_LIMIT_EXCEEDED", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.Record(context.Background(), ev))
	}

	events, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, maxBufferedEvents)
	assert.Equal(t, fmt.Sprintf("ev-%d", maxBufferedEvents+4), events[0].ID)
}
