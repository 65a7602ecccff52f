package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RequiresDSN(t *testing.T) {
	_, err := NewSQLiteStore("")
	assert.Error(t, err)
}

func TestSQLiteStore_RecordAndRecent(t *testing.T) {
	store := newTestSQLiteStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(context.Background(), testEvent("ev-1", "free", "RATE_LIMIT_EXCEEDED", base)))
	require.NoError(t, store.Record(context.Background(), testEvent("ev-2", "basic", "DAILY_QUOTA_EXCEEDED", base.Add(time.Minute))))

	events, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "ev-2", events[0].ID)
	assert.Equal(t, "basic", events[0].Tier)
	assert.Equal(t, "DAILY_QUOTA_EXCEEDED", events[0].Code)

	assert.Equal(t, "ev-1", events[1].ID)
	assert.Equal(t, "user:u1", events[1].Key)
	assert.Equal(t, "u1", events[1].UserID)
	assert.Equal(t, 60, events[1].Limit)
	assert.Equal(t, 12, events[1].RetryAfter)
	assert.True(t, events[1].OccurredAt.Equal(base))
}

func TestSQLiteStore_RecentHonorsLimit(t *testing.T) {
	store := newTestSQLiteStore(t)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		ev := testEvent("ev", "free", "RATE_LIMIT_EXCEEDED", base.Add(time.Duration(i)*time.Second))
		ev.ID = ev.ID + "-" + string(rune('a'+i))
		require.NoError(t, store.Record(context.Background(), ev))
	}

	events, err := store.Recent(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestSQLiteStore_TierStats(t *testing.T) {
	store := newTestSQLiteStore(t)

	now := time.Now().UTC()
	require.NoError(t, store.Record(context.Background(), testEvent("a", "free", "RATE_LIMIT_EXCEEDED", now)))
	require.NoError(t, store.Record(context.Background(), testEvent("b", "free", "RATE_LIMIT_EXCEEDED", now)))
	require.NoError(t, store.Record(context.Background(), testEvent("c", "enterprise", "DAILY_QUOTA_EXCEEDED", now)))

	stats, err := store.TierStats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, TierStat{Tier: "enterprise", Code: "DAILY_QUOTA_EXCEEDED", Count: 1}, stats[0])
	assert.Equal(t, TierStat{Tier: "free", Code: "RATE_LIMIT_EXCEEDED", Count: 2}, stats[1])
}

func TestSQLiteStore_Ping(t *testing.T) {
	store := newTestSQLiteStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}
