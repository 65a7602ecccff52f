package ratelimit

import (
	"context"
	"testing"
	"time"

	"limitgate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQuotaLimiter(t *testing.T, quota int) *Limiter {
	t.Helper()
	store := NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	policies, err := NewPolicies(map[string]models.TierOverride{
		"basic": {DailyQuota: intPtr(quota)},
	})
	require.NoError(t, err)

	return New(store, policies, "test")
}

func TestCheckDailyQuota_CountsUsage(t *testing.T) {
	limiter := newQuotaLimiter(t, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		q := limiter.CheckDailyQuota(ctx, "alice", TierBasic)
		assert.True(t, q.Allowed, "call %d", i)
		assert.Equal(t, i, q.Used, "call %d", i)
		assert.Equal(t, 3-i, q.Remaining, "call %d", i)
		assert.Equal(t, 3, q.Limit)
	}

	// At the ceiling: denied without incrementing.
	for i := 0; i < 2; i++ {
		q := limiter.CheckDailyQuota(ctx, "alice", TierBasic)
		assert.False(t, q.Allowed)
		assert.Equal(t, 3, q.Used)
		assert.Equal(t, 0, q.Remaining)
	}
}

func TestCheckDailyQuota_ZeroMeansUnlimited(t *testing.T) {
	limiter := newQuotaLimiter(t, 3)

	// Enterprise has DailyQuota 0 by default.
	for i := 0; i < 10; i++ {
		q := limiter.CheckDailyQuota(context.Background(), "bigco", TierEnterprise)
		assert.True(t, q.Allowed)
		assert.True(t, q.Unlimited)
	}
}

func TestCheckDailyQuota_ResetAtNextUTCMidnight(t *testing.T) {
	limiter := newQuotaLimiter(t, 3)

	q := limiter.CheckDailyQuota(context.Background(), "alice", TierBasic)
	require.True(t, q.Allowed)

	now := time.Now().UTC()
	assert.Equal(t, time.UTC, q.ResetAt.Location())
	assert.Equal(t, 0, q.ResetAt.Hour())
	assert.True(t, q.ResetAt.After(now))
	assert.True(t, q.ResetAt.Sub(now) <= 24*time.Hour)
}

func TestCheckDailyQuota_IndependentOfWindowLimits(t *testing.T) {
	limiter := newQuotaLimiter(t, 100)
	ctx := context.Background()

	// Exhaust the auth window for alice's IP.
	for i := 0; i < 6; i++ {
		_, err := limiter.Check(ctx, "user:alice", CategoryAuth, TierBasic)
		require.NoError(t, err)
	}

	// The daily quota counter is untouched.
	q := limiter.CheckDailyQuota(ctx, "alice", TierBasic)
	assert.True(t, q.Allowed)
	assert.Equal(t, 1, q.Used)

	// And quota usage does not feed back into the window counter.
	res, err := limiter.State(ctx, "user:alice", CategoryWrite, TierBasic)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
}

func TestCheckDailyQuota_FailOpen(t *testing.T) {
	policies, err := NewPolicies(nil)
	require.NoError(t, err)
	limiter := New(failingStore{}, policies, "test")

	q := limiter.CheckDailyQuota(context.Background(), "alice", TierFree)
	assert.True(t, q.Allowed, "store outage must not block quota checks")
	assert.Equal(t, 0, q.Used)
}

func TestQuotaState_DoesNotIncrement(t *testing.T) {
	limiter := newQuotaLimiter(t, 10)
	ctx := context.Background()

	limiter.CheckDailyQuota(ctx, "alice", TierBasic)
	limiter.CheckDailyQuota(ctx, "alice", TierBasic)

	for i := 0; i < 3; i++ {
		q, err := limiter.QuotaState(ctx, "alice", TierBasic)
		require.NoError(t, err)
		assert.Equal(t, 2, q.Used)
		assert.Equal(t, 8, q.Remaining)
	}
}

func TestUTCDayKeyRollsOver(t *testing.T) {
	// New day means a new key, which is what resets the quota.
	d1 := time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC)
	d2 := d1.Add(2 * time.Second)
	assert.NotEqual(t, utcDay(d1), utcDay(d2))

	kb := keyBuilder{prefix: "test"}
	assert.NotEqual(t, kb.quota("alice", utcDay(d1)), kb.quota("alice", utcDay(d2)))
}
