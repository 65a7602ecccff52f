package ratelimit

import (
	"context"
	"time"
)

// quotaTTL keeps a day's counter alive long enough to outlive its calendar
// day; the UTC date embedded in the key is what actually rolls the quota
// over at midnight.
const quotaTTL = 24 * time.Hour

// QuotaResult is the decision for one daily quota check.
type QuotaResult struct {
	Allowed   bool      `json:"allowed"`
	Unlimited bool      `json:"unlimited"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"` // next UTC midnight
}

// CheckDailyQuota enforces the per-user daily usage ceiling. It is
// independent of category: exhausting a window limit does not touch the
// quota counter, and vice versa. A tier daily quota of 0 means unlimited.
//
// Store failures fail open, same as Check: quota enforcement degrades
// before availability does.
func (l *Limiter) CheckDailyQuota(ctx context.Context, userID string, t Tier) QuotaResult {
	limits := l.policies.Tier(t)
	resetAt := nextUTCMidnight(time.Now())

	if limits.DailyQuota == 0 {
		return QuotaResult{Allowed: true, Unlimited: true, ResetAt: resetAt}
	}

	key := l.keys.quota(userID, utcDay(time.Now()))

	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	used, _, err := l.store.Get(ctx, key)
	if err != nil {
		return l.quotaFailure(userID, limits.DailyQuota, resetAt, err)
	}

	if used >= int64(limits.DailyQuota) {
		// Denied without incrementing.
		return QuotaResult{
			Allowed:   false,
			Used:      int(used),
			Limit:     limits.DailyQuota,
			Remaining: 0,
			ResetAt:   resetAt,
		}
	}

	newUsed, _, err := l.store.Incr(ctx, key, quotaTTL)
	if err != nil {
		return l.quotaFailure(userID, limits.DailyQuota, resetAt, err)
	}

	remaining := limits.DailyQuota - int(newUsed)
	if remaining < 0 {
		remaining = 0
	}

	return QuotaResult{
		Allowed:   true,
		Used:      int(newUsed),
		Limit:     limits.DailyQuota,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// QuotaState peeks at a user's daily quota without consuming any of it.
// Used by administrative introspection; errors propagate.
func (l *Limiter) QuotaState(ctx context.Context, userID string, t Tier) (QuotaResult, error) {
	limits := l.policies.Tier(t)
	resetAt := nextUTCMidnight(time.Now())

	if limits.DailyQuota == 0 {
		return QuotaResult{Allowed: true, Unlimited: true, ResetAt: resetAt}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	used, _, err := l.store.Get(ctx, l.keys.quota(userID, utcDay(time.Now())))
	if err != nil {
		return QuotaResult{}, err
	}

	remaining := limits.DailyQuota - int(used)
	if remaining < 0 {
		remaining = 0
	}

	return QuotaResult{
		Allowed:   used < int64(limits.DailyQuota),
		Used:      int(used),
		Limit:     limits.DailyQuota,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// quotaFailure is the fail-open result for a quota store error.
func (l *Limiter) quotaFailure(userID string, quota int, resetAt time.Time, err error) QuotaResult {
	l.warnEvery.Do(func() {
		l.logger.Warn("quota store unavailable", "user_id", userID, "error", err)
	})
	return QuotaResult{
		Allowed:   true,
		Used:      0,
		Limit:     quota,
		Remaining: quota,
		ResetAt:   resetAt,
	}
}

// utcDay formats the UTC calendar day used in quota keys.
func utcDay(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// nextUTCMidnight returns the start of the next UTC day.
func nextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
