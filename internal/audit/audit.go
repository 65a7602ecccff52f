// Package audit persists rejection events for offline analytics. The
// limiter itself never reads this data; it exists so operators can see who
// is hitting limits, how often, and on which tiers. Writes happen off the
// request hot path via the middleware's rejection hook.
package audit

import (
	"context"
	"time"
)

// Event is one recorded limit or quota rejection.
type Event struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	UserID     string    `json:"user_id,omitempty"`
	Tier       string    `json:"tier"`
	Category   string    `json:"category"`
	Code       string    `json:"code"`
	Limit      int       `json:"limit"`
	RetryAfter int       `json:"retry_after"` // seconds
	OccurredAt time.Time `json:"occurred_at"`
}

// TierStat is an aggregate count of rejections for one (tier, code) pair.
type TierStat struct {
	Tier  string `json:"tier"`
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// Store defines the interface for rejection event persistence. It provides
// a clean abstraction that can be implemented by different backends such as
// SQLite, PostgreSQL, or an in-memory buffer.
type Store interface {
	// Record persists one rejection event.
	Record(ctx context.Context, ev *Event) error

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]*Event, error)

	// TierStats returns rejection counts grouped by tier and error code.
	TierStats(ctx context.Context) ([]TierStat, error)

	// Ping checks the health of the backend.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources.
	Close() error
}
