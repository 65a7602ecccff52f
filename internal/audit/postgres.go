package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rejection_events (
	id TEXT PRIMARY KEY,
	key TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL,
	category TEXT NOT NULL,
	code TEXT NOT NULL,
	limit_value INTEGER NOT NULL,
	retry_after INTEGER NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rejection_events_occurred_at ON rejection_events(occurred_at);
CREATE INDEX IF NOT EXISTS idx_rejection_events_tier ON rejection_events(tier);
`

// PostgresStore persists rejection events in PostgreSQL, shared across all
// service instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool and initializes the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required for PostgreSQL audit storage")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(context.Background(), postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Record persists one rejection event.
func (s *PostgresStore) Record(ctx context.Context, ev *Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rejection_events (id, key, user_id, tier, category, code, limit_value, retry_after, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.Key, ev.UserID, ev.Tier, ev.Category, ev.Code, ev.Limit, ev.RetryAfter, ev.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record rejection event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, key, user_id, tier, category, code, limit_value, retry_after, occurred_at
		 FROM rejection_events ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejection events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(&ev.ID, &ev.Key, &ev.UserID, &ev.Tier, &ev.Category,
			&ev.Code, &ev.Limit, &ev.RetryAfter, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan rejection event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rejection events: %w", err)
	}

	return events, nil
}

// TierStats returns rejection counts grouped by tier and error code.
func (s *PostgresStore) TierStats(ctx context.Context) ([]TierStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tier, code, COUNT(*) FROM rejection_events GROUP BY tier, code ORDER BY tier, code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tier stats: %w", err)
	}
	defer rows.Close()

	var stats []TierStat
	for rows.Next() {
		var st TierStat
		if err := rows.Scan(&st.Tier, &st.Code, &st.Count); err != nil {
			return nil, fmt.Errorf("failed to scan tier stat: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tier stats: %w", err)
	}

	return stats, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
