package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rejection_events (
	id TEXT PRIMARY KEY,
	key TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL,
	category TEXT NOT NULL,
	code TEXT NOT NULL,
	limit_value INTEGER NOT NULL,
	retry_after INTEGER NOT NULL,
	occurred_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rejection_events_occurred_at ON rejection_events(occurred_at);
CREATE INDEX IF NOT EXISTS idx_rejection_events_tier ON rejection_events(tier);
`

// SQLiteStore persists rejection events in a local SQLite database. Suitable
// for single-node deployments; clustered deployments should use the
// PostgreSQL backend so all instances share one audit log.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary initializes) a SQLite audit store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required for SQLite audit storage")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Record persists one rejection event.
func (s *SQLiteStore) Record(ctx context.Context, ev *Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rejection_events (id, key, user_id, tier, category, code, limit_value, retry_after, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Key, ev.UserID, ev.Tier, ev.Category, ev.Code, ev.Limit, ev.RetryAfter, ev.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record rejection event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, user_id, tier, category, code, limit_value, retry_after, occurred_at
		 FROM rejection_events ORDER BY occurred_at DESC LIMIT ?`, limit)
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
func (s *SQLiteStore) TierStats(ctx context.Context) ([]TierStat, error) {
	rows, err := s.db.QueryContext(ctx,
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
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
