package ctr

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/stats"
)

// DocDaily is one daily counter row per (document, type, entry, date).
type DocDaily struct {
	DocID       int64
	DocType     catalog.DocType
	EntryID     int64
	Day         time.Time
	Impressions int64
	Clicks      int64
	Sessions    int64
}

// ShopDaily is one daily distinct-session counter row per (shop, date).
type ShopDaily struct {
	ShopID   int64
	Day      time.Time
	Sessions int64
}

// Rollup is the per-(entry, document, type) CTR sum over a rolling window.
type Rollup struct {
	EntryID     int64
	DocID       int64
	DocType     catalog.DocType
	Impressions int64
	Clicks      int64
}

// AggregateStore is the durable-store surface for migrated CTR counters.
type AggregateStore interface {
	// UpsertDocDaily inserts or increments daily document counters.
	// Insert/update outcomes are recorded on the supplied stats.
	UpsertDocDaily(ctx context.Context, rows []DocDaily, st *stats.MigrationStats) error

	// UpsertShopDaily inserts or increments daily shop session counters.
	UpsertShopDaily(ctx context.Context, rows []ShopDaily) error

	// RollupsSince sums impressions and clicks per (entry, document, type)
	// for aggregate rows at or after the given day.
	RollupsSince(ctx context.Context, entryIDs []int64, since time.Time) ([]Rollup, error)

	// ImpressionsSince sums impressions per entry at or after the given day.
	ImpressionsSince(ctx context.Context, entryIDs []int64, since time.Time) (map[int64]int64, error)
}

// PostgresAggregateStore implements AggregateStore on PostgreSQL.
type PostgresAggregateStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresAggregateStore creates a new PostgresAggregateStore.
func NewPostgresAggregateStore(db *sql.DB, logger *slog.Logger) *PostgresAggregateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAggregateStore{
		db:     db,
		logger: logger,
	}
}

// UpsertDocDaily inserts or increments daily document counters inside one
// transaction. The xmax trick distinguishes fresh inserts from increments.
func (s *PostgresAggregateStore) UpsertDocDaily(ctx context.Context, rows []DocDaily, st *stats.MigrationStats) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Warn("failed to rollback transaction", "error", err)
		}
	}()

	query := `
		INSERT INTO ctr_daily (doc_id, doc_type, entry_id, day, impressions, clicks, sessions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (doc_id, doc_type, entry_id, day) DO UPDATE SET
			impressions = ctr_daily.impressions + EXCLUDED.impressions,
			clicks = ctr_daily.clicks + EXCLUDED.clicks,
			sessions = ctr_daily.sessions + EXCLUDED.sessions
		RETURNING (xmax = 0)`

	for _, row := range rows {
		var inserted bool
		err := tx.QueryRowContext(ctx, query,
			row.DocID, string(row.DocType), row.EntryID, row.Day,
			row.Impressions, row.Clicks, row.Sessions,
		).Scan(&inserted)
		if err != nil {
			return fmt.Errorf("failed to upsert daily counters for doc %d: %w", row.DocID, err)
		}
		if st != nil {
			if inserted {
				st.RecordInsert()
			} else {
				st.RecordUpdate()
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit daily counters: %w", err)
	}
	return nil
}

// UpsertShopDaily inserts or increments daily shop session counters.
func (s *PostgresAggregateStore) UpsertShopDaily(ctx context.Context, rows []ShopDaily) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Warn("failed to rollback transaction", "error", err)
		}
	}()

	query := `
		INSERT INTO shop_sessions_daily (shop_id, day, sessions)
		VALUES ($1, $2, $3)
		ON CONFLICT (shop_id, day) DO UPDATE SET
			sessions = shop_sessions_daily.sessions + EXCLUDED.sessions`

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, query, row.ShopID, row.Day, row.Sessions); err != nil {
			return fmt.Errorf("failed to upsert shop sessions for shop %d: %w", row.ShopID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit shop sessions: %w", err)
	}
	return nil
}

// RollupsSince sums impressions and clicks per (entry, document, type).
func (s *PostgresAggregateStore) RollupsSince(ctx context.Context, entryIDs []int64, since time.Time) ([]Rollup, error) {
	if len(entryIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT entry_id, doc_id, doc_type, SUM(impressions), SUM(clicks)
		FROM ctr_daily
		WHERE entry_id = ANY($1) AND day >= $2
		GROUP BY entry_id, doc_id, doc_type`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(entryIDs), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query CTR rollups: %w", err)
	}
	defer rows.Close()

	var rollups []Rollup
	for rows.Next() {
		var r Rollup
		var docType string
		if err := rows.Scan(&r.EntryID, &r.DocID, &docType, &r.Impressions, &r.Clicks); err != nil {
			return nil, fmt.Errorf("failed to scan CTR rollup: %w", err)
		}
		r.DocType = catalog.DocType(docType)
		rollups = append(rollups, r)
	}
	return rollups, rows.Err()
}

// ImpressionsSince sums impressions per entry.
func (s *PostgresAggregateStore) ImpressionsSince(ctx context.Context, entryIDs []int64, since time.Time) (map[int64]int64, error) {
	if len(entryIDs) == 0 {
		return map[int64]int64{}, nil
	}

	query := `
		SELECT entry_id, SUM(impressions)
		FROM ctr_daily
		WHERE entry_id = ANY($1) AND day >= $2
		GROUP BY entry_id`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(entryIDs), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query impression sums: %w", err)
	}
	defer rows.Close()

	sums := make(map[int64]int64)
	for rows.Next() {
		var entryID, impressions int64
		if err := rows.Scan(&entryID, &impressions); err != nil {
			return nil, fmt.Errorf("failed to scan impression sum: %w", err)
		}
		sums[entryID] = impressions
	}
	return sums, rows.Err()
}
