package revenue

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresWriter implements Writer with single-row updates on the entries
// table.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter creates a new PostgresWriter.
func NewPostgresWriter(db *sql.DB) *PostgresWriter {
	return &PostgresWriter{db: db}
}

// UpdateTimedSales rewrites an entry's rolling-window revenue and purchases.
func (w *PostgresWriter) UpdateTimedSales(ctx context.Context, entryID int64, revenue float64, purchases int64) error {
	_, err := w.db.ExecContext(ctx,
		`UPDATE entries SET timed_revenue = $1, timed_purchases = $2, updated_at = NOW() WHERE id = $3`,
		revenue, purchases, entryID)
	if err != nil {
		return fmt.Errorf("updating timed sales: %w", err)
	}
	return nil
}

// UpdateDisplayCount rewrites an entry's display count.
func (w *PostgresWriter) UpdateDisplayCount(ctx context.Context, entryID int64, count int64) error {
	_, err := w.db.ExecContext(ctx,
		`UPDATE entries SET display_count = $1, updated_at = NOW() WHERE id = $2`,
		count, entryID)
	if err != nil {
		return fmt.Errorf("updating display count: %w", err)
	}
	return nil
}

// UpdateBaseRanking rewrites an entry's base ranking.
func (w *PostgresWriter) UpdateBaseRanking(ctx context.Context, entryID int64, ranking float64) error {
	_, err := w.db.ExecContext(ctx,
		`UPDATE entries SET base_ranking = $1, updated_at = NOW() WHERE id = $2`,
		ranking, entryID)
	if err != nil {
		return fmt.Errorf("updating base ranking: %w", err)
	}
	return nil
}
