package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

var (
	// ErrDocumentNotFound is returned when a document id has no live catalog row.
	ErrDocumentNotFound = errors.New("document not found")
)

// Repository provides read access to the catalog for the ranking pipeline.
type Repository interface {
	// EntriesByIDs loads the given entries. Unknown ids are silently absent
	// from the result.
	EntriesByIDs(ctx context.Context, ids []int64) ([]Entry, error)

	// ActiveEntries loads every live entry.
	ActiveEntries(ctx context.Context) ([]Entry, error)

	// EntriesActivatedSince loads live entries activated at or after the
	// given time. Used for new-article eligibility.
	EntriesActivatedSince(ctx context.Context, since time.Time) ([]Entry, error)

	// EntriesByGroupKeys loads every entry whose group key is in the given
	// set, live or not. Callers filter by liveness as their rules require.
	EntriesByGroupKeys(ctx context.Context, keys []string) ([]Entry, error)

	// SlavesByMasterIDs loads the slave entries attached to the given masters.
	SlavesByMasterIDs(ctx context.Context, masterIDs []int64) ([]Entry, error)

	// Shops loads all shop configurations keyed by shop id.
	Shops(ctx context.Context) (map[int64]Shop, error)

	// TeasersByEntryIDs loads the teaser documents for the given entries.
	TeasersByEntryIDs(ctx context.Context, ids []int64) (map[int64][]Teaser, error)

	// CategoriesByEntryIDs loads the category assignments for the given entries.
	CategoriesByEntryIDs(ctx context.Context, ids []int64) (map[int64][]CategoryAssignment, error)

	// LiveEntryIDsByCategories loads, per (category, shop), the ids of all
	// live entries assigned to that category.
	LiveEntryIDsByCategories(ctx context.Context, categoryIDs []int64) (map[CategoryKey][]int64, error)

	// AvailabilityTable loads the shop's stepped availability-factor ranges,
	// ordered by DaysFrom.
	AvailabilityTable(ctx context.Context, shopID int64) ([]AvailabilityRange, error)

	// ContainerArrivals loads arrival dates for the given containers.
	ContainerArrivals(ctx context.Context, ids []int64) (map[int64]time.Time, error)

	// TimedSales aggregates revenue and purchase counts per entry since the
	// given time, deduplicated by transaction.
	TimedSales(ctx context.Context, ids []int64, since time.Time) (map[int64]SaleAggregate, error)

	// DocumentShop resolves a document id to its shop. Returns
	// ErrDocumentNotFound when the document row was deleted.
	DocumentShop(ctx context.Context, docID int64) (int64, error)
}

// PostgresRepository implements Repository on top of PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

const entryColumns = `
	id, shop_id, owner_key, site_key, group_key,
	COALESCE(master_id, 0), is_master, inactive, stale, activated_at,
	on_stock, COALESCE(container_id, 0), lead_time_weeks, manual_availability,
	timed_revenue, timed_purchases, display_count, base_ranking
`

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var manual sql.NullTime
		if err := rows.Scan(
			&e.ID, &e.ShopID, &e.OwnerKey, &e.SiteKey, &e.GroupKey,
			&e.MasterID, &e.IsMaster, &e.Inactive, &e.Stale, &e.ActivatedAt,
			&e.OnStock, &e.ContainerID, &e.LeadTimeWeeks, &manual,
			&e.TimedRevenue, &e.TimedPurchases, &e.DisplayCount, &e.BaseRanking,
		); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if manual.Valid {
			t := manual.Time
			e.ManualAvailability = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EntriesByIDs loads the given entries.
func (r *PostgresRepository) EntriesByIDs(ctx context.Context, ids []int64) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + entryColumns + ` FROM entries WHERE id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ActiveEntries loads every live entry.
func (r *PostgresRepository) ActiveEntries(ctx context.Context) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE NOT inactive AND NOT stale`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// EntriesActivatedSince loads live entries activated at or after the given time.
func (r *PostgresRepository) EntriesActivatedSince(ctx context.Context, since time.Time) ([]Entry, error) {
	query := `SELECT ` + entryColumns + `
		FROM entries
		WHERE NOT inactive AND NOT stale AND activated_at >= $1`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query recently activated entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// EntriesByGroupKeys loads every entry whose group key is in the given set.
func (r *PostgresRepository) EntriesByGroupKeys(ctx context.Context, keys []string) ([]Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	query := `SELECT ` + entryColumns + ` FROM entries WHERE group_key = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("failed to query entries by group key: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// SlavesByMasterIDs loads the slave entries attached to the given masters.
func (r *PostgresRepository) SlavesByMasterIDs(ctx context.Context, masterIDs []int64) ([]Entry, error) {
	if len(masterIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + entryColumns + ` FROM entries WHERE master_id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(masterIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query slave entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Shops loads all shop configurations keyed by shop id.
func (r *PostgresRepository) Shops(ctx context.Context) (map[int64]Shop, error) {
	query := `
		SELECT id, ctr_window_days, revenue_window_days, new_article_window_days,
		       COALESCE(teaser_formula, ''), COALESCE(new_article_formula, ''),
		       on_stock_factor, COALESCE(new_category_id, 0)
		FROM shops`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query shops: %w", err)
	}
	defer rows.Close()

	shops := make(map[int64]Shop)
	for rows.Next() {
		var s Shop
		if err := rows.Scan(
			&s.ID, &s.CTRWindowDays, &s.RevenueWindowDays, &s.NewArticleWindowDays,
			&s.TeaserFormula, &s.NewArticleFormula, &s.OnStockFactor, &s.NewCategoryID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan shop: %w", err)
		}
		shops[s.ID] = s
	}
	return shops, rows.Err()
}

// TeasersByEntryIDs loads the teaser documents for the given entries.
func (r *PostgresRepository) TeasersByEntryIDs(ctx context.Context, ids []int64) (map[int64][]Teaser, error) {
	if len(ids) == 0 {
		return map[int64][]Teaser{}, nil
	}

	query := `
		SELECT entry_id, id, doc_type, is_primary
		FROM documents
		WHERE entry_id = ANY($1) AND deleted_at IS NULL
		ORDER BY entry_id, is_primary DESC, id`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query teasers: %w", err)
	}
	defer rows.Close()

	teasers := make(map[int64][]Teaser)
	for rows.Next() {
		var t Teaser
		var docType string
		if err := rows.Scan(&t.EntryID, &t.DocID, &docType, &t.Primary); err != nil {
			return nil, fmt.Errorf("failed to scan teaser: %w", err)
		}
		t.DocType = DocType(docType)
		teasers[t.EntryID] = append(teasers[t.EntryID], t)
	}
	return teasers, rows.Err()
}

// CategoriesByEntryIDs loads the category assignments for the given entries.
func (r *PostgresRepository) CategoriesByEntryIDs(ctx context.Context, ids []int64) (map[int64][]CategoryAssignment, error) {
	if len(ids) == 0 {
		return map[int64][]CategoryAssignment{}, nil
	}

	query := `
		SELECT entry_id, category_id, main
		FROM category_entries
		WHERE entry_id = ANY($1)
		ORDER BY entry_id, main DESC, category_id`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query category assignments: %w", err)
	}
	defer rows.Close()

	assignments := make(map[int64][]CategoryAssignment)
	for rows.Next() {
		var a CategoryAssignment
		if err := rows.Scan(&a.EntryID, &a.CategoryID, &a.Main); err != nil {
			return nil, fmt.Errorf("failed to scan category assignment: %w", err)
		}
		assignments[a.EntryID] = append(assignments[a.EntryID], a)
	}
	return assignments, rows.Err()
}

// LiveEntryIDsByCategories loads the live entry ids per (category, shop).
func (r *PostgresRepository) LiveEntryIDsByCategories(ctx context.Context, categoryIDs []int64) (map[CategoryKey][]int64, error) {
	if len(categoryIDs) == 0 {
		return map[CategoryKey][]int64{}, nil
	}

	query := `
		SELECT ce.category_id, e.shop_id, e.id
		FROM category_entries ce
		JOIN entries e ON e.id = ce.entry_id
		WHERE ce.category_id = ANY($1) AND NOT e.inactive AND NOT e.stale
		ORDER BY ce.category_id, e.shop_id, e.id`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(categoryIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query category entries: %w", err)
	}
	defer rows.Close()

	result := make(map[CategoryKey][]int64)
	for rows.Next() {
		var key CategoryKey
		var entryID int64
		if err := rows.Scan(&key.CategoryID, &key.ShopID, &entryID); err != nil {
			return nil, fmt.Errorf("failed to scan category entry: %w", err)
		}
		result[key] = append(result[key], entryID)
	}
	return result, rows.Err()
}

// AvailabilityTable loads the shop's availability-factor ranges.
func (r *PostgresRepository) AvailabilityTable(ctx context.Context, shopID int64) ([]AvailabilityRange, error) {
	query := `
		SELECT days_from, days_to, factor
		FROM availability_factors
		WHERE shop_id = $1
		ORDER BY days_from`
	rows, err := r.db.QueryContext(ctx, query, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to query availability factors: %w", err)
	}
	defer rows.Close()

	var ranges []AvailabilityRange
	for rows.Next() {
		var ar AvailabilityRange
		if err := rows.Scan(&ar.DaysFrom, &ar.DaysTo, &ar.Factor); err != nil {
			return nil, fmt.Errorf("failed to scan availability range: %w", err)
		}
		ranges = append(ranges, ar)
	}
	return ranges, rows.Err()
}

// ContainerArrivals loads arrival dates for the given containers.
func (r *PostgresRepository) ContainerArrivals(ctx context.Context, ids []int64) (map[int64]time.Time, error) {
	if len(ids) == 0 {
		return map[int64]time.Time{}, nil
	}

	query := `SELECT id, arrival_date FROM containers WHERE id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query containers: %w", err)
	}
	defer rows.Close()

	arrivals := make(map[int64]time.Time)
	for rows.Next() {
		var id int64
		var arrival time.Time
		if err := rows.Scan(&id, &arrival); err != nil {
			return nil, fmt.Errorf("failed to scan container: %w", err)
		}
		arrivals[id] = arrival
	}
	return arrivals, rows.Err()
}

// TimedSales aggregates revenue and purchase counts per entry since the given
// time. Rows are deduplicated by transaction id so a multi-line transaction
// counts once.
func (r *PostgresRepository) TimedSales(ctx context.Context, ids []int64, since time.Time) (map[int64]SaleAggregate, error) {
	if len(ids) == 0 {
		return map[int64]SaleAggregate{}, nil
	}

	query := `
		SELECT entry_id, SUM(amount), COUNT(DISTINCT tx_id)
		FROM sales
		WHERE entry_id = ANY($1) AND sold_at >= $2
		GROUP BY entry_id`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	sales := make(map[int64]SaleAggregate)
	for rows.Next() {
		var entryID int64
		var agg SaleAggregate
		if err := rows.Scan(&entryID, &agg.Revenue, &agg.Purchases); err != nil {
			return nil, fmt.Errorf("failed to scan sale aggregate: %w", err)
		}
		sales[entryID] = agg
	}
	return sales, rows.Err()
}

// DocumentShop resolves a document id to its shop.
func (r *PostgresRepository) DocumentShop(ctx context.Context, docID int64) (int64, error) {
	query := `
		SELECT e.shop_id
		FROM documents d
		JOIN entries e ON e.id = d.entry_id
		WHERE d.id = $1 AND d.deleted_at IS NULL`

	var shopID int64
	err := r.db.QueryRowContext(ctx, query, docID).Scan(&shopID)
	if err == sql.ErrNoRows {
		return 0, ErrDocumentNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve document shop: %w", err)
	}
	return shopID, nil
}
