// Package revenue recomputes the slow-moving per-entry ordering signals:
// rolling-window revenue and purchase counts, display counts, and the
// revenue-per-display base ranking.
package revenue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
)

// EntrySource is the slice of the catalog surface the recalculator reads.
type EntrySource interface {
	EntriesByIDs(ctx context.Context, ids []int64) ([]catalog.Entry, error)
	ActiveEntries(ctx context.Context) ([]catalog.Entry, error)
	Shops(ctx context.Context) (map[int64]catalog.Shop, error)
	TimedSales(ctx context.Context, ids []int64, since time.Time) (map[int64]catalog.SaleAggregate, error)
}

// ImpressionSource sums displayed impressions per entry.
type ImpressionSource interface {
	ImpressionsSince(ctx context.Context, entryIDs []int64, since time.Time) (map[int64]int64, error)
}

// Writer persists recomputed entry signals.
type Writer interface {
	UpdateTimedSales(ctx context.Context, entryID int64, revenue float64, purchases int64) error
	UpdateDisplayCount(ctx context.Context, entryID int64, count int64) error
	UpdateBaseRanking(ctx context.Context, entryID int64, ranking float64) error
}

// Report counts the rows each recompute pass actually touched.
type Report struct {
	Entries        int
	SalesUpdated   int
	DisplayUpdated int
	RankingUpdated int
}

func (r Report) String() string {
	return fmt.Sprintf("entries=%d sales=%d display=%d ranking=%d",
		r.Entries, r.SalesUpdated, r.DisplayUpdated, r.RankingUpdated)
}

// Recalculator recomputes entry sales and ordering signals from the sales
// ledger and the CTR aggregates. Unchanged values are not rewritten, so a
// nightly run over the full catalog touches only the rows that moved.
type Recalculator struct {
	catalog    EntrySource
	aggregates ImpressionSource
	writer     Writer
	logger     *slog.Logger

	settle time.Duration
	sleep  func(time.Duration)
	now    func() time.Time
}

// NewRecalculator creates a Recalculator. The settle delay separates the
// display-count rewrite from the base-ranking rewrite so dependent readers
// see the two signals move in order.
func NewRecalculator(cat EntrySource, aggregates ImpressionSource, writer Writer, logger *slog.Logger, settle time.Duration) *Recalculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recalculator{
		catalog:    cat,
		aggregates: aggregates,
		writer:     writer,
		logger:     logger,
		settle:     settle,
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

// RecalculateSales rewrites each entry's rolling-window revenue and purchase
// count from the sales ledger. Only the entry's own sales count here; group
// sibling sales are merged at evaluation time, not persisted. An empty id
// list means the whole live catalog.
func (r *Recalculator) RecalculateSales(ctx context.Context, entryIDs []int64) (Report, error) {
	report := Report{}
	entries, shops, err := r.load(ctx, entryIDs)
	if err != nil {
		return report, err
	}
	report.Entries = len(entries)

	for shopID, shopEntries := range byShop(entries) {
		shop, ok := shops[shopID]
		if !ok {
			r.logger.Warn("skipping entries of unknown shop", "shop_id", shopID, "entries", len(shopEntries))
			continue
		}
		since := r.now().AddDate(0, 0, -shop.RevenueWindowDays)
		sales, err := r.catalog.TimedSales(ctx, idsOf(shopEntries), since)
		if err != nil {
			return report, fmt.Errorf("loading sales for shop %d: %w", shopID, err)
		}

		for _, e := range shopEntries {
			agg := sales[e.ID]
			if agg.Revenue == e.TimedRevenue && agg.Purchases == e.TimedPurchases {
				continue
			}
			if err := r.writer.UpdateTimedSales(ctx, e.ID, agg.Revenue, agg.Purchases); err != nil {
				return report, fmt.Errorf("updating sales of entry %d: %w", e.ID, err)
			}
			report.SalesUpdated++
		}
	}

	r.logger.Info("recalculated timed sales", "report", report.String())
	return report, nil
}

// RecalculateOrdering rewrites display counts from the CTR aggregates and
// then the base ranking (rolling revenue per display). Base rankings are
// rewritten only when the value moved by at least a hundredth, keeping the
// nightly write volume down.
func (r *Recalculator) RecalculateOrdering(ctx context.Context, entryIDs []int64) (Report, error) {
	report := Report{}
	entries, shops, err := r.load(ctx, entryIDs)
	if err != nil {
		return report, err
	}
	report.Entries = len(entries)

	displayCounts := make(map[int64]int64, len(entries))
	for shopID, shopEntries := range byShop(entries) {
		shop, ok := shops[shopID]
		if !ok {
			r.logger.Warn("skipping entries of unknown shop", "shop_id", shopID, "entries", len(shopEntries))
			continue
		}
		since := r.now().AddDate(0, 0, -shop.RevenueWindowDays)
		impressions, err := r.aggregates.ImpressionsSince(ctx, idsOf(shopEntries), since)
		if err != nil {
			return report, fmt.Errorf("loading impressions for shop %d: %w", shopID, err)
		}

		for _, e := range shopEntries {
			count := impressions[e.ID]
			displayCounts[e.ID] = count
			if count == e.DisplayCount {
				continue
			}
			if err := r.writer.UpdateDisplayCount(ctx, e.ID, count); err != nil {
				return report, fmt.Errorf("updating display count of entry %d: %w", e.ID, err)
			}
			report.DisplayUpdated++
		}
	}

	r.sleep(r.settle)

	for _, e := range entries {
		count, ok := displayCounts[e.ID]
		if !ok {
			continue
		}
		ranking := 0.0
		if count > 0 {
			ranking = e.TimedRevenue / float64(count)
		}
		if math.Round(ranking*100) == math.Round(e.BaseRanking*100) {
			continue
		}
		if err := r.writer.UpdateBaseRanking(ctx, e.ID, ranking); err != nil {
			return report, fmt.Errorf("updating base ranking of entry %d: %w", e.ID, err)
		}
		report.RankingUpdated++
	}

	r.logger.Info("recalculated ordering signals", "report", report.String())
	return report, nil
}

func (r *Recalculator) load(ctx context.Context, entryIDs []int64) ([]catalog.Entry, map[int64]catalog.Shop, error) {
	var (
		entries []catalog.Entry
		err     error
	)
	if len(entryIDs) > 0 {
		entries, err = r.catalog.EntriesByIDs(ctx, entryIDs)
	} else {
		entries, err = r.catalog.ActiveEntries(ctx)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading entries: %w", err)
	}

	shops, err := r.catalog.Shops(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading shops: %w", err)
	}
	return entries, shops, nil
}

func byShop(entries []catalog.Entry) map[int64][]catalog.Entry {
	out := make(map[int64][]catalog.Entry)
	for _, e := range entries {
		out[e.ShopID] = append(out[e.ShopID], e)
	}
	return out
}

func idsOf(entries []catalog.Entry) []int64 {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
