package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/ctr"
)

// ErrNoEntries is returned when a preload matches no entries; callers skip
// the dependent pipeline steps for the run.
var ErrNoEntries = errors.New("no matching entries")

// GroupResolver computes sibling sets. Satisfied by group.Resolver.
type GroupResolver interface {
	ResolveGroups(ctx context.Context, entryIDs []int64) (map[int64][]int64, error)
}

// rollupKey identifies one teaser-scoped CTR rollup.
type rollupKey struct {
	docID   int64
	docType catalog.DocType
}

// EntryData is everything the evaluator needs for one entry.
type EntryData struct {
	Entry      catalog.Entry
	Shop       catalog.Shop
	Categories []catalog.CategoryAssignment
	Teasers    []catalog.Teaser
	GroupIDs   []int64

	// Rolling-window aggregates. Revenue and Purchases include the entry's
	// grouped siblings.
	Revenue        float64
	Purchases      int64
	ClicksAll      int64
	ImpressionsAll int64
	CTRAll         float64

	rollups map[rollupKey]ctr.Rollup
}

// MainCategory returns the entry's primary assigned category, or 0.
func (d *EntryData) MainCategory() int64 {
	for _, a := range d.Categories {
		if a.Main {
			return a.CategoryID
		}
	}
	if len(d.Categories) > 0 {
		return d.Categories[0].CategoryID
	}
	return 0
}

// TeaserCounts returns the clicks and impressions for one teaser. For the
// primary document type the counts are the sums of the entry's color and
// white-with-shadow rollups.
func (d *EntryData) TeaserCounts(docID int64, docType catalog.DocType) (clicks, impressions int64) {
	if docType == catalog.DocTypePrimary {
		for key, r := range d.rollups {
			if key.docType == catalog.DocTypeColor || key.docType == catalog.DocTypeWhiteShadow {
				clicks += r.Clicks
				impressions += r.Impressions
			}
		}
		return clicks, impressions
	}

	r := d.rollups[rollupKey{docID: docID, docType: docType}]
	return r.Clicks, r.Impressions
}

// TeaserCTR returns clicks/impressions for one teaser, or 0 when the teaser
// has no impressions.
func (d *EntryData) TeaserCTR(docID int64, docType catalog.DocType) float64 {
	clicks, impressions := d.TeaserCounts(docID, docType)
	if impressions == 0 {
		return 0
	}
	return float64(clicks) / float64(impressions)
}

// Context is the per-run preloaded state handed to the evaluator. It is
// created per batch run and discarded at run end; nothing in it is shared
// across runs.
type Context struct {
	Entries         map[int64]*EntryData
	Order           []int64
	CategoryEntries map[catalog.CategoryKey][]int64
	NewArticles     bool

	availability map[int64]*Availability
}

// Availability returns the availability computation for a shop, or nil when
// the shop's table failed to load (the factor then reads as 0).
func (c *Context) Availability(shopID int64) *Availability {
	return c.availability[shopID]
}

// Preloader loads the per-entry aggregate signals and per-category entry
// lists needed by the formula evaluator.
type Preloader struct {
	catalog    catalog.Repository
	aggregates ctr.AggregateStore
	groups     GroupResolver
	logger     *slog.Logger
	now        func() time.Time
}

// NewPreloader creates a new Preloader.
func NewPreloader(cat catalog.Repository, aggregates ctr.AggregateStore, groups GroupResolver, logger *slog.Logger) *Preloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preloader{
		catalog:    cat,
		aggregates: aggregates,
		groups:     groups,
		logger:     logger,
		now:        time.Now,
	}
}

// PreloadTeasers builds the run context for the teaser ranking pass. An
// empty id list means all active entries.
func (p *Preloader) PreloadTeasers(ctx context.Context, entryIDs []int64) (*Context, error) {
	return p.preload(ctx, entryIDs, false)
}

// PreloadNewArticles builds the run context for the new-article ranking
// pass: entries activated within each shop's new-article window and assigned
// to the shop's "new" category.
func (p *Preloader) PreloadNewArticles(ctx context.Context, entryIDs []int64) (*Context, error) {
	return p.preload(ctx, entryIDs, true)
}

func (p *Preloader) preload(ctx context.Context, entryIDs []int64, newArticles bool) (*Context, error) {
	now := p.now()

	shops, err := p.catalog.Shops(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load shops: %w", err)
	}

	entries, err := p.loadEntries(ctx, entryIDs, shops, newArticles, now)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	categories, err := p.catalog.CategoriesByEntryIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load category assignments: %w", err)
	}

	if newArticles {
		entries = filterNewArticles(entries, shops, categories, now)
		if len(entries) == 0 {
			return nil, ErrNoEntries
		}
		ids = ids[:0]
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
	}

	teasers, err := p.catalog.TeasersByEntryIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load teasers: %w", err)
	}

	groups, err := p.groups.ResolveGroups(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve groups: %w", err)
	}

	run := &Context{
		Entries:      make(map[int64]*EntryData, len(entries)),
		Order:        ids,
		NewArticles:  newArticles,
		availability: make(map[int64]*Availability),
	}
	for _, e := range entries {
		run.Entries[e.ID] = &EntryData{
			Entry:      e,
			Shop:       shops[e.ShopID],
			Categories: categories[e.ID],
			Teasers:    teasers[e.ID],
			GroupIDs:   groups[e.ID],
			rollups:    make(map[rollupKey]ctr.Rollup),
		}
	}

	// The remaining steps degrade gracefully: on failure the affected
	// variables stay 0 and the run continues.
	p.loadSales(ctx, run, shops, groups, now)
	p.loadRollups(ctx, run, shops, now)
	p.loadAvailability(ctx, run, shops, entries, now)
	p.loadCategoryEntries(ctx, run)

	return run, nil
}

// loadEntries picks the base entry set for the run.
func (p *Preloader) loadEntries(ctx context.Context, entryIDs []int64, shops map[int64]catalog.Shop, newArticles bool, now time.Time) ([]catalog.Entry, error) {
	if len(entryIDs) > 0 {
		entries, err := p.catalog.EntriesByIDs(ctx, entryIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load entries: %w", err)
		}
		return entries, nil
	}

	if newArticles {
		maxDays := 0
		for _, s := range shops {
			if s.NewArticleWindowDays > maxDays {
				maxDays = s.NewArticleWindowDays
			}
		}
		entries, err := p.catalog.EntriesActivatedSince(ctx, now.AddDate(0, 0, -maxDays))
		if err != nil {
			return nil, fmt.Errorf("failed to load new-article candidates: %w", err)
		}
		return entries, nil
	}

	entries, err := p.catalog.ActiveEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active entries: %w", err)
	}
	return entries, nil
}

// filterNewArticles keeps entries activated within their shop's new-article
// window and assigned to the shop's "new" category.
func filterNewArticles(entries []catalog.Entry, shops map[int64]catalog.Shop, categories map[int64][]catalog.CategoryAssignment, now time.Time) []catalog.Entry {
	var out []catalog.Entry
	for _, e := range entries {
		shop := shops[e.ShopID]
		if shop.NewCategoryID == 0 || shop.NewArticleWindowDays == 0 {
			continue
		}
		if e.ActivatedAt.Before(now.AddDate(0, 0, -shop.NewArticleWindowDays)) {
			continue
		}
		assigned := false
		for _, a := range categories[e.ID] {
			if a.CategoryID == shop.NewCategoryID {
				assigned = true
				break
			}
		}
		if assigned {
			out = append(out, e)
		}
	}
	return out
}

// loadSales fills timed revenue and purchases, summed across each entry's
// grouped siblings and deduplicated by transaction within each entry.
func (p *Preloader) loadSales(ctx context.Context, run *Context, shops map[int64]catalog.Shop, groups map[int64][]int64, now time.Time) {
	byShop := make(map[int64][]int64)
	for id, data := range run.Entries {
		wanted := append([]int64{id}, groups[id]...)
		byShop[data.Entry.ShopID] = append(byShop[data.Entry.ShopID], wanted...)
	}

	salesByShop := make(map[int64]map[int64]catalog.SaleAggregate)
	for shopID, ids := range byShop {
		since := now.AddDate(0, 0, -shops[shopID].RevenueWindowDays)
		sales, err := p.catalog.TimedSales(ctx, dedupe(ids), since)
		if err != nil {
			p.logger.Warn("failed to load timed sales, revenue variables default to 0",
				"shop_id", shopID, "error", err)
			continue
		}
		salesByShop[shopID] = sales
	}

	for id, data := range run.Entries {
		sales := salesByShop[data.Entry.ShopID]
		if sales == nil {
			continue
		}
		agg := sales[id]
		data.Revenue = agg.Revenue
		data.Purchases = agg.Purchases
		for _, sibling := range groups[id] {
			sAgg := sales[sibling]
			data.Revenue += sAgg.Revenue
			data.Purchases += sAgg.Purchases
		}
	}
}

// loadRollups fills the teaser-scoped CTR rollups and the entry-level sums.
func (p *Preloader) loadRollups(ctx context.Context, run *Context, shops map[int64]catalog.Shop, now time.Time) {
	byShop := make(map[int64][]int64)
	for id, data := range run.Entries {
		byShop[data.Entry.ShopID] = append(byShop[data.Entry.ShopID], id)
	}

	for shopID, ids := range byShop {
		since := now.AddDate(0, 0, -shops[shopID].CTRWindowDays)
		rollups, err := p.aggregates.RollupsSince(ctx, ids, since)
		if err != nil {
			p.logger.Warn("failed to load CTR rollups, CTR variables default to 0",
				"shop_id", shopID, "error", err)
			continue
		}
		for _, r := range rollups {
			data := run.Entries[r.EntryID]
			if data == nil {
				continue
			}
			data.rollups[rollupKey{docID: r.DocID, docType: r.DocType}] = r
			data.ClicksAll += r.Clicks
			data.ImpressionsAll += r.Impressions
		}
	}

	for _, data := range run.Entries {
		if data.ImpressionsAll > 0 {
			// CTRAll keeps one extra decimal of precision over the
			// published values.
			data.CTRAll = math.Round(float64(data.ClicksAll)/float64(data.ImpressionsAll)*10000) / 10000
		}
	}
}

// loadAvailability fills the per-shop availability computations.
func (p *Preloader) loadAvailability(ctx context.Context, run *Context, shops map[int64]catalog.Shop, entries []catalog.Entry, now time.Time) {
	var containerIDs []int64
	shopIDs := make(map[int64]bool)
	for _, e := range entries {
		shopIDs[e.ShopID] = true
		if e.ContainerID != 0 {
			containerIDs = append(containerIDs, e.ContainerID)
		}
	}

	arrivals, err := p.catalog.ContainerArrivals(ctx, dedupe(containerIDs))
	if err != nil {
		p.logger.Warn("failed to load container arrivals, container availability defaults to 0", "error", err)
		arrivals = map[int64]time.Time{}
	}

	for shopID := range shopIDs {
		table, err := p.catalog.AvailabilityTable(ctx, shopID)
		if err != nil {
			p.logger.Warn("failed to load availability table, availability factor defaults to 0",
				"shop_id", shopID, "error", err)
			continue
		}
		run.availability[shopID] = NewAvailability(table, shops[shopID].OnStockFactor, arrivals, now)
	}
}

// loadCategoryEntries fills the per-(category, shop) live entry lists used
// by the order-statistics ranking functions.
func (p *Preloader) loadCategoryEntries(ctx context.Context, run *Context) {
	catSet := make(map[int64]bool)
	for _, data := range run.Entries {
		for _, a := range data.Categories {
			catSet[a.CategoryID] = true
		}
	}
	catIDs := make([]int64, 0, len(catSet))
	for id := range catSet {
		catIDs = append(catIDs, id)
	}

	lists, err := p.catalog.LiveEntryIDsByCategories(ctx, catIDs)
	if err != nil {
		p.logger.Warn("failed to load category entry lists, ranking functions default to empty lists", "error", err)
		lists = map[catalog.CategoryKey][]int64{}
	}
	run.CategoryEntries = lists
}

// dedupe removes duplicate ids, preserving order.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
