package ranking

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
)

// LookupOptions narrows a ranking lookup. A zero DocID matches every
// document, a zero CategoryID disables the exact-category preference and an
// empty DocType defaults to the primary teaser.
type LookupOptions struct {
	DocID         int64
	CategoryID    int64
	DocType       catalog.DocType
	GroupFallback bool
}

// Reader serves ranking lookups over published records. Lookups never fail:
// a missing record, a store error or a suppressed value all read as 0 so
// listing code can sort unconditionally. Records fetched once are cached for
// the Reader's lifetime; use Preload to batch-fetch before a listing pass.
type Reader struct {
	store  RecordStore
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[int64]*Record
}

// NewReader creates a Reader over the given record store.
func NewReader(store RecordStore, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		store:  store,
		logger: logger,
		cache:  make(map[int64]*Record),
	}
}

// Preload batch-fetches records for the given entries into the cache. With
// withGroups set, the group siblings referenced by those records are fetched
// in a second round so group fallback lookups stay off the network.
func (r *Reader) Preload(ctx context.Context, entryIDs []int64, withGroups bool) error {
	missing := r.uncached(entryIDs)
	if len(missing) == 0 {
		return nil
	}
	records, err := r.store.GetMulti(ctx, missing)
	if err != nil {
		return err
	}
	r.cacheAll(missing, records)

	if !withGroups {
		return nil
	}
	var siblings []int64
	for _, rec := range records {
		if rec != nil {
			siblings = append(siblings, rec.GroupIDs...)
		}
	}
	siblings = r.uncached(siblings)
	if len(siblings) == 0 {
		return nil
	}
	siblingRecords, err := r.store.GetMulti(ctx, siblings)
	if err != nil {
		return err
	}
	r.cacheAll(siblings, siblingRecords)
	return nil
}

// GetRanking returns the ranking value for one entry. The new-article value
// wins when present, then the teaser value; with GroupFallback set the
// result is raised to the best primary-teaser value among the entry's group
// siblings.
func (r *Reader) GetRanking(ctx context.Context, entryID int64, opts LookupOptions) float64 {
	if opts.DocType == "" {
		opts.DocType = catalog.DocTypePrimary
	}

	rec := r.record(ctx, entryID)
	if rec == nil {
		return 0
	}

	value := lookupRecord(rec, opts)
	if !opts.GroupFallback {
		return value
	}

	siblingOpts := LookupOptions{CategoryID: opts.CategoryID, DocType: catalog.DocTypePrimary}
	for _, siblingID := range rec.GroupIDs {
		sibling := r.record(ctx, siblingID)
		if sibling == nil {
			continue
		}
		if v := lookupRecord(sibling, siblingOpts); v > value {
			value = v
		}
	}
	return value
}

// TeasersOf returns the published teaser tuples of one entry, or nil when no
// record exists. Intended for inspection tooling.
func (r *Reader) TeasersOf(ctx context.Context, entryID int64) []Tuple {
	rec := r.record(ctx, entryID)
	if rec == nil {
		return nil
	}
	return rec.Teasers
}

// record returns an entry's record from the cache, fetching and caching it
// on a miss. Absent records are cached as nil so repeated misses stay cheap.
func (r *Reader) record(ctx context.Context, entryID int64) *Record {
	r.mu.RLock()
	rec, ok := r.cache[entryID]
	r.mu.RUnlock()
	if ok {
		return rec
	}

	rec, err := r.store.Get(ctx, entryID)
	if err != nil {
		r.logger.Warn("ranking lookup failed, reading as 0", "entry_id", entryID, "error", err)
		return nil
	}
	r.mu.Lock()
	r.cache[entryID] = rec
	r.mu.Unlock()
	return rec
}

func (r *Reader) uncached(entryIDs []int64) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []int64
	seen := make(map[int64]struct{}, len(entryIDs))
	for _, id := range entryIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := r.cache[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func (r *Reader) cacheAll(ids []int64, records map[int64]*Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.cache[id] = records[id]
	}
}

// lookupRecord scans the new-article tuples and then the teaser tuples,
// returning the first positive match. Within one sub-collection an
// exact-category tuple wins; otherwise the maximum across the matching
// tuples is taken.
func lookupRecord(rec *Record, opts LookupOptions) float64 {
	if v := lookupTuples(rec.NewArticles, opts); v > 0 {
		return v
	}
	return lookupTuples(rec.Teasers, opts)
}

func lookupTuples(tuples []Tuple, opts LookupOptions) float64 {
	max := 0.0
	for _, t := range tuples {
		if opts.DocID != 0 && t.DocID != opts.DocID {
			continue
		}
		if t.DocType != opts.DocType {
			continue
		}
		if opts.CategoryID != 0 && t.CategoryID == opts.CategoryID {
			return float64(t.Value)
		}
		if float64(t.Value) > max {
			max = float64(t.Value)
		}
	}
	return max
}
