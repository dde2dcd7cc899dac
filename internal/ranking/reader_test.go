package ranking

import (
	"context"
	"errors"
	"testing"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
)

func TestGetRankingPrefersNewArticleValue(t *testing.T) {
	store := newMemoryRecordStore()
	store.live[1] = &Record{
		NewArticles: []Tuple{{DocID: 100, DocType: catalog.DocTypePrimary, CategoryID: 7, Value: 9}},
		Teasers:     []Tuple{{DocID: 100, DocType: catalog.DocTypePrimary, CategoryID: 7, Value: 2}},
	}
	r := NewReader(store, nil)

	if got := r.GetRanking(context.Background(), 1, LookupOptions{}); got != 9 {
		t.Errorf("GetRanking() = %v, want new-article value 9", got)
	}
}

func TestGetRankingFallsThroughZeroNewArticle(t *testing.T) {
	store := newMemoryRecordStore()
	store.live[1] = &Record{
		NewArticles: []Tuple{{DocID: 100, DocType: catalog.DocTypePrimary, Value: 0}},
		Teasers:     []Tuple{{DocID: 100, DocType: catalog.DocTypePrimary, Value: 2.5}},
	}
	r := NewReader(store, nil)

	if got := r.GetRanking(context.Background(), 1, LookupOptions{}); got != 2.5 {
		t.Errorf("GetRanking() = %v, want teaser value 2.5", got)
	}
}

func TestGetRankingCategoryMatch(t *testing.T) {
	store := newMemoryRecordStore()
	store.live[1] = &Record{
		Teasers: []Tuple{
			{DocID: 100, DocType: catalog.DocTypePrimary, CategoryID: 7, Value: 2},
			{DocID: 100, DocType: catalog.DocTypePrimary, CategoryID: 8, Value: 6},
		},
	}
	r := NewReader(store, nil)

	if got := r.GetRanking(context.Background(), 1, LookupOptions{CategoryID: 7}); got != 2 {
		t.Errorf("exact category = %v, want 2", got)
	}
	if got := r.GetRanking(context.Background(), 1, LookupOptions{CategoryID: 99}); got != 6 {
		t.Errorf("unknown category = %v, want max 6", got)
	}
	if got := r.GetRanking(context.Background(), 1, LookupOptions{}); got != 6 {
		t.Errorf("no category = %v, want max 6", got)
	}
}

func TestGetRankingDefaultsToPrimaryDocType(t *testing.T) {
	store := newMemoryRecordStore()
	store.live[1] = &Record{
		Teasers: []Tuple{{DocID: 100, DocType: catalog.DocTypeColor, Value: 4}},
	}
	r := NewReader(store, nil)

	if got := r.GetRanking(context.Background(), 1, LookupOptions{}); got != 0 {
		t.Errorf("GetRanking() = %v, want 0 for non-primary-only record", got)
	}
	opts := LookupOptions{DocType: catalog.DocTypeColor}
	if got := r.GetRanking(context.Background(), 1, opts); got != 4 {
		t.Errorf("GetRanking(color) = %v, want 4", got)
	}
}

func TestGetRankingGroupFallback(t *testing.T) {
	store := newMemoryRecordStore()
	store.live[1] = &Record{
		Teasers:  []Tuple{{DocID: 100, DocType: catalog.DocTypePrimary, Value: 2}},
		GroupIDs: []int64{2},
	}
	store.live[2] = &Record{
		Teasers: []Tuple{{DocID: 200, DocType: catalog.DocTypePrimary, Value: 7}},
	}
	r := NewReader(store, nil)

	if got := r.GetRanking(context.Background(), 1, LookupOptions{}); got != 2 {
		t.Errorf("without fallback = %v, want own value 2", got)
	}
	opts := LookupOptions{GroupFallback: true}
	if got := r.GetRanking(context.Background(), 1, opts); got != 7 {
		t.Errorf("with fallback = %v, want sibling value 7", got)
	}
}

func TestGetRankingMissingRecordReadsAsZero(t *testing.T) {
	r := NewReader(newMemoryRecordStore(), nil)
	if got := r.GetRanking(context.Background(), 42, LookupOptions{}); got != 0 {
		t.Errorf("GetRanking() = %v, want 0", got)
	}
}

func TestGetRankingStoreErrorReadsAsZero(t *testing.T) {
	store := newMemoryRecordStore()
	store.getErr = errors.New("connection refused")
	r := NewReader(store, nil)

	if got := r.GetRanking(context.Background(), 1, LookupOptions{}); got != 0 {
		t.Errorf("GetRanking() = %v, want 0 on store error", got)
	}
}

func TestPreloadCachesRecords(t *testing.T) {
	store := newMemoryRecordStore()
	store.live[1] = &Record{Teasers: []Tuple{{DocID: 100, DocType: catalog.DocTypePrimary, Value: 3}}}
	store.live[2] = &Record{Teasers: []Tuple{{DocID: 200, DocType: catalog.DocTypePrimary, Value: 4}}}
	r := NewReader(store, nil)

	if err := r.Preload(context.Background(), []int64{1, 2, 3}, false); err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	before := store.getCalls

	r.GetRanking(context.Background(), 1, LookupOptions{})
	r.GetRanking(context.Background(), 2, LookupOptions{})
	r.GetRanking(context.Background(), 3, LookupOptions{})

	if store.getCalls != before {
		t.Errorf("store fetched %d more times after preload, want 0", store.getCalls-before)
	}
}

func TestPreloadWithGroupsFetchesSiblings(t *testing.T) {
	store := newMemoryRecordStore()
	store.live[1] = &Record{GroupIDs: []int64{2}}
	store.live[2] = &Record{Teasers: []Tuple{{DocID: 200, DocType: catalog.DocTypePrimary, Value: 7}}}
	r := NewReader(store, nil)

	if err := r.Preload(context.Background(), []int64{1}, true); err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	before := store.getCalls

	opts := LookupOptions{GroupFallback: true}
	if got := r.GetRanking(context.Background(), 1, opts); got != 7 {
		t.Errorf("GetRanking() = %v, want 7", got)
	}
	if store.getCalls != before {
		t.Error("group fallback hit the store despite preloaded siblings")
	}
}

func TestTeasersOf(t *testing.T) {
	store := newMemoryRecordStore()
	store.live[1] = &Record{Teasers: []Tuple{
		{DocID: 100, DocType: catalog.DocTypePrimary, CategoryID: 7, Value: 3},
	}}
	r := NewReader(store, nil)

	tuples := r.TeasersOf(context.Background(), 1)
	if len(tuples) != 1 || tuples[0].DocID != 100 {
		t.Errorf("TeasersOf() = %+v, want the published teaser tuple", tuples)
	}
	if got := r.TeasersOf(context.Background(), 2); got != nil {
		t.Errorf("TeasersOf(missing) = %+v, want nil", got)
	}
}
