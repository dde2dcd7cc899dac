package ranking

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestPublisher(store RecordStore) *Publisher {
	p := NewPublisher(store, nil, nil, 5*time.Second, time.Hour, nil)
	p.sleep = func(time.Duration) {}
	return p
}

func TestPublishTargeted(t *testing.T) {
	store := newMemoryRecordStore()
	store.live[2] = &Record{Teasers: []Tuple{{DocID: 9, Value: 1}}}
	p := newTestPublisher(store)

	records := map[int64]*Record{
		1: {Teasers: []Tuple{{DocID: 100, DocType: "primary", CategoryID: 7, Value: 2}}},
	}
	report, err := p.Publish(context.Background(), records, false)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if report.Entries != 1 {
		t.Errorf("report.Entries = %d, want 1", report.Entries)
	}
	if store.live[1] == nil {
		t.Error("entry 1 not written")
	}
	if store.live[2] == nil {
		t.Error("targeted publish must not touch other entries")
	}
}

func TestPublishFullReplacesCollection(t *testing.T) {
	store := newMemoryRecordStore()
	store.live[99] = &Record{Teasers: []Tuple{{DocID: 1, Value: 1}}}
	p := newTestPublisher(store)

	records := map[int64]*Record{
		1: {Teasers: []Tuple{{DocID: 100, DocType: "primary", Value: 2}}},
	}
	if _, err := p.Publish(context.Background(), records, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if store.live[99] != nil {
		t.Error("stale entry survived a full publish")
	}
	if store.live[1] == nil {
		t.Error("entry 1 missing after full publish")
	}
	if store.cleared != 1 {
		t.Errorf("staging cleared %d times, want 1", store.cleared)
	}
}

func TestPublishFullPromoteFailureKeepsLiveData(t *testing.T) {
	store := newMemoryRecordStore()
	store.live[99] = &Record{Teasers: []Tuple{{DocID: 1, Value: 1}}}
	store.promoteErr = errors.New("rename failed")
	p := newTestPublisher(store)

	records := map[int64]*Record{
		1: {Teasers: []Tuple{{DocID: 100, DocType: "primary", Value: 2}}},
	}
	_, err := p.Publish(context.Background(), records, true)
	if err == nil {
		t.Fatal("Publish() error = nil, want promote failure")
	}
	if store.live[99] == nil {
		t.Error("live collection lost despite failed promote")
	}
	if store.live[1] != nil {
		t.Error("staged entry leaked into the live collection")
	}
}

func TestPublishDropsSuppressedTuples(t *testing.T) {
	store := newMemoryRecordStore()
	p := newTestPublisher(store)

	records := map[int64]*Record{
		1: {
			NewArticles: []Tuple{
				{DocID: 100, DocType: "primary", CategoryID: 7, Value: Value(Sentinel)},
				{DocID: 100, DocType: "primary", CategoryID: 8, Value: 3},
			},
		},
		2: {NewArticles: []Tuple{{DocID: 200, DocType: "primary", Value: Value(Sentinel)}}},
	}
	report, err := p.Publish(context.Background(), records, false)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if report.DroppedTuples != 2 {
		t.Errorf("report.DroppedTuples = %d, want 2", report.DroppedTuples)
	}
	if report.DroppedRecords != 1 {
		t.Errorf("report.DroppedRecords = %d, want 1", report.DroppedRecords)
	}
	if got := len(store.live[1].NewArticles); got != 1 {
		t.Errorf("entry 1 kept %d tuples, want 1", got)
	}
	if store.live[2] != nil {
		t.Error("fully suppressed record must not be written")
	}
}

func TestPublishKeepsGroupOnlyRecords(t *testing.T) {
	store := newMemoryRecordStore()
	p := newTestPublisher(store)

	records := map[int64]*Record{1: {GroupIDs: []int64{4, 5}}}
	if _, err := p.Publish(context.Background(), records, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	rec := store.live[1]
	if rec == nil || len(rec.GroupIDs) != 2 {
		t.Fatalf("group-only record = %+v, want group ids kept", rec)
	}
}
