package group

import (
	"context"
	"reflect"
	"testing"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
)

// fakeStore serves entries from an in-memory slice.
type fakeStore struct {
	entries []catalog.Entry
}

func (s *fakeStore) EntriesByIDs(ctx context.Context, ids []int64) ([]catalog.Entry, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []catalog.Entry
	for _, e := range s.entries {
		if want[e.ID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) EntriesByGroupKeys(ctx context.Context, keys []string) ([]catalog.Entry, error) {
	want := make(map[string]bool, len(keys))
	for _, key := range keys {
		want[key] = true
	}
	var out []catalog.Entry
	for _, e := range s.entries {
		if want[e.GroupKey] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) SlavesByMasterIDs(ctx context.Context, masterIDs []int64) ([]catalog.Entry, error) {
	want := make(map[int64]bool, len(masterIDs))
	for _, id := range masterIDs {
		want[id] = true
	}
	var out []catalog.Entry
	for _, e := range s.entries {
		if e.MasterID != 0 && want[e.MasterID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestResolveGroups_NonMasterSiblings(t *testing.T) {
	store := &fakeStore{entries: []catalog.Entry{
		{ID: 1, GroupKey: "g1", OwnerKey: "o1", SiteKey: "de"},
		{ID: 2, GroupKey: "g1", OwnerKey: "o1", SiteKey: "de"},
		{ID: 3, GroupKey: "g1", OwnerKey: "o1", SiteKey: "de", Inactive: true},
		{ID: 4, GroupKey: "g1", OwnerKey: "o1", SiteKey: "de", Stale: true},
		{ID: 5, GroupKey: "g1", OwnerKey: "o2", SiteKey: "de"},
		{ID: 6, GroupKey: "g1", OwnerKey: "o1", SiteKey: "at"},
		{ID: 7, GroupKey: "g2", OwnerKey: "o1", SiteKey: "de"},
	}}

	r := NewResolver(store, nil)
	groups, err := r.ResolveGroups(context.Background(), []int64{1})
	if err != nil {
		t.Fatalf("ResolveGroups failed: %v", err)
	}

	// Only the live sibling with the same key, owner, and site qualifies.
	want := map[int64][]int64{1: {2}}
	if !reflect.DeepEqual(groups, want) {
		t.Errorf("ResolveGroups = %v, want %v", groups, want)
	}
}

func TestResolveGroups_MasterCollectsOtherMastersSlaves(t *testing.T) {
	store := &fakeStore{entries: []catalog.Entry{
		{ID: 10, GroupKey: "g1", IsMaster: true},
		{ID: 20, GroupKey: "g1", IsMaster: true},
		{ID: 21, MasterID: 20},
		{ID: 22, MasterID: 20},
		{ID: 11, MasterID: 10}, // own slave, never a sibling of its master here
		{ID: 30, GroupKey: "g2", IsMaster: true},
		{ID: 31, MasterID: 30},
	}}

	r := NewResolver(store, nil)
	groups, err := r.ResolveGroups(context.Background(), []int64{10})
	if err != nil {
		t.Fatalf("ResolveGroups failed: %v", err)
	}

	want := map[int64][]int64{10: {21, 22}}
	if !reflect.DeepEqual(groups, want) {
		t.Errorf("ResolveGroups = %v, want %v", groups, want)
	}
}

func TestResolveGroups_NoGroupKey(t *testing.T) {
	store := &fakeStore{entries: []catalog.Entry{
		{ID: 1, OwnerKey: "o1", SiteKey: "de"},
	}}

	r := NewResolver(store, nil)
	groups, err := r.ResolveGroups(context.Background(), []int64{1})
	if err != nil {
		t.Fatalf("ResolveGroups failed: %v", err)
	}

	if len(groups) != 0 {
		t.Errorf("expected empty result for ungrouped entry, got %v", groups)
	}
}

func TestResolveGroups_SelfExcluded(t *testing.T) {
	store := &fakeStore{entries: []catalog.Entry{
		{ID: 1, GroupKey: "g1", OwnerKey: "o1", SiteKey: "de"},
		{ID: 2, GroupKey: "g1", OwnerKey: "o1", SiteKey: "de"},
	}}

	r := NewResolver(store, nil)
	groups, err := r.ResolveGroups(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("ResolveGroups failed: %v", err)
	}

	for id, siblings := range groups {
		for _, sibling := range siblings {
			if sibling == id {
				t.Errorf("entry %d lists itself as a sibling", id)
			}
		}
	}
	if !reflect.DeepEqual(groups[1], []int64{2}) || !reflect.DeepEqual(groups[2], []int64{1}) {
		t.Errorf("expected symmetric groups, got %v", groups)
	}
}
