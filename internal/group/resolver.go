// Package group computes multi-entry groups: the sets of sibling entries
// that must share a ranking value.
package group

import (
	"context"
	"log/slog"
	"sort"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/catalog"
)

// Store is the catalog surface the resolver needs. Satisfied by
// catalog.Repository.
type Store interface {
	EntriesByIDs(ctx context.Context, ids []int64) ([]catalog.Entry, error)
	EntriesByGroupKeys(ctx context.Context, keys []string) ([]catalog.Entry, error)
	SlavesByMasterIDs(ctx context.Context, masterIDs []int64) ([]catalog.Entry, error)
}

// Resolver computes sibling sets per entry.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver creates a new Resolver.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		logger: logger,
	}
}

// ResolveGroups returns, per requested entry, the ids of the siblings that
// share its ranking. Two rules are applied as a union:
//
//   - a non-master entry with a group key is grouped with every live entry
//     sharing that key under the same owner and site;
//   - a master entry is grouped with the slave entries of every other master
//     sharing its group key.
//
// The entry itself is never in its own sibling set. Entries absent from the
// result have no siblings.
func (r *Resolver) ResolveGroups(ctx context.Context, entryIDs []int64) (map[int64][]int64, error) {
	entries, err := r.store.EntriesByIDs(ctx, entryIDs)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return map[int64][]int64{}, nil
	}

	keySet := make(map[string]bool)
	for _, e := range entries {
		if e.GroupKey != "" {
			keySet[e.GroupKey] = true
		}
	}
	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}

	candidates, err := r.store.EntriesByGroupKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string][]catalog.Entry)
	for _, c := range candidates {
		byKey[c.GroupKey] = append(byKey[c.GroupKey], c)
	}

	// Rule (b) needs the slaves of the candidate masters.
	var masterIDs []int64
	for _, c := range candidates {
		if c.IsMaster {
			masterIDs = append(masterIDs, c.ID)
		}
	}
	slaves, err := r.store.SlavesByMasterIDs(ctx, masterIDs)
	if err != nil {
		return nil, err
	}
	slavesByMaster := make(map[int64][]catalog.Entry)
	for _, s := range slaves {
		slavesByMaster[s.MasterID] = append(slavesByMaster[s.MasterID], s)
	}

	groups := make(map[int64][]int64)
	for _, e := range entries {
		if e.GroupKey == "" {
			continue
		}

		siblings := make(map[int64]bool)
		if e.IsMaster {
			for _, other := range byKey[e.GroupKey] {
				if !other.IsMaster || other.ID == e.ID {
					continue
				}
				for _, slave := range slavesByMaster[other.ID] {
					siblings[slave.ID] = true
				}
			}
		} else {
			for _, other := range byKey[e.GroupKey] {
				if !other.Live() || other.OwnerKey != e.OwnerKey || other.SiteKey != e.SiteKey {
					continue
				}
				siblings[other.ID] = true
			}
		}
		delete(siblings, e.ID)

		if len(siblings) == 0 {
			continue
		}
		ids := make([]int64, 0, len(siblings))
		for id := range siblings {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		groups[e.ID] = ids
	}

	return groups, nil
}
