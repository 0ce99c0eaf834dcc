// Package tracked implements the tracked-media index: the persistent
// map from file name to {sourceStorageId, targetStorageIds, lastSeen,
// name} that the generator and worker use to decide whether a file is
// already known and where it has successfully replicated to.
//
// Index is the contract the rest of the system relies on. MemIndex and
// BuntIndex are two concrete, exercised
// implementations: an in-process map for tests and small deployments,
// and a buntdb-backed store for anything that needs the index to
// survive a restart.
package tracked

import "time"

// Item is one tracked-media record (TMI). Identity is Name.
type Item struct {
	Name             string
	SourceStorageID  string
	TargetStorageIDs map[string]struct{}
	LastSeen         time.Time
}

// Clone returns a deep copy so callers mutating the result of a Get
// cannot corrupt the index's own state out from under an Upsert.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := &Item{
		Name:            i.Name,
		SourceStorageID: i.SourceStorageID,
		LastSeen:        i.LastSeen,
	}
	c.TargetStorageIDs = make(map[string]struct{}, len(i.TargetStorageIDs))
	for k := range i.TargetStorageIDs {
		c.TargetStorageIDs[k] = struct{}{}
	}
	return c
}

// HasTarget reports whether storageID is among the item's successfully
// replicated targets.
func (i *Item) HasTarget(storageID string) bool {
	_, ok := i.TargetStorageIDs[storageID]
	return ok
}

// UpsertFunc is applied atomically to the current item (nil if absent).
// Returning nil means "no write" ("if fn returns undefined,
// no write occurs").
type UpsertFunc func(current *Item) *Item

// StalePredicate selects tracked items whose LastSeen is strictly
// before Before, scoped to one source storage: the initial-scan
// stale-sweep query.
type StalePredicate struct {
	SourceStorageID string
	Before          time.Time
}

// Index is the contract consumed by the generator and worker. Upsert
// must be serialisable per key: concurrent copy
// completions for the same file must both observe and produce a
// consistent TargetStorageIDs set, with no lost append.
type Index interface {
	GetByName(name string) (*Item, bool, error)
	Put(item *Item) error
	Upsert(name string, fn UpsertFunc) error
	Remove(item *Item) error
	GetStale(pred StalePredicate) ([]*Item, error)
	Close() error
}
