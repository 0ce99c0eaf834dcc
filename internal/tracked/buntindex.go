package tracked

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

// BuntIndex backs Index with an embedded buntdb database. Every Upsert
// runs inside a single buntdb.Update transaction; buntdb serialises all
// writers against one database-wide lock, which gives the per-key
// read-modify-write the linearisability Upsert requires without a
// separate lock table, a whole-database write lock is the buntdb-native
// way to get the same per-key guarantee.
type BuntIndex struct {
	db *buntdb.DB
}

type record struct {
	Name             string    `json:"name"`
	SourceStorageID  string    `json:"sourceStorageId"`
	TargetStorageIDs []string  `json:"targetStorageIds"`
	LastSeen         time.Time `json:"lastSeen"`
}

func itemKey(name string) string { return "tmi:" + name }

func toRecord(item *Item) record {
	r := record{
		Name:            item.Name,
		SourceStorageID: item.SourceStorageID,
		LastSeen:        item.LastSeen,
	}
	for id := range item.TargetStorageIDs {
		r.TargetStorageIDs = append(r.TargetStorageIDs, id)
	}
	return r
}

func fromRecord(r record) *Item {
	item := &Item{
		Name:             r.Name,
		SourceStorageID:  r.SourceStorageID,
		LastSeen:         r.LastSeen,
		TargetStorageIDs: make(map[string]struct{}, len(r.TargetStorageIDs)),
	}
	for _, id := range r.TargetStorageIDs {
		item.TargetStorageIDs[id] = struct{}{}
	}
	return item
}

// NewBuntIndex opens (creating if necessary) a buntdb-backed index at
// path. Use ":memory:" for a non-persistent instance.
func NewBuntIndex(path string) (*BuntIndex, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "tracked: open buntdb")
	}
	if err := db.CreateIndex("bySource", "tmi:*", buntdb.IndexJSON("sourceStorageId")); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "tracked: create source index")
	}
	return &BuntIndex{db: db}, nil
}

func (b *BuntIndex) GetByName(name string) (*Item, bool, error) {
	var item *Item
	err := b.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(itemKey(name))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var r record
		if err := json.Unmarshal([]byte(val), &r); err != nil {
			return err
		}
		item = fromRecord(r)
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "tracked: get")
	}
	return item, item != nil, nil
}

func (b *BuntIndex) Put(item *Item) error {
	buf, err := json.Marshal(toRecord(item))
	if err != nil {
		return errors.Wrap(err, "tracked: marshal")
	}
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(itemKey(item.Name), string(buf), nil)
		return err
	})
}

func (b *BuntIndex) Upsert(name string, fn UpsertFunc) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		var current *Item
		val, err := tx.Get(itemKey(name))
		switch {
		case err == buntdb.ErrNotFound:
			current = nil
		case err != nil:
			return err
		default:
			var r record
			if err := json.Unmarshal([]byte(val), &r); err != nil {
				return err
			}
			current = fromRecord(r)
		}

		next := fn(current)
		if next == nil {
			return nil
		}

		buf, err := json.Marshal(toRecord(next))
		if err != nil {
			return err
		}
		_, _, err = tx.Set(itemKey(name), string(buf), nil)
		return err
	})
}

func (b *BuntIndex) Remove(item *Item) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(itemKey(item.Name))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

func (b *BuntIndex) GetStale(pred StalePredicate) ([]*Item, error) {
	var stale []*Item
	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendEqual("bySource", `{"sourceStorageId":"`+pred.SourceStorageID+`"}`, func(key, val string) bool {
			var r record
			if err := json.Unmarshal([]byte(val), &r); err != nil {
				return true
			}
			if r.LastSeen.Before(pred.Before) {
				stale = append(stale, fromRecord(r))
			}
			return true
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "tracked: get stale")
	}
	return stale, nil
}

func (b *BuntIndex) Close() error {
	return b.db.Close()
}
