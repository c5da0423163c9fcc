package progress

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/rotisserie/eris"
)

var (
	metaKey       = []byte("meta")
	outcomePrefix = []byte("outcome/")
)

func outcomeKey(id string) []byte {
	return append(append([]byte{}, outcomePrefix...), id...)
}

// BadgerTracker keeps the record in a badger database: one meta key plus one
// key per outcome.
type BadgerTracker struct {
	db    *badger.DB
	owned bool
}

// OpenBadger opens (or creates) a badger database in dir.
func OpenBadger(dir string) (*BadgerTracker, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "progress: resolve %s", dir)
	}
	db, err := badger.Open(badger.DefaultOptions(abs).WithLogger(nil))
	if err != nil {
		return nil, eris.Wrapf(err, "progress: open badger %s", abs)
	}
	return &BadgerTracker{db: db, owned: true}, nil
}

// NewBadgerTracker wraps an open database. The caller keeps ownership.
func NewBadgerTracker(db *badger.DB) *BadgerTracker {
	return &BadgerTracker{db: db}
}

func (t *BadgerTracker) Load(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "progress: load")
	}

	rec := &Record{Version: Version, Outcomes: make(map[string]Outcome)}
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, rec)
		}); err != nil {
			return err
		}
		if err := rec.checkVersion(); err != nil {
			return err
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(outcomePrefix); it.ValidForPrefix(outcomePrefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(outcomePrefix):])
			var o Outcome
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &o)
			}); err != nil {
				return eris.Wrapf(err, "decode outcome %s", id)
			}
			rec.Outcomes[id] = o
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "progress: badger load")
	}
	return rec, nil
}

// Save writes the record in a single transaction, dropping outcomes no
// longer present in rec.
func (t *BadgerTracker) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "progress: save")
	}
	rec.Version = Version
	rec.UpdatedAt = time.Now().UTC()

	meta := *rec
	meta.Outcomes = nil
	metaVal, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "progress: encode meta")
	}

	err = t.db.Update(func(txn *badger.Txn) error {
		var stale [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Seek(outcomePrefix); it.ValidForPrefix(outcomePrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, ok := rec.Outcomes[string(key[len(outcomePrefix):])]; !ok {
				stale = append(stale, key)
			}
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		if err := txn.Set(metaKey, metaVal); err != nil {
			return err
		}
		for id, o := range rec.Outcomes {
			val, err := json.Marshal(o)
			if err != nil {
				return eris.Wrapf(err, "encode outcome %s", id)
			}
			if err := txn.Set(outcomeKey(id), val); err != nil {
				return err
			}
		}
		return nil
	})
	return eris.Wrap(err, "progress: badger save")
}

func (t *BadgerTracker) Close() error {
	if !t.owned || t.db == nil {
		return nil
	}
	return eris.Wrap(t.db.Close(), "progress: close badger")
}
