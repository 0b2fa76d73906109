package store

import (
	"bytes"
	"fmt"

	"context"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is a Store backed by an embedded BadgerDB, used where a
// durable, dependency-free on-disk cache is wanted (e.g. the cross-instance
// persistence scenario in spec §8, or cmd/qcachebench). Opened the same
// way vjranagit-prometheus opens its own Badger-backed storage: default
// options rooted at a directory, logging disabled.
type BadgerStore struct {
	db *badger.DB
}

const (
	badgerFlatPrefix    = "kv:"
	badgerRecordsPrefix = "rec:"
)

// OpenBadgerStore opens (creating if necessary) a BadgerDB at dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger at %q: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying BadgerDB handle.
func (b *BadgerStore) Close() error { return b.db.Close() }

func (b *BadgerStore) Init(ctx context.Context) error { return nil }

// Driver identifies this implementation for metrics labeling.
func (b *BadgerStore) Driver() string { return "badger" }

func flatKey(key string) []byte { return []byte(badgerFlatPrefix + key) }

func recordKey(storeName, id string) []byte {
	return []byte(badgerRecordsPrefix + storeName + ":" + id)
}

func recordPrefix(storeName string) []byte {
	return []byte(badgerRecordsPrefix + storeName + ":")
}

func (b *BadgerStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	found := true

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(flatKey(key))
		if err == badger.ErrKeyNotFound {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, fmt.Errorf("store: badger get %q: %w", key, err)
	}
	return value, found, nil
}

func (b *BadgerStore) Set(ctx context.Context, key, value string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(flatKey(key), []byte(value))
	})
}

func (b *BadgerStore) Delete(ctx context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(flatKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (b *BadgerStore) Clear(ctx context.Context) error {
	return b.dropPrefix([]byte(badgerFlatPrefix))
}

func (b *BadgerStore) GetRecord(ctx context.Context, storeName, id string) (Record, bool, error) {
	var rec Record
	found := true

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(storeName, id))
		if err == badger.ErrKeyNotFound {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec = Record{ID: id, Data: append([]byte(nil), val...)}
			return nil
		})
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("store: badger get record %q/%q: %w", storeName, id, err)
	}
	return rec, found, nil
}

func (b *BadgerStore) SetRecord(ctx context.Context, storeName string, rec Record) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(storeName, rec.ID), rec.Data)
	})
}

func (b *BadgerStore) DeleteRecord(ctx context.Context, storeName, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(recordKey(storeName, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (b *BadgerStore) GetRecords(ctx context.Context, storeName string) ([]Record, error) {
	var out []Record
	prefix := recordPrefix(storeName)

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := bytes.TrimPrefix(item.KeyCopy(nil), prefix)
			err := item.Value(func(val []byte) error {
				out = append(out, Record{ID: string(id), Data: append([]byte(nil), val...)})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: badger iterate %q: %w", storeName, err)
	}
	return out, nil
}

func (b *BadgerStore) SetRecords(ctx context.Context, storeName string, records []Record) error {
	if err := b.ClearStore(ctx, storeName); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, rec := range records {
			if err := txn.Set(recordKey(storeName, rec.ID), rec.Data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) DeleteRecords(ctx context.Context, storeName string, ids []string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete(recordKey(storeName, id)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) ClearStore(ctx context.Context, storeName string) error {
	return b.dropPrefix(recordPrefix(storeName))
}

func (b *BadgerStore) dropPrefix(prefix []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
