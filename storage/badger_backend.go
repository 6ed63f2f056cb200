package storage

import (
	"errors"
	"io"

	"github.com/dgraph-io/badger/v2"
)

type BadgerBackendConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Truncate   bool
}

func TestBadgerBackendConfig() *BadgerBackendConfig {
	return &BadgerBackendConfig{InMemory: true}
}

// OpenBadger opens a badger database with badger's own logging disabled.
func OpenBadger(config *BadgerBackendConfig) (*badger.DB, error) {
	var option badger.Options
	if config.InMemory {
		option = badger.DefaultOptions("").WithInMemory(true)
	} else {
		option = badger.DefaultOptions(config.Path).
			WithSyncWrites(config.SyncWrites).
			WithTruncate(config.Truncate)
	}
	return badger.Open(option.WithLogger(nil))
}

func TestBadgerDB() *badger.DB {
	db, err := OpenBadger(TestBadgerBackendConfig())
	if err != nil {
		panic(err)
	}
	return db
}

type BadgerBackend struct {
	db *badger.DB
}

func NewBadgerBackend(db *badger.DB) *BadgerBackend {
	return &BadgerBackend{db: db}
}

func (backend *BadgerBackend) DB() *badger.DB {
	return backend.db
}

func (backend *BadgerBackend) Close() error {
	return backend.db.Close()
}

func (backend *BadgerBackend) Get(key []byte) ([]byte, error) {
	var blockBytes []byte
	err := backend.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		blockBytes, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	return blockBytes, err
}

func (backend *BadgerBackend) Put(key, buf []byte) error {
	return backend.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

func (backend *BadgerBackend) Delete(key []byte) error {
	return backend.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func mergeTxnFunc(txn *badger.Txn, key []byte, buf []byte, delKeys [][]byte) error {
	err := txn.Set(key, buf)
	if err != nil {
		return err
	}

	for _, delKey := range delKeys {
		err := txn.Delete(delKey)
		if err != nil {
			return err
		}
	}
	return nil
}

func (backend *BadgerBackend) Merge(key, buf []byte, deletedKeys [][]byte) error {
	return backend.db.Update(func(txn *badger.Txn) error {
		return mergeTxnFunc(txn, key, buf, deletedKeys)
	})
}

func (backend *BadgerBackend) IteratePrefix(prefix []byte, lambda func([]byte) error) error {
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.PrefetchValues = false
	iterOpts.Prefix = prefix
	return backend.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(iterOpts)
		defer iter.Close()

		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			err := lambda(iter.Item().KeyCopy(nil))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Backup streams every version newer than since to w and returns the
// version to pass to the next incremental backup.
func (backend *BadgerBackend) Backup(w io.Writer, since uint64) (uint64, error) {
	return backend.db.Backup(w, since)
}

// Load restores a stream produced by Backup.
func (backend *BadgerBackend) Load(r io.Reader) error {
	return backend.db.Load(r, 256)
}
