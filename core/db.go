package core

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/tinylib/msgp/msgp"

	"segstats/errs"
	"segstats/raster"
	"segstats/sat"
	"segstats/storage"
)

// DB is a badger-backed registry of stored datasets. Pixel blocks, tables
// and the registry itself share one badger instance.
type DB struct {
	config   *StoreConfig
	backend  *storage.BadgerBackend
	store    *storage.BackingStore
	mds      *storage.BadgerMetadataStore
	datasets map[int64]*raster.StoredDataset
	names    map[int64]string
	nextID   int64
	mu       sync.Mutex
}

func New(config *StoreConfig) (*DB, error) {
	badgerDB, err := storage.OpenBadger(config.badgerConfig())
	if err != nil {
		return nil, errs.IO("core.New", err)
	}
	backend := storage.NewBadgerBackend(badgerDB)
	db := &DB{
		config:   config,
		backend:  backend,
		store:    storage.NewBackingStore(backend, config.Compression, config.CacheEnabled),
		mds:      storage.NewBadgerMetadataStore(badgerDB),
		datasets: make(map[int64]*raster.StoredDataset),
		names:    make(map[int64]string),
		nextID:   1,
	}
	return db, nil
}

// Open opens the store at config and loads its dataset registry.
func Open(config *StoreConfig) (*DB, error) {
	db, err := New(config)
	if err != nil {
		return nil, err
	}
	if err := db.ReadDB(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func NewInMemory() (*DB, error) {
	return Open(TestStoreConfig())
}

func (db *DB) datasetOptions() []raster.Option {
	return []raster.Option{
		raster.WithBlockHeight(db.config.BlockHeight),
		raster.WithTableOptions(sat.WithBlockLength(db.config.TableBlockLength)),
	}
}

// CreateDataset allocates a new stored dataset and registers it under name.
func (db *DB) CreateDataset(name string, layout raster.Layout, opts ...raster.Option) (*raster.StoredDataset, error) {
	const op = "core.CreateDataset"
	if layout.Width <= 0 || layout.Height <= 0 || layout.Bands <= 0 {
		return nil, errs.Config(op, "invalid layout %dx%dx%d", layout.Width, layout.Height, layout.Bands)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	id := db.nextID
	ds, err := raster.CreateStoredDataset(db.store, id, layout, append(db.datasetOptions(), opts...)...)
	if err != nil {
		return nil, err
	}
	db.nextID++
	db.datasets[id] = ds
	db.names[id] = name
	if err := db.writeDBAndDataset(id); err != nil {
		return nil, err
	}
	return ds, nil
}

func (db *DB) Dataset(id int64) (*raster.StoredDataset, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	ds, ok := db.datasets[id]
	if !ok {
		return nil, fmt.Errorf("dataset %d: %w", id, errs.ErrNotFound)
	}
	return ds, nil
}

// DatasetByName returns the first dataset, by ID, registered under name.
func (db *DB) DatasetByName(name string) (*raster.StoredDataset, error) {
	for _, id := range db.DatasetIDs() {
		db.mu.Lock()
		match := db.names[id] == name
		db.mu.Unlock()
		if match {
			return db.Dataset(id)
		}
	}
	return nil, fmt.Errorf("dataset %q: %w", name, errs.ErrNotFound)
}

func (db *DB) DatasetIDs() []int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	ids := make([]int64, 0, len(db.datasets))
	for id := range db.datasets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DropDataset deletes a dataset with its pixels and tables.
func (db *DB) DropDataset(id int64) error {
	const op = "core.DropDataset"
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.datasets[id]; !ok {
		return fmt.Errorf("dataset %d: %w", id, errs.ErrNotFound)
	}
	if err := raster.DropStoredDataset(db.store, id); err != nil {
		return err
	}
	if err := db.mds.DeleteDataset(id); err != nil {
		return errs.IO(op, err)
	}
	delete(db.datasets, id)
	delete(db.names, id)
	return nil
}

// Backup streams a full badger backup of the store to w.
func (db *DB) Backup(w io.Writer) error {
	_, err := db.backend.Backup(w, 0)
	return errs.IO("core.Backup", err)
}

// Load restores a stream written by Backup and reloads the registry. The DB
// must be empty.
func (db *DB) Load(r io.Reader) error {
	const op = "core.Load"
	db.mu.Lock()
	empty := len(db.datasets) == 0
	db.mu.Unlock()
	if !empty {
		return errs.Config(op, "cannot load into a DB holding datasets")
	}
	if err := db.backend.Load(r); err != nil {
		return errs.IO(op, err)
	}
	return db.ReadDB()
}

func (db *DB) Close() error {
	db.store.Close()
	return db.backend.Close()
}

func (db *DB) writeDBAndDataset(id int64) error {
	dbBuf := msgp.AppendInt64(nil, db.nextID)
	dsBuf := msgp.AppendString(nil, db.names[id])
	return errs.IO("core.writeDBAndDataset", db.mds.PutDBAndDataset(dbBuf, id, dsBuf))
}

// ReadDB loads the registry, opening every registered dataset. A store
// without a registry is a new DB.
func (db *DB) ReadDB() error {
	const op = "core.ReadDB"
	buf, err := db.mds.GetDB()
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return errs.IO(op, err)
	}
	nextID, _, err := msgp.ReadInt64Bytes(buf)
	if err != nil {
		return errs.IO(op, err)
	}
	ids, err := db.mds.DatasetIDs()
	if err != nil {
		return errs.IO(op, err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextID = nextID
	for _, id := range ids {
		dsBuf, err := db.mds.GetDataset(id)
		if err != nil {
			return errs.IO(op, err)
		}
		name, _, err := msgp.ReadStringBytes(dsBuf)
		if err != nil {
			return errs.IO(op, err)
		}
		ds, err := raster.OpenStoredDataset(db.store, id, db.datasetOptions()...)
		if err != nil {
			return err
		}
		db.datasets[id] = ds
		db.names[id] = name
	}
	return nil
}
