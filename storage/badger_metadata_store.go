package storage

import (
	"encoding/binary"
	"errors"

	"github.com/dgraph-io/badger/v2"
)

const (
	DbKey            = "DBKEY"
	DatasetKeyPrefix = "DSMETA"
)

type BadgerMetadataStore struct {
	db *badger.DB
}

func NewBadgerMetadataStore(db *badger.DB) *BadgerMetadataStore {
	return &BadgerMetadataStore{db: db}
}

func GetDatasetMetaKey(datasetID int64) []byte {
	key := make([]byte, len(DatasetKeyPrefix)+8)
	copy(key, DatasetKeyPrefix)
	binary.BigEndian.PutUint64(key[len(DatasetKeyPrefix):], uint64(datasetID))
	return key
}

func (bms *BadgerMetadataStore) get(key []byte) ([]byte, error) {
	var buf []byte
	err := bms.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		buf, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	return buf, err
}

func (bms *BadgerMetadataStore) PutDB(dbBuf []byte) error {
	return bms.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(DbKey), dbBuf)
	})
}

func (bms *BadgerMetadataStore) GetDB() ([]byte, error) {
	return bms.get([]byte(DbKey))
}

func (bms *BadgerMetadataStore) PutDataset(datasetID int64, buf []byte) error {
	return bms.db.Update(func(txn *badger.Txn) error {
		return txn.Set(GetDatasetMetaKey(datasetID), buf)
	})
}

// PutDBAndDataset writes the registry and a dataset header atomically.
func (bms *BadgerMetadataStore) PutDBAndDataset(dbBuf []byte, datasetID int64, dsBuf []byte) error {
	return bms.db.Update(func(txn *badger.Txn) error {
		err := txn.Set([]byte(DbKey), dbBuf)
		if err != nil {
			return err
		}
		return txn.Set(GetDatasetMetaKey(datasetID), dsBuf)
	})
}

func (bms *BadgerMetadataStore) GetDataset(datasetID int64) ([]byte, error) {
	return bms.get(GetDatasetMetaKey(datasetID))
}

func (bms *BadgerMetadataStore) DeleteDataset(datasetID int64) error {
	return bms.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(GetDatasetMetaKey(datasetID))
	})
}

func (bms *BadgerMetadataStore) DatasetIDs() ([]int64, error) {
	prefix := []byte(DatasetKeyPrefix)
	ids := make([]int64, 0)
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.PrefetchValues = false
	err := bms.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(iterOpts)
		defer iter.Close()
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			key := iter.Item().Key()
			ids = append(ids, int64(binary.BigEndian.Uint64(key[len(prefix):])))
		}
		return nil
	})
	return ids, err
}
