package storage

import (
	"sort"
	"sync"
)

// MetadataStore persists the dataset registry of a DB and one header blob
// per dataset.
type MetadataStore interface {
	PutDB([]byte) error
	GetDB() ([]byte, error)

	PutDataset(int64, []byte) error
	GetDataset(int64) ([]byte, error)
	DeleteDataset(int64) error
	DatasetIDs() ([]int64, error)
}

type SimpleMetadataStore struct {
	db       []byte
	datasets map[int64][]byte
	mu       sync.Mutex
}

func NewSimpleMetadataStore() *SimpleMetadataStore {
	return &SimpleMetadataStore{
		db:       nil,
		datasets: make(map[int64][]byte),
	}
}

func (smm *SimpleMetadataStore) PutDB(db []byte) error {
	smm.mu.Lock()
	defer smm.mu.Unlock()
	smm.db = db
	return nil
}

func (smm *SimpleMetadataStore) GetDB() ([]byte, error) {
	smm.mu.Lock()
	defer smm.mu.Unlock()
	if smm.db == nil {
		return nil, ErrKeyNotFound
	}
	return smm.db, nil
}

func (smm *SimpleMetadataStore) PutDataset(id int64, buf []byte) error {
	smm.mu.Lock()
	defer smm.mu.Unlock()
	smm.datasets[id] = buf
	return nil
}

func (smm *SimpleMetadataStore) GetDataset(id int64) ([]byte, error) {
	smm.mu.Lock()
	defer smm.mu.Unlock()
	buf, ok := smm.datasets[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return buf, nil
}

func (smm *SimpleMetadataStore) DeleteDataset(id int64) error {
	smm.mu.Lock()
	defer smm.mu.Unlock()
	delete(smm.datasets, id)
	return nil
}

func (smm *SimpleMetadataStore) DatasetIDs() ([]int64, error) {
	smm.mu.Lock()
	defer smm.mu.Unlock()
	ids := make([]int64, 0, len(smm.datasets))
	for id := range smm.datasets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
