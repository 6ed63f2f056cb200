package storage

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"

	"segstats/errs"
)

// ErrKeyNotFound is returned by Backend.Get for a missing key.
var ErrKeyNotFound = errs.ErrNotFound

type Kind byte

const (
	KindPixels Kind = iota + 1
	KindColumn
	KindDatasetMeta
	KindTableMeta
)

const keySize = 25

// GetKey builds a big-endian key so that a prefix scan visits blocks in order.
//
//	<8 bytes dataset ID> <1 byte kind> <4 bytes band> <4 bytes column> <8 bytes block>
func GetKey(datasetID int64, kind Kind, band, column int32, block int64) []byte {
	buf := make([]byte, keySize)
	binary.BigEndian.PutUint64(buf[:8], uint64(datasetID))
	buf[8] = byte(kind)
	binary.BigEndian.PutUint32(buf[9:13], uint32(band))
	binary.BigEndian.PutUint32(buf[13:17], uint32(column))
	binary.BigEndian.PutUint64(buf[17:], uint64(block))
	return buf
}

// GetPrefix returns the key prefix shared by every key of one dataset, kind
// and band.
func GetPrefix(datasetID int64, kind Kind, band int32) []byte {
	return GetKey(datasetID, kind, band, 0, 0)[:13]
}

// GetDatasetPrefix returns the key prefix shared by every key of a dataset.
func GetDatasetPrefix(datasetID int64) []byte {
	return GetKey(datasetID, 0, 0, 0, 0)[:8]
}

func GetDatasetIDFromKey(buf []byte) int64 {
	return int64(binary.BigEndian.Uint64(buf[:8]))
}

func GetKindFromKey(buf []byte) Kind {
	return Kind(buf[8])
}

func GetBandFromKey(buf []byte) int32 {
	return int32(binary.BigEndian.Uint32(buf[9:13]))
}

func GetColumnFromKey(buf []byte) int32 {
	return int32(binary.BigEndian.Uint32(buf[13:17]))
}

func GetBlockFromKey(buf []byte) int64 {
	return int64(binary.BigEndian.Uint64(buf[17:]))
}

type Backend interface {
	Get([]byte) ([]byte, error)
	Put([]byte, []byte) error
	Delete([]byte) error
	// Merge writes one key and deletes others in a single transaction.
	Merge([]byte, []byte, [][]byte) error

	IteratePrefix([]byte, func([]byte) error) error

	Close() error
}

type InMemoryBackend struct {
	blockMap      map[string][]byte
	blockMapMutex sync.Mutex
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		blockMap: make(map[string][]byte),
	}
}

func (backend *InMemoryBackend) Get(key []byte) ([]byte, error) {
	backend.blockMapMutex.Lock()
	defer backend.blockMapMutex.Unlock()
	buf, ok := backend.blockMap[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), buf...), nil
}

func (backend *InMemoryBackend) Put(key, buf []byte) error {
	backend.blockMapMutex.Lock()
	defer backend.blockMapMutex.Unlock()
	backend.blockMap[string(key)] = append([]byte(nil), buf...)
	return nil
}

func (backend *InMemoryBackend) Delete(key []byte) error {
	backend.blockMapMutex.Lock()
	defer backend.blockMapMutex.Unlock()
	delete(backend.blockMap, string(key))
	return nil
}

func (backend *InMemoryBackend) Merge(key, buf []byte, deletedKeys [][]byte) error {
	backend.blockMapMutex.Lock()
	defer backend.blockMapMutex.Unlock()

	backend.blockMap[string(key)] = append([]byte(nil), buf...)
	for _, delKey := range deletedKeys {
		delete(backend.blockMap, string(delKey))
	}
	return nil
}

// IteratePrefix visits matching keys in ascending order.
func (backend *InMemoryBackend) IteratePrefix(prefix []byte, lambda func([]byte) error) error {
	backend.blockMapMutex.Lock()
	keys := make([]string, 0)
	for k := range backend.blockMap {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	backend.blockMapMutex.Unlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := lambda([]byte(k)); err != nil {
			return err
		}
	}
	return nil
}

func (backend *InMemoryBackend) Close() error {
	backend.blockMapMutex.Lock()
	defer backend.blockMapMutex.Unlock()
	backend.blockMap = make(map[string][]byte)
	return nil
}

// DeletePrefix removes every key starting with prefix.
func DeletePrefix(backend Backend, prefix []byte) error {
	keys := make([][]byte, 0)
	err := backend.IteratePrefix(prefix, func(key []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := backend.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
