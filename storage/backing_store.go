package storage

import (
	"sync"

	"github.com/dgraph-io/ristretto"
)

// BackingStore keeps decoded blocks in a ristretto cache in front of a
// Backend. Cached slices are never handed out; readers get a copy.
//
// Ristretto applies sets asynchronously, so every cached block carries the
// write generation of its key and is ignored once the key has moved on.
//
// TODO: batch block writes of one sweep into a single badger transaction.
type BackingStore struct {
	backend      Backend
	compression  Compression
	cacheEnabled bool
	blockCache   *ristretto.Cache

	mu          sync.Mutex
	generations map[string]uint64
}

type cachedBlock struct {
	generation uint64
	values     interface{}
}

func NewBackingStore(backend Backend, compression Compression, cacheEnabled bool) *BackingStore {
	blockCache, _ := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 28,
		BufferItems: 64,
	})

	return &BackingStore{
		backend:      backend,
		compression:  compression,
		cacheEnabled: cacheEnabled,
		blockCache:   blockCache,
		generations:  make(map[string]uint64),
	}
}

func (store *BackingStore) Backend() Backend {
	return store.backend
}

func (store *BackingStore) generation(key string) uint64 {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.generations[key]
}

func (store *BackingStore) bump(key string) uint64 {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.generations[key]++
	return store.generations[key]
}

func (store *BackingStore) cached(key []byte) (interface{}, bool) {
	if !store.cacheEnabled {
		return nil, false
	}
	k := string(key)
	entry, found := store.blockCache.Get(k)
	if !found {
		return nil, false
	}
	block := entry.(*cachedBlock)
	if block.generation != store.generation(k) {
		return nil, false
	}
	return block.values, true
}

// cache stores a block read or written under generation.
func (store *BackingStore) cache(key []byte, generation uint64, value interface{}, cost int64) {
	if store.cacheEnabled {
		store.blockCache.Set(string(key), &cachedBlock{generation: generation, values: value}, cost)
	}
}

// GetReals returns the block at key, or nil with no error if it was never
// written.
func (store *BackingStore) GetReals(key []byte) ([]float64, error) {
	if block, found := store.cached(key); found {
		return append([]float64(nil), block.([]float64)...), nil
	}
	generation := store.generation(string(key))
	buf, err := store.backend.Get(key)
	if err == ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	values, err := DecodeReals(buf)
	if err != nil {
		return nil, err
	}
	store.cache(key, generation, append([]float64(nil), values...), int64(8*len(values)))
	return values, nil
}

func (store *BackingStore) PutReals(key []byte, values []float64) error {
	buf, err := EncodeReals(values, store.compression)
	if err != nil {
		return err
	}
	generation := store.bump(string(key))
	if err := store.backend.Put(key, buf); err != nil {
		store.Invalidate(key)
		return err
	}
	store.cache(key, generation, append([]float64(nil), values...), int64(8*len(values)))
	return nil
}

func (store *BackingStore) GetInts(key []byte) ([]int64, error) {
	if block, found := store.cached(key); found {
		return append([]int64(nil), block.([]int64)...), nil
	}
	generation := store.generation(string(key))
	buf, err := store.backend.Get(key)
	if err == ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	values, err := DecodeInts(buf)
	if err != nil {
		return nil, err
	}
	store.cache(key, generation, append([]int64(nil), values...), int64(8*len(values)))
	return values, nil
}

func (store *BackingStore) PutInts(key []byte, values []int64) error {
	buf, err := EncodeInts(values, store.compression)
	if err != nil {
		return err
	}
	generation := store.bump(string(key))
	if err := store.backend.Put(key, buf); err != nil {
		store.Invalidate(key)
		return err
	}
	store.cache(key, generation, append([]int64(nil), values...), int64(8*len(values)))
	return nil
}

func (store *BackingStore) GetStrings(key []byte) ([]string, error) {
	if block, found := store.cached(key); found {
		return append([]string(nil), block.([]string)...), nil
	}
	generation := store.generation(string(key))
	buf, err := store.backend.Get(key)
	if err == ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	values, err := DecodeStrings(buf)
	if err != nil {
		return nil, err
	}
	store.cache(key, generation, append([]string(nil), values...), int64(len(buf)))
	return values, nil
}

func (store *BackingStore) PutStrings(key []byte, values []string) error {
	buf, err := EncodeStrings(values, store.compression)
	if err != nil {
		return err
	}
	generation := store.bump(string(key))
	if err := store.backend.Put(key, buf); err != nil {
		store.Invalidate(key)
		return err
	}
	store.cache(key, generation, append([]string(nil), values...), int64(len(buf)))
	return nil
}

// GetRaw and PutRaw bypass the codec and the cache; used for headers.
func (store *BackingStore) GetRaw(key []byte) ([]byte, error) {
	return store.backend.Get(key)
}

func (store *BackingStore) PutRaw(key []byte, buf []byte) error {
	return store.backend.Put(key, buf)
}

func (store *BackingStore) Invalidate(key []byte) {
	if store.cacheEnabled {
		store.bump(string(key))
		store.blockCache.Del(string(key))
	}
}

// DeletePrefix removes every block under prefix from the backend and the
// cache.
func (store *BackingStore) DeletePrefix(prefix []byte) error {
	keys := make([][]byte, 0)
	err := store.backend.IteratePrefix(prefix, func(key []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		store.Invalidate(key)
		if err := store.backend.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (store *BackingStore) Close() {
	store.blockCache.Close()
}
