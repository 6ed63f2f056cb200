package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackingStore(t *testing.T, store *BackingStore) {
	key := GetKey(1, KindColumn, 1, 2, 0)

	values, err := store.GetReals(key)
	require.NoError(t, err)
	assert.Nil(t, values)

	require.NoError(t, store.PutReals(key, []float64{1, 2, 3}))
	values, err = store.GetReals(key)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, values)

	// Mutating a returned block must not leak into later reads.
	values[0] = 100
	again, err := store.GetReals(key)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again[0])

	require.NoError(t, store.PutReals(key, []float64{4, 5}))
	values, err = store.GetReals(key)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5}, values)

	intKey := GetKey(1, KindColumn, 1, 3, 0)
	require.NoError(t, store.PutInts(intKey, []int64{7, 8}))
	ints, err := store.GetInts(intKey)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, ints)

	strKey := GetKey(1, KindColumn, 1, 4, 0)
	require.NoError(t, store.PutStrings(strKey, []string{"a", "b"}))
	strs, err := store.GetStrings(strKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, strs)

	require.NoError(t, store.DeletePrefix(GetPrefix(1, KindColumn, 1)))
	values, err = store.GetReals(key)
	require.NoError(t, err)
	assert.Nil(t, values)
}

func TestBackingStore_InMemory(t *testing.T) {
	store := NewBackingStore(NewInMemoryBackend(), CompressionZSTD, false)
	defer store.Close()
	testBackingStore(t, store)
}

func TestBackingStore_BadgerCached(t *testing.T) {
	backend := NewBadgerBackend(TestBadgerDB())
	defer backend.Close()
	store := NewBackingStore(backend, CompressionLZ4, true)
	defer store.Close()
	testBackingStore(t, store)
}
