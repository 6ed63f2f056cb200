package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetKey(t *testing.T) {
	key := GetKey(42, KindColumn, 3, 7, 1<<40)

	assert.Len(t, key, keySize)
	assert.Equal(t, int64(42), GetDatasetIDFromKey(key))
	assert.Equal(t, KindColumn, GetKindFromKey(key))
	assert.Equal(t, int32(3), GetBandFromKey(key))
	assert.Equal(t, int32(7), GetColumnFromKey(key))
	assert.Equal(t, int64(1<<40), GetBlockFromKey(key))
	assert.Equal(t, GetPrefix(42, KindColumn, 3), key[:13])
}

func testGetPutDelete(t *testing.T, backend Backend) {
	key := GetKey(1, KindPixels, 1, 0, 0)

	_, err := backend.Get(key)
	assert.Equal(t, ErrKeyNotFound, err)

	assert.NoError(t, backend.Put(key, []byte{0, 1, 2, 3}))
	buf, err := backend.Get(key)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, buf)

	assert.NoError(t, backend.Delete(key))
	_, err = backend.Get(key)
	assert.Equal(t, ErrKeyNotFound, err)
}

func testMerge(t *testing.T, backend Backend) {
	a := GetKey(1, KindColumn, 1, 0, 0)
	b := GetKey(1, KindColumn, 1, 0, 1)
	c := GetKey(1, KindColumn, 1, 0, 2)
	assert.NoError(t, backend.Put(b, []byte{1}))
	assert.NoError(t, backend.Put(c, []byte{2}))

	assert.NoError(t, backend.Merge(a, []byte{9}, [][]byte{b, c}))

	buf, err := backend.Get(a)
	assert.NoError(t, err)
	assert.Equal(t, []byte{9}, buf)
	_, err = backend.Get(b)
	assert.Equal(t, ErrKeyNotFound, err)
	_, err = backend.Get(c)
	assert.Equal(t, ErrKeyNotFound, err)
}

func testIteratePrefix(t *testing.T, backend Backend) {
	for block := int64(3); block >= 0; block-- {
		assert.NoError(t, backend.Put(GetKey(1, KindPixels, 1, 0, block), nil))
	}
	assert.NoError(t, backend.Put(GetKey(1, KindPixels, 2, 0, 0), nil))
	assert.NoError(t, backend.Put(GetKey(2, KindPixels, 1, 0, 0), nil))

	var blocks []int64
	lambda := func(key []byte) error {
		blocks = append(blocks, GetBlockFromKey(key))
		return nil
	}

	assert.NoError(t, backend.IteratePrefix(GetPrefix(1, KindPixels, 1), lambda))
	assert.Equal(t, []int64{0, 1, 2, 3}, blocks)

	blocks = nil
	assert.NoError(t, backend.IteratePrefix(GetDatasetPrefix(2), lambda))
	assert.Equal(t, []int64{0}, blocks)

	assert.NoError(t, DeletePrefix(backend, GetDatasetPrefix(1)))
	blocks = nil
	assert.NoError(t, backend.IteratePrefix(GetDatasetPrefix(1), lambda))
	assert.Empty(t, blocks)
}

func TestInMemoryBackend(t *testing.T) {
	testGetPutDelete(t, NewInMemoryBackend())
	testMerge(t, NewInMemoryBackend())
	testIteratePrefix(t, NewInMemoryBackend())
}

func TestBadgerBackend(t *testing.T) {
	backends := []*BadgerBackend{
		NewBadgerBackend(TestBadgerDB()),
		NewBadgerBackend(TestBadgerDB()),
		NewBadgerBackend(TestBadgerDB()),
	}
	defer func() {
		for _, backend := range backends {
			assert.NoError(t, backend.Close())
		}
	}()

	testGetPutDelete(t, backends[0])
	testMerge(t, backends[1])
	testIteratePrefix(t, backends[2])
}
