package core

import (
	"segstats/raster"
	"segstats/sat"
	"segstats/storage"
)

type StoreConfig struct {
	// Path is the badger directory; ignored when InMemory is set.
	Path         string
	InMemory     bool
	CacheEnabled bool
	Compression  storage.Compression
	SyncWrites   bool
	// BlockHeight is the pixel block height of new datasets.
	BlockHeight      int
	TableBlockLength int
}

func DefaultStoreConfig(path string) *StoreConfig {
	return &StoreConfig{
		Path:             path,
		CacheEnabled:     true,
		Compression:      storage.CompressionZSTD,
		SyncWrites:       true,
		BlockHeight:      raster.DefaultBlockHeight,
		TableBlockLength: sat.DefaultBlockLength,
	}
}

func TestStoreConfig() *StoreConfig {
	config := DefaultStoreConfig("")
	config.InMemory = true
	config.SyncWrites = false
	config.BlockHeight = 2
	config.TableBlockLength = 4
	return config
}

func (config *StoreConfig) badgerConfig() *storage.BadgerBackendConfig {
	return &storage.BadgerBackendConfig{
		Path:       config.Path,
		InMemory:   config.InMemory,
		SyncWrites: config.SyncWrites,
		Truncate:   true,
	}
}
