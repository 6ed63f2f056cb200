package core

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segstats/errs"
	"segstats/raster"
	"segstats/sat"
	"segstats/tiles"
)

var quadrants = []float64{
	5, 5, 5, 5,
	5, 5, 0, 0,
	0, 5, 0, 0,
	0, 0, 0, 0,
}

func TestBasicDB(t *testing.T) {
	ctx := context.Background()
	config := DefaultStoreConfig(t.TempDir())
	config.SyncWrites = false
	var srcID, outID int64
	{
		db, err := Open(config)
		require.NoError(t, err)
		src, err := db.CreateDataset("source", raster.Layout{Width: 4, Height: 4, Bands: 1, DataType: raster.Byte})
		require.NoError(t, err)
		require.NoError(t, src.WriteRows(ctx, 1, 0, 4, quadrants))
		out, err := db.CreateDataset("tiles", raster.Layout{Width: 4, Height: 4, Bands: 1, DataType: raster.UInt32})
		require.NoError(t, err)
		srcID, outID = src.ID(), out.ID()

		noData := 0.0
		result, err := NewEngine().BuildTiles(ctx, src, out, 2, 0.6, &noData)
		require.NoError(t, err)
		assert.Equal(t, 2, result.RowCount)
		require.NoError(t, db.Close())
	}
	{
		db, err := Open(config)
		require.NoError(t, err)
		defer db.Close()
		assert.Equal(t, []int64{srcID, outID}, db.DatasetIDs())

		out, err := db.DatasetByName("tiles")
		require.NoError(t, err)
		assert.Equal(t, outID, out.ID())
		assert.True(t, out.Thematic(1))
		table, err := out.Table(ctx, 1)
		require.NoError(t, err)
		hist, err := sat.ReadIntColumn(ctx, table, sat.HistogramColumn)
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 12}, hist)

		// IDs keep counting after a reopen.
		third, err := db.CreateDataset("third", raster.Layout{Width: 1, Height: 1, Bands: 1, DataType: raster.Byte})
		require.NoError(t, err)
		assert.Equal(t, outID+1, third.ID())
	}
}

func TestDatasetNotFound(t *testing.T) {
	db, err := NewInMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Dataset(42)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	_, err = db.DatasetByName("missing")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.True(t, errors.Is(db.DropDataset(42), errs.ErrNotFound))

	_, err = db.CreateDataset("empty", raster.Layout{Width: 0, Height: 4, Bands: 1})
	assert.True(t, errs.IsConfig(err))
}

func TestDropDataset(t *testing.T) {
	ctx := context.Background()
	db, err := NewInMemory()
	require.NoError(t, err)
	defer db.Close()

	ds, err := db.CreateDataset("scratch", raster.Layout{Width: 2, Height: 2, Bands: 1, DataType: raster.Int32})
	require.NoError(t, err)
	require.NoError(t, ds.WriteRows(ctx, 1, 0, 2, []float64{1, 2, 3, 4}))
	require.NoError(t, db.DropDataset(ds.ID()))
	assert.Empty(t, db.DatasetIDs())

	_, err = raster.OpenStoredDataset(db.store, ds.ID())
	assert.Error(t, err)
}

func TestBackupAndLoad(t *testing.T) {
	ctx := context.Background()
	db, err := NewInMemory()
	require.NoError(t, err)
	defer db.Close()
	seg, err := db.CreateDataset("tiles", raster.Layout{Width: 4, Height: 4, Bands: 1, DataType: raster.Int32})
	require.NoError(t, err)
	src, err := raster.NewMemDatasetFromBands(4, 4, raster.Byte, [][]float64{quadrants})
	require.NoError(t, err)
	_, err = NewEngine().BuildTiles(ctx, src, seg, 2, 0.5, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, db.Backup(&buf))

	restored, err := NewInMemory()
	require.NoError(t, err)
	defer restored.Close()
	require.NoError(t, restored.Load(&buf))
	ds, err := restored.DatasetByName("tiles")
	require.NoError(t, err)

	pixels := make([]float64, 16)
	require.NoError(t, ds.ReadRows(ctx, 1, 0, 4, pixels))
	assert.Equal(t, []float64{1, 1, 2, 2, 1, 1, 2, 2, 3, 3, 4, 4, 3, 3, 4, 4}, pixels)
	table, err := ds.Table(ctx, 1)
	require.NoError(t, err)
	ratio, err := sat.ReadRealColumn(ctx, table, tiles.ValidRatioColumn)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1, 1, 1}, ratio)

	err = restored.Load(bytes.NewReader(nil))
	assert.True(t, errs.IsConfig(err), "load into a non-empty DB")
}
