package raster

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segstats/errs"
	"segstats/sat"
	"segstats/storage"
)

func testRowIO(t *testing.T, ds Dataset) {
	ctx := context.Background()
	width, height := ds.Size()
	require.Equal(t, 3, width)
	require.Equal(t, 5, height)

	rows := []float64{1, 2, 3, 4, 5, 6, 7.6, -1, math.NaN()}
	require.NoError(t, ds.WriteRows(ctx, 2, 1, 3, rows))

	buf := make([]float64, width*height)
	require.NoError(t, ds.ReadRows(ctx, 2, 0, height, buf))
	assert.Equal(t, []float64{0, 0, 0, 1, 2, 3, 4, 5, 6, 8, -1, 0, 0, 0, 0}, buf)

	// Band 1 is untouched.
	require.NoError(t, ds.ReadRows(ctx, 1, 2, 2, buf[:6]))
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, buf[:6])

	assert.True(t, errs.IsConfig(ds.ReadRows(ctx, 3, 0, 1, buf)))
	assert.True(t, errs.IsConfig(ds.ReadRows(ctx, 0, 0, 1, buf)))
	assert.True(t, errs.IsConfig(ds.ReadRows(ctx, 1, 4, 2, buf)))
	assert.True(t, errs.IsConfig(ds.WriteRows(ctx, 1, 0, 2, buf[:5])))
}

func testThematicAndTables(t *testing.T, ds Dataset) {
	ctx := context.Background()
	assert.False(t, ds.Thematic(1))
	require.NoError(t, ds.SetThematic(1, true))
	assert.True(t, ds.Thematic(1))
	assert.False(t, ds.Thematic(2))

	table, err := ds.Table(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, table.SetRowCount(3))
	_, err = table.FindOrCreateColumn(sat.HistogramColumn, sat.Integer)
	require.NoError(t, err)

	same, err := ds.Table(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, same.RowCount())

	fresh, err := ds.ResetTable(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.RowCount())
	assert.Empty(t, fresh.Columns())
}

func TestMemDataset(t *testing.T) {
	testRowIO(t, NewMemDataset(3, 5, 2, Int32, WithBlockHeight(2)))
	testThematicAndTables(t, NewMemDataset(3, 5, 2, Int32))
}

func TestStoredDataset(t *testing.T) {
	backend := storage.NewBadgerBackend(storage.TestBadgerDB())
	defer backend.Close()
	store := storage.NewBackingStore(backend, storage.CompressionZSTD, true)
	defer store.Close()

	layout := Layout{Width: 3, Height: 5, Bands: 2, DataType: Int32}
	ds, err := CreateStoredDataset(store, 1, layout, WithBlockHeight(2))
	require.NoError(t, err)
	testRowIO(t, ds)

	ds, err = CreateStoredDataset(store, 2, layout)
	require.NoError(t, err)
	testThematicAndTables(t, ds)
}

func TestStoredDatasetReopen(t *testing.T) {
	ctx := context.Background()
	store := storage.NewBackingStore(storage.NewInMemoryBackend(), storage.CompressionLZ4, false)
	defer store.Close()

	gt := GeoTransform{100, 30, 0, 500, 0, -30}
	ds, err := CreateStoredDataset(store, 9, Layout{Width: 2, Height: 2, Bands: 1, DataType: Float32},
		WithBlockHeight(1), WithGeoTransform(gt))
	require.NoError(t, err)
	require.NoError(t, ds.WriteRows(ctx, 1, 0, 2, []float64{0.5, 1.5, 2.5, 3.5}))
	require.NoError(t, ds.SetThematic(1, true))

	reopened, err := OpenStoredDataset(store, 9)
	require.NoError(t, err)
	assert.Equal(t, gt, reopened.GeoTransform())
	assert.Equal(t, 1, reopened.BlockHeight())
	assert.Equal(t, Float32, reopened.DataType())
	assert.True(t, reopened.Thematic(1))

	buf := make([]float64, 4)
	require.NoError(t, reopened.ReadRows(ctx, 1, 0, 2, buf))
	assert.Equal(t, []float64{0.5, 1.5, 2.5, 3.5}, buf)

	require.NoError(t, DropStoredDataset(store, 9))
	_, err = OpenStoredDataset(store, 9)
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestCoerce(t *testing.T) {
	assert.Equal(t, 255.0, Byte.Coerce(300))
	assert.Equal(t, 0.0, UInt32.Coerce(-4))
	assert.Equal(t, 3.0, Int32.Coerce(2.5))
	assert.Equal(t, 0.0, Int32.Coerce(math.NaN()))
	assert.True(t, math.IsNaN(Float64.Coerce(math.NaN())))
	assert.Equal(t, float64(float32(0.1)), Float32.Coerce(0.1))
}

func TestPixelExtent(t *testing.T) {
	gt := GeoTransform{100, 10, 0, 50, 0, -5}
	assert.Equal(t, Extent{MinX: 120, MaxX: 130, MinY: 30, MaxY: 35}, gt.PixelExtent(2, 3))

	extent := gt.PixelExtent(0, 0)
	extent.Union(gt.PixelExtent(2, 3))
	assert.Equal(t, Extent{MinX: 100, MaxX: 130, MinY: 30, MaxY: 50}, extent)
}

func TestCheckAligned(t *testing.T) {
	a := NewMemDataset(4, 4, 1, Int32)
	b := NewMemDataset(4, 4, 3, Float32, WithBlockHeight(1))
	c := NewMemDataset(4, 5, 1, Float32)
	d := NewMemDataset(4, 4, 1, Float32, WithGeoTransform(GeoTransform{0, 2, 0, 0, 0, -2}))

	assert.NoError(t, CheckAligned("test", a, b))
	assert.True(t, errs.IsGeometry(CheckAligned("test", a, c)))
	assert.True(t, errs.IsGeometry(CheckAligned("test", a, d)))
}
