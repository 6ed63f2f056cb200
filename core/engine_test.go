package core

import (
	"bytes"
	"context"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segstats/clumps"
	"segstats/errs"
	"segstats/logger"
	"segstats/raster"
	"segstats/sat"
	"segstats/tiles"
	"segstats/utils"
	"segstats/zonal"
)

func readColumn(t *testing.T, ds raster.Dataset, band int, name string) []float64 {
	ctx := context.Background()
	table, err := ds.Table(ctx, band)
	require.NoError(t, err)
	values, err := sat.ReadRealColumn(ctx, table, name)
	require.NoError(t, err)
	return values
}

func storedPair(t *testing.T, db *DB) (*raster.StoredDataset, *raster.StoredDataset) {
	ctx := context.Background()
	seg, err := db.CreateDataset("seg", raster.Layout{Width: 2, Height: 2, Bands: 1, DataType: raster.Int32})
	require.NoError(t, err)
	require.NoError(t, seg.WriteRows(ctx, 1, 0, 2, []float64{1, 1, 1, 1}))
	vals, err := db.CreateDataset("vals", raster.Layout{Width: 2, Height: 2, Bands: 4, DataType: raster.Float64})
	require.NoError(t, err)
	bands := [][]float64{{2, 4, 6, 8}, {0, 0, 0, 0}, {1, 1, 1, 1}, {math.NaN(), math.NaN(), math.NaN(), math.NaN()}}
	for i, band := range bands {
		require.NoError(t, vals.WriteRows(ctx, i+1, 0, 2, band))
	}
	return seg, vals
}

func TestPopulateZonalStats(t *testing.T) {
	ctx := context.Background()
	db, err := NewInMemory()
	require.NoError(t, err)
	defer db.Close()
	seg, vals := storedPair(t, db)

	requests := []zonal.BandStatRequest{
		{Band: 1, Mean: true, StdDev: true, Min: true, Max: true, MeanField: "Mean", StdDevField: "StdDev",
			MinField: "Min", MaxField: "Max"},
		{Band: 4, Mean: true, MeanField: "NaNMean"},
	}
	percentiles := &PercentileSpec{
		Band:     1,
		NumBins:  101,
		Requests: []zonal.PercentileRequest{{Percentile: 0, Field: "P0"}, {Percentile: 100, Field: "P100"}},
	}
	engine := NewEngine()
	require.NoError(t, engine.PopulateZonalStats(ctx, seg, 1, vals, requests, percentiles))

	utils.AssertClose(t, readColumn(t, seg, 1, "Mean")[1], 5, 1e-12)
	utils.AssertClose(t, readColumn(t, seg, 1, "StdDev")[1], math.Sqrt(5), 1e-12)
	assert.Equal(t, 2.0, readColumn(t, seg, 1, "Min")[1])
	assert.Equal(t, 8.0, readColumn(t, seg, 1, "Max")[1])
	assert.Equal(t, 0.0, readColumn(t, seg, 1, "NaNMean")[1])
	utils.AssertClose(t, readColumn(t, seg, 1, "P0")[1], 2, 1e-9)
	utils.AssertClose(t, readColumn(t, seg, 1, "P100")[1], 8, 1e-9)

	err = engine.PopulateZonalStats(ctx, seg, 1, vals, nil, nil)
	assert.True(t, errs.IsConfig(err))
	err = engine.PopulateZonalStats(ctx, seg, 0, vals, requests, nil)
	assert.True(t, errs.IsConfig(err))
}

func TestPopulateZonalStatsChecksPercentilesFirst(t *testing.T) {
	ctx := context.Background()
	seg, err := raster.NewMemDatasetFromBands(2, 2, raster.Int32, [][]float64{{1, 1, 2, 2}})
	require.NoError(t, err)
	vals, err := raster.NewMemDatasetFromBands(2, 2, raster.Float64, [][]float64{{1, 2, 3, 4}})
	require.NoError(t, err)
	engine := NewEngine()
	requests := []zonal.BandStatRequest{{Band: 1, Mean: true, MeanField: "Mean"}}

	for _, spec := range []*PercentileSpec{
		{Band: 1, NumBins: 10, Requests: []zonal.PercentileRequest{{Percentile: 150, Field: "P150"}}},
		{Band: 1, NumBins: 1, Requests: []zonal.PercentileRequest{{Percentile: 50, Field: "P50"}}},
		{Band: 2, NumBins: 10, Requests: []zonal.PercentileRequest{{Percentile: 50, Field: "P50"}}},
		{Band: 1, NumBins: 10, Requests: []zonal.PercentileRequest{{Percentile: 50}}},
	} {
		err := engine.PopulateZonalStats(ctx, seg, 1, vals, requests, spec)
		assert.True(t, errs.IsConfig(err))
	}

	// The valid statistics were not written either.
	table, err := seg.Table(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, table.Columns())
}

func TestEngineLogging(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	engine := NewEngine(WithLogger(logger.New(&buf, zerolog.InfoLevel)))
	seg, err := raster.NewMemDatasetFromBands(4, 4, raster.Int32, [][]float64{{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}})
	require.NoError(t, err)

	sets, err := engine.ComputeAdjacency(ctx, seg, 1)
	require.NoError(t, err)
	want := []clumps.AdjacencySet{nil, {2, 3}, {1, 4}, {1, 4}, {2, 3}}
	if diff := cmp.Diff(want, sets, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("adjacency (-want +got):\n%s", diff)
	}
	assert.Contains(t, buf.String(), `"op":"core.ComputeAdjacency"`)
	assert.Contains(t, buf.String(), `"component":"core"`)
	assert.Contains(t, buf.String(), "operation done")

	buf.Reset()
	_, err = engine.ComputeAdjacency(ctx, seg, 3)
	assert.True(t, errs.IsConfig(err))
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "operation failed")

	buf.Reset()
	_, err = engine.BuildTiles(ctx, seg, nil, 2, 0.5, nil)
	assert.True(t, errs.IsConfig(err))
	assert.Contains(t, buf.String(), "operation failed")
}

func TestBorderOperations(t *testing.T) {
	ctx := context.Background()
	seg, err := raster.NewMemDatasetFromBands(4, 4, raster.Int32, [][]float64{{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}})
	require.NoError(t, err)
	engine := NewEngine()

	lengths, err := engine.ComputeBorderLength(ctx, seg, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 4, 4, 4, 4}, lengths)

	require.NoError(t, engine.WriteBorderLength(ctx, seg, 1, true, "Border"))
	assert.Equal(t, []float64{0, 4, 4, 4, 4}, readColumn(t, seg, 1, "Border"))

	table, err := seg.Table(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, sat.EnsureRows(table, 5))
	col, err := table.FindOrCreateColumn("Class", sat.String)
	require.NoError(t, err)
	require.NoError(t, table.WriteStrings(ctx, col, 0, []string{"", "land", "water", "land", "land"}))
	require.NoError(t, engine.RelBorderLengthToClass(ctx, seg, 1, false, "Class", "water", "RelWater"))
	utils.AssertAllClose(t, []float64{0, 0.5, 0, 0, 0.5}, readColumn(t, seg, 1, "RelWater"), 1e-12)
}

func TestMergeAndPositions(t *testing.T) {
	ctx := context.Background()
	db, err := NewInMemory()
	require.NoError(t, err)
	defer db.Close()
	src, err := raster.NewMemDatasetFromBands(4, 4, raster.Byte, [][]float64{quadrants})
	require.NoError(t, err)
	out, err := db.CreateDataset("tiles", raster.Layout{Width: 4, Height: 4, Bands: 1, DataType: raster.Int32})
	require.NoError(t, err)
	engine := NewEngine()

	result, err := engine.BuildTiles(ctx, src, out, 2, 0.2, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Active)

	// Rewrite the valid counts and merge again with a threshold.
	counts := make([]float64, 5)
	for i, v := range quadrants {
		if v != 0 {
			counts[(i/4/2)*2+(i%4)/2+1]++
		}
	}
	table, err := out.Table(ctx, 1)
	require.NoError(t, err)
	valid := []int64{0, int64(counts[1]), int64(counts[2]), int64(counts[3]), int64(counts[4])}
	require.NoError(t, sat.WriteIntColumn(ctx, table, tiles.ValidPixelsColumn, valid))
	ratios := []float64{0, counts[1] / 4, counts[2] / 4, counts[3] / 4, counts[4] / 4}
	require.NoError(t, sat.WriteRealColumn(ctx, table, tiles.ValidRatioColumn, ratios))

	merged, err := engine.MergeTiles(ctx, out, 1, 0.6)
	require.NoError(t, err)
	assert.Equal(t, []uint32{4}, merged.Removed.ToArray())
	assert.Equal(t, 2, merged.RowCount)

	mask := raster.NewMemDataset(4, 4, 1, raster.Byte)
	require.NoError(t, mask.WriteRows(ctx, 1, 0, 4, []float64{
		1, 1, 1, 1,
		1, 3, 3, 1,
		1, 3, 3, 1,
		1, 1, 1, 1,
	}))
	codes := tiles.TilePositionCodes{Overlap: 1, Boundary: 2, Body: 3}
	require.NoError(t, engine.DefineSegmentTilePositions(ctx, out, mask, "TilePos", codes))
	assert.Equal(t, []float64{0, 2}, readColumn(t, out, 1, "TilePos"))
}

func TestCopyColumns(t *testing.T) {
	ctx := context.Background()
	src, err := raster.NewMemDatasetFromBands(2, 1, raster.Int32, [][]float64{{1, 2}})
	require.NoError(t, err)
	dst := raster.NewMemDataset(2, 1, 2, raster.Int32)
	table, err := src.Table(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, sat.WriteRealColumn(ctx, table, "Area", []float64{0, 1.5, 2.5}))

	engine := NewEngine()
	require.NoError(t, engine.CopyColumns(ctx, src, 1, dst, 2, []string{"Area"}))
	assert.Equal(t, []float64{0, 1.5, 2.5}, readColumn(t, dst, 2, "Area"))

	assert.True(t, errs.IsConfig(engine.CopyColumns(ctx, src, 2, dst, 1, []string{"Area"})))
	assert.True(t, errs.IsConfig(engine.CopyColumns(ctx, src, 1, dst, 1, []string{"Missing"})))
}

// TestConcurrentOperations runs operations on distinct and shared datasets
// from several goroutines.
func TestConcurrentOperations(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine()
	shared, err := raster.NewMemDatasetFromBands(4, 4, raster.Byte, [][]float64{quadrants})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]tiles.MergeResult, 8)
	failures := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := raster.NewMemDataset(4, 4, 1, raster.Int32)
			results[i], failures[i] = engine.BuildTiles(ctx, shared, out, 2, 0.5, nil)
			if failures[i] == nil {
				failures[i] = engine.WriteBorderLength(ctx, out, 1, false, "Border")
			}
		}(i)
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, failures[i])
		assert.Equal(t, 4, results[i].Active)
	}
	assert.Empty(t, engine.locks)
}

func TestEngineMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	engine := NewEngine(WithRegisterer(registry))
	seg, err := raster.NewMemDatasetFromBands(2, 2, raster.Int32, [][]float64{{1, 2, 1, 2}})
	require.NoError(t, err)
	_, err = engine.ComputeAdjacency(context.Background(), seg, 1)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(registry, "segstats_kernel_pixels_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
