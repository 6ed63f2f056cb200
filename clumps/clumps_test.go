package clumps

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segstats/errs"
	"segstats/raster"
	"segstats/sat"
	"segstats/utils"
)

// tiles is a 4x4 raster of four 2x2 segments, 2 units wide and 3 high.
func tiles(t *testing.T) *raster.MemDataset {
	ds, err := raster.NewMemDatasetFromBands(4, 4, raster.Int32, [][]float64{{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}}, raster.WithGeoTransform(raster.GeoTransform{0, 2, 0, 12, 0, -3}), raster.WithBlockHeight(1))
	require.NoError(t, err)
	return ds
}

func TestAdjacencySet(t *testing.T) {
	var set AdjacencySet
	assert.True(t, set.Add(3))
	assert.False(t, set.Add(3))
	for _, id := range []int{5, 7, 9} {
		assert.True(t, set.Add(id))
	}
	assert.False(t, set.Add(11))
	assert.Equal(t, AdjacencySet{3, 5, 7, 9}, set)

	set.Replace(5, 7, 1)
	assert.Equal(t, AdjacencySet{3, 7, 9}, set)
	set.Replace(3, 1, 1)
	assert.Equal(t, AdjacencySet{7, 9}, set)
	set.Replace(9, 4, 1)
	assert.Equal(t, AdjacencySet{7, 4}, set)
	set.Remove(7)
	assert.Equal(t, AdjacencySet{4}, set)
}

func TestAdjacency(t *testing.T) {
	sets, err := NewEngine().Adjacency(context.Background(), tiles(t), 1)
	require.NoError(t, err)
	want := []AdjacencySet{nil, {2, 3}, {1, 4}, {1, 4}, {2, 3}}
	if diff := cmp.Diff(want, sets); diff != "" {
		t.Fatalf("adjacency mismatch (-want +got):\n%s", diff)
	}
}

func TestAdjacencyBounded(t *testing.T) {
	seg, err := raster.NewMemDatasetFromBands(5, 3, raster.Int32, [][]float64{{
		0, 2, 3, 0, 0,
		4, 1, 1, 5, 0,
		0, 6, 7, 0, 0,
	}})
	require.NoError(t, err)
	sets, err := NewEngine().Adjacency(context.Background(), seg, 1)
	require.NoError(t, err)
	want := []AdjacencySet{nil, {2, 4, 6, 3}, nil, nil, nil, {1}}
	if diff := cmp.Diff(want, sets); diff != "" {
		t.Fatalf("adjacency mismatch (-want +got):\n%s", diff)
	}

	_, err = NewEngine().Adjacency(context.Background(), seg, 2)
	assert.True(t, errs.IsConfig(err))
}

func TestSymmetrise(t *testing.T) {
	sets := Symmetrise([]AdjacencySet{nil, {2}, nil, {1, 4}})
	want := []AdjacencySet{nil, {2, 3}, {1}, {1, 4}, {3}}
	if diff := cmp.Diff(want, sets, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("symmetrised mismatch (-want +got):\n%s", diff)
	}
}

func TestBorderLength(t *testing.T) {
	engine := NewEngine()
	lengths, err := engine.BorderLength(context.Background(), tiles(t), 1, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 10, 10, 10, 10}, lengths)

	island, err := raster.NewMemDatasetFromBands(3, 3, raster.Byte, [][]float64{{
		0, 0, 0,
		0, 1, 0,
		0, 0, 0,
	}}, raster.WithGeoTransform(raster.GeoTransform{0, 2, 0, 9, 0, -3}))
	require.NoError(t, err)
	lengths, err = engine.BorderLength(context.Background(), island, 1, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, lengths)
	lengths, err = engine.BorderLength(context.Background(), island, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 10}, lengths)
}

func TestWriteBorderLength(t *testing.T) {
	ctx := context.Background()
	seg := tiles(t)
	table, err := seg.Table(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, table.SetRowCount(7))

	require.NoError(t, NewEngine().WriteBorderLength(ctx, seg, 1, false, "BorderLen"))
	lengths, err := sat.ReadRealColumn(ctx, table, "BorderLen")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 10, 10, 10, 10, 0, 0}, lengths)

	assert.True(t, errs.IsConfig(NewEngine().WriteBorderLength(ctx, seg, 1, false, "")))
}

func TestRelBorderLengthToClass(t *testing.T) {
	ctx := context.Background()
	seg := tiles(t)
	engine := NewEngine()

	err := engine.RelBorderLengthToClass(ctx, seg, 1, false, "Class", "water", "RelWater")
	assert.True(t, errs.IsConfig(err))

	table, err := seg.Table(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, table.SetRowCount(5))
	col, err := table.FindOrCreateColumn("Class", sat.String)
	require.NoError(t, err)
	require.NoError(t, table.WriteStrings(ctx, col, 0, []string{"", "forest", "water", "forest", "forest"}))

	require.NoError(t, engine.RelBorderLengthToClass(ctx, seg, 1, false, "Class", "water", "RelWater"))
	ratios, err := sat.ReadRealColumn(ctx, table, "RelWater")
	require.NoError(t, err)
	utils.AssertAllClose(t, []float64{0, 0.4, 0, 0, 0.6}, ratios, 1e-12)

	require.NoError(t, sat.WriteIntColumn(ctx, table, "Code", make([]int64, 5)))
	err = engine.RelBorderLengthToClass(ctx, seg, 1, false, "Code", "water", "RelWater")
	assert.True(t, errs.IsConfig(err))
}
