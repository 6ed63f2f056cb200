package tiles

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"segstats/clumps"
	"segstats/errs"
	"segstats/raster"
	"segstats/sat"
	"segstats/stats"
)

type State int

const (
	// Active tiles have a valid ratio at or above the threshold.
	Active State = iota
	// Mergeable tiles are below the threshold.
	Mergeable
	// Merged tiles have been absorbed by a neighbour.
	Merged
)

func (state State) String() string {
	switch state {
	case Active:
		return "active"
	case Mergeable:
		return "mergeable"
	case Merged:
		return "merged"
	}
	return "unknown"
}

// MergeResult summarises a merge run.
type MergeResult struct {
	// Passes is the number of fixpoint sweeps, including the last one that
	// changed nothing.
	Passes int
	Merges int
	// Removed holds the tiles dropped for having no valid pixels.
	Removed *roaring.Bitmap
	// RowCount is the row count of the compacted table.
	RowCount int

	Active, Mergeable, Merged int
}

// tileGraph is the mutable state of the merge fixpoint, indexed by tile ID.
type tileGraph struct {
	op        string
	hist      []int64
	valid     []int64
	ratio     []float64
	neighbors []clumps.AdjacencySet
	parent    []int
	merged    *bitset.BitSet
}

// find returns the tile that absorbed id, compressing the path.
func (graph *tileGraph) find(id int) int {
	root := id
	for graph.parent[root] != root {
		root = graph.parent[root]
	}
	for graph.parent[id] != root {
		next := graph.parent[id]
		graph.parent[id] = root
		id = next
	}
	return root
}

func (graph *tileGraph) state(id int, threshold float64) State {
	switch {
	case graph.merged.Test(uint(id)):
		return Merged
	case graph.ratio[id] < threshold:
		return Mergeable
	}
	return Active
}

// target picks the neighbour of i with the highest ratio, the first one in
// adjacency order on ties.
func (graph *tileGraph) target(i int) (int, error) {
	best := -1
	for _, n := range graph.neighbors[i] {
		m := graph.find(n)
		if graph.merged.Test(uint(m)) {
			return 0, errs.Data(graph.op, "tile %d lists merged tile %d, which has no absorbing tile", i, n)
		}
		if m == i {
			continue
		}
		if best < 0 || graph.ratio[m] > graph.ratio[best] {
			best = m
		}
	}
	return best, nil
}

// absorb merges tile i into tile m.
func (graph *tileGraph) absorb(i, m int) {
	graph.parent[i] = m
	graph.ratio[m] = stats.WeightedMean(graph.ratio[m], float64(graph.hist[m]), graph.ratio[i], float64(graph.hist[i]))
	graph.valid[m] += graph.valid[i]
	graph.hist[m] += graph.hist[i]

	for _, k := range graph.neighbors[i] {
		if k == m {
			continue
		}
		graph.neighbors[m].Add(k)
		graph.neighbors[k].Replace(i, m, k)
	}
	graph.neighbors[m].Remove(i)

	graph.valid[i], graph.hist[i], graph.ratio[i] = 0, 0, 0
	graph.neighbors[i] = nil
	graph.merged.Set(uint(i))
}

// Merge runs the tile merge on band of seg, whose table must hold the
// Histogram, NumValidPxls and ValidPxlRatio columns: tiles without valid
// pixels are removed, tiles under threshold are merged into their best
// neighbour until nothing changes, IDs are compacted and extents
// recomputed.
func (engine *Engine) Merge(ctx context.Context, seg raster.Dataset, band int, threshold float64) (MergeResult, error) {
	const op = "tiles.Merge"
	if err := checkSegmentation(op, seg, band); err != nil {
		return MergeResult{}, err
	}
	if !(threshold >= 0 && threshold <= 1) {
		return MergeResult{}, errs.Config(op, "threshold %v outside [0,1]", threshold)
	}
	table, err := seg.Table(ctx, band)
	if err != nil {
		return MergeResult{}, errs.IO(op, err)
	}
	graph := &tileGraph{op: op}
	if graph.hist, err = sat.ReadIntColumn(ctx, table, sat.HistogramColumn); err != nil {
		return MergeResult{}, err
	}
	if graph.valid, err = sat.ReadIntColumn(ctx, table, ValidPixelsColumn); err != nil {
		return MergeResult{}, err
	}
	if graph.ratio, err = sat.ReadRealColumn(ctx, table, ValidRatioColumn); err != nil {
		return MergeResult{}, err
	}
	numRows := table.RowCount()
	result := MergeResult{Removed: roaring.New()}

	// Removal.
	for id := 1; id < numRows; id++ {
		if graph.hist[id] > 0 && graph.ratio[id] == 0 {
			result.Removed.Add(uint32(id))
		}
	}
	if !result.Removed.IsEmpty() {
		err := engine.relabel(ctx, seg, band, func(id int) (int, error) {
			if result.Removed.Contains(uint32(id)) {
				return 0, nil
			}
			return id, nil
		})
		if err != nil {
			return MergeResult{}, err
		}
		for it := result.Removed.Iterator(); it.HasNext(); {
			id := it.Next()
			graph.hist[id], graph.valid[id] = 0, 0
		}
		engine.logger.Debug().Str("op", op).Uint64("removed", result.Removed.GetCardinality()).Msg("removed empty tiles")
	}

	// Adjacency.
	neighbors, err := engine.clumps.Adjacency(ctx, seg, band)
	if err != nil {
		return MergeResult{}, err
	}
	neighbors = clumps.Symmetrise(neighbors)
	if len(neighbors) > numRows {
		return MergeResult{}, errs.Data(op, "segment %d beyond %d table rows", len(neighbors)-1, numRows)
	}
	graph.neighbors = append(neighbors, make([]clumps.AdjacencySet, numRows-len(neighbors))...)
	graph.parent = make([]int, numRows)
	for id := range graph.parent {
		graph.parent[id] = id
	}
	graph.merged = bitset.New(uint(numRows))

	// Fixpoint.
	for result.Passes < numRows {
		if err := ctx.Err(); err != nil {
			return MergeResult{}, err
		}
		result.Passes++
		changed := false
		for i := 1; i < numRows; i++ {
			if graph.hist[i] == 0 || graph.state(i, threshold) != Mergeable {
				continue
			}
			m, err := graph.target(i)
			if err != nil {
				return MergeResult{}, err
			}
			if m < 0 {
				continue
			}
			graph.absorb(i, m)
			result.Merges++
			changed = true
		}
		engine.logger.Debug().Str("op", op).Int("passes", result.Passes).Int("merges", result.Merges).Msg("merge pass")
		if !changed {
			break
		}
	}

	// Compaction.
	survivors := roaring.New()
	for id := 1; id < numRows; id++ {
		if graph.find(id) == id && graph.hist[id] > 0 {
			survivors.Add(uint32(id))
			switch graph.state(id, threshold) {
			case Active:
				result.Active++
			case Mergeable:
				result.Mergeable++
			}
		}
	}
	result.Merged = result.Merges
	mapping := make([]int, numRows)
	for id := 1; id < numRows; id++ {
		if root := graph.find(id); survivors.Contains(uint32(root)) {
			mapping[id] = int(survivors.Rank(uint32(root)))
		}
	}
	err = engine.relabel(ctx, seg, band, func(id int) (int, error) {
		if id >= numRows {
			return 0, errs.Data(op, "segment %d beyond %d table rows", id, numRows)
		}
		return mapping[id], nil
	})
	if err != nil {
		return MergeResult{}, err
	}

	numSurvivors := int(survivors.GetCardinality())
	hist := make([]int64, numSurvivors+1)
	valid := make([]int64, numSurvivors+1)
	ratio := make([]float64, numSurvivors+1)
	for it, newID := survivors.Iterator(), 1; it.HasNext(); newID++ {
		id := it.Next()
		hist[newID], valid[newID], ratio[newID] = graph.hist[id], graph.valid[id], graph.ratio[id]
	}
	if table, err = seg.ResetTable(ctx, band); err != nil {
		return MergeResult{}, errs.IO(op, err)
	}
	if err := sat.WriteRealColumn(ctx, table, ValidRatioColumn, ratio); err != nil {
		return MergeResult{}, err
	}
	if err := sat.WriteIntColumn(ctx, table, sat.HistogramColumn, hist); err != nil {
		return MergeResult{}, err
	}
	if err := sat.WriteIntColumn(ctx, table, ValidPixelsColumn, valid); err != nil {
		return MergeResult{}, err
	}
	result.RowCount = table.RowCount()

	// Extent.
	if err := engine.writeExtents(ctx, seg, band, table); err != nil {
		return MergeResult{}, err
	}
	engine.logger.Debug().
		Str("op", op).
		Int("passes", result.Passes).
		Int("merges", result.Merges).
		Int("rows", result.RowCount).
		Msg("merged tiles")
	return result, nil
}
