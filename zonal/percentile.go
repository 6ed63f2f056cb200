package zonal

import (
	"context"

	"github.com/bits-and-blooms/bitset"

	"segstats/errs"
	"segstats/kernel"
	"segstats/raster"
	"segstats/sat"
	"segstats/stats"
)

// PercentileRequest writes the given percentile (0-100) of a band to a Real
// column.
type PercentileRequest struct {
	Percentile float64
	Field      string
}

// percentileArena holds per-segment bin counts and value ranges.
type percentileArena struct {
	op      string
	layout  stats.BinLayout
	counts  []uint32
	ranges  []float64
	touched *bitset.BitSet
	pixels  []int64
}

func newPercentileArena(op string, layout stats.BinLayout, numRows int) *percentileArena {
	return &percentileArena{
		op:      op,
		layout:  layout,
		counts:  make([]uint32, numRows*layout.NumBins),
		ranges:  make([]float64, 2*numRows),
		touched: bitset.New(uint(numRows)),
		pixels:  make([]int64, numRows),
	}
}

func (arena *percentileArena) add(id int, v float64) error {
	bin, ok := arena.layout.Bin(v)
	if !ok {
		return errs.Data(arena.op, "value %v of segment %d outside histogram range [%v,%v]",
			v, id, arena.layout.Lower(0), arena.layout.Max)
	}
	arena.counts[id*arena.layout.NumBins+bin]++
	lo, hi := &arena.ranges[2*id], &arena.ranges[2*id+1]
	if !arena.touched.Test(uint(id)) {
		arena.touched.Set(uint(id))
		*lo, *hi = v, v
	} else {
		*lo = min(*lo, v)
		*hi = max(*hi, v)
	}
	return nil
}

func (arena *percentileArena) percentile(id int, p float64) float64 {
	if !arena.touched.Test(uint(id)) {
		return 0
	}
	numBins := arena.layout.NumBins
	return arena.layout.Percentile(arena.counts[id*numBins:(id+1)*numBins], p, arena.ranges[2*id], arena.ranges[2*id+1])
}

// ValidatePercentiles returns the ConfigError or GeometryError that
// PopulatePercentiles would fail with for these arguments, without reading
// any pixel.
func ValidatePercentiles(seg raster.Dataset, segBand int, vals raster.Dataset, band, numBins int, requests []PercentileRequest) error {
	return validatePercentiles("zonal.PopulatePercentiles", seg, segBand, vals, band, numBins, requests)
}

func validatePercentiles(op string, seg raster.Dataset, segBand int, vals raster.Dataset, band, numBins int, requests []PercentileRequest) error {
	if err := checkSegmentation(op, seg, segBand); err != nil {
		return err
	}
	if err := checkBand(op, vals, band, "value"); err != nil {
		return err
	}
	if numBins < 2 {
		return errs.Config(op, "need at least 2 histogram bins, got %d", numBins)
	}
	if len(requests) == 0 {
		return errs.Config(op, "no percentiles requested")
	}
	for _, request := range requests {
		if !(request.Percentile >= 0 && request.Percentile <= 100) {
			return errs.Config(op, "percentile %v outside [0,100]", request.Percentile)
		}
		if err := checkField(op, "percentile", request.Field); err != nil {
			return err
		}
	}
	return raster.CheckAligned(op, seg, vals)
}

// PopulatePercentiles estimates percentiles of vals band per segment from a
// numBins histogram spanning the band's finite range.
func (engine *Engine) PopulatePercentiles(ctx context.Context, seg raster.Dataset, segBand int, vals raster.Dataset, band, numBins int, requests []PercentileRequest) error {
	const op = "zonal.PopulatePercentiles"
	if err := validatePercentiles(op, seg, segBand, vals, band, numBins, requests); err != nil {
		return err
	}

	scan, err := engine.scan(ctx, seg, segBand, vals, band)
	if err != nil {
		return err
	}
	table, numRows, err := engine.table(ctx, seg, segBand, scan.maxID)
	if err != nil {
		return err
	}
	layout := stats.BinLayout{NumBins: numBins, Width: 1}
	if scan.finite {
		if layout, err = stats.NewBinLayout(scan.min, scan.max, numBins); err != nil {
			return err
		}
	}
	engine.logger.Debug().
		Str("op", op).
		Float64("min", layout.Min).
		Float64("max", layout.Max).
		Float64("binWidth", layout.Width).
		Msg("histogram layout")

	arena := newPercentileArena(op, layout, numRows)
	offset := seg.BandCount() + band - 1
	calc := kernel.PixelFunc(func(values []float64) error {
		id, ok := raster.SegmentID(values[segBand-1])
		if !ok {
			return nil
		}
		if err := countPixels(op, arena.pixels, id); err != nil {
			return err
		}
		if v := values[offset]; stats.IsFinite(v) {
			return arena.add(id, v)
		}
		return nil
	})
	if err := engine.kernel.CalcPixels(ctx, calc, seg, vals); err != nil {
		return err
	}

	gate, err := newHistogramGate(table, arena.pixels)
	if err != nil {
		return err
	}
	cols := make([]int, len(requests))
	for i, request := range requests {
		if cols[i], err = table.FindOrCreateColumn(request.Field, sat.Real); err != nil {
			return err
		}
	}
	buf := make([]float64, table.BlockLength())
	return sat.ForEachBlock(numRows, table.BlockLength(), func(start, n int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		weight, err := gate.block(ctx, start, n)
		if err != nil {
			return err
		}
		for i, request := range requests {
			block := buf[:n]
			for j := range block {
				block[j] = 0
				if weight[j] > 0 {
					block[j] = arena.percentile(start+j, request.Percentile)
				}
			}
			if err := table.WriteReals(ctx, cols[i], start, block); err != nil {
				return errs.IO(op, err)
			}
		}
		return nil
	})
}
