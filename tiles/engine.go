package tiles

import (
	"context"

	"github.com/bits-and-blooms/bitset"
	"github.com/rs/zerolog"

	"segstats/clumps"
	"segstats/errs"
	"segstats/kernel"
	"segstats/raster"
	"segstats/sat"
	"segstats/zonal"
)

// Columns written by the tile builder and the merge.
const (
	ValidPixelsColumn = "NumValidPxls"
	ValidRatioColumn  = "ValidPxlRatio"
	XMinColumn        = "XMIN"
	XMaxColumn        = "XMAX"
	YMinColumn        = "YMIN"
	YMaxColumn        = "YMAX"
)

// Engine builds tile segmentations and merges low quality tiles into their
// neighbours.
type Engine struct {
	logger zerolog.Logger
	kernel *kernel.Kernel
	zonal  *zonal.Engine
	clumps *clumps.Engine
}

type Option func(*Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

func WithKernel(k *kernel.Kernel) Option {
	return func(engine *Engine) {
		engine.kernel = k
	}
}

func NewEngine(opts ...Option) *Engine {
	engine := &Engine{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(engine)
	}
	if engine.kernel == nil {
		engine.kernel = kernel.New(kernel.WithLogger(engine.logger))
	}
	engine.zonal = zonal.NewEngine(zonal.WithLogger(engine.logger), zonal.WithKernel(engine.kernel))
	engine.clumps = clumps.NewEngine(clumps.WithLogger(engine.logger), clumps.WithKernel(engine.kernel))
	return engine
}

func checkSegmentation(op string, seg raster.Dataset, band int) error {
	if seg == nil {
		return errs.Config(op, "no segmentation dataset")
	}
	if band < 1 || band > seg.BandCount() {
		return errs.Config(op, "segmentation band %d out of range [1,%d]", band, seg.BandCount())
	}
	if !seg.DataType().IsInteger() {
		return errs.Config(op, "segmentation type %v is not an integer type", seg.DataType())
	}
	return nil
}

// relabel rewrites band of seg in place, replacing each segment ID with
// mapping(id). Background and non-finite pixels become 0; other bands are
// kept.
func (engine *Engine) relabel(ctx context.Context, seg raster.Dataset, band int, mapping func(id int) (int, error)) error {
	b := band - 1
	calc := kernel.OutputFunc(func(values, output []float64) error {
		copy(output, values)
		id, ok := raster.SegmentID(values[b])
		if !ok {
			output[b] = 0
			return nil
		}
		to, err := mapping(id)
		if err != nil {
			return err
		}
		output[b] = float64(to)
		return nil
	})
	return engine.kernel.CalcOutput(ctx, calc, seg, seg)
}

// writeExtents computes the world bounding box of every segment and writes
// it to the XMIN, XMAX, YMIN and YMAX columns.
func (engine *Engine) writeExtents(ctx context.Context, seg raster.Dataset, band int, table sat.Table) error {
	const op = "tiles.writeExtents"
	numRows := table.RowCount()
	extents := make([]raster.Extent, numRows)
	touched := bitset.New(uint(numRows))
	b := band - 1
	calc := kernel.ExtentFunc(func(values []float64, extent raster.Extent) error {
		id, ok := raster.SegmentID(values[b])
		if !ok {
			return nil
		}
		if id >= numRows {
			return errs.Data(op, "segment %d beyond %d table rows", id, numRows)
		}
		if !touched.Test(uint(id)) {
			touched.Set(uint(id))
			extents[id] = extent
		} else {
			extents[id].Union(extent)
		}
		return nil
	})
	if err := engine.kernel.CalcExtents(ctx, calc, seg); err != nil {
		return err
	}

	columns := []struct {
		name  string
		value func(raster.Extent) float64
	}{
		{XMinColumn, func(e raster.Extent) float64 { return e.MinX }},
		{XMaxColumn, func(e raster.Extent) float64 { return e.MaxX }},
		{YMinColumn, func(e raster.Extent) float64 { return e.MinY }},
		{YMaxColumn, func(e raster.Extent) float64 { return e.MaxY }},
	}
	values := make([]float64, numRows)
	for _, column := range columns {
		for id, extent := range extents {
			values[id] = column.value(extent)
		}
		if err := sat.WriteRealColumn(ctx, table, column.name, values); err != nil {
			return err
		}
	}
	engine.logger.Debug().Str("op", op).Int("rows", numRows).Msg("wrote extents")
	return nil
}
