package zonal

import (
	"context"

	"github.com/rs/zerolog"

	"segstats/errs"
	"segstats/kernel"
	"segstats/raster"
	"segstats/sat"
	"segstats/stats"
)

// Engine populates segment attribute tables with statistics of value rasters
// over the segments of a segmentation raster.
type Engine struct {
	logger     zerolog.Logger
	kernel     *kernel.Kernel
	singlePass bool
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

// WithSinglePass computes standard deviations with Welford's online update
// instead of a second sweep.
func WithSinglePass() Option {
	return func(engine *Engine) {
		engine.singlePass = true
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
	return engine
}

func checkBand(op string, ds raster.Dataset, band int, what string) error {
	if ds == nil {
		return errs.Config(op, "no %s dataset", what)
	}
	if band < 1 || band > ds.BandCount() {
		return errs.Config(op, "%s band %d out of range [1,%d]", what, band, ds.BandCount())
	}
	return nil
}

// checkSegmentation requires band of seg to exist and hold integer IDs.
func checkSegmentation(op string, seg raster.Dataset, band int) error {
	if err := checkBand(op, seg, band, "segmentation"); err != nil {
		return err
	}
	if !seg.DataType().IsInteger() {
		return errs.Config(op, "segmentation type %v is not an integer type", seg.DataType())
	}
	return nil
}

func checkField(op, statistic, field string) error {
	if field == "" {
		return errs.Config(op, "no column name for %s", statistic)
	}
	return nil
}

// rangeScan is the result of a pre-pass over the segmentation raster and,
// optionally, one value band.
type rangeScan struct {
	maxID    int
	min, max float64
	finite   bool
}

// scan finds the largest segment ID and, when vals is set, the range of the
// finite values of vals band.
func (engine *Engine) scan(ctx context.Context, seg raster.Dataset, segBand int, vals raster.Dataset, band int) (rangeScan, error) {
	var result rangeScan
	datasets := []raster.Dataset{seg}
	offset := seg.BandCount() + band - 1
	if vals != nil {
		datasets = append(datasets, vals)
	}
	calc := kernel.PixelFunc(func(values []float64) error {
		if id, ok := raster.SegmentID(values[segBand-1]); ok && id > result.maxID {
			result.maxID = id
		}
		if vals == nil {
			return nil
		}
		v := values[offset]
		if !stats.IsFinite(v) {
			return nil
		}
		if !result.finite {
			result.min, result.max, result.finite = v, v, true
		} else {
			result.min = min(result.min, v)
			result.max = max(result.max, v)
		}
		return nil
	})
	if err := engine.kernel.CalcPixels(ctx, calc, datasets...); err != nil {
		return rangeScan{}, err
	}
	return result, nil
}

// table returns the segmentation band's table grown to cover maxID.
func (engine *Engine) table(ctx context.Context, seg raster.Dataset, segBand, maxID int) (sat.Table, int, error) {
	const op = "zonal.table"
	table, err := seg.Table(ctx, segBand)
	if err != nil {
		return nil, 0, errs.IO(op, err)
	}
	numRows := max(table.RowCount(), maxID+1)
	if err := sat.EnsureRows(table, numRows); err != nil {
		return nil, 0, errs.IO(op, err)
	}
	return table, numRows, nil
}

// histogramGate supplies the Histogram column block by block. When the
// column is missing it is created and filled from counts.
type histogramGate struct {
	table  sat.Table
	col    int
	counts []int64
}

func newHistogramGate(table sat.Table, counts []int64) (*histogramGate, error) {
	if col, ok := table.ColumnIndex(sat.HistogramColumn); ok {
		return &histogramGate{table: table, col: col}, nil
	}
	col, err := table.FindOrCreateColumn(sat.HistogramColumn, sat.Integer)
	if err != nil {
		return nil, err
	}
	return &histogramGate{table: table, col: col, counts: counts}, nil
}

func (gate *histogramGate) block(ctx context.Context, start, n int) ([]int64, error) {
	if gate.counts == nil {
		return sat.ReadAsInts(ctx, gate.table, gate.col, start, n)
	}
	block := gate.counts[start : start+n]
	if err := gate.table.WriteInts(ctx, gate.col, start, block); err != nil {
		return nil, errs.IO("zonal.histogram", err)
	}
	return block, nil
}

// countPixels tallies segmentation pixels per ID into a slice of numRows.
func countPixels(op string, counts []int64, id int) error {
	if id >= len(counts) {
		return errs.Data(op, "segment %d beyond %d table rows", id, len(counts))
	}
	counts[id]++
	return nil
}

// PopulateHistogram writes the pixel count of every segment to the
// Histogram column.
func (engine *Engine) PopulateHistogram(ctx context.Context, seg raster.Dataset, segBand int) error {
	const op = "zonal.PopulateHistogram"
	if err := checkSegmentation(op, seg, segBand); err != nil {
		return err
	}
	scan, err := engine.scan(ctx, seg, segBand, nil, 0)
	if err != nil {
		return err
	}
	table, numRows, err := engine.table(ctx, seg, segBand, scan.maxID)
	if err != nil {
		return err
	}
	counts := make([]int64, numRows)
	calc := kernel.PixelFunc(func(values []float64) error {
		if id, ok := raster.SegmentID(values[segBand-1]); ok {
			return countPixels(op, counts, id)
		}
		return nil
	})
	if err := engine.kernel.CalcPixels(ctx, calc, seg); err != nil {
		return err
	}
	return sat.WriteIntColumn(ctx, table, sat.HistogramColumn, counts)
}

// CountValidPixels writes, per segment, the number of pixels for which
// every band of vals is finite and differs from noData.
func (engine *Engine) CountValidPixels(ctx context.Context, seg raster.Dataset, segBand int, vals raster.Dataset, noData float64, column string) error {
	const op = "zonal.CountValidPixels"
	if err := checkSegmentation(op, seg, segBand); err != nil {
		return err
	}
	if vals == nil {
		return errs.Config(op, "no value dataset")
	}
	if err := checkField(op, "valid pixel count", column); err != nil {
		return err
	}
	scan, err := engine.scan(ctx, seg, segBand, nil, 0)
	if err != nil {
		return err
	}
	table, numRows, err := engine.table(ctx, seg, segBand, scan.maxID)
	if err != nil {
		return err
	}
	offset := seg.BandCount()
	counts := make([]int64, numRows)
	calc := kernel.PixelFunc(func(values []float64) error {
		id, ok := raster.SegmentID(values[segBand-1])
		if !ok {
			return nil
		}
		for _, v := range values[offset:] {
			if !stats.IsFinite(v) || v == noData {
				return nil
			}
		}
		return countPixels(op, counts, id)
	})
	if err := engine.kernel.CalcPixels(ctx, calc, seg, vals); err != nil {
		return err
	}
	return sat.WriteIntColumn(ctx, table, column, counts)
}
