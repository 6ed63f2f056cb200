package core

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"segstats/clumps"
	"segstats/errs"
	"segstats/kernel"
	"segstats/logger"
	"segstats/raster"
	"segstats/sat"
	"segstats/tiles"
	"segstats/zonal"
)

// PercentileSpec asks for percentiles of one value band, estimated from a
// histogram of NumBins bins.
type PercentileSpec struct {
	Band     int
	NumBins  int
	Requests []zonal.PercentileRequest
}

// Engine is the entry point of the raster analytics operations. Operations
// that write to the same dataset are serialised.
type Engine struct {
	logger   zerolog.Logger
	registry prometheus.Registerer
	kernel   *kernel.Kernel
	zonal    *zonal.Engine
	clumps   *clumps.Engine
	tiles    *tiles.Engine

	mu    sync.Mutex
	locks map[raster.Dataset]*datasetLock
}

// datasetLock serialises the operations on one dataset. The entry is
// dropped once no operation holds or waits for it.
type datasetLock struct {
	mu   sync.Mutex
	refs int
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

// WithRegisterer registers the kernel metrics on registry. Ignored when a
// kernel is given with WithKernel.
func WithRegisterer(registry prometheus.Registerer) Option {
	return func(engine *Engine) {
		engine.registry = registry
	}
}

func NewEngine(opts ...Option) *Engine {
	engine := &Engine{
		logger: logger.Nop(),
		locks:  make(map[raster.Dataset]*datasetLock),
	}
	for _, opt := range opts {
		opt(engine)
	}
	engine.logger = logger.Component(engine.logger, "core")
	if engine.kernel == nil {
		kernelOpts := []kernel.Option{kernel.WithLogger(logger.Component(engine.logger, "kernel"))}
		if engine.registry != nil {
			kernelOpts = append(kernelOpts, kernel.WithMetrics(kernel.NewMetrics(engine.registry)))
		}
		engine.kernel = kernel.New(kernelOpts...)
	}
	engine.zonal = zonal.NewEngine(
		zonal.WithLogger(logger.Component(engine.logger, "zonal")),
		zonal.WithKernel(engine.kernel))
	engine.clumps = clumps.NewEngine(
		clumps.WithLogger(logger.Component(engine.logger, "clumps")),
		clumps.WithKernel(engine.kernel))
	engine.tiles = tiles.NewEngine(
		tiles.WithLogger(logger.Component(engine.logger, "tiles")),
		tiles.WithKernel(engine.kernel))
	return engine
}

func (engine *Engine) lock(ds raster.Dataset) func() {
	engine.mu.Lock()
	entry, ok := engine.locks[ds]
	if !ok {
		entry = &datasetLock{}
		engine.locks[ds] = entry
	}
	entry.refs++
	engine.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		engine.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(engine.locks, ds)
		}
		engine.mu.Unlock()
	}
}

// run executes fn holding the lock of the dataset it writes to, and logs the
// outcome.
func (engine *Engine) run(op string, ds raster.Dataset, fn func() (*zerolog.Event, error)) error {
	if ds == nil {
		err := errs.Config(op, "no target dataset")
		engine.logger.Err(err).Str("op", op).Msg("operation failed")
		return err
	}
	defer engine.lock(ds)()
	start := time.Now()
	event, err := fn()
	if err != nil {
		if event != nil {
			event.Discard()
		}
		engine.logger.Err(err).Str("op", op).Msg("operation failed")
		return err
	}
	if event == nil {
		event = engine.logger.Info()
	}
	event.Str("op", op).Dur("elapsed", time.Since(start)).Msg("operation done")
	return nil
}

// PopulateZonalStats writes the requested per-segment statistics of vals to
// the table of seg band segBand, followed by the percentiles if given.
func (engine *Engine) PopulateZonalStats(ctx context.Context, seg raster.Dataset, segBand int, vals raster.Dataset,
	requests []zonal.BandStatRequest, percentiles *PercentileSpec) error {
	const op = "core.PopulateZonalStats"
	return engine.run(op, seg, func() (*zerolog.Event, error) {
		if len(requests) == 0 && percentiles == nil {
			return nil, errs.Config(op, "no statistics requested")
		}
		if percentiles != nil {
			err := zonal.ValidatePercentiles(seg, segBand, vals, percentiles.Band, percentiles.NumBins, percentiles.Requests)
			if err != nil {
				return nil, err
			}
		}
		if len(requests) > 0 {
			if err := engine.zonal.PopulateStats(ctx, seg, segBand, vals, requests); err != nil {
				return nil, err
			}
		}
		if percentiles != nil {
			err := engine.zonal.PopulatePercentiles(ctx, seg, segBand, vals, percentiles.Band, percentiles.NumBins,
				percentiles.Requests)
			if err != nil {
				return nil, err
			}
		}
		return engine.logger.Info().Int("band", segBand).Int("requests", len(requests)), nil
	})
}

// PopulateMeanLit writes the statistics of requests over the lit pixels of
// every segment.
func (engine *Engine) PopulateMeanLit(ctx context.Context, seg raster.Dataset, segBand int, vals, lit raster.Dataset,
	litBand int, config zonal.MeanLitConfig, requests []zonal.BandStatRequest) error {
	return engine.run("core.PopulateMeanLit", seg, func() (*zerolog.Event, error) {
		err := engine.zonal.PopulateMeanLit(ctx, seg, segBand, vals, lit, litBand, config, requests)
		return engine.logger.Info().Int("band", segBand), err
	})
}

// BuildTiles writes a tile segmentation of src into out and merges tiles
// whose valid pixel ratio is under ratio when noData is set.
func (engine *Engine) BuildTiles(ctx context.Context, src, out raster.Dataset, tileSize int, ratio float64,
	noData *float64) (tiles.MergeResult, error) {
	var result tiles.MergeResult
	err := engine.run("core.BuildTiles", out, func() (*zerolog.Event, error) {
		var err error
		result, err = engine.tiles.Build(ctx, src, out, tiles.Config{TileSize: tileSize, ValidRatio: ratio, NoData: noData})
		return engine.logger.Info().
			Int("rows", result.RowCount).
			Int("passes", result.Passes).
			Int("merges", result.Merges), err
	})
	return result, err
}

// MergeTiles runs the tile merge on an existing tile segmentation.
func (engine *Engine) MergeTiles(ctx context.Context, seg raster.Dataset, band int, ratio float64) (tiles.MergeResult, error) {
	var result tiles.MergeResult
	err := engine.run("core.MergeTiles", seg, func() (*zerolog.Event, error) {
		var err error
		result, err = engine.tiles.Merge(ctx, seg, band, ratio)
		return engine.logger.Info().
			Int("band", band).
			Int("rows", result.RowCount).
			Int("passes", result.Passes).
			Int("merges", result.Merges), err
	})
	return result, err
}

func (engine *Engine) ComputeAdjacency(ctx context.Context, seg raster.Dataset, band int) ([]clumps.AdjacencySet, error) {
	var sets []clumps.AdjacencySet
	err := engine.run("core.ComputeAdjacency", seg, func() (*zerolog.Event, error) {
		var err error
		sets, err = engine.clumps.Adjacency(ctx, seg, band)
		return engine.logger.Info().Int("band", band).Int("rows", len(sets)), err
	})
	return sets, err
}

func (engine *Engine) ComputeBorderLength(ctx context.Context, seg raster.Dataset, band int, includeBackground bool) ([]float64, error) {
	var lengths []float64
	err := engine.run("core.ComputeBorderLength", seg, func() (*zerolog.Event, error) {
		var err error
		lengths, err = engine.clumps.BorderLength(ctx, seg, band, includeBackground)
		return engine.logger.Info().Int("band", band).Int("rows", len(lengths)), err
	})
	return lengths, err
}

func (engine *Engine) WriteBorderLength(ctx context.Context, seg raster.Dataset, band int, includeBackground bool, column string) error {
	return engine.run("core.WriteBorderLength", seg, func() (*zerolog.Event, error) {
		err := engine.clumps.WriteBorderLength(ctx, seg, band, includeBackground, column)
		return engine.logger.Info().Int("band", band).Str("column", column), err
	})
}

func (engine *Engine) RelBorderLengthToClass(ctx context.Context, seg raster.Dataset, band int, includeBackground bool,
	classColumn, className, outColumn string) error {
	return engine.run("core.RelBorderLengthToClass", seg, func() (*zerolog.Event, error) {
		err := engine.clumps.RelBorderLengthToClass(ctx, seg, band, includeBackground, classColumn, className, outColumn)
		return engine.logger.Info().Int("band", band).Str("column", outColumn), err
	})
}

func (engine *Engine) DefineSegmentTilePositions(ctx context.Context, seg, tileMask raster.Dataset, column string,
	codes tiles.TilePositionCodes) error {
	return engine.run("core.DefineSegmentTilePositions", seg, func() (*zerolog.Event, error) {
		err := engine.tiles.DefineSegmentTilePositions(ctx, seg, tileMask, column, codes)
		return engine.logger.Info().Str("column", column), err
	})
}

// CopyColumns copies the named columns of the src band table into the dst
// band table.
func (engine *Engine) CopyColumns(ctx context.Context, src raster.Dataset, srcBand int, dst raster.Dataset, dstBand int,
	names []string) error {
	const op = "core.CopyColumns"
	return engine.run(op, dst, func() (*zerolog.Event, error) {
		if src == nil {
			return nil, errs.Config(op, "no source dataset")
		}
		if srcBand < 1 || srcBand > src.BandCount() {
			return nil, errs.Config(op, "source band %d out of range [1,%d]", srcBand, src.BandCount())
		}
		if dstBand < 1 || dstBand > dst.BandCount() {
			return nil, errs.Config(op, "destination band %d out of range [1,%d]", dstBand, dst.BandCount())
		}
		srcTable, err := src.Table(ctx, srcBand)
		if err != nil {
			return nil, errs.IO(op, err)
		}
		dstTable, err := dst.Table(ctx, dstBand)
		if err != nil {
			return nil, errs.IO(op, err)
		}
		err = sat.CopyColumns(ctx, srcTable, dstTable, names)
		return engine.logger.Info().Strs("columns", names), err
	})
}
