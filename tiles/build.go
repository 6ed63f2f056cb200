package tiles

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"segstats/errs"
	"segstats/kernel"
	"segstats/raster"
	"segstats/sat"
	"segstats/stats"
)

// Config controls Build.
type Config struct {
	// TileSize is the tile edge in pixels; edge tiles may be smaller.
	TileSize int
	// ValidRatio is the ValidPxlRatio under which a tile is merged into a
	// neighbour.
	ValidRatio float64
	// NoData marks invalid source pixels. When nil every pixel is valid and
	// no merge runs.
	NoData *float64
}

// Build writes a regular tile segmentation of src into band 1 of out,
// numbering tiles from 1 in row-major order, and populates the tile table.
// With NoData set, tiles whose share of valid pixels is below ValidRatio
// are merged into their neighbours.
func (engine *Engine) Build(ctx context.Context, src, out raster.Dataset, config Config) (MergeResult, error) {
	const op = "tiles.Build"
	if src == nil {
		return MergeResult{}, errs.Config(op, "no source dataset")
	}
	if config.TileSize <= 0 {
		return MergeResult{}, errs.Config(op, "tile size must be positive, got %d", config.TileSize)
	}
	if !(config.ValidRatio >= 0 && config.ValidRatio <= 1) {
		return MergeResult{}, errs.Config(op, "valid ratio %v outside [0,1]", config.ValidRatio)
	}
	if err := checkSegmentation(op, out, 1); err != nil {
		return MergeResult{}, err
	}
	if out.BandCount() != 1 {
		return MergeResult{}, errs.Config(op, "output has %d bands, expected 1", out.BandCount())
	}
	if err := raster.CheckAligned(op, src, out); err != nil {
		return MergeResult{}, err
	}

	width, height := src.Size()
	tileSize := config.TileSize
	tilesX := (width + tileSize - 1) / tileSize
	tilesY := (height + tileSize - 1) / tileSize
	numTiles := tilesX * tilesY
	if out.DataType().Coerce(float64(numTiles)) != float64(numTiles) {
		return MergeResult{}, errs.Config(op, "%d tiles do not fit in %v", numTiles, out.DataType())
	}

	// The kernel visits pixels row-major, so a counter gives the position.
	pixel := 0
	calc := kernel.OutputFunc(func(_, output []float64) error {
		x, y := pixel%width, pixel/width
		pixel++
		output[0] = float64((y/tileSize)*tilesX + x/tileSize + 1)
		return nil
	})
	if err := engine.kernel.CalcOutput(ctx, calc, out, src); err != nil {
		return MergeResult{}, err
	}
	if err := out.SetThematic(1, true); err != nil {
		return MergeResult{}, errs.IO(op, err)
	}
	table, err := out.ResetTable(ctx, 1)
	if err != nil {
		return MergeResult{}, errs.IO(op, err)
	}
	if err := table.SetRowCount(numTiles + 1); err != nil {
		return MergeResult{}, err
	}
	engine.logger.Debug().Str("op", op).Int("tiles", numTiles).Int("tileSize", tileSize).Msg("wrote tiles")

	if err := engine.zonal.PopulateHistogram(ctx, out, 1); err != nil {
		return MergeResult{}, err
	}
	hist, err := sat.ReadIntColumn(ctx, table, sat.HistogramColumn)
	if err != nil {
		return MergeResult{}, err
	}
	valid := hist
	if config.NoData != nil {
		if err := engine.zonal.CountValidPixels(ctx, out, 1, src, *config.NoData, ValidPixelsColumn); err != nil {
			return MergeResult{}, err
		}
		if valid, err = sat.ReadIntColumn(ctx, table, ValidPixelsColumn); err != nil {
			return MergeResult{}, err
		}
	} else if err := sat.WriteIntColumn(ctx, table, ValidPixelsColumn, valid); err != nil {
		return MergeResult{}, err
	}
	ratios := make([]float64, len(hist))
	for id := range ratios {
		ratios[id] = stats.Ratio(float64(valid[id]), float64(hist[id]))
	}
	if err := sat.WriteRealColumn(ctx, table, ValidRatioColumn, ratios); err != nil {
		return MergeResult{}, err
	}

	if config.NoData != nil {
		return engine.Merge(ctx, out, 1, config.ValidRatio)
	}
	if err := engine.writeExtents(ctx, out, 1, table); err != nil {
		return MergeResult{}, err
	}
	return MergeResult{
		Removed:  roaring.New(),
		RowCount: table.RowCount(),
		Active:   numTiles,
	}, nil
}
