package tiles

import (
	"context"

	"github.com/bits-and-blooms/bitset"

	"segstats/errs"
	"segstats/kernel"
	"segstats/raster"
	"segstats/sat"
)

// TilePositionCodes are the tile mask values for the overlap, boundary and
// body parts of a tile, also used as the output codes.
type TilePositionCodes struct {
	Overlap  int
	Boundary int
	Body     int
}

// DefineSegmentTilePositions classifies every segment of seg band 1 by the
// tile mask pixels (band 1 of tileMask) it covers and writes the code to an
// Integer column: Boundary if it touches a boundary pixel or both overlap
// and body pixels, else Overlap or Body if it touches those, else 0.
func (engine *Engine) DefineSegmentTilePositions(ctx context.Context, seg, tileMask raster.Dataset, column string, codes TilePositionCodes) error {
	const op = "tiles.DefineSegmentTilePositions"
	if err := checkSegmentation(op, seg, 1); err != nil {
		return err
	}
	if tileMask == nil {
		return errs.Config(op, "no tile mask dataset")
	}
	if column == "" {
		return errs.Config(op, "no output column")
	}
	if codes.Overlap == codes.Boundary || codes.Overlap == codes.Body || codes.Boundary == codes.Body {
		return errs.Config(op, "tile position codes %+v are not distinct", codes)
	}
	if err := raster.CheckAligned(op, seg, tileMask); err != nil {
		return err
	}
	table, err := seg.Table(ctx, 1)
	if err != nil {
		return errs.IO(op, err)
	}

	var overlap, boundary, body bitset.BitSet
	maxID := 0
	maskOffset := seg.BandCount()
	calc := kernel.PixelFunc(func(values []float64) error {
		id, ok := raster.SegmentID(values[0])
		if !ok {
			return nil
		}
		maxID = max(maxID, id)
		switch int(values[maskOffset]) {
		case codes.Overlap:
			overlap.Set(uint(id))
		case codes.Boundary:
			boundary.Set(uint(id))
		case codes.Body:
			body.Set(uint(id))
		}
		return nil
	})
	if err := engine.kernel.CalcPixels(ctx, calc, seg, tileMask); err != nil {
		return err
	}

	positions := make([]int64, max(table.RowCount(), maxID+1))
	for id := range positions {
		inOverlap, inBoundary, inBody := overlap.Test(uint(id)), boundary.Test(uint(id)), body.Test(uint(id))
		switch {
		case inBoundary, inOverlap && inBody:
			positions[id] = int64(codes.Boundary)
		case inOverlap:
			positions[id] = int64(codes.Overlap)
		case inBody:
			positions[id] = int64(codes.Body)
		}
	}
	return sat.WriteIntColumn(ctx, table, column, positions)
}
