package clumps

import (
	"context"
	"math"

	"segstats/errs"
	"segstats/kernel"
	"segstats/raster"
	"segstats/sat"
	"segstats/stats"
)

// borders calls visit for every pair of a segment pixel and a cardinal
// neighbour with a different ID, with the length of the shared pixel edge.
// Background neighbours are only reported when includeBackground is set.
func (engine *Engine) borders(ctx context.Context, seg raster.Dataset, band int, includeBackground bool,
	visit func(id, neighbour int, length float64)) error {
	xRes, yRes := seg.GeoTransform().Resolution()
	xRes, yRes = math.Abs(xRes), math.Abs(yRes)
	b := band - 1
	calc := kernel.WindowFunc(func(win *kernel.Window) error {
		id, ok := raster.SegmentID(win.Center(b))
		if !ok {
			return nil
		}
		for _, dir := range cardinal {
			n, isSegment := raster.SegmentID(win.At(b, dir.dx, dir.dy))
			if n == id || (!isSegment && !includeBackground) {
				continue
			}
			length := yRes
			if dir.horizontal {
				length = xRes
			}
			visit(id, n, length)
		}
		return nil
	})
	k := engine.kernel.With(kernel.WithEdgePolicy(kernel.EdgeReplicate))
	return k.CalcWindows(ctx, calc, 1, seg)
}

// BorderLength returns, per segment ID, the world length of the segment's
// boundary with other segments and, if includeBackground is set, with the
// background.
func (engine *Engine) BorderLength(ctx context.Context, seg raster.Dataset, band int, includeBackground bool) ([]float64, error) {
	const op = "clumps.BorderLength"
	if err := checkBand(op, seg, band); err != nil {
		return nil, err
	}
	lengths := []float64{0}
	err := engine.borders(ctx, seg, band, includeBackground, func(id, _ int, length float64) {
		lengths = grow(lengths, id)
		lengths[id] += length
	})
	if err != nil {
		return nil, err
	}
	return lengths, nil
}

// WriteBorderLength stores BorderLength in the Real column of the
// segmentation band's table.
func (engine *Engine) WriteBorderLength(ctx context.Context, seg raster.Dataset, band int, includeBackground bool, column string) error {
	const op = "clumps.WriteBorderLength"
	if column == "" {
		return errs.Config(op, "no output column")
	}
	lengths, err := engine.BorderLength(ctx, seg, band, includeBackground)
	if err != nil {
		return err
	}
	table, err := seg.Table(ctx, band)
	if err != nil {
		return errs.IO(op, err)
	}
	lengths = grow(lengths, table.RowCount()-1)
	return sat.WriteRealColumn(ctx, table, column, lengths)
}

// RelBorderLengthToClass writes, per segment, the fraction of its border
// length shared with segments whose classColumn equals className.
func (engine *Engine) RelBorderLengthToClass(ctx context.Context, seg raster.Dataset, band int, includeBackground bool,
	classColumn, className, outColumn string) error {
	const op = "clumps.RelBorderLengthToClass"
	if err := checkBand(op, seg, band); err != nil {
		return err
	}
	if outColumn == "" {
		return errs.Config(op, "no output column")
	}
	table, err := seg.Table(ctx, band)
	if err != nil {
		return errs.IO(op, err)
	}
	classCol, err := sat.ColumnByName(table, classColumn)
	if err != nil {
		return err
	}
	if columnType, _ := sat.ColumnTypeOf(table, classCol); columnType != sat.String {
		return errs.Config(op, "class column %q is %v, expected String", classColumn, columnType)
	}
	inClass := make([]bool, table.RowCount())
	err = sat.ForEachBlock(table.RowCount(), table.BlockLength(), func(start, n int) error {
		names, err := table.ReadStrings(ctx, classCol, start, n)
		if err != nil {
			return errs.IO(op, err)
		}
		for i, name := range names {
			inClass[start+i] = name == className
		}
		return nil
	})
	if err != nil {
		return err
	}

	total := make([]float64, table.RowCount())
	shared := make([]float64, table.RowCount())
	err = engine.borders(ctx, seg, band, includeBackground, func(id, neighbour int, length float64) {
		total = grow(total, id)
		shared = grow(shared, id)
		total[id] += length
		if neighbour < len(inClass) && inClass[neighbour] {
			shared[id] += length
		}
	})
	if err != nil {
		return err
	}
	ratios := make([]float64, len(total))
	for id := range ratios {
		ratios[id] = stats.Ratio(shared[id], total[id])
	}
	return sat.WriteRealColumn(ctx, table, outColumn, ratios)
}
