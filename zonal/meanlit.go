package zonal

import (
	"context"

	"segstats/errs"
	"segstats/raster"
	"segstats/sat"
)

// MeanLitConfig names the columns of a gated statistics run. Pixels only
// count towards segment s when the lit band value is at least
// ThresholdColumn[s]; the number of such pixels is written to CountColumn.
type MeanLitConfig struct {
	ThresholdColumn string
	CountColumn     string
}

// PopulateMeanLit computes the statistics of requests over the lit pixels of
// every segment.
func (engine *Engine) PopulateMeanLit(ctx context.Context, seg raster.Dataset, segBand int, vals, lit raster.Dataset, litBand int,
	config MeanLitConfig, requests []BandStatRequest) error {
	const op = "zonal.PopulateMeanLit"
	if err := checkSegmentation(op, seg, segBand); err != nil {
		return err
	}
	if err := checkBand(op, lit, litBand, "lit"); err != nil {
		return err
	}
	if len(requests) == 0 {
		return errs.Config(op, "no band statistics requested")
	}
	if err := checkField(op, "lit threshold", config.ThresholdColumn); err != nil {
		return err
	}
	if err := checkField(op, "lit pixel count", config.CountColumn); err != nil {
		return err
	}
	sweep := &statSweep{
		op:       op,
		segBand:  segBand,
		requests: requests,
		datasets: []raster.Dataset{seg, vals, lit},
	}
	for _, request := range requests {
		if err := request.validate(op, vals); err != nil {
			return err
		}
		sweep.offsets = append(sweep.offsets, seg.BandCount()+request.Band-1)
	}
	if err := raster.CheckAligned(op, seg, vals, lit); err != nil {
		return err
	}

	table, err := seg.Table(ctx, segBand)
	if err != nil {
		return errs.IO(op, err)
	}
	thresholdCol, err := sat.ColumnByName(table, config.ThresholdColumn)
	if err != nil {
		return err
	}
	if columnType, _ := sat.ColumnTypeOf(table, thresholdCol); columnType != sat.Real {
		return errs.Config(op, "threshold column %q is %v, expected Real", config.ThresholdColumn, columnType)
	}

	scan, err := engine.scan(ctx, seg, segBand, nil, 0)
	if err != nil {
		return err
	}
	table, numRows, err := engine.table(ctx, seg, segBand, scan.maxID)
	if err != nil {
		return err
	}
	thresholds := make([]float64, numRows)
	err = sat.ForEachBlock(numRows, table.BlockLength(), func(start, n int) error {
		block, err := table.ReadReals(ctx, thresholdCol, start, n)
		if err != nil {
			return errs.IO(op, err)
		}
		copy(thresholds[start:], block)
		return nil
	})
	if err != nil {
		return err
	}

	litOffset := seg.BandCount() + vals.BandCount() + litBand - 1
	sweep.accept = func(id int, values []float64) bool {
		// Out of range IDs are left for the accumulator to reject.
		return id >= numRows || values[litOffset] >= thresholds[id]
	}
	acc, err := engine.accumulate(ctx, sweep, numRows)
	if err != nil {
		return err
	}
	weights := func(start, n int) ([]int64, error) {
		return acc.pixels[start : start+n], nil
	}
	if err := writeStats(ctx, sweep, table, acc, weights); err != nil {
		return err
	}
	return sat.WriteIntColumn(ctx, table, config.CountColumn, acc.pixels)
}
