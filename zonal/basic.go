package zonal

import (
	"context"

	"segstats/errs"
	"segstats/kernel"
	"segstats/raster"
	"segstats/sat"
	"segstats/stats"
)

// BandStatRequest selects the statistics of one value band and the Real
// columns they are written to.
type BandStatRequest struct {
	Band int

	Min, Max, Mean, StdDev, Sum                          bool
	MinField, MaxField, MeanField, StdDevField, SumField string
}

func (request BandStatRequest) validate(op string, vals raster.Dataset) error {
	if err := checkBand(op, vals, request.Band, "value"); err != nil {
		return err
	}
	if request.StdDev && !request.Mean {
		return errs.Config(op, "band %d: standard deviation requires the mean", request.Band)
	}
	for _, field := range request.fields() {
		if err := checkField(op, field.statistic, field.name); err != nil {
			return err
		}
	}
	return nil
}

type statField struct {
	statistic string
	name      string
	value     func(acc *accumulator, id, band int) float64
}

// fields lists the requested statistics in write order.
func (request BandStatRequest) fields() []statField {
	var fields []statField
	if request.Min {
		fields = append(fields, statField{"min", request.MinField, func(acc *accumulator, id, band int) float64 {
			return acc.slot(id, band)[slotMin]
		}})
	}
	if request.Max {
		fields = append(fields, statField{"max", request.MaxField, func(acc *accumulator, id, band int) float64 {
			return acc.slot(id, band)[slotMax]
		}})
	}
	if request.Mean {
		fields = append(fields, statField{"mean", request.MeanField, (*accumulator).mean})
	}
	if request.StdDev {
		fields = append(fields, statField{"stddev", request.StdDevField, (*accumulator).stddev})
	}
	if request.Sum {
		fields = append(fields, statField{"sum", request.SumField, func(acc *accumulator, id, band int) float64 {
			return acc.slot(id, band)[slotSum]
		}})
	}
	return fields
}

// statSweep describes the passes of a basic statistics run.
type statSweep struct {
	op       string
	segBand  int
	requests []BandStatRequest
	// offsets locates each request's band in the kernel value slice.
	offsets  []int
	datasets []raster.Dataset
	// accept, when set, excludes pixels from every statistic.
	accept func(id int, values []float64) bool
}

func (sweep *statSweep) stdDev() bool {
	for _, request := range sweep.requests {
		if request.StdDev {
			return true
		}
	}
	return false
}

func (engine *Engine) accumulate(ctx context.Context, sweep *statSweep, numRows int) (*accumulator, error) {
	acc := newAccumulator(sweep.op, numRows, len(sweep.requests), engine.singlePass)
	pass1 := kernel.PixelFunc(func(values []float64) error {
		id, ok := raster.SegmentID(values[sweep.segBand-1])
		if !ok || (sweep.accept != nil && !sweep.accept(id, values)) {
			return nil
		}
		if err := acc.count(id); err != nil {
			return err
		}
		for r, offset := range sweep.offsets {
			if v := values[offset]; stats.IsFinite(v) {
				if err := acc.add(id, r, v); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err := engine.kernel.CalcPixels(ctx, pass1, sweep.datasets...); err != nil {
		return nil, err
	}
	engine.logger.Debug().Str("op", sweep.op).Int("rows", numRows).Msg("accumulated first pass")

	if engine.singlePass || !sweep.stdDev() {
		return acc, nil
	}
	pass2 := kernel.PixelFunc(func(values []float64) error {
		id, ok := raster.SegmentID(values[sweep.segBand-1])
		if !ok || (sweep.accept != nil && !sweep.accept(id, values)) {
			return nil
		}
		for r, offset := range sweep.offsets {
			if !sweep.requests[r].StdDev {
				continue
			}
			if v := values[offset]; stats.IsFinite(v) {
				if err := acc.addDeviation(id, r, v); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err := engine.kernel.CalcPixels(ctx, pass2, sweep.datasets...); err != nil {
		return nil, err
	}
	engine.logger.Debug().Str("op", sweep.op).Msg("accumulated deviations")
	return acc, nil
}

// writeStats writes every requested statistic, block by block. Rows whose
// weight is 0, or that saw no finite value, are written as 0.
func writeStats(ctx context.Context, sweep *statSweep, table sat.Table, acc *accumulator,
	weights func(start, n int) ([]int64, error)) error {
	type column struct {
		col   int
		band  int
		field statField
	}
	var columns []column
	for r, request := range sweep.requests {
		for _, field := range request.fields() {
			col, err := table.FindOrCreateColumn(field.name, sat.Real)
			if err != nil {
				return err
			}
			columns = append(columns, column{col: col, band: r, field: field})
		}
	}
	buf := make([]float64, table.BlockLength())
	return sat.ForEachBlock(acc.numRows, table.BlockLength(), func(start, n int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		weight, err := weights(start, n)
		if err != nil {
			return err
		}
		for _, column := range columns {
			block := buf[:n]
			for i := range block {
				id := start + i
				if weight[i] > 0 && acc.slot(id, column.band)[slotCount] > 0 {
					block[i] = column.field.value(acc, id, column.band)
				} else {
					block[i] = 0
				}
			}
			if err := table.WriteReals(ctx, column.col, start, block); err != nil {
				return errs.IO(sweep.op, err)
			}
		}
		return nil
	})
}

// PopulateStats computes per-segment statistics of vals over the segments
// of seg band segBand and writes them to the band's table.
func (engine *Engine) PopulateStats(ctx context.Context, seg raster.Dataset, segBand int, vals raster.Dataset, requests []BandStatRequest) error {
	const op = "zonal.PopulateStats"
	if err := checkSegmentation(op, seg, segBand); err != nil {
		return err
	}
	if len(requests) == 0 {
		return errs.Config(op, "no band statistics requested")
	}
	sweep := &statSweep{
		op:       op,
		segBand:  segBand,
		requests: requests,
		datasets: []raster.Dataset{seg, vals},
	}
	for _, request := range requests {
		if err := request.validate(op, vals); err != nil {
			return err
		}
		sweep.offsets = append(sweep.offsets, seg.BandCount()+request.Band-1)
	}
	if err := raster.CheckAligned(op, seg, vals); err != nil {
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
	acc, err := engine.accumulate(ctx, sweep, numRows)
	if err != nil {
		return err
	}
	gate, err := newHistogramGate(table, acc.pixels)
	if err != nil {
		return err
	}
	weights := func(start, n int) ([]int64, error) {
		return gate.block(ctx, start, n)
	}
	if err := writeStats(ctx, sweep, table, acc, weights); err != nil {
		return err
	}
	engine.logger.Debug().Str("op", op).Int("rows", numRows).Int("requests", len(requests)).Msg("wrote statistics")
	return nil
}
