package zonal

import (
	"math"

	"github.com/bits-and-blooms/bitset"

	"segstats/errs"
	"segstats/stats"
)

const (
	slotMin = iota
	slotMax
	slotSum
	slotCount
	slotSquares
	slotsPerBand
)

// accumulator is a flat arena of per-(segment, band) moments indexed by
// segment ID.
type accumulator struct {
	op       string
	numRows  int
	numBands int
	values   []float64
	// touched marks slots that have seen their first value.
	touched *bitset.BitSet
	// welford is only allocated for single-pass standard deviations.
	welford []stats.Welford
	pixels  []int64
}

func newAccumulator(op string, numRows, numBands int, singlePass bool) *accumulator {
	acc := &accumulator{
		op:       op,
		numRows:  numRows,
		numBands: numBands,
		values:   make([]float64, numRows*numBands*slotsPerBand),
		touched:  bitset.New(uint(numRows * numBands)),
		pixels:   make([]int64, numRows),
	}
	if singlePass {
		acc.welford = make([]stats.Welford, numRows*numBands)
	}
	return acc
}

func (acc *accumulator) check(id int) error {
	if id < 0 || id >= acc.numRows {
		return errs.Data(acc.op, "segment %d outside accumulator of %d rows", id, acc.numRows)
	}
	return nil
}

func (acc *accumulator) slot(id, band int) []float64 {
	base := (id*acc.numBands + band) * slotsPerBand
	return acc.values[base : base+slotsPerBand]
}

// count records one pixel of segment id.
func (acc *accumulator) count(id int) error {
	if err := acc.check(id); err != nil {
		return err
	}
	acc.pixels[id]++
	return nil
}

// add folds a finite value into the (id, band) slot.
func (acc *accumulator) add(id, band int, v float64) error {
	if err := acc.check(id); err != nil {
		return err
	}
	slot := acc.slot(id, band)
	index := uint(id*acc.numBands + band)
	if !acc.touched.Test(index) {
		acc.touched.Set(index)
		slot[slotMin], slot[slotMax], slot[slotSum] = v, v, v
	} else {
		slot[slotMin] = math.Min(slot[slotMin], v)
		slot[slotMax] = math.Max(slot[slotMax], v)
		slot[slotSum] += v
	}
	slot[slotCount]++
	if acc.welford != nil {
		acc.welford[index].Update(v)
	}
	return nil
}

func (acc *accumulator) mean(id, band int) float64 {
	slot := acc.slot(id, band)
	return stats.Ratio(slot[slotSum], slot[slotCount])
}

// addDeviation accumulates the squared deviation of v from the slot mean.
func (acc *accumulator) addDeviation(id, band int, v float64) error {
	if err := acc.check(id); err != nil {
		return err
	}
	d := v - acc.mean(id, band)
	acc.slot(id, band)[slotSquares] += d * d
	return nil
}

// stddev is the population standard deviation of the slot.
func (acc *accumulator) stddev(id, band int) float64 {
	if acc.welford != nil {
		return acc.welford[id*acc.numBands+band].GetSD()
	}
	slot := acc.slot(id, band)
	return math.Sqrt(stats.Ratio(slot[slotSquares], slot[slotCount]))
}
