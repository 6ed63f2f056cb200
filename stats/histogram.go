package stats

import (
	"math"

	"segstats/errs"
)

// BinLayout splits [Min-Width, Max] into NumBins bins of equal Width. Bins
// are half-open except the last, which is closed at Max.
type BinLayout struct {
	Min, Max float64
	Width    float64
	NumBins  int
}

func NewBinLayout(min, max float64, numBins int) (BinLayout, error) {
	const op = "stats.NewBinLayout"
	if numBins < 2 {
		return BinLayout{}, errs.Config(op, "need at least 2 bins, got %d", numBins)
	}
	if !IsFinite(min) || !IsFinite(max) || min > max {
		return BinLayout{}, errs.Data(op, "invalid value range [%v,%v]", min, max)
	}
	width := (max - min) / float64(numBins-1)
	if width == 0 {
		width = 1
	}
	return BinLayout{Min: min, Max: max, Width: width, NumBins: numBins}, nil
}

// Lower is the lower edge of bin i.
func (layout BinLayout) Lower(i int) float64 {
	return layout.Min - layout.Width + float64(i)*layout.Width
}

// Bin returns the bin holding v, or false if v is outside [Min-Width, Max].
func (layout BinLayout) Bin(v float64) (int, bool) {
	lo := layout.Lower(0)
	if v < lo || v > layout.Max || math.IsNaN(v) {
		return 0, false
	}
	i := int((v - lo) / layout.Width)
	if i >= layout.NumBins {
		i = layout.NumBins - 1
	}
	return i, true
}

// Percentile estimates the p-th percentile (0-100) from bin counts by
// walking the cumulative histogram to rank p/100*n and interpolating
// linearly within the bin. The result is clamped to [lo, hi], the observed
// range of the counted values.
func (layout BinLayout) Percentile(counts []uint32, p, lo, hi float64) float64 {
	var n float64
	for _, c := range counts {
		n += float64(c)
	}
	if n == 0 {
		return 0
	}
	rank := p / 100 * n
	var cum float64
	last := -1
	for i, c := range counts {
		if c == 0 {
			continue
		}
		last = i
		if cum+float64(c) >= rank {
			v := layout.Lower(i) + (rank-cum)/float64(c)*layout.Width
			return Clamp(v, lo, hi)
		}
		cum += float64(c)
	}
	return Clamp(layout.Lower(last)+layout.Width, lo, hi)
}
