package stats

import "math"

// Welford keeps the running mean and second moment of a stream. The zero
// value is an empty stream.
type Welford struct {
	count uint64
	mean  float64
	m2    float64
}

func (welford *Welford) Update(value float64) {
	welford.count++
	delta := value - welford.mean
	welford.mean += delta / float64(welford.count)
	delta2 := value - welford.mean
	welford.m2 += delta * delta2
}

// GetVariance is the population variance.
func (welford *Welford) GetVariance() float64 {
	if welford.count < 2 {
		return 0
	}
	return welford.m2 / float64(welford.count)
}

// GetSD is the population standard deviation.
func (welford *Welford) GetSD() float64 {
	return math.Sqrt(welford.GetVariance())
}
