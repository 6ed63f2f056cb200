package stats

import (
	"math"
	"testing"

	"segstats/utils"
)

func TestWelford(t *testing.T) {
	var welford Welford

	utils.AssertEqual(t, welford.GetVariance(), 0.0)
	utils.AssertEqual(t, welford.GetSD(), 0.0)

	welford.Update(4)
	utils.AssertEqual(t, welford.GetSD(), 0.0)

	welford = Welford{}
	for i := 1; i < 100; i++ {
		welford.Update(float64(i))
	}

	utils.AssertClose(t, welford.GetVariance(), 816.666667, 1e-4)
	utils.AssertClose(t, welford.GetSD(), math.Sqrt(816.666667), 1e-4)
}

func TestWelfordConstant(t *testing.T) {
	var welford Welford
	for i := 0; i < 10; i++ {
		welford.Update(3.5)
	}
	utils.AssertEqual(t, welford.GetSD(), 0.0)
}
