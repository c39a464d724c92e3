// Package numeric wraps the gonum statistics used by the analyzers.
//
// All helpers treat their input as a complete population and return 0 for
// empty input instead of NaN, so scoring code can compare results directly.
package numeric

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Mean returns the arithmetic mean of x.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return stat.Mean(x, nil)
}

// PopStdDev returns the population standard deviation of x.
func PopStdDev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return stat.PopStdDev(x, nil)
}

// PopVariance returns the population variance of x.
func PopVariance(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return stat.PopVariance(x, nil)
}

// MeanStdDev returns the mean and population standard deviation of x.
func MeanStdDev(x []float64) (mean, std float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	return stat.PopMeanStdDev(x, nil)
}

// Percentile returns the p-th percentile (0-100) of x with linear
// interpolation between samples. x is not modified.
func Percentile(x []float64, p float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sorted := slices.Clone(x)
	slices.Sort(sorted)
	return stat.Quantile(clamp(p/100, 0, 1), stat.LinInterp, sorted, nil)
}

// Correlation returns the Pearson correlation of x and y. Constant or
// mismatched inputs yield 0.
func Correlation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// AbsMean returns the mean of |x|.
func AbsMean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += math.Abs(v)
	}
	return sum / float64(len(x))
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return clamp(v, lo, hi)
}

// Round1 rounds v to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
