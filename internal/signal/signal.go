// Package signal holds the numeric kernels shared by the feature extractors:
// derivatives, range-restricted extrema, nearest-value and insertion searches,
// and exponential curve fitting.
package signal

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// NoIndex marks an index that could not be located.
const NoIndex = -1

// Gradient returns dy/dx for uniformly spaced samples using central
// differences in the interior and one-sided differences at both edges.
func Gradient(y []float64, dx float64) []float64 {
	n := len(y)
	out := make([]float64, n)
	if n < 2 || dx == 0 {
		return out
	}
	out[0] = (y[1] - y[0]) / dx
	out[n-1] = (y[n-1] - y[n-2]) / dx
	for i := 1; i < n-1; i++ {
		out[i] = (y[i+1] - y[i-1]) / (2 * dx)
	}
	return out
}

// Diff returns the first difference of y with the leading element forced to zero,
// so out has the same length as y.
func Diff(y []float64) []float64 {
	out := make([]float64, len(y))
	for i := 1; i < len(y); i++ {
		out[i] = y[i] - y[i-1]
	}
	return out
}

// clamp restricts [lo, hi) to the bounds of a slice of length n.
func clamp(n, lo, hi int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	return lo, hi
}

// ArgMax returns the absolute index of the largest value in y[lo:hi], or
// NoIndex when the range is empty. Ties resolve to the first occurrence.
func ArgMax(y []float64, lo, hi int) int {
	lo, hi = clamp(len(y), lo, hi)
	if lo >= hi {
		return NoIndex
	}
	return lo + floats.MaxIdx(y[lo:hi])
}

// ArgMin is ArgMax for the smallest value.
func ArgMin(y []float64, lo, hi int) int {
	lo, hi = clamp(len(y), lo, hi)
	if lo >= hi {
		return NoIndex
	}
	return lo + floats.MinIdx(y[lo:hi])
}

// ArgMaxAbs returns the absolute index in y[lo:hi] with the largest magnitude.
func ArgMaxAbs(y []float64, lo, hi int) int {
	lo, hi = clamp(len(y), lo, hi)
	best := NoIndex
	for i := lo; i < hi; i++ {
		if best == NoIndex || math.Abs(y[i]) > math.Abs(y[best]) {
			best = i
		}
	}
	return best
}

// Nearest returns the absolute index in y[lo:hi] whose value is closest to
// target, or NoIndex for an empty range. Ties resolve to the first occurrence.
func Nearest(y []float64, lo, hi int, target float64) int {
	lo, hi = clamp(len(y), lo, hi)
	best := NoIndex
	bestDist := math.Inf(1)
	for i := lo; i < hi; i++ {
		if d := math.Abs(y[i] - target); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// SearchSorted returns the left insertion point of v in y, assuming y is
// ascending. On non-monotone input the result is the binary-search answer,
// not necessarily the first crossing.
func SearchSorted(y []float64, v float64) int {
	return sort.Search(len(y), func(i int) bool { return y[i] >= v })
}

// Mean returns the mean of y[lo:hi], or NaN for an empty range.
func Mean(y []float64, lo, hi int) float64 {
	lo, hi = clamp(len(y), lo, hi)
	if lo >= hi {
		return math.NaN()
	}
	return stat.Mean(y[lo:hi], nil)
}

// NaNMean averages the non-NaN values of y, returning NaN when there are none.
// gonum/stat has no NaN-skipping mean, so NaNs are filtered first.
func NaNMean(y []float64) float64 {
	kept := make([]float64, 0, len(y))
	for _, v := range y {
		if !math.IsNaN(v) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return math.NaN()
	}
	return stat.Mean(kept, nil)
}
