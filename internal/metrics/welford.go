package metrics

import "math"

// Welford keeps a running mean and population standard deviation of a series
// without storing it. Used for the segment lengths seen during a run.
type Welford struct {
	n    int
	mean float64
	m2   float64 // sum of squared differences from the mean
}

// Add records one observation
func (w *Welford) Add(x float64) {
	w.n++
	delta := x - w.mean
	w.mean += delta / float64(w.n)
	w.m2 += delta * (x - w.mean)
}

// Count returns the number of observations
func (w *Welford) Count() int {
	return w.n
}

// Mean returns the running mean, 0 when empty
func (w *Welford) Mean() float64 {
	return w.mean
}

// StdDev returns the population standard deviation, 0 below two observations
func (w *Welford) StdDev() float64 {
	if w.n < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.n))
}
