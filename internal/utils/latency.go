package utils

import (
	"math"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// LatencyTracker keeps a ring of recent durations and reports percentiles over them.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples []float64
	next    int
	maxSize int
}

// NewLatencyTracker creates a tracker storing up to maxSize samples.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{maxSize: maxSize}
}

// Observe records a new duration, overwriting the oldest once full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.samples) < l.maxSize {
		l.samples = append(l.samples, d.Seconds())
		return
	}
	l.samples[l.next] = d.Seconds()
	l.next = (l.next + 1) % l.maxSize
}

// Percentile returns the p-th (0-100) percentile duration. Returns zero if no samples.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	sorted := slices.Clone(l.samples)
	l.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	switch {
	case p <= 0:
		return seconds(sorted[0])
	case p >= 100:
		return seconds(sorted[len(sorted)-1])
	}
	return seconds(stat.Quantile(p/100, stat.Empirical, sorted, nil))
}

// Count returns number of samples recorded.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples)
}

func seconds(v float64) time.Duration {
	return time.Duration(math.Round(v * float64(time.Second)))
}
