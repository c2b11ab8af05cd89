// Package metrics holds the engine's Prometheus collectors.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels analyses that produced a classification.
	OutcomeSuccess = "success"
	// OutcomeError labels analyses that failed on malformed input or a feature error.
	OutcomeError = "error"

	// CacheHit and CacheMiss label query cache lookups.
	CacheHit  = "hit"
	CacheMiss = "miss"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ephys",
			Name:      "analyses_total",
			Help:      "Cells analysed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	classificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ephys",
			Name:      "classifications_total",
			Help:      "Cell classifications, partitioned by label.",
		},
		[]string{"label"},
	)

	queryCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ephys",
			Name:      "query_cache_total",
			Help:      "Query table cache lookups, partitioned by result.",
		},
		[]string{"result"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ephys",
			Name:      "analysis_seconds",
			Help:      "Wall time of a classification run in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

// Register attaches the collectors to reg. Collectors already registered are skipped.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		classificationsTotal,
		queryCacheTotal,
		analysisDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records a run's duration and outcome.
func ObserveAnalysis(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// ObserveClassification counts one cell label.
func ObserveClassification(label string) {
	classificationsTotal.WithLabelValues(label).Inc()
}

// ObserveQueryCache counts a cache lookup result.
func ObserveQueryCache(hit bool) {
	result := CacheMiss
	if hit {
		result = CacheHit
	}
	queryCacheTotal.WithLabelValues(result).Inc()
}
