package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveAnalysisNormalisesOutcome(t *testing.T) {
	before := counterValue(t, analysesTotal.WithLabelValues(OutcomeSuccess))
	ObserveAnalysis(-time.Second, "partial")
	assert.Equal(t, before+1, counterValue(t, analysesTotal.WithLabelValues(OutcomeSuccess)))

	beforeErr := counterValue(t, analysesTotal.WithLabelValues(OutcomeError))
	ObserveAnalysis(time.Second, OutcomeError)
	assert.Equal(t, beforeErr+1, counterValue(t, analysesTotal.WithLabelValues(OutcomeError)))
}

func TestObserveQueryCache(t *testing.T) {
	hits := counterValue(t, queryCacheTotal.WithLabelValues(CacheHit))
	misses := counterValue(t, queryCacheTotal.WithLabelValues(CacheMiss))
	ObserveQueryCache(true)
	ObserveQueryCache(false)
	ObserveQueryCache(false)
	assert.Equal(t, hits+1, counterValue(t, queryCacheTotal.WithLabelValues(CacheHit)))
	assert.Equal(t, misses+2, counterValue(t, queryCacheTotal.WithLabelValues(CacheMiss)))
}

func TestObserveClassification(t *testing.T) {
	before := counterValue(t, classificationsTotal.WithLabelValues("Type 1"))
	ObserveClassification("Type 1")
	assert.Equal(t, before+1, counterValue(t, classificationsTotal.WithLabelValues("Type 1")))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
