package ephys

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseBasics(t *testing.T) {
	r := firstResponse(fiveSpikeTrace(0, 12))

	assert.Equal(t, 20, r.PointsPerMs())
	assert.InDelta(t, 0.05, r.MsPerPoint(), 1e-15)
	assert.InDelta(t, 0.3, r.CurrDuration(), 1e-9)
	assert.Equal(t, 200.0, r.CurrAmplitude())
	assert.Equal(t, 12.0, r.SweepTime())
	assert.Equal(t, "cell-a", r.CellName())
}

func TestSpikeCountIsMemoized(t *testing.T) {
	r := firstResponse(fiveSpikeTrace(0, 12))

	assert.Equal(t, 5, r.NumSpikes())
	assert.Equal(t, CacheStats{Hits: 0, Misses: 1, Entries: 1}, r.CacheStats())

	assert.Equal(t, 5, r.NumSpikes())
	assert.Equal(t, CacheStats{Hits: 1, Misses: 1, Entries: 1}, r.CacheStats())
}

func TestSpikePointsIgnoreCrossingsOutsideWindow(t *testing.T) {
	want := firstResponse(fiveSpikeTrace(0, 12)).SpikePoints()

	tr := fiveSpikeTrace(0, 12)
	tr.Data[1000] = 20
	tr.Data[spikeOnset] = 10
	tr.Data[spikeOffset] = 10
	tr.Data[9000] = 20

	r := firstResponse(tr)
	assert.Equal(t, want, r.SpikePoints())
	assert.Equal(t, 5, r.NumSpikes())
}

func TestFiveSpikeReferenceArrays(t *testing.T) {
	r := firstResponse(fiveSpikeTrace(0, 12))
	require.Equal(t, 5, r.NumSpikes())

	assert.Equal(t, fiveSpikeThresholdIdx, r.ThresholdIdx())
	assert.InDeltaSlice(t, fiveSpikeThresholdVals, r.ThresholdVals(), 1e-9)
	assert.InDeltaSlice(t, []float64{0, 2.34, 1.1733, 0.78, 1.1733}, r.DeltaThresh(), 1e-4)

	assert.Equal(t, []int{2817, 3112, 4071, 5349, 6849}, r.APMaxIdx())
	ahp := r.AHPIdx()
	assert.Equal(t, []int{2863, 3158, 4117, 5395}, ahp[:4])
	assert.Equal(t, -1, ahp[4])
	assert.True(t, math.IsNaN(r.AHPVals()[4]))
	assert.InDeltaSlice(t, fiveSpikeAHPVals, r.AHPVals()[:4], 1e-9)

	assert.InDeltaSlice(t, []float64{14.75, 47.95, 63.9, 75}, r.ISIs(), 1e-9)
	assert.InDelta(t, 959.0/295.0, r.DoubletIndex(), 1e-9)

	for _, amp := range r.APAmplitudes() {
		assert.InDelta(t, 90, amp, 0.1)
	}
	timing := r.ThresholdTiming()
	assert.InDelta(t, 39.8, timing[0], 1e-9)
}

func TestSpikeShapeFeatures(t *testing.T) {
	r := firstResponse(fiveSpikeTrace(0, 12))

	assert.InDelta(t, 1.6, r.APWidth(50)[0], 1e-9)

	rising := r.DVDTPctAPAmp(Pct(20), Rising)
	require.Len(t, rising, 5)
	for _, v := range rising {
		assert.InDelta(t, 90, v, 1e-9)
	}
	assert.InDelta(t, 90, r.DVDTPctAPAmp(MaxPct, Rising)[0], 1e-9)
	assert.Less(t, r.DVDTPctAPAmp(Pct(20), Falling)[0], 0.0)

	vals := r.ValPctAPAmp(50)
	amps := r.APAmplitudes()
	thr := r.ThresholdVals()
	assert.InDelta(t, thr[2]+amps[2]/2, vals[2], 1e-12)
}

func TestBucketFeaturesMatchPlainValues(t *testing.T) {
	r := firstResponse(fiveSpikeTrace(0, 12))

	doublet, err := r.Property("doublet_index_by_num_spikes__5")
	require.NoError(t, err)
	assert.Equal(t, r.DoubletIndex(), doublet.Float())

	other, err := r.Property("doublet_index_by_num_spikes__3")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(other.Float()))

	last, err := r.Property("delta_thresh_last_spike__5")
	require.NoError(t, err)
	assert.InDelta(t, 1.1733, last.Float(), 1e-4)

	dvdt, err := r.Property("dVdt_pct_APamp_last_spike__20__rising__5")
	require.NoError(t, err)
	assert.InDelta(t, 90, dvdt.Float(), 1e-9)
}

func TestFewSpikes(t *testing.T) {
	trace := fiveSpikeTrace(0, 12)
	for i := 3000; i < len(trace.Data); i++ {
		if trace.Data[i] > -40 {
			trace.Data[i] = -45
		}
	}
	r := firstResponse(trace)

	require.Equal(t, 1, r.NumSpikes())
	assert.Empty(t, r.ISIs())
	assert.True(t, math.IsNaN(r.DoubletIndex()))
	// A lone spike still gets an AHP, searched up to step offset.
	assert.NotEqual(t, -1, r.AHPIdx()[0])
	assert.Equal(t, []float64{0}, r.DeltaThresh())
}

func TestNoSpikes(t *testing.T) {
	r := firstResponse(sagTrace(0, 20))

	assert.Zero(t, r.NumSpikes())
	assert.Empty(t, r.ThresholdVals())
	assert.Empty(t, r.APWidth(50))
	assert.True(t, math.IsNaN(r.DoubletIndex()))

	cols, err := r.Columns([]string{"num_spikes", "delta_thresh", "ISIs"})
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "num_spikes", cols[0].Name)
}
