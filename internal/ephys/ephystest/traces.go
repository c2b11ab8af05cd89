// Package ephystest builds synthetic whole-cell recordings for tests.
package ephystest

import (
	"math"

	"github.com/miradorstack/mirador-ephys/internal/models"
)

// Synthetic traces sampled at 20 kHz (0.05 ms per point).
const DT = 0.00005

// TimeAxis returns n sample times spaced DT apart.
func TimeAxis(n int) []float64 {
	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i) * DT
	}
	return t
}

// Constant returns n copies of v.
func Constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// StepCommands holds amp over [onset, offset) and zero elsewhere.
func StepCommands(n, onset, offset int, amp float64) []float64 {
	c := make([]float64, n)
	for i := onset; i < offset; i++ {
		c[i] = amp
	}
	return c
}

var (
	FiveSpikeThresholdIdx  = []int{2796, 3091, 4050, 5328, 6828}
	FiveSpikeThresholdVals = []float64{-43.5533, -41.2133, -42.3800, -42.7733, -42.3800}
	FiveSpikeAHPVals       = []float64{-47.7533, -47.8533, -50.1000, -51.2667}
)

const (
	SpikeOnset   = 2000
	SpikeOffset  = 8000
	RiseSamples  = 20
	RiseStep     = 4.5
	FallSamples  = 46
	TrainFloor   = -50.0
	RestingPoint = -70.0
)

// FiveSpikeTrace builds a 300 ms, +200 pA step evoking five spikes whose
// thresholds sit at FiveSpikeThresholdIdx. Each spike is a slow linear ramp
// to threshold, a 90 mV/ms rise for 1 ms and a linear fall to its AHP.
func FiveSpikeTrace(sweepIndex int, sweepTime float64) models.Trace {
	const n = 20000
	data := Constant(n, RestingPoint)

	prevIdx, prevVal := SpikeOnset, RestingPoint
	for k, thrIdx := range FiveSpikeThresholdIdx {
		slope := (FiveSpikeThresholdVals[k] - prevVal) / float64(thrIdx-prevIdx)
		kink := thrIdx + 1
		for i := prevIdx; i <= kink; i++ {
			data[i] = prevVal + slope*float64(i-prevIdx)
		}
		for j := 1; j <= RiseSamples; j++ {
			data[kink+j] = data[kink] + RiseStep*float64(j)
		}
		peak := kink + RiseSamples

		floor := TrainFloor
		if k < len(FiveSpikeAHPVals) {
			floor = FiveSpikeAHPVals[k]
		}
		fall := (data[peak] - floor) / FallSamples
		for j := 1; j <= FallSamples; j++ {
			data[peak+j] = data[peak] - fall*float64(j)
		}
		prevIdx, prevVal = peak+FallSamples, floor
	}
	for i := prevIdx + 1; i < SpikeOffset; i++ {
		data[i] = TrainFloor
	}

	return models.Trace{
		SweepIndex: sweepIndex,
		SweepTime:  sweepTime,
		Time:       TimeAxis(n),
		Data:       data,
		Commands:   StepCommands(n, SpikeOnset, SpikeOffset, 200),
	}
}

const (
	SagOnset       = 2000
	SagOffset      = 4400
	SagPeak        = SagOnset + 100
	SagBaseline    = -75.0
	SagSteadyState = -80.0
	SagDepth       = 8.0
	SagTauMs       = 12.0
	ReboundRise    = 800
	ReboundPeakVal = -70.0
)

// SagTrace builds a 120 ms, -400 pA step: a 5 ms descent to peak sag, an
// exponential recovery toward the steady state, then a linear 40 ms rebound
// after offset decaying back to baseline.
func SagTrace(sweepIndex int, sweepTime float64) models.Trace {
	const n = 10000
	data := Constant(n, SagBaseline)

	peakVal := SagSteadyState - SagDepth
	for i := SagOnset; i <= SagPeak; i++ {
		data[i] = SagBaseline + (peakVal-SagBaseline)*float64(i-SagOnset)/float64(SagPeak-SagOnset)
	}
	for i := SagPeak + 1; i < SagOffset; i++ {
		ms := float64(i-SagPeak) * 0.05
		data[i] = SagSteadyState - SagDepth*math.Exp(-ms/SagTauMs)
	}
	for j := 0; j <= ReboundRise; j++ {
		data[SagOffset+j] = SagSteadyState + (ReboundPeakVal-SagSteadyState)*float64(j)/ReboundRise
	}
	for i := SagOffset + ReboundRise + 1; i < n; i++ {
		ms := float64(i-SagOffset-ReboundRise) * 0.05
		data[i] = SagBaseline + (ReboundPeakVal-SagBaseline)*math.Exp(-ms/20)
	}

	return models.Trace{
		SweepIndex: sweepIndex,
		SweepTime:  sweepTime,
		Time:       TimeAxis(n),
		Data:       data,
		Commands:   StepCommands(n, SagOnset, SagOffset, -400),
	}
}

// LateSagTrace hyperpolarizes monotonically so the sag peaks just before offset.
func LateSagTrace(sweepIndex int) models.Trace {
	tr := SagTrace(sweepIndex, 30)
	for i := SagOnset; i < SagOffset; i++ {
		tr.Data[i] = SagBaseline - 15*float64(i-SagOnset)/float64(SagOffset-SagOnset)
	}
	return tr
}

// Cell wraps traces into a recording with the given metadata.
func Cell(name, marker, caBuffer string, traces ...models.Trace) models.CellRecording {
	return models.CellRecording{
		Metadata: models.CellMetadata{Name: name, GeneticMarker: marker, CaBuffer: caBuffer},
		Sweeps:   traces,
	}
}
