package ephys

import (
	"math"

	"github.com/miradorstack/mirador-ephys/internal/ephys/ephystest"
	"github.com/miradorstack/mirador-ephys/internal/models"
)

var (
	fiveSpikeThresholdIdx  = ephystest.FiveSpikeThresholdIdx
	fiveSpikeThresholdVals = ephystest.FiveSpikeThresholdVals
	fiveSpikeAHPVals       = ephystest.FiveSpikeAHPVals

	fiveSpikeTrace = ephystest.FiveSpikeTrace
	sagTrace       = ephystest.SagTrace
	lateSagTrace   = ephystest.LateSagTrace
	timeAxis       = ephystest.TimeAxis
	constant       = ephystest.Constant
	stepCommands   = ephystest.StepCommands
)

const (
	spikeOnset  = ephystest.SpikeOnset
	spikeOffset = ephystest.SpikeOffset
	sagOnset    = ephystest.SagOnset
	sagOffset   = ephystest.SagOffset
	sagPeak     = ephystest.SagPeak

	trainFloor     = ephystest.TrainFloor
	sagSteadyState = ephystest.SagSteadyState
	sagDepth       = ephystest.SagDepth
	reboundRise    = ephystest.ReboundRise
	reboundPeakVal = ephystest.ReboundPeakVal
)

func firstResponse(trace models.Trace) *Response {
	rs, err := NewSweep(trace, "cell-a", DefaultParams()).Responses()
	if err != nil {
		panic(err)
	}
	return rs[0]
}

func nan() float64 { return math.NaN() }
