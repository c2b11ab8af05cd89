package ephys

import (
	"math"

	"github.com/miradorstack/mirador-ephys/internal/signal"
	"github.com/miradorstack/mirador-ephys/internal/utils"
)

// SagPeakIdx returns the voltage minimum during the step.
func (r *Response) SagPeakIdx() int {
	return always(r.memo, memoKey(featSagPeakIdx), func() int {
		return signal.ArgMin(r.data(), r.onset(), r.offset())
	})
}

// SagOnsetTime returns the time from step onset to peak sag in ms.
func (r *Response) SagOnsetTime() float64 {
	return r.msSinceOnset(r.SagPeakIdx())
}

// PeakSagVal returns the voltage at peak sag.
func (r *Response) PeakSagVal() float64 {
	return r.valueAt(r.SagPeakIdx())
}

// SteadyStateAmp returns the mean voltage over the steady-state span ending
// one sample before step offset.
func (r *Response) SteadyStateAmp() float64 {
	return always(r.memo, memoKey(featSteadyState), func() float64 {
		end := r.offset() - 1
		span := int(math.Round(r.params.SteadyStateMs * float64(r.PointsPerMs())))
		return signal.Mean(r.data(), end-span, end)
	})
}

// SagAbsAmplitude returns peak sag minus steady state.
func (r *Response) SagAbsAmplitude() float64 {
	return r.PeakSagVal() - r.SteadyStateAmp()
}

// SagFit fits the recovery from peak sag to one sample before offset with
// A·exp(B·t), t in ms from peak, anchored on both the series minimum and
// maximum; the better fit wins. It requires the sag to peak within
// Params.SagMaxOnsetMs of onset.
func (r *Response) SagFit() (signal.DualFit, error) {
	return cached(r.memo, memoKey(featSagFit), func() (signal.DualFit, error) {
		const op = "response.sag_fit"
		if onset := r.SagOnsetTime(); !(onset < r.params.SagMaxOnsetMs) {
			return signal.DualFit{}, utils.Errorf(op, ErrPrecondition,
				"%s sweep %d: sag onset %.2f ms is not below %.2f ms", r.cellName, r.SweepIndex(), onset, r.params.SagMaxOnsetMs)
		}

		peak, end := r.SagPeakIdx(), r.offset()-1
		if end-peak < 3 {
			return signal.DualFit{}, utils.Errorf(op, ErrPrecondition,
				"%s sweep %d: %d samples between peak sag and offset", r.cellName, r.SweepIndex(), end-peak)
		}
		ms := r.MsPerPoint()
		x := make([]float64, end-peak)
		for i := range x {
			x[i] = float64(i) * ms
		}
		fit, err := signal.FitDualAnchor(x, r.data()[peak:end])
		if err != nil {
			return signal.DualFit{}, utils.NewAppError(op, r.cellName, err)
		}
		return fit, nil
	})
}

// SagFitAmplitude returns the amplitude A of the winning sag fit.
func (r *Response) SagFitAmplitude() (float64, error) {
	fit, err := r.SagFit()
	if err != nil {
		return math.NaN(), err
	}
	return fit.A, nil
}

// MaxReboundIdx returns the voltage maximum after step offset.
func (r *Response) MaxReboundIdx() int {
	return always(r.memo, memoKey(featMaxReboundIdx), func() int {
		return signal.ArgMax(r.data(), r.offset(), r.trace.Len())
	})
}

// MaxReboundVal returns the peak rebound voltage.
func (r *Response) MaxReboundVal() float64 {
	return r.valueAt(r.MaxReboundIdx())
}

// MaxReboundTime returns the time from step offset to peak rebound in ms.
func (r *Response) MaxReboundTime() float64 {
	idx := r.MaxReboundIdx()
	if idx == signal.NoIndex {
		return math.NaN()
	}
	return float64(idx-r.offset()) * r.MsPerPoint()
}

// ReboundMarkers returns the samples nearest 20% and 80% of the way from the
// steady state to peak rebound, searched between offset and the rebound peak.
func (r *Response) ReboundMarkers() (idx20, idx80 int) {
	markers := always(r.memo, memoKey(featReboundMarkers), func() [2]int {
		peak := r.MaxReboundIdx()
		if peak == signal.NoIndex {
			return [2]int{signal.NoIndex, signal.NoIndex}
		}
		ss := r.SteadyStateAmp()
		delta := r.MaxReboundVal() - ss
		return [2]int{
			signal.Nearest(r.data(), r.offset(), peak, ss+0.2*delta),
			signal.Nearest(r.data(), r.offset(), peak, ss+0.8*delta),
		}
	})
	return markers[0], markers[1]
}

// RebDeltaT returns the ms between the 20% and 80% rebound markers.
func (r *Response) RebDeltaT() float64 {
	idx20, idx80 := r.ReboundMarkers()
	if idx20 == signal.NoIndex || idx80 == signal.NoIndex {
		return math.NaN()
	}
	return float64(idx80-idx20) * r.MsPerPoint()
}
