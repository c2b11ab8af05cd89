package ephys

import (
	"fmt"
	"math"
	"strconv"

	"github.com/miradorstack/mirador-ephys/internal/signal"
)

// Direction selects the rising or falling phase of an action potential.
type Direction string

const (
	Rising  Direction = "rising"
	Falling Direction = "falling"
)

func parseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Rising, Falling:
		return Direction(s), nil
	}
	return "", fmt.Errorf("%w: direction %q, want rising or falling", ErrInvalidArgument, s)
}

// Percent is a percentage of AP amplitude, or the maximum when Max is set.
type Percent struct {
	Value float64
	Max   bool
}

// Pct returns a numeric Percent.
func Pct(v float64) Percent { return Percent{Value: v} }

// MaxPct selects the extreme of a phase instead of a percentage.
var MaxPct = Percent{Max: true}

func (p Percent) String() string {
	if p.Max {
		return "max"
	}
	return strconv.FormatFloat(p.Value, 'g', -1, 64)
}

func parsePercent(s string) (Percent, error) {
	if s == "max" {
		return MaxPct, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 100 {
		return Percent{}, fmt.Errorf("%w: percent %q", ErrInvalidArgument, s)
	}
	return Pct(v), nil
}

// SpikePoints returns the samples where voltage first exceeds the spike
// threshold, strictly inside the injection window.
func (r *Response) SpikePoints() []int {
	return always(r.memo, memoKey(featSpikePoints), func() []int {
		data, thr := r.data(), r.params.SpikeThreshold
		points := make([]int, 0, 8)
		for i := r.onset(); i+1 < r.offset(); i++ {
			if data[i] <= thr && data[i+1] > thr {
				points = append(points, i+1)
			}
		}
		return points
	})
}

// NumSpikes returns the spike count.
func (r *Response) NumSpikes() int {
	return len(r.SpikePoints())
}

// DVDT returns dV/dt in mV/ms over the whole trace.
func (r *Response) DVDT() []float64 {
	return always(r.memo, memoKey(featDVDT), func() []float64 {
		return signal.Gradient(r.data(), r.MsPerPoint())
	})
}

// APMaxIdx returns the peak sample of each spike.
func (r *Response) APMaxIdx() []int {
	return always(r.memo, memoKey(featAPMaxIdx), func() []int {
		sp := r.SpikePoints()
		idx := make([]int, len(sp))
		for i := range sp {
			end := r.offset()
			if i+1 < len(sp) {
				end = sp[i+1]
			}
			idx[i] = signal.ArgMax(r.data(), sp[i], end)
		}
		return idx
	})
}

// APMaxVals returns the peak voltage of each spike.
func (r *Response) APMaxVals() []float64 {
	return r.valuesAt(r.APMaxIdx())
}

// AHPIdx returns the afterhyperpolarization minimum following each spike.
// The last spike has none (signal.NoIndex) unless it is the only spike, in
// which case the minimum is taken up to the step offset.
func (r *Response) AHPIdx() []int {
	return always(r.memo, memoKey(featAHPIdx), func() []int {
		peaks := r.APMaxIdx()
		idx := make([]int, len(peaks))
		for i := range peaks {
			switch {
			case i+1 < len(peaks):
				idx[i] = signal.ArgMin(r.data(), peaks[i], peaks[i+1])
			case len(peaks) == 1:
				idx[i] = signal.ArgMin(r.data(), peaks[i], r.offset())
			default:
				idx[i] = signal.NoIndex
			}
		}
		return idx
	})
}

// AHPVals returns the AHP voltage of each spike, NaN where there is none.
func (r *Response) AHPVals() []float64 {
	return r.valuesAt(r.AHPIdx())
}

// risingStart is the first sample of spike i's rising phase.
func (r *Response) risingStart(i int) int {
	if i == 0 {
		return r.onset()
	}
	return r.AHPIdx()[i-1]
}

// fallingEnd is one past the last sample of spike i's falling phase.
func (r *Response) fallingEnd(i int) int {
	if ahp := r.AHPIdx()[i]; ahp != signal.NoIndex {
		return ahp
	}
	return r.offset()
}

// ThresholdIdx locates each spike's threshold: the insertion point of the
// dV/dt threshold in dV/dt between the rising-phase start and the peak, minus
// one sample. The search assumes dV/dt is non-decreasing over that range.
func (r *Response) ThresholdIdx() []int {
	return always(r.memo, memoKey(featThresholdIdx), func() []int {
		dvdt, peaks := r.DVDT(), r.APMaxIdx()
		idx := make([]int, len(peaks))
		for i, peak := range peaks {
			start := r.risingStart(i)
			if start == signal.NoIndex || start >= peak {
				idx[i] = signal.NoIndex
				continue
			}
			j := start + signal.SearchSorted(dvdt[start:peak], r.params.DVDTThreshold) - 1
			idx[i] = max(j, start)
		}
		return idx
	})
}

// ThresholdVals returns the voltage at each threshold.
func (r *Response) ThresholdVals() []float64 {
	return r.valuesAt(r.ThresholdIdx())
}

// ThresholdTiming returns each threshold in ms after step onset.
func (r *Response) ThresholdTiming() []float64 {
	idx := r.ThresholdIdx()
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = r.msSinceOnset(j)
	}
	return out
}

// DeltaThresh returns each threshold relative to the first spike's.
func (r *Response) DeltaThresh() []float64 {
	thr := r.ThresholdVals()
	out := make([]float64, len(thr))
	for i := range thr {
		out[i] = thr[i] - thr[0]
	}
	return out
}

// AHPVsThreshold returns AHP voltage minus threshold voltage per spike.
func (r *Response) AHPVsThreshold() []float64 {
	ahp, thr := r.AHPVals(), r.ThresholdVals()
	out := make([]float64, len(ahp))
	for i := range ahp {
		out[i] = ahp[i] - thr[i]
	}
	return out
}

// APAmplitudes returns peak minus threshold voltage per spike.
func (r *Response) APAmplitudes() []float64 {
	peaks, thr := r.APMaxVals(), r.ThresholdVals()
	out := make([]float64, len(peaks))
	for i := range peaks {
		out[i] = peaks[i] - thr[i]
	}
	return out
}

// ValPctAPAmp returns the voltage pct percent of the way from threshold to peak.
func (r *Response) ValPctAPAmp(pct float64) []float64 {
	amp, thr := r.APAmplitudes(), r.ThresholdVals()
	out := make([]float64, len(amp))
	for i := range amp {
		out[i] = thr[i] + amp[i]*pct/100
	}
	return out
}

// phaseIdx returns, per spike, the sample in the chosen phase nearest to the
// pct-of-amplitude voltage, or the sample of largest |dV/dt| for MaxPct.
func (r *Response) phaseIdx(pct Percent, dir Direction) []int {
	f := featRisingIdx
	if dir == Falling {
		f = featFallingIdx
	}
	return always(r.memo, memoKey(f, pct.String()), func() []int {
		peaks := r.APMaxIdx()
		var targets []float64
		if !pct.Max {
			targets = r.ValPctAPAmp(pct.Value)
		}
		idx := make([]int, len(peaks))
		for i, peak := range peaks {
			lo, hi := r.risingStart(i), peak
			if dir == Falling {
				lo, hi = peak, r.fallingEnd(i)
			}
			switch {
			case lo == signal.NoIndex:
				idx[i] = signal.NoIndex
			case pct.Max:
				idx[i] = signal.ArgMaxAbs(r.DVDT(), lo, hi)
			case math.IsNaN(targets[i]):
				idx[i] = signal.NoIndex
			default:
				idx[i] = signal.Nearest(r.data(), lo, hi, targets[i])
			}
		}
		return idx
	})
}

// APWidth returns the time between the rising and falling crossings of the
// pct-of-amplitude voltage for each spike.
func (r *Response) APWidth(pct float64) []float64 {
	rising, falling := r.phaseIdx(Pct(pct), Rising), r.phaseIdx(Pct(pct), Falling)
	out := make([]float64, len(rising))
	for i := range rising {
		if rising[i] == signal.NoIndex || falling[i] == signal.NoIndex {
			out[i] = math.NaN()
			continue
		}
		out[i] = float64(falling[i]-rising[i]) * r.MsPerPoint()
	}
	return out
}

// DVDTPctAPAmp returns dV/dt at the pct-of-amplitude crossing in the chosen
// phase, or the phase's extreme dV/dt for MaxPct.
func (r *Response) DVDTPctAPAmp(pct Percent, dir Direction) []float64 {
	idx := r.phaseIdx(pct, dir)
	dvdt := r.DVDT()
	out := make([]float64, len(idx))
	for i, j := range idx {
		if j == signal.NoIndex {
			out[i] = math.NaN()
			continue
		}
		out[i] = dvdt[j]
	}
	return out
}

// ISIs returns the interspike intervals between consecutive peaks in ms.
func (r *Response) ISIs() []float64 {
	peaks := r.APMaxIdx()
	if len(peaks) < 2 {
		return []float64{}
	}
	out := make([]float64, len(peaks)-1)
	for i := range out {
		out[i] = float64(peaks[i+1]-peaks[i]) * r.MsPerPoint()
	}
	return out
}

// DoubletIndex is the second ISI over the first, NaN with fewer than 3 spikes.
func (r *Response) DoubletIndex() float64 {
	isi := r.ISIs()
	if len(isi) < 2 {
		return math.NaN()
	}
	return isi[1] / isi[0]
}

// lastOf returns the final element of v, NaN when empty.
func lastOf(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	return v[len(v)-1]
}
