package ephys

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-ephys/internal/signal"
)

// Value is a feature result: one number for scalar features, one per spike
// (or interval) for vector features.
type Value struct {
	values []float64
	vector bool
}

// ScalarValue wraps a single number.
func ScalarValue(v float64) Value { return Value{values: []float64{v}} }

// VectorValue wraps a per-spike series.
func VectorValue(v []float64) Value { return Value{values: v, vector: true} }

// IsVector reports whether the value holds a per-spike series.
func (v Value) IsVector() bool { return v.vector }

// Float returns a scalar value, or NaN for vectors.
func (v Value) Float() float64 {
	if v.vector || len(v.values) == 0 {
		return math.NaN()
	}
	return v.values[0]
}

// Floats returns the series (a single element for scalars).
func (v Value) Floats() []float64 { return v.values }

// Column is one named number in a response's feature row. Vector features
// expand into one column per element, suffixed with the element index.
type Column struct {
	Name     string
	Property string
	Index    int
	Value    float64
}

type featureDef struct {
	arity  int
	vector bool
	calc   func(r *Response, args []string) (Value, error)
}

func scalar(f func(r *Response) float64) *featureDef {
	return &featureDef{calc: func(r *Response, _ []string) (Value, error) { return ScalarValue(f(r)), nil }}
}

func vector(f func(r *Response) []float64) *featureDef {
	return &featureDef{vector: true, calc: func(r *Response, _ []string) (Value, error) { return VectorValue(f(r)), nil }}
}

func indices(f func(r *Response) []int) *featureDef {
	return vector(func(r *Response) []float64 {
		idx := f(r)
		out := make([]float64, len(idx))
		for i, j := range idx {
			if j == signal.NoIndex {
				out[i] = math.NaN()
				continue
			}
			out[i] = float64(j)
		}
		return out
	})
}

var registry = map[string]*featureDef{
	"sweep_index":    scalar(func(r *Response) float64 { return float64(r.SweepIndex()) }),
	"sweep_time":     scalar(func(r *Response) float64 { return r.SweepTime() }),
	"curr_duration":  scalar(func(r *Response) float64 { return r.CurrDuration() }),
	"curr_amplitude": scalar(func(r *Response) float64 { return r.CurrAmplitude() }),
	"points_per_ms":  scalar(func(r *Response) float64 { return float64(r.PointsPerMs()) }),
	"ms_per_point":   scalar(func(r *Response) float64 { return r.MsPerPoint() }),

	"num_spikes":       scalar(func(r *Response) float64 { return float64(r.NumSpikes()) }),
	"spike_points":     indices((*Response).SpikePoints),
	"APmax_idx":        indices((*Response).APMaxIdx),
	"APmax_vals":       vector((*Response).APMaxVals),
	"AHP_idx":          indices((*Response).AHPIdx),
	"AHP_vals":         vector((*Response).AHPVals),
	"threshold_idx":    indices((*Response).ThresholdIdx),
	"threshold_vals":   vector((*Response).ThresholdVals),
	"threshold_timing": vector((*Response).ThresholdTiming),
	"delta_thresh":     vector((*Response).DeltaThresh),
	"AHP_vs_threshold": vector((*Response).AHPVsThreshold),
	"AP_amplitudes":    vector((*Response).APAmplitudes),
	"ISIs":             vector((*Response).ISIs),
	"doublet_index":    scalar((*Response).DoubletIndex),
	"val_pct_APamp": {arity: 1, vector: true, calc: func(r *Response, args []string) (Value, error) {
		pct, err := parsePercent(args[0])
		if err != nil || pct.Max {
			return Value{}, fmt.Errorf("%w: val_pct_APamp percent %q", ErrInvalidArgument, args[0])
		}
		return VectorValue(r.ValPctAPAmp(pct.Value)), nil
	}},
	"AP_width": {arity: 1, vector: true, calc: func(r *Response, args []string) (Value, error) {
		pct, err := parsePercent(args[0])
		if err != nil || pct.Max {
			return Value{}, fmt.Errorf("%w: AP_width percent %q", ErrInvalidArgument, args[0])
		}
		return VectorValue(r.APWidth(pct.Value)), nil
	}},
	"dVdt_pct_APamp": {arity: 2, vector: true, calc: func(r *Response, args []string) (Value, error) {
		pct, err := parsePercent(args[0])
		if err != nil {
			return Value{}, err
		}
		dir, err := parseDirection(args[1])
		if err != nil {
			return Value{}, err
		}
		return VectorValue(r.DVDTPctAPAmp(pct, dir)), nil
	}},

	"sag_onset_time":    scalar((*Response).SagOnsetTime),
	"peak_sag_val":      scalar((*Response).PeakSagVal),
	"steady_state_amp":  scalar((*Response).SteadyStateAmp),
	"sag_abs_amplitude": scalar((*Response).SagAbsAmplitude),
	"sag_fit_amplitude": {calc: func(r *Response, _ []string) (Value, error) {
		a, err := r.SagFitAmplitude()
		return ScalarValue(a), err
	}},
	"max_rebound_val":  scalar((*Response).MaxReboundVal),
	"max_rebound_time": scalar((*Response).MaxReboundTime),
	"reb_delta_t":      scalar((*Response).RebDeltaT),
}

const (
	byNumSpikesSuffix = "_by_num_spikes"
	lastSpikeSuffix   = "_last_spike"
	argSeparator      = "__"
)

// bucket narrows a feature to responses firing exactly n spikes.
type bucket int

const (
	noBucket bucket = iota
	byNumSpikes
	lastSpike
)

type propertyRef struct {
	name   string
	def    *featureDef
	args   []string
	bucket bucket
	spikes int
}

// resolveProperty parses "name__arg1__arg2". Names ending in _by_num_spikes
// take a scalar feature and a trailing spike count; names ending in
// _last_spike take a vector feature's final element and a trailing spike count.
func resolveProperty(prop string) (propertyRef, error) {
	parts := strings.Split(prop, argSeparator)
	ref := propertyRef{name: parts[0], args: parts[1:]}

	for suffix, kind := range map[string]bucket{byNumSpikesSuffix: byNumSpikes, lastSpikeSuffix: lastSpike} {
		base, ok := strings.CutSuffix(ref.name, suffix)
		if !ok || registry[base] == nil {
			continue
		}
		if len(ref.args) == 0 {
			return propertyRef{}, fmt.Errorf("%w: %q needs a trailing spike count", ErrInvalidArgument, prop)
		}
		n, err := strconv.Atoi(ref.args[len(ref.args)-1])
		if err != nil || n < 0 {
			return propertyRef{}, fmt.Errorf("%w: %q spike count %q", ErrInvalidArgument, prop, ref.args[len(ref.args)-1])
		}
		ref.def, ref.bucket, ref.spikes = registry[base], kind, n
		ref.args = ref.args[:len(ref.args)-1]
		if kind == byNumSpikes && ref.def.vector {
			return propertyRef{}, fmt.Errorf("%w: %q buckets a per-spike feature, use %s", ErrInvalidArgument, prop, lastSpikeSuffix)
		}
		if kind == lastSpike && !ref.def.vector {
			return propertyRef{}, fmt.Errorf("%w: %q takes the last spike of a scalar feature", ErrInvalidArgument, prop)
		}
		break
	}

	if ref.def == nil {
		ref.def = registry[ref.name]
	}
	if ref.def == nil {
		return propertyRef{}, fmt.Errorf("%w: no calculator for response property %q", ErrMissingFeature, prop)
	}
	if len(ref.args) != ref.def.arity {
		return propertyRef{}, fmt.Errorf("%w: %q takes %d arguments, got %d", ErrInvalidArgument, prop, ref.def.arity, len(ref.args))
	}
	return ref, nil
}

// ValidateProperty reports whether prop names a computable response property.
func ValidateProperty(prop string) error {
	_, err := resolveProperty(prop)
	return err
}

// IsVectorProperty reports whether prop expands into per-spike columns.
func IsVectorProperty(prop string) bool {
	ref, err := resolveProperty(prop)
	return err == nil && ref.bucket == noBucket && ref.def.vector
}

// Property computes a response property by name.
func (r *Response) Property(prop string) (Value, error) {
	ref, err := resolveProperty(prop)
	if err != nil {
		return Value{}, err
	}
	if ref.bucket != noBucket && r.NumSpikes() != ref.spikes {
		return ScalarValue(math.NaN()), nil
	}
	v, err := ref.def.calc(r, ref.args)
	if err != nil {
		return Value{}, err
	}
	if ref.bucket == lastSpike {
		return ScalarValue(lastOf(v.Floats())), nil
	}
	return v, nil
}

// Columns computes each named property and flattens vectors into indexed
// columns, e.g. delta_thresh0, delta_thresh1.
func (r *Response) Columns(props []string) ([]Column, error) {
	cols := make([]Column, 0, len(props))
	for _, prop := range props {
		v, err := r.Property(prop)
		if err != nil {
			return nil, err
		}
		if !v.IsVector() {
			cols = append(cols, Column{Name: prop, Property: prop, Index: -1, Value: v.Float()})
			continue
		}
		for i, x := range v.Floats() {
			cols = append(cols, Column{Name: prop + strconv.Itoa(i), Property: prop, Index: i, Value: x})
		}
	}
	return cols, nil
}
