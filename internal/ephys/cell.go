package ephys

import (
	"fmt"
	"math"
	"slices"

	"github.com/miradorstack/mirador-ephys/internal/models"
	"github.com/miradorstack/mirador-ephys/internal/utils"
)

// Cell aggregates the sweeps recorded from one neuron.
type Cell struct {
	meta   models.CellMetadata
	params Params
	sweeps []*Sweep

	analyzed map[int]struct{}
	averages map[averageKey]*Response
}

type averageKey struct {
	criteria    string
	left, right float64
}

// NewCell wraps a recording for analysis.
func NewCell(rec models.CellRecording, params Params) *Cell {
	c := &Cell{
		meta:     rec.Metadata,
		params:   params,
		analyzed: make(map[int]struct{}),
		averages: make(map[averageKey]*Response),
	}
	for _, trace := range rec.Sweeps {
		c.sweeps = append(c.sweeps, NewSweep(trace, rec.Metadata.Name, params))
	}
	return c
}

// Name returns the cell name.
func (c *Cell) Name() string { return c.meta.Name }

// Metadata returns the descriptive fields of the recording.
func (c *Cell) Metadata() models.CellMetadata { return c.meta }

// Sweeps returns the cell's sweeps in recording order.
func (c *Cell) Sweeps() []*Sweep { return c.sweeps }

// Descriptive returns a metadata property, models.Missing when absent.
func (c *Cell) Descriptive(name string) (string, bool) {
	return c.meta.Property(name)
}

// Responses returns every response of every sweep.
func (c *Cell) Responses() ([]*Response, error) {
	var out []*Response
	for _, s := range c.sweeps {
		rs, err := s.Responses()
		if err != nil {
			return nil, fmt.Errorf("cell %s: %w", c.meta.Name, err)
		}
		out = append(out, rs...)
	}
	return out, nil
}

// ValidResponses returns the responses meeting criteria and records their
// sweeps as analyzed.
func (c *Cell) ValidResponses(criteria Criteria) ([]*Response, error) {
	all, err := c.Responses()
	if err != nil {
		return nil, err
	}
	var valid []*Response
	for _, r := range all {
		ok, err := r.Meets(criteria)
		if err != nil {
			return nil, fmt.Errorf("cell %s sweep %d: %w", c.meta.Name, r.SweepIndex(), err)
		}
		if ok {
			valid = append(valid, r)
			c.analyzed[r.SweepIndex()] = struct{}{}
		}
	}
	return valid, nil
}

// AnalyzedSweeps returns the sorted indices of sweeps that contributed a valid response.
func (c *Cell) AnalyzedSweeps() []int {
	out := make([]int, 0, len(c.analyzed))
	for idx := range c.analyzed {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// AverageResponse windows each response and averages them sample by sample
// into a synthetic Response. All responses must share sampling rate, step
// timing and amplitude.
func (c *Cell) AverageResponse(responses []*Response, leftMs, rightMs float64) (*Response, error) {
	const op = "cell.average_response"
	if len(responses) == 0 {
		return nil, utils.Errorf(op, ErrNoResponses, "cell %s", c.meta.Name)
	}

	for _, r := range responses[1:] {
		if err := sameStepTimes(responses[0], r); err != nil {
			return nil, utils.Errorf(op, ErrInconsistentResponses, "cell %s sweep %d: %v", c.meta.Name, r.SweepIndex(), err)
		}
	}

	windows := make([]*Response, 0, len(responses))
	for _, r := range responses {
		w, err := r.Window(leftMs, rightMs)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}

	first := windows[0]
	for _, w := range windows[1:] {
		if err := consistent(first, w); err != nil {
			return nil, utils.Errorf(op, ErrInconsistentResponses, "cell %s sweep %d: %v", c.meta.Name, w.SweepIndex(), err)
		}
	}

	n := first.trace.Len()
	trace := models.Trace{
		SweepIndex: -1,
		Time:       append([]float64(nil), first.trace.Time...),
		Data:       make([]float64, n),
		Commands:   make([]float64, n),
	}
	for _, w := range windows {
		trace.SweepTime += w.SweepTime() / float64(len(windows))
		for i := 0; i < n; i++ {
			trace.Data[i] += w.trace.Data[i] / float64(len(windows))
			trace.Commands[i] += w.trace.Commands[i] / float64(len(windows))
		}
	}
	return NewResponse(trace, first.window, c.meta.Name, c.params), nil
}

// sameStepTimes compares absolute step timing, which windowing erases.
func sameStepTimes(a, b *Response) error {
	wa, wb := a.InjectionWindow(), b.InjectionWindow()
	if !approxEqual(wb.OnsetTime, wa.OnsetTime) || !approxEqual(wb.OffsetTime, wa.OffsetTime) {
		return fmt.Errorf("step times [%g,%g) vs [%g,%g) s", wa.OnsetTime, wa.OffsetTime, wb.OnsetTime, wb.OffsetTime)
	}
	return nil
}

func consistent(a, b *Response) error {
	switch {
	case a.PointsPerMs() != b.PointsPerMs():
		return fmt.Errorf("sampling rate %d vs %d points/ms", a.PointsPerMs(), b.PointsPerMs())
	case a.trace.Len() != b.trace.Len():
		return fmt.Errorf("window length %d vs %d samples", a.trace.Len(), b.trace.Len())
	case !approxEqual(b.CurrDuration(), a.CurrDuration()):
		return fmt.Errorf("step duration %g vs %g s", a.CurrDuration(), b.CurrDuration())
	case !approxEqual(b.CurrAmplitude(), a.CurrAmplitude()):
		return fmt.Errorf("step amplitude %g vs %g pA", a.CurrAmplitude(), b.CurrAmplitude())
	case a.window.OnsetIdx != b.window.OnsetIdx || a.window.OffsetIdx != b.window.OffsetIdx:
		return fmt.Errorf("step samples [%d,%d) vs [%d,%d)", a.window.OnsetIdx, a.window.OffsetIdx, b.window.OnsetIdx, b.window.OffsetIdx)
	}
	return nil
}

// averageFor memoizes the average response of the responses meeting criteria.
func (c *Cell) averageFor(criteria Criteria, leftMs, rightMs float64) (*Response, error) {
	k := averageKey{criteria: criteria.String(), left: leftMs, right: rightMs}
	if avg, ok := c.averages[k]; ok {
		return avg, nil
	}
	valid, err := c.ValidResponses(criteria)
	if err != nil {
		return nil, err
	}
	if len(valid) == 0 {
		return nil, nil
	}
	avg, err := c.AverageResponse(valid, leftMs, rightMs)
	if err != nil {
		return nil, err
	}
	c.averages[k] = avg
	return avg, nil
}

type cellPropertyDef struct {
	rebound bool
	calc    func(r *Response) (float64, error)
}

func infallible(f func(r *Response) float64) func(r *Response) (float64, error) {
	return func(r *Response) (float64, error) { return f(r), nil }
}

// cellProperties are computed on the average of a cell's valid responses.
var cellProperties = map[string]cellPropertyDef{
	"sag_onset_time":    {calc: infallible((*Response).SagOnsetTime)},
	"peak_sag_val":      {calc: infallible((*Response).PeakSagVal)},
	"steady_state_amp":  {calc: infallible((*Response).SteadyStateAmp)},
	"sag_abs_amplitude": {calc: infallible((*Response).SagAbsAmplitude)},
	"sag_fit_amplitude": {calc: (*Response).SagFitAmplitude},
	"reb_delta_t":       {calc: infallible((*Response).RebDeltaT)},
	"max_rebound_time":  {rebound: true, calc: infallible((*Response).MaxReboundTime)},
	"max_rebound_val":   {rebound: true, calc: infallible((*Response).MaxReboundVal)},
}

// IsCellProperty reports whether name is a calculated cell property.
func IsCellProperty(name string) bool {
	_, ok := cellProperties[name]
	return ok
}

// CellProperty computes a calculated cell property on the average of the
// responses meeting criteria. It is NaN when no response qualifies.
func (c *Cell) CellProperty(name string, criteria Criteria) (float64, error) {
	def, ok := cellProperties[name]
	if !ok {
		return math.NaN(), fmt.Errorf("%w: no calculator for cell property %q", ErrMissingFeature, name)
	}
	right := c.params.RightWindowMs
	if def.rebound {
		right = c.params.ReboundRightWindowMs
	}
	avg, err := c.averageFor(criteria, c.params.LeftWindowMs, right)
	if err != nil {
		return math.NaN(), err
	}
	if avg == nil {
		return math.NaN(), nil
	}
	return def.calc(avg)
}
