package ephys

import (
	"math"

	"github.com/miradorstack/mirador-ephys/internal/models"
	"github.com/miradorstack/mirador-ephys/internal/signal"
	"github.com/miradorstack/mirador-ephys/internal/utils"
)

// Sweep is one recorded trace together with the step windows found in its
// command channel.
type Sweep struct {
	trace    models.Trace
	cellName string
	params   Params

	windows   []models.InjectionWindow
	responses []*Response
	parsed    bool
	parseErr  error
}

// NewSweep wraps trace for analysis. The trace is validated lazily by Windows.
func NewSweep(trace models.Trace, cellName string, params Params) *Sweep {
	return &Sweep{trace: trace, cellName: cellName, params: params}
}

// Trace returns the underlying trace.
func (s *Sweep) Trace() models.Trace { return s.trace }

// Index returns the sweep index within its cell.
func (s *Sweep) Index() int { return s.trace.SweepIndex }

// Validate checks the channel invariants the window parser relies on.
func (s *Sweep) Validate() error {
	return validateTrace(s.trace)
}

func validateTrace(t models.Trace) error {
	const op = "sweep.validate"
	n := len(t.Time)
	switch {
	case n < 2:
		return utils.Errorf(op, ErrMalformedInput, "sweep %d has %d samples, need at least 2", t.SweepIndex, n)
	case len(t.Data) != n || len(t.Commands) != n:
		return utils.Errorf(op, ErrMalformedInput, "sweep %d channel lengths differ: time=%d data=%d commands=%d",
			t.SweepIndex, n, len(t.Data), len(t.Commands))
	case t.Commands[0] != 0:
		return utils.Errorf(op, ErrMalformedInput, "sweep %d command channel starts at %g pA, expected 0", t.SweepIndex, t.Commands[0])
	case !(t.Time[1] > t.Time[0]):
		return utils.Errorf(op, ErrMalformedInput, "sweep %d time channel is not ascending", t.SweepIndex)
	}
	return nil
}

// Windows parses the command channel into rectangular injection windows.
// Transitions are samples where the command changes; they must pair up into
// symmetric onset/offset steps.
func (s *Sweep) Windows() ([]models.InjectionWindow, error) {
	if err := s.parse(); err != nil {
		return nil, err
	}
	return append([]models.InjectionWindow(nil), s.windows...), nil
}

// Responses returns one Response per injection window, in onset order.
func (s *Sweep) Responses() ([]*Response, error) {
	if err := s.parse(); err != nil {
		return nil, err
	}
	return s.responses, nil
}

func (s *Sweep) parse() error {
	if s.parsed {
		return s.parseErr
	}
	s.parsed = true
	s.windows, s.parseErr = findWindows(s.trace)
	if s.parseErr != nil {
		return s.parseErr
	}
	s.responses = make([]*Response, 0, len(s.windows))
	for _, w := range s.windows {
		s.responses = append(s.responses, NewResponse(s.trace, w, s.cellName, s.params))
	}
	return nil
}

func findWindows(t models.Trace) ([]models.InjectionWindow, error) {
	const op = "sweep.windows"
	if err := validateTrace(t); err != nil {
		return nil, err
	}

	delta := signal.Diff(t.Commands)
	transitions := make([]int, 0, 4)
	for i, d := range delta {
		if d != 0 {
			transitions = append(transitions, i)
		}
	}
	if len(transitions)%2 != 0 {
		return nil, utils.Errorf(op, ErrMalformedInput, "sweep %d has %d command transitions, expected an even count",
			t.SweepIndex, len(transitions))
	}

	windows := make([]models.InjectionWindow, 0, len(transitions)/2)
	for i := 0; i < len(transitions); i += 2 {
		on, off := transitions[i], transitions[i+1]
		up, down := delta[on], delta[off]
		if math.Abs(up+down) > 1e-9*math.Max(1, math.Abs(up)) {
			return nil, utils.Errorf(op, ErrMalformedInput, "sweep %d step at sample %d is not symmetric (%g pA up, %g pA down)",
				t.SweepIndex, on, up, down)
		}
		windows = append(windows, models.InjectionWindow{
			OnsetIdx:   on,
			OffsetIdx:  off,
			OnsetTime:  t.Time[on],
			OffsetTime: t.Time[off],
			Amplitude:  t.Commands[on],
		})
	}
	return windows, nil
}
