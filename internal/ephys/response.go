package ephys

import (
	"math"

	"github.com/miradorstack/mirador-ephys/internal/models"
	"github.com/miradorstack/mirador-ephys/internal/signal"
	"github.com/miradorstack/mirador-ephys/internal/utils"
)

// Response is the voltage response to a single injection window. Every
// feature is computed on first use and memoized for the Response's lifetime.
// A Response is not safe for concurrent use.
type Response struct {
	trace    models.Trace
	window   models.InjectionWindow
	cellName string
	params   Params
	memo     *memo
}

// NewResponse binds window to trace. The trace must satisfy Sweep validation.
func NewResponse(trace models.Trace, window models.InjectionWindow, cellName string, params Params) *Response {
	return &Response{
		trace:    trace,
		window:   window,
		cellName: cellName,
		params:   params,
		memo:     newMemo(),
	}
}

// CellName returns the owning cell's name.
func (r *Response) CellName() string { return r.cellName }

// Trace returns the full trace the window belongs to.
func (r *Response) Trace() models.Trace { return r.trace }

// InjectionWindow returns the step this response is bound to.
func (r *Response) InjectionWindow() models.InjectionWindow { return r.window }

// Params returns the analysis settings in effect.
func (r *Response) Params() Params { return r.params }

// CacheStats reports memo hits and misses so far.
func (r *Response) CacheStats() CacheStats { return r.memo.stats() }

// SweepIndex returns the sweep the response was recorded in.
func (r *Response) SweepIndex() int { return r.trace.SweepIndex }

// SweepTime returns the sweep start in seconds after break-in.
func (r *Response) SweepTime() float64 { return r.trace.SweepTime }

// CurrDuration returns the step length in seconds.
func (r *Response) CurrDuration() float64 { return r.window.Duration() }

// CurrAmplitude returns the step amplitude in pA.
func (r *Response) CurrAmplitude() float64 { return r.window.Amplitude }

// PointsPerMs returns the sampling rate in samples per millisecond.
func (r *Response) PointsPerMs() int {
	dt := r.trace.Time[1] - r.trace.Time[0]
	return int(math.Round(0.001 / dt))
}

// MsPerPoint returns the sampling interval in milliseconds.
func (r *Response) MsPerPoint() float64 {
	return 1 / float64(r.PointsPerMs())
}

func (r *Response) onset() int  { return r.window.OnsetIdx }
func (r *Response) offset() int { return r.window.OffsetIdx }
func (r *Response) data() []float64 {
	return r.trace.Data
}

// msSinceOnset converts a sample index into milliseconds after step onset.
func (r *Response) msSinceOnset(idx int) float64 {
	if idx == signal.NoIndex {
		return math.NaN()
	}
	return float64(idx-r.onset()) * r.MsPerPoint()
}

// valuesAt reads voltage at each index, NaN where the index is absent.
func (r *Response) valuesAt(idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = r.valueAt(j)
	}
	return out
}

func (r *Response) valueAt(idx int) float64 {
	if idx == signal.NoIndex {
		return math.NaN()
	}
	return r.trace.Data[idx]
}

// Window returns a new Response over the samples from left ms before onset to
// right ms after offset, with time rebased to zero at the first sample.
func (r *Response) Window(leftMs, rightMs float64) (*Response, error) {
	const op = "response.window"
	ppms := float64(r.PointsPerMs())
	leftPts := int(math.Round(leftMs * ppms))
	rightPts := int(math.Round(rightMs * ppms))

	start := r.onset() - leftPts
	if start < 0 {
		return nil, utils.NewAppError(op, r.cellName, &WindowError{Side: "left", Requested: leftPts, Available: r.onset()})
	}
	end := r.offset() + rightPts
	if end > r.trace.Len() {
		return nil, utils.NewAppError(op, r.cellName, &WindowError{Side: "right", Requested: rightPts, Available: r.trace.Len() - r.offset()})
	}

	t0 := r.trace.Time[start]
	trace := models.Trace{
		SweepIndex: r.trace.SweepIndex,
		SweepTime:  r.trace.SweepTime,
		Time:       make([]float64, end-start),
		Data:       append([]float64(nil), r.trace.Data[start:end]...),
		Commands:   append([]float64(nil), r.trace.Commands[start:end]...),
	}
	for i := range trace.Time {
		trace.Time[i] = r.trace.Time[start+i] - t0
	}
	window := models.InjectionWindow{
		OnsetIdx:   leftPts,
		OffsetIdx:  r.offset() - start,
		OnsetTime:  r.window.OnsetTime - t0,
		OffsetTime: r.window.OffsetTime - t0,
		Amplitude:  r.window.Amplitude,
	}
	return NewResponse(trace, window, r.cellName, r.params), nil
}
