package signal

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// ErrFitInput is returned when the samples cannot support an exponential fit.
var ErrFitInput = errors.New("invalid fit input")

// ExpFit describes y ≈ A·exp(B·x) together with the coefficient of determination.
type ExpFit struct {
	A  float64
	B  float64
	R2 float64
}

// Eval returns the fitted value at x.
func (f ExpFit) Eval(x float64) float64 {
	return f.A * math.Exp(f.B*x)
}

// FitExp fits y ≈ A·exp(B·x) by least squares. For a fixed rate B the best
// amplitude has a closed form, so only B is searched: a log-linear regression
// seeds it and Nelder-Mead refines the residual sum of squares.
func FitExp(x, y []float64) (ExpFit, error) {
	if len(x) != len(y) {
		return ExpFit{}, fmt.Errorf("%w: %d x samples, %d y samples", ErrFitInput, len(x), len(y))
	}
	if len(x) < 3 {
		return ExpFit{}, fmt.Errorf("%w: need at least 3 samples, got %d", ErrFitInput, len(x))
	}

	sse := func(b float64) float64 {
		a := amplitudeFor(x, y, b)
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return math.Inf(1)
		}
		var sum float64
		for i := range x {
			r := y[i] - a*math.Exp(b*x[i])
			sum += r * r
		}
		if math.IsNaN(sum) {
			return math.Inf(1)
		}
		return sum
	}

	b := initialRate(x, y)
	best := sse(b)

	problem := optimize.Problem{Func: func(p []float64) float64 { return sse(p[0]) }}
	settings := &optimize.Settings{
		FuncEvaluations: 4000,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-12, Relative: 1e-12, Iterations: 40},
	}
	method := &optimize.NelderMead{SimplexSize: math.Max(math.Abs(b)*0.1, 1e-4)}
	// A failed refinement keeps the regression seed.
	if result, err := optimize.Minimize(problem, []float64{b}, settings, method); err == nil && result.F < best {
		b = result.X[0]
	}

	fit := ExpFit{A: amplitudeFor(x, y, b), B: b}
	estimates := make([]float64, len(x))
	for i := range x {
		estimates[i] = fit.Eval(x[i])
	}
	fit.R2 = stat.RSquaredFrom(estimates, y, nil)
	return fit, nil
}

// amplitudeFor returns the least-squares A for a fixed rate b.
func amplitudeFor(x, y []float64, b float64) float64 {
	var num, den float64
	for i := range x {
		e := math.Exp(b * x[i])
		num += y[i] * e
		den += e * e
	}
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

// initialRate estimates B from a linear regression of log|y| over the samples
// carrying the dominant sign and at least 5% of the peak magnitude.
func initialRate(x, y []float64) float64 {
	peak := 0.0
	for _, v := range y {
		if math.Abs(v) > math.Abs(peak) {
			peak = v
		}
	}
	if peak == 0 {
		return 0
	}
	sign := math.Copysign(1, peak)
	floor := 0.05 * math.Abs(peak)

	xs := make([]float64, 0, len(x))
	logs := make([]float64, 0, len(y))
	for i := range y {
		if v := sign * y[i]; v > floor {
			xs = append(xs, x[i])
			logs = append(logs, math.Log(v))
		}
	}
	if len(xs) < 2 {
		return 0
	}
	_, beta := stat.LinearRegression(xs, logs, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0
	}
	return beta
}

// Anchor names the baseline subtracted before a dual-anchor fit.
type Anchor int

const (
	// AnchorMin fits y − min(y).
	AnchorMin Anchor = iota
	// AnchorMax fits y − max(y).
	AnchorMax
)

func (a Anchor) String() string {
	if a == AnchorMax {
		return "max"
	}
	return "min"
}

// DualFit is the better of the two anchored fits plus both candidates.
type DualFit struct {
	ExpFit
	Anchor Anchor
	ByMin  ExpFit
	ByMax  ExpFit
}

// FitDualAnchor fits y − min(y) and y − max(y) and keeps the fit with the
// higher R². A NaN R² never wins.
func FitDualAnchor(x, y []float64) (DualFit, error) {
	if len(y) == 0 {
		return DualFit{}, fmt.Errorf("%w: empty series", ErrFitInput)
	}
	lo, hi := floats.Min(y), floats.Max(y)

	byMin, err := FitExp(x, shifted(y, lo))
	if err != nil {
		return DualFit{}, err
	}
	byMax, err := FitExp(x, shifted(y, hi))
	if err != nil {
		return DualFit{}, err
	}

	out := DualFit{ExpFit: byMin, Anchor: AnchorMin, ByMin: byMin, ByMax: byMax}
	if score(byMax.R2) > score(byMin.R2) {
		out.ExpFit, out.Anchor = byMax, AnchorMax
	}
	return out, nil
}

func shifted(y []float64, by float64) []float64 {
	out := append([]float64(nil), y...)
	floats.AddConst(-by, out)
	return out
}

func score(r2 float64) float64 {
	if math.IsNaN(r2) {
		return math.Inf(-1)
	}
	return r2
}
