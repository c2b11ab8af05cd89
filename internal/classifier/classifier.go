// Package classifier applies the published linear discriminant to per-cell
// feature rows and reaches a subtype call.
package classifier

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/miradorstack/mirador-ephys/internal/models"
)

// SpikeBuckets are the spike counts a cell is scored at.
var SpikeBuckets = []int{3, 4, 5, 6, 7, 8}

const (
	// MaxReboundColumn feeds the Type 2 check.
	MaxReboundColumn = "max_rebound_time"

	defaultType2CutoffMs  = 90.0
	defaultExclusionSigma = 1.64
)

// Features exposes one cell's aggregated columns; absent columns are NaN.
type Features interface {
	Value(col string) float64
}

// Classifier scores cells against discriminant tables.
type Classifier struct {
	tables      *Tables
	type2Cutoff float64
	sigma       float64
	logger      *slog.Logger
}

// Option customises a Classifier.
type Option func(*Classifier)

// WithType2Cutoff sets the max rebound time below which a cell is Type 2.
func WithType2Cutoff(ms float64) Option { return func(c *Classifier) { c.type2Cutoff = ms } }

// WithExclusionSigma sets the width of the exclusion zone in standard deviations.
func WithExclusionSigma(sigma float64) Option { return func(c *Classifier) { c.sigma = sigma } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a Classifier over tables.
func New(tables *Tables, opts ...Option) *Classifier {
	c := &Classifier{
		tables:      tables,
		type2Cutoff: defaultType2CutoffMs,
		sigma:       defaultExclusionSigma,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Variables returns the feature columns scored for a spike-count bucket:
// spike-dependent variables get a __N suffix.
func (c *Classifier) Variables(numSpikes int) []string {
	out := make([]string, len(c.tables.Variables))
	for i, v := range c.tables.Variables {
		if strings.Contains(v, "spike") {
			v += "__" + strconv.Itoa(numSpikes)
		}
		out[i] = v
	}
	return out
}

// SpikeCategories returns the spike-dependent variables, unsuffixed.
func (c *Classifier) SpikeCategories() []string {
	var out []string
	for _, v := range c.tables.Variables {
		if strings.Contains(v, "spike") {
			out = append(out, v)
		}
	}
	return out
}

// CellProperties returns the spike-independent variables. The Type 2
// rebound column is queried on its own.
func (c *Classifier) CellProperties() []string {
	var out []string
	for _, v := range c.tables.Variables {
		if !strings.Contains(v, "spike") {
			out = append(out, v)
		}
	}
	return out
}

// Score standardises x with the model's means and stds and returns the
// negated decision function, so D1-like cells score low and D3-like high.
func Score(m Model, x []float64) (float64, error) {
	if len(x) != len(m.Coefficients) {
		return math.NaN(), fmt.Errorf("score: %d values for %d coefficients", len(x), len(m.Coefficients))
	}
	xs := make([]float64, len(x))
	for i := range x {
		xs[i] = (x[i] - m.Means[i]) / m.Stds[i]
	}
	d := mat.Dot(mat.NewVecDense(len(xs), xs), mat.NewVecDense(len(m.Coefficients), m.Coefficients))
	return -(d + m.Intercept), nil
}

// ExclusionZone returns the score interval in which no call is made. The
// zone always contains zero.
func ExclusionZone(m Model, sigma float64) (left, right float64) {
	left = math.Min(m.D1.Mean-sigma*m.D1.Std, 0)
	right = math.Max(m.D3.Mean+sigma*m.D3.Std, 0)
	return left, right
}

// ScoreBucket scores one spike-count bucket. Missing variables or a missing
// model yield LabelInsufficientData with a NaN score.
func (c *Classifier) ScoreBucket(f Features, caBuffer string, numSpikes int) models.BucketScore {
	b := models.BucketScore{NumSpikes: numSpikes, Score: math.NaN(), Left: math.NaN(), Right: math.NaN(), Label: models.LabelInsufficientData}

	m, err := c.tables.Lookup(caBuffer, numSpikes)
	if err != nil {
		c.logger.Debug("bucket skipped", slog.Int("num_spikes", numSpikes), slog.Any("error", err))
		return b
	}
	b.Left, b.Right = ExclusionZone(m, c.sigma)

	vars := c.Variables(numSpikes)
	x := make([]float64, len(vars))
	for i, v := range vars {
		x[i] = f.Value(v)
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) {
			return b
		}
	}
	score, err := Score(m, x)
	if err != nil {
		return b
	}
	b.Score = score
	switch {
	case score < b.Left:
		b.Label = models.LabelType3
	case score > b.Right:
		b.Label = models.LabelType1
	default:
		b.Label = models.LabelUnidentified
	}
	return b
}

// Consensus reduces bucket labels to one call. Type 1 and Type 3 votes must
// agree; any disagreement, or scored buckets without a vote, is Unidentified.
// No scored bucket at all is Insufficient data.
func Consensus(buckets []models.BucketScore) models.Label {
	var vote models.Label
	scored := false
	for _, b := range buckets {
		switch b.Label {
		case models.LabelType1, models.LabelType3:
			if vote != "" && vote != b.Label {
				return models.LabelUnidentified
			}
			vote = b.Label
			scored = true
		case models.LabelUnidentified:
			scored = true
		}
	}
	switch {
	case vote != "":
		return vote
	case scored:
		return models.LabelUnidentified
	default:
		return models.LabelInsufficientData
	}
}

// Classify scores every bucket and applies the Type 2 rebound check, which
// takes precedence over the discriminant call.
func (c *Classifier) Classify(cell models.CellMetadata, f Features) models.Classification {
	out := models.Classification{
		Cell:           cell.Name,
		GeneticMarker:  orMissing(cell.GeneticMarker),
		CaBuffer:       orMissing(cell.CaBuffer),
		MaxReboundTime: f.Value(MaxReboundColumn),
	}
	for _, n := range SpikeBuckets {
		out.Buckets = append(out.Buckets, c.ScoreBucket(f, cell.CaBuffer, n))
	}
	out.Label = Consensus(out.Buckets)
	if out.MaxReboundTime < c.type2Cutoff {
		out.Label = models.LabelType2
	}
	c.logger.Debug("cell classified", slog.String("cell", cell.Name), slog.String("label", string(out.Label)))
	return out
}

func orMissing(s string) string {
	if s == "" {
		return models.Missing
	}
	return s
}
