// Package query aggregates per-response features into one row per cell and
// caches the resulting tables.
package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-ephys/internal/ephys"
	"github.com/miradorstack/mirador-ephys/internal/models"
	"github.com/miradorstack/mirador-ephys/internal/signal"
)

// ErrConflictingProperties is returned when a spec mixes standalone response
// properties with spike categories.
var ErrConflictingProperties = errors.New("conflicting properties")

// ErrEmptyQuery is returned for a query with no cells.
var ErrEmptyQuery = errors.New("query has no cells")

const logPrefix = "log_"

// SpikeCounts are the spike-count buckets spike categories expand into.
var SpikeCounts = []int{3, 4, 5, 6, 7, 8}

// Spec describes what to compute for each cell.
type Spec struct {
	// ResponseCriteria select the responses that are aggregated.
	ResponseCriteria ephys.Criteria
	// ResponseProperties are averaged over the selected responses.
	ResponseProperties []string
	// SpikeCategories expand into one property per spike-count bucket,
	// e.g. delta_thresh_last_spike becomes delta_thresh_last_spike__3..__8.
	SpikeCategories []string
	// CellProperties are descriptive metadata or computed on the average response.
	CellProperties []string
	// Rheobase keeps only the selected response with the latest first threshold
	// instead of averaging.
	Rheobase bool
}

// Query runs a Spec over a fixed set of cells.
type Query struct {
	cells         []models.CellRecording
	spec          Spec
	responseProps []string
	params        ephys.Params
	workers       int
	logger        *slog.Logger
}

// Option customises a Query.
type Option func(*Query)

// WithParams sets the analysis parameters.
func WithParams(p ephys.Params) Option { return func(q *Query) { q.params = p } }

// WithWorkers bounds how many cells are analysed concurrently.
func WithWorkers(n int) Option {
	return func(q *Query) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Query) {
		if l != nil {
			q.logger = l
		}
	}
}

// New validates spec and binds it to cells.
func New(cells []models.CellRecording, spec Spec, opts ...Option) (*Query, error) {
	if len(cells) == 0 {
		return nil, ErrEmptyQuery
	}
	if len(spec.ResponseProperties) > 0 && len(spec.SpikeCategories) > 0 {
		return nil, fmt.Errorf("%w: response properties %v cannot be combined with spike categories %v",
			ErrConflictingProperties, spec.ResponseProperties, spec.SpikeCategories)
	}

	q := &Query{
		cells:   cells,
		spec:    spec,
		params:  ephys.DefaultParams(),
		workers: 1,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.responseProps = append(q.responseProps, spec.ResponseProperties...)
	for _, cat := range spec.SpikeCategories {
		for _, n := range SpikeCounts {
			q.responseProps = append(q.responseProps, cat+"__"+strconv.Itoa(n))
		}
	}
	for _, prop := range q.responseProps {
		base, logged := strings.CutPrefix(prop, logPrefix)
		if err := ephys.ValidateProperty(base); err != nil {
			return nil, fmt.Errorf("response property %s: %w", prop, err)
		}
		if logged && ephys.IsVectorProperty(base) {
			return nil, fmt.Errorf("response property %s: %w: log of a per-spike property", prop, ephys.ErrInvalidArgument)
		}
	}
	for _, prop := range spec.CellProperties {
		base, logged := strings.CutPrefix(prop, logPrefix)
		switch {
		case models.IsDescriptive(base) && !logged:
		case ephys.IsCellProperty(base):
		default:
			return nil, fmt.Errorf("cell property %s: %w", prop, ephys.ErrMissingFeature)
		}
	}
	return q, nil
}

// ResponseProperties returns the response properties after spike-category expansion.
func (q *Query) ResponseProperties() []string {
	return append([]string(nil), q.responseProps...)
}

// CellNames returns the sorted names of the bound cells.
func (q *Query) CellNames() []string {
	names := make([]string, 0, len(q.cells))
	for _, c := range q.cells {
		names = append(names, c.Metadata.Name)
	}
	sort.Strings(names)
	return names
}

// Describe renders the query in a canonical, human-readable form.
func (q *Query) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cells: %s\n", strings.Join(q.CellNames(), ", "))
	fmt.Fprintf(&b, "response criteria: %s\n", q.spec.ResponseCriteria)
	fmt.Fprintf(&b, "response properties: %s\n", strings.Join(q.responseProps, ", "))
	fmt.Fprintf(&b, "cell properties: %s\n", strings.Join(q.spec.CellProperties, ", "))
	fmt.Fprintf(&b, "rheobase: %t\n", q.spec.Rheobase)
	p := q.params
	fmt.Fprintf(&b, "params: spike=%g dvdt=%g sag_onset=%g steady=%g windows=%g/%g/%g\n",
		p.SpikeThreshold, p.DVDTThreshold, p.SagMaxOnsetMs, p.SteadyStateMs, p.LeftWindowMs, p.RightWindowMs, p.ReboundRightWindowMs)
	return b.String()
}

// ID is the content address of the query: a sha256 of Describe.
func (q *Query) ID() string {
	sum := sha256.Sum256([]byte(q.Describe()))
	return hex.EncodeToString(sum[:])
}

// Run analyses every cell and returns one row per cell sorted by name.
// Cells are analysed concurrently up to the worker limit; each worker owns
// its cell. The first error cancels the remaining cells.
func (q *Query) Run(ctx context.Context) (*Table, error) {
	rows := make([]Row, len(q.cells))
	ranks := make([]map[string]rank, len(q.cells))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.workers)
	for i := range q.cells {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row, rk, err := q.analyzeCell(q.cells[i])
			if err != nil {
				return fmt.Errorf("cell %s: %w", q.cells[i].Metadata.Name, err)
			}
			rows[i], ranks[i] = row, rk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]rank)
	for _, rk := range ranks {
		for col, r := range rk {
			merged[col] = r
		}
	}
	cols := make([]string, 0, len(merged))
	for col := range merged {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool { return merged[cols[i]].less(merged[cols[j]]) })

	sortRows(rows)
	q.logger.Debug("query complete", slog.String("id", q.ID()[:12]), slog.Int("cells", len(rows)), slog.Int("columns", len(cols)))
	return &Table{Columns: cols, Rows: rows}, nil
}

// rank orders columns: descriptive, then cell properties, then response
// properties in request order with per-spike columns by index.
type rank struct {
	group int
	pos   int
	index int
}

func (r rank) less(o rank) bool {
	if r.group != o.group {
		return r.group < o.group
	}
	if r.pos != o.pos {
		return r.pos < o.pos
	}
	return r.index < o.index
}

const logIndex = math.MaxInt32

func (q *Query) analyzeCell(rec models.CellRecording) (Row, map[string]rank, error) {
	cell := ephys.NewCell(rec, q.params)
	row := Row{Cell: cell.Name(), Labels: map[string]string{}, Values: map[string]float64{}}
	ranks := map[string]rank{}

	for pos, prop := range q.spec.CellProperties {
		if v, ok := cell.Descriptive(prop); ok {
			row.Labels[prop] = v
			ranks[prop] = rank{group: 0, pos: pos}
			continue
		}
		base, logged := strings.CutPrefix(prop, logPrefix)
		v, err := cell.CellProperty(base, q.spec.ResponseCriteria)
		if err != nil {
			return Row{}, nil, err
		}
		row.Values[base] = v
		ranks[base] = rank{group: 1, pos: pos}
		if logged {
			row.Values[prop] = math.Log(v)
			ranks[prop] = rank{group: 1, pos: pos, index: logIndex}
		}
	}

	row.AnalyzedSweeps = cell.AnalyzedSweeps()
	if len(q.responseProps) > 0 || q.spec.Rheobase {
		valid, err := cell.ValidResponses(q.spec.ResponseCriteria)
		if err != nil {
			return Row{}, nil, err
		}
		if q.spec.Rheobase {
			valid = rheobase(valid)
			row.AnalyzedSweeps = []int{}
			for _, r := range valid {
				row.AnalyzedSweeps = append(row.AnalyzedSweeps, r.SweepIndex())
			}
		}
		if err := q.aggregate(valid, row, ranks); err != nil {
			return Row{}, nil, err
		}
	}
	return row, ranks, nil
}

// aggregate averages each response column over responses, skipping NaN.
func (q *Query) aggregate(responses []*ephys.Response, row Row, ranks map[string]rank) error {
	if len(responses) == 0 {
		return nil
	}
	bases := make([]string, len(q.responseProps))
	for i, prop := range q.responseProps {
		bases[i], _ = strings.CutPrefix(prop, logPrefix)
	}
	position := make(map[string]int, len(bases))
	var unique []string
	for i, base := range bases {
		if _, ok := position[base]; !ok {
			position[base] = i
			unique = append(unique, base)
		}
	}

	samples := map[string][]float64{}
	for _, r := range responses {
		cols, err := r.Columns(unique)
		if err != nil {
			return fmt.Errorf("sweep %d: %w", r.SweepIndex(), err)
		}
		for _, c := range cols {
			samples[c.Name] = append(samples[c.Name], c.Value)
			ranks[c.Name] = rank{group: 2, pos: position[c.Property], index: max(c.Index, 0)}
		}
	}
	for name, vals := range samples {
		row.Values[name] = signal.NaNMean(vals)
	}
	for i, prop := range q.responseProps {
		if strings.HasPrefix(prop, logPrefix) {
			row.Values[prop] = math.Log(row.Value(bases[i]))
			ranks[prop] = rank{group: 2, pos: i, index: logIndex}
		}
	}
	return nil
}

// rheobase keeps the response whose first spike threshold comes latest,
// i.e. the weakest stimulus that still fired.
func rheobase(responses []*ephys.Response) []*ephys.Response {
	var best *ephys.Response
	bestTiming := math.Inf(-1)
	for _, r := range responses {
		timing := r.ThresholdTiming()
		if len(timing) == 0 || math.IsNaN(timing[0]) {
			continue
		}
		if timing[0] > bestTiming {
			best, bestTiming = r, timing[0]
		}
	}
	if best == nil {
		return nil
	}
	return []*ephys.Response{best}
}
