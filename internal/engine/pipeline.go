// Package engine runs the classification flow: load cells, query their
// sag/rebound and spike features, score them and persist the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-ephys/internal/cache"
	"github.com/miradorstack/mirador-ephys/internal/classifier"
	"github.com/miradorstack/mirador-ephys/internal/config"
	"github.com/miradorstack/mirador-ephys/internal/ephys"
	"github.com/miradorstack/mirador-ephys/internal/metrics"
	"github.com/miradorstack/mirador-ephys/internal/models"
	"github.com/miradorstack/mirador-ephys/internal/query"
	"github.com/miradorstack/mirador-ephys/internal/store"
)

// ErrStoreNotConfigured is returned by LoadRun when runs are not persisted.
var ErrStoreNotConfigured = errors.New("run store not configured")

// RecordingSource loads cells by name.
type RecordingSource interface {
	Load(ctx context.Context, names []string) ([]models.CellRecording, error)
}

// Pipeline orchestrates classification runs and ad-hoc queries.
type Pipeline struct {
	logger        *slog.Logger
	source        RecordingSource
	classifier    *classifier.Classifier
	cache         cache.Provider
	cacheTTL      time.Duration
	store         store.RunStore
	params        ephys.Params
	workers       int
	spikeCriteria ephys.Criteria
	sagCriteria   ephys.Criteria
	now           func() time.Time
	newID         func() string
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithCache caches query tables in provider for ttl.
func WithCache(provider cache.Provider, ttl time.Duration) Option {
	return func(p *Pipeline) {
		if provider != nil {
			p.cache, p.cacheTTL = provider, ttl
		}
	}
}

// WithStore persists every classification run.
func WithStore(s store.RunStore) Option { return func(p *Pipeline) { p.store = s } }

// WithParams sets the feature extraction parameters.
func WithParams(params ephys.Params) Option { return func(p *Pipeline) { p.params = params } }

// WithWorkers bounds how many cells are processed concurrently.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithCriteria sets the response criteria of the spike and sag/rebound queries.
func WithCriteria(spike, sag ephys.Criteria) Option {
	return func(p *Pipeline) { p.spikeCriteria, p.sagCriteria = spike, sag }
}

// NewPipeline constructs a classification pipeline.
func NewPipeline(logger *slog.Logger, source RecordingSource, clf *classifier.Classifier, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		logger:     logger,
		source:     source,
		classifier: clf,
		cache:      cache.NoopProvider{},
		params:     ephys.DefaultParams(),
		workers:    1,
		spikeCriteria: ephys.Criteria{
			{Property: "sweep_time", Condition: ephys.Less(150)},
			{Property: "curr_duration", Condition: ephys.Equal(0.3)},
			{Property: "curr_amplitude", Condition: ephys.Greater(0)},
		},
		sagCriteria: ephys.Criteria{
			{Property: "curr_duration", Condition: ephys.Equal(0.12)},
			{Property: "curr_amplitude", Condition: ephys.Equal(-400)},
		},
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseCriteria converts configured criteria into ephys criteria.
func ParseCriteria(cfg []config.CriterionConfig) (ephys.Criteria, error) {
	out := make(ephys.Criteria, 0, len(cfg))
	for _, c := range cfg {
		crit, err := ephys.ParseCriterion(c.Property, c.Condition)
		if err != nil {
			return nil, err
		}
		out = append(out, crit)
	}
	return out, nil
}

// Classify loads the named cells and classifies each one. Cells whose
// features cannot be computed keep whatever label the remaining features
// support and carry an error message; malformed recordings abort the run.
func (p *Pipeline) Classify(ctx context.Context, names []string) (models.ClassificationRun, error) {
	if p.source == nil || p.classifier == nil {
		return models.ClassificationRun{}, fmt.Errorf("pipeline not configured")
	}
	start := time.Now()
	outcome := metrics.OutcomeError
	defer func() { metrics.ObserveAnalysis(time.Since(start), outcome) }()

	cells, err := p.source.Load(ctx, names)
	if err != nil {
		return models.ClassificationRun{}, fmt.Errorf("load cells: %w", err)
	}

	results := make([]models.Classification, len(cells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range cells {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.classifyCell(gctx, cells[i])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.ClassificationRun{}, err
	}

	run := models.ClassificationRun{RunID: p.newID(), CreatedAt: p.now().UTC(), Results: results}
	for _, r := range results {
		metrics.ObserveClassification(string(r.Label))
	}
	if p.store != nil {
		if err := p.store.SaveRun(ctx, run); err != nil {
			p.logger.Warn("failed to persist classification run", slog.String("run_id", run.RunID), slog.Any("error", err))
		}
	}
	outcome = metrics.OutcomeSuccess
	p.logger.Info("classification run complete",
		slog.String("run_id", run.RunID),
		slog.Int("cells", len(results)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return run, nil
}

// classifyCell runs the Type 2 rebound query and the discriminant feature
// queries independently, so a cell whose sag fit is out of range can still
// be called Type 2. Malformed input and cancellation abort the run.
func (p *Pipeline) classifyCell(ctx context.Context, rec models.CellRecording) (models.Classification, error) {
	meta := rec.Metadata
	features := &query.Table{}
	var skipped []string

	rebound, err := p.cellTable(ctx, rec, query.Spec{
		ResponseCriteria: p.sagCriteria,
		CellProperties:   []string{classifier.MaxReboundColumn},
	})
	switch {
	case fatal(err):
		return models.Classification{}, fmt.Errorf("cell %s: %w", meta.Name, err)
	case err != nil:
		skipped = append(skipped, err.Error())
	default:
		features = rebound
	}

	discriminant, err := p.featureTable(ctx, rec)
	switch {
	case fatal(err):
		return models.Classification{}, fmt.Errorf("cell %s: %w", meta.Name, err)
	case err != nil:
		skipped = append(skipped, err.Error())
	default:
		features = features.Join(discriminant)
	}

	row, _ := features.Row(meta.Name)
	out := p.classifier.Classify(meta, row)
	if len(skipped) > 0 {
		out.Error = strings.Join(skipped, "; ")
		p.logger.Warn("cell features incomplete",
			slog.String("cell", meta.Name),
			slog.String("label", string(out.Label)),
			slog.String("error", out.Error),
		)
	}
	return out, nil
}

func fatal(err error) bool {
	return errors.Is(err, ephys.ErrMalformedInput) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// featureTable joins the sag/rebound and spike queries feeding the discriminant.
func (p *Pipeline) featureTable(ctx context.Context, rec models.CellRecording) (*query.Table, error) {
	sag, err := p.cellTable(ctx, rec, query.Spec{
		ResponseCriteria: p.sagCriteria,
		CellProperties:   p.classifier.CellProperties(),
	})
	if err != nil {
		return nil, err
	}
	spikes, err := p.cellTable(ctx, rec, query.Spec{
		ResponseCriteria: p.spikeCriteria,
		SpikeCategories:  p.classifier.SpikeCategories(),
	})
	if err != nil {
		return nil, err
	}
	return sag.Join(spikes), nil
}

func (p *Pipeline) cellTable(ctx context.Context, rec models.CellRecording, spec query.Spec) (*query.Table, error) {
	q, err := query.New([]models.CellRecording{rec}, spec, query.WithParams(p.params), query.WithLogger(p.logger))
	if err != nil {
		return nil, err
	}
	return q.RunCached(ctx, p.cache, p.cacheTTL)
}

// Query loads the named cells and runs spec over them through the cache.
func (p *Pipeline) Query(ctx context.Context, names []string, spec query.Spec) (*query.Table, string, error) {
	if p.source == nil {
		return nil, "", fmt.Errorf("pipeline not configured")
	}
	cells, err := p.source.Load(ctx, names)
	if err != nil {
		return nil, "", fmt.Errorf("load cells: %w", err)
	}
	q, err := query.New(cells, spec, query.WithParams(p.params), query.WithWorkers(p.workers), query.WithLogger(p.logger))
	if err != nil {
		return nil, "", err
	}
	table, err := q.RunCached(ctx, p.cache, p.cacheTTL)
	if err != nil {
		return nil, "", err
	}
	return table, q.ID(), nil
}

// LoadRun fetches a persisted run.
func (p *Pipeline) LoadRun(ctx context.Context, id string) (models.ClassificationRun, error) {
	if p.store == nil {
		return models.ClassificationRun{}, ErrStoreNotConfigured
	}
	return p.store.GetRun(ctx, id)
}
