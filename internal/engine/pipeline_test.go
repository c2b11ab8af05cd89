package engine

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-ephys/internal/cache"
	"github.com/miradorstack/mirador-ephys/internal/classifier"
	"github.com/miradorstack/mirador-ephys/internal/config"
	"github.com/miradorstack/mirador-ephys/internal/ephys"
	"github.com/miradorstack/mirador-ephys/internal/ephys/ephystest"
	"github.com/miradorstack/mirador-ephys/internal/loader"
	"github.com/miradorstack/mirador-ephys/internal/models"
	"github.com/miradorstack/mirador-ephys/internal/query"
)

const testTables = `
variables: [reb_delta_t, sag_fit_amplitude, log_doublet_index_by_num_spikes, delta_thresh_last_spike, dVdt_pct_APamp_last_spike__20__rising]
models:
  - ca_buffer: EGTA
    num_spikes: 5
    coefficients: [1, 0, 0, 0, 0]
    intercept: 0
    means: [20, 0, 0, 0, 0]
    stds: [2, 1, 1, 1, 1]
    d1: {mean: -1, std: 0.5}
    d3: {mean: 1, std: 0.5}
`

type fakeSource struct {
	cells []models.CellRecording
	calls int
}

func (f *fakeSource) Load(_ context.Context, names []string) ([]models.CellRecording, error) {
	f.calls++
	if len(names) == 0 {
		return f.cells, nil
	}
	var out []models.CellRecording
	for _, c := range f.cells {
		for _, n := range names {
			if c.Metadata.Name == n {
				out = append(out, c)
			}
		}
	}
	if len(out) != len(names) {
		return nil, loader.ErrCellNotFound
	}
	return out, nil
}

type fakeStore struct {
	mu   sync.Mutex
	runs map[string]models.ClassificationRun
}

func (f *fakeStore) SaveRun(_ context.Context, run models.ClassificationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == nil {
		f.runs = map[string]models.ClassificationRun{}
	}
	f.runs[run.RunID] = run
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, id string) (models.ClassificationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id], nil
}

func newTestClassifier(t *testing.T, cutoff float64) *classifier.Classifier {
	t.Helper()
	tables, err := classifier.ParseTables([]byte(testTables))
	require.NoError(t, err)
	return classifier.New(tables, classifier.WithType2Cutoff(cutoff))
}

func fixtureCells() []models.CellRecording {
	return []models.CellRecording{
		ephystest.Cell("spiking", "D1", "EGTA", ephystest.FiveSpikeTrace(0, 40), ephystest.SagTrace(1, 60)),
		ephystest.Cell("silent", "D3", "EGTA", ephystest.SagTrace(0, 20)),
		ephystest.Cell("late-sag", "", "EGTA", ephystest.LateSagTrace(0)),
	}
}

func byCell(run models.ClassificationRun) map[string]models.Classification {
	out := make(map[string]models.Classification, len(run.Results))
	for _, r := range run.Results {
		out[r.Cell] = r
	}
	return out
}

func TestClassifyScoresBucketsAndPersists(t *testing.T) {
	src := &fakeSource{cells: fixtureCells()}
	st := &fakeStore{}
	p := NewPipeline(nil, src, newTestClassifier(t, 10), WithStore(st), WithWorkers(2))
	p.newID = func() string { return "run-1" }
	p.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	run, err := p.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.RunID)
	require.Len(t, run.Results, 3)

	got := byCell(run)
	spiking := got["spiking"]
	assert.Equal(t, models.LabelType3, spiking.Label)
	assert.InDelta(t, 40.0, spiking.MaxReboundTime, 1e-9)
	require.Len(t, spiking.Buckets, len(classifier.SpikeBuckets))
	assert.InDelta(t, -2.0, spiking.Buckets[2].Score, 1e-9)
	assert.Equal(t, models.LabelType3, spiking.Buckets[2].Label)
	assert.Equal(t, models.LabelInsufficientData, spiking.Buckets[0].Label)

	assert.Equal(t, models.LabelInsufficientData, got["silent"].Label)

	late := got["late-sag"]
	assert.Equal(t, models.LabelInsufficientData, late.Label)
	assert.Equal(t, models.Missing, late.GeneticMarker)
	assert.Contains(t, late.Error, ephys.ErrPrecondition.Error())
	assert.InDelta(t, 40.0, late.MaxReboundTime, 1e-9)
	for _, b := range late.Buckets {
		assert.True(t, math.IsNaN(b.Score))
	}

	stored, err := p.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, stored.Results, 3)
}

func TestClassifyType2Rebound(t *testing.T) {
	src := &fakeSource{cells: fixtureCells()[:2]}
	p := NewPipeline(nil, src, newTestClassifier(t, 90))

	run, err := p.Classify(context.Background(), []string{"silent"})
	require.NoError(t, err)
	require.Len(t, run.Results, 1)
	assert.Equal(t, models.LabelType2, run.Results[0].Label)
}

func TestClassifyType2WhenSagFitUnavailable(t *testing.T) {
	src := &fakeSource{cells: fixtureCells()}
	p := NewPipeline(nil, src, newTestClassifier(t, 90))

	run, err := p.Classify(context.Background(), []string{"late-sag"})
	require.NoError(t, err)
	require.Len(t, run.Results, 1)

	late := run.Results[0]
	assert.Equal(t, models.LabelType2, late.Label)
	assert.InDelta(t, 40.0, late.MaxReboundTime, 1e-9)
	assert.Contains(t, late.Error, ephys.ErrPrecondition.Error())
}

func TestClassifyStopsOnMalformedInput(t *testing.T) {
	bad := ephystest.SagTrace(0, 20)
	bad.Commands[0] = 50
	src := &fakeSource{cells: []models.CellRecording{
		ephystest.Cell("ok", "D1", "EGTA", ephystest.SagTrace(0, 20)),
		ephystest.Cell("bad", "D1", "EGTA", bad),
	}}
	p := NewPipeline(nil, src, newTestClassifier(t, 90))

	_, err := p.Classify(context.Background(), nil)
	require.ErrorIs(t, err, ephys.ErrMalformedInput)
	assert.Contains(t, err.Error(), "bad")
}

func TestClassifyUsesQueryCache(t *testing.T) {
	provider := cache.NewMemoryProvider()
	src := &fakeSource{cells: fixtureCells()[:1]}
	p := NewPipeline(nil, src, newTestClassifier(t, 10), WithCache(provider, time.Minute))

	first, err := p.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, provider.Len())

	second, err := p.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, first.Results[0].Label, second.Results[0].Label)
	assert.InDelta(t, first.Results[0].Buckets[2].Score, second.Results[0].Buckets[2].Score, 1e-12)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestPipelineQuery(t *testing.T) {
	src := &fakeSource{cells: fixtureCells()[:2]}
	p := NewPipeline(nil, src, newTestClassifier(t, 90))

	table, id, err := p.Query(context.Background(), []string{"spiking"}, query.Spec{
		ResponseCriteria:   p.spikeCriteria,
		ResponseProperties: []string{"num_spikes"},
	})
	require.NoError(t, err)
	assert.Len(t, id, 64)
	assert.Equal(t, 5.0, table.Value("spiking", "num_spikes"))

	_, _, err = p.Query(context.Background(), []string{"nobody"}, query.Spec{})
	require.ErrorIs(t, err, loader.ErrCellNotFound)
}

func TestLoadRunWithoutStore(t *testing.T) {
	p := NewPipeline(nil, &fakeSource{}, newTestClassifier(t, 90))
	_, err := p.LoadRun(context.Background(), "x")
	require.ErrorIs(t, err, ErrStoreNotConfigured)
}

func TestParseCriteria(t *testing.T) {
	crit, err := ParseCriteria([]config.CriterionConfig{
		{Property: "sweep_time", Condition: "<150"},
		{Property: "curr_amplitude", Condition: "-400"},
	})
	require.NoError(t, err)
	assert.Equal(t, ephys.Criteria{
		{Property: "sweep_time", Condition: ephys.Less(150)},
		{Property: "curr_amplitude", Condition: ephys.Equal(-400)},
	}, crit)

	_, err = ParseCriteria([]config.CriterionConfig{{Property: "sweep_time", Condition: "<1>2"}})
	require.ErrorIs(t, err, ephys.ErrUnsupportedCondition)
}
