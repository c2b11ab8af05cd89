package classifier

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-ephys/internal/models"
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
    d1: {mean: -2, std: 1}
    d3: {mean: 2, std: 0.5}
  - ca_buffer: EGTA
    num_spikes: 6
    coefficients: [0, 0, 0, 1, 0]
    intercept: 0.5
    means: [0, 0, 0, 0, 0]
    stds: [1, 1, 1, 1, 1]
    d1: {mean: 1, std: 0.1}
    d3: {mean: -1, std: 0.1}
`

type featureMap map[string]float64

func (f featureMap) Value(col string) float64 {
	if v, ok := f[col]; ok {
		return v
	}
	return math.NaN()
}

func mustTables(t *testing.T) *Tables {
	t.Helper()
	tables, err := ParseTables([]byte(testTables))
	require.NoError(t, err)
	return tables
}

func bucket5(rebDeltaT float64) featureMap {
	return featureMap{
		"reb_delta_t":                              rebDeltaT,
		"sag_fit_amplitude":                        -6,
		"log_doublet_index_by_num_spikes__5":       1.2,
		"delta_thresh_last_spike__5":               1.1,
		"dVdt_pct_APamp_last_spike__20__rising__5": 90,
	}
}

func TestVariablesSuffixSpikeDependentNames(t *testing.T) {
	c := New(mustTables(t))
	assert.Equal(t, []string{
		"reb_delta_t",
		"sag_fit_amplitude",
		"log_doublet_index_by_num_spikes__4",
		"delta_thresh_last_spike__4",
		"dVdt_pct_APamp_last_spike__20__rising__4",
	}, c.Variables(4))
}

func TestQueryColumnsSplitByVariable(t *testing.T) {
	c := New(mustTables(t))
	assert.Equal(t, []string{"log_doublet_index_by_num_spikes", "delta_thresh_last_spike", "dVdt_pct_APamp_last_spike__20__rising"}, c.SpikeCategories())
	assert.Equal(t, []string{"reb_delta_t", "sag_fit_amplitude"}, c.CellProperties())
}

func TestScoreNegatesDecisionFunction(t *testing.T) {
	m, err := mustTables(t).Lookup("EGTA", 5)
	require.NoError(t, err)

	score, err := Score(m, []float64{26, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, -3.0, score, 1e-12)

	_, err = Score(m, []float64{1})
	assert.Error(t, err)
}

func TestExclusionZoneAlwaysContainsZero(t *testing.T) {
	tables := mustTables(t)
	m5, _ := tables.Lookup("EGTA", 5)
	left, right := ExclusionZone(m5, 1.64)
	assert.InDelta(t, -2-1.64, left, 1e-12)
	assert.InDelta(t, 2+0.82, right, 1e-12)

	m6, _ := tables.Lookup("EGTA", 6)
	left, right = ExclusionZone(m6, 1.64)
	assert.Equal(t, 0.0, left)
	assert.Equal(t, 0.0, right)
}

func TestScoreBucketLabels(t *testing.T) {
	c := New(mustTables(t))

	cases := map[string]struct {
		reb  float64
		want models.Label
	}{
		"below left border":  {reb: 28, want: models.LabelType3},
		"inside exclusion":   {reb: 20, want: models.LabelUnidentified},
		"above right border": {reb: 12, want: models.LabelType1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			b := c.ScoreBucket(bucket5(tc.reb), "EGTA", 5)
			assert.Equal(t, tc.want, b.Label)
			assert.Equal(t, 5, b.NumSpikes)
		})
	}

	missing := bucket5(20)
	delete(missing, "delta_thresh_last_spike__5")
	b := c.ScoreBucket(missing, "EGTA", 5)
	assert.Equal(t, models.LabelInsufficientData, b.Label)
	assert.True(t, math.IsNaN(b.Score))

	b = c.ScoreBucket(bucket5(20), "BAPTA", 5)
	assert.Equal(t, models.LabelInsufficientData, b.Label)
}

func TestConsensus(t *testing.T) {
	lb := func(labels ...models.Label) []models.BucketScore {
		out := make([]models.BucketScore, len(labels))
		for i, l := range labels {
			out[i] = models.BucketScore{Label: l}
		}
		return out
	}
	insufficient, unidentified := models.LabelInsufficientData, models.LabelUnidentified

	assert.Equal(t, models.LabelType1, Consensus(lb(insufficient, models.LabelType1, unidentified, models.LabelType1)))
	assert.Equal(t, models.LabelType3, Consensus(lb(models.LabelType3)))
	assert.Equal(t, unidentified, Consensus(lb(models.LabelType1, models.LabelType3)))
	assert.Equal(t, unidentified, Consensus(lb(insufficient, unidentified)))
	assert.Equal(t, insufficient, Consensus(lb(insufficient, insufficient)))
	assert.Equal(t, insufficient, Consensus(nil))
}

func TestClassifyType2TakesPrecedence(t *testing.T) {
	c := New(mustTables(t), WithType2Cutoff(90))

	f := bucket5(12)
	f[MaxReboundColumn] = 150
	got := c.Classify(models.CellMetadata{Name: "cell-a", CaBuffer: "EGTA"}, f)
	assert.Equal(t, models.LabelType1, got.Label)
	assert.Equal(t, models.Missing, got.GeneticMarker)
	assert.Len(t, got.Buckets, len(SpikeBuckets))

	f[MaxReboundColumn] = 40
	got = c.Classify(models.CellMetadata{Name: "cell-a", CaBuffer: "EGTA"}, f)
	assert.Equal(t, models.LabelType2, got.Label)

	got = c.Classify(models.CellMetadata{Name: "cell-b", CaBuffer: "EGTA"}, featureMap{})
	assert.Equal(t, models.LabelInsufficientData, got.Label)
}

func TestParseTablesValidation(t *testing.T) {
	_, err := ParseTables([]byte("models: []"))
	assert.Error(t, err)

	_, err = ParseTables([]byte(`
variables: [a, b]
models:
  - {ca_buffer: EGTA, num_spikes: 3, coefficients: [1], means: [0, 0], stds: [1, 1]}
`))
	assert.Error(t, err)

	_, err = ParseTables([]byte(`
variables: [a]
models:
  - {ca_buffer: EGTA, num_spikes: 3, coefficients: [1], means: [0], stds: [0]}
`))
	assert.Error(t, err)

	_, err = mustTables(t).Lookup("EGTA", 8)
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestLoadShippedTables(t *testing.T) {
	path := filepath.Join("..", "..", "configs", "classifier", "discriminant.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("shipped tables not present")
	}
	tables, err := LoadTables(path)
	require.NoError(t, err)
	assert.Len(t, tables.Variables, 5)
	for _, buffer := range []string{"EGTA", "BAPTA"} {
		for _, n := range SpikeBuckets {
			_, err := tables.Lookup(buffer, n)
			assert.NoError(t, err, "%s/%d", buffer, n)
		}
	}
}
