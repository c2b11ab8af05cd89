package query

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableJoin(t *testing.T) {
	sag := &Table{
		Columns: []string{"genetic_marker", "max_rebound_time"},
		Rows: []Row{
			{Cell: "a", Labels: map[string]string{"genetic_marker": "D1"}, Values: map[string]float64{"max_rebound_time": 40}, AnalyzedSweeps: []int{2}},
			{Cell: "c", Labels: map[string]string{"genetic_marker": "D3"}, Values: map[string]float64{"max_rebound_time": 120}},
		},
	}
	spikes := &Table{
		Columns: []string{"max_rebound_time", "ISIs_last_spike__5"},
		Rows: []Row{
			{Cell: "b", Values: map[string]float64{"ISIs_last_spike__5": 70}},
			{Cell: "a", Values: map[string]float64{"max_rebound_time": -1, "ISIs_last_spike__5": 75}, AnalyzedSweeps: []int{0, 2}},
		},
	}

	joined := sag.Join(spikes)
	assert.Equal(t, []string{"genetic_marker", "max_rebound_time", "ISIs_last_spike__5"}, joined.Columns)
	require.Len(t, joined.Rows, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{joined.Rows[0].Cell, joined.Rows[1].Cell, joined.Rows[2].Cell})

	a, ok := joined.Row("a")
	require.True(t, ok)
	assert.Equal(t, 40.0, a.Value("max_rebound_time"))
	assert.Equal(t, 75.0, a.Value("ISIs_last_spike__5"))
	assert.Equal(t, []int{0, 2}, a.AnalyzedSweeps)

	assert.True(t, math.IsNaN(joined.Value("b", "max_rebound_time")))
	assert.True(t, math.IsNaN(joined.Value("zz", "max_rebound_time")))
	_, ok = joined.Row("zz")
	assert.False(t, ok)
}
