package ephys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-ephys/internal/models"
)

func traceWithCommands(commands []float64) models.Trace {
	n := len(commands)
	return models.Trace{Time: timeAxis(n), Data: constant(n, -70), Commands: commands}
}

func TestWindowsTwoInjections(t *testing.T) {
	commands := stepCommands(5000, 1000, 2000, 100)
	for i := 3000; i < 3500; i++ {
		commands[i] = -50
	}

	windows, err := NewSweep(traceWithCommands(commands), "cell-a", DefaultParams()).Windows()
	require.NoError(t, err)
	require.Len(t, windows, 2)

	assert.Equal(t, 1000, windows[0].OnsetIdx)
	assert.Equal(t, 2000, windows[0].OffsetIdx)
	assert.InDelta(t, 0.05, windows[0].OnsetTime, 1e-12)
	assert.InDelta(t, 0.1, windows[0].OffsetTime, 1e-12)
	assert.Equal(t, 100.0, windows[0].Amplitude)

	assert.Equal(t, 3000, windows[1].OnsetIdx)
	assert.Equal(t, 3500, windows[1].OffsetIdx)
	assert.Equal(t, -50.0, windows[1].Amplitude)
	assert.InDelta(t, 0.025, windows[1].Duration(), 1e-12)

	for i, w := range windows {
		assert.Less(t, w.OnsetIdx, w.OffsetIdx)
		if i > 0 {
			assert.LessOrEqual(t, windows[i-1].OffsetIdx, w.OnsetIdx)
		}
	}
}

func TestWindowsNoInjection(t *testing.T) {
	windows, err := NewSweep(traceWithCommands(make([]float64, 100)), "cell-a", DefaultParams()).Windows()
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestWindowsMalformed(t *testing.T) {
	unpaired := stepCommands(3000, 1000, 3000, 100)

	asymmetric := stepCommands(5000, 1000, 4000, 100)
	for i := 2000; i < 3000; i++ {
		asymmetric[i] = 40
	}

	nonZeroStart := stepCommands(3000, 0, 1000, 100)

	short := traceWithCommands(make([]float64, 100))
	short.Data = short.Data[:99]

	cases := map[string]models.Trace{
		"odd transitions":    traceWithCommands(unpaired),
		"asymmetric step":    traceWithCommands(asymmetric),
		"non-zero first":     traceWithCommands(nonZeroStart),
		"unequal channels":   short,
		"single sample":      traceWithCommands([]float64{0}),
		"descending samples": {Time: []float64{1, 0}, Data: []float64{0, 0}, Commands: []float64{0, 0}},
	}
	for name, trace := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewSweep(trace, "cell-a", DefaultParams()).Windows()
			require.ErrorIs(t, err, ErrMalformedInput)
		})
	}
}

func TestSweepResponsesAreStable(t *testing.T) {
	sweep := NewSweep(fiveSpikeTrace(3, 12), "cell-a", DefaultParams())
	first, err := sweep.Responses()
	require.NoError(t, err)
	second, err := sweep.Responses()
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Same(t, first[0], second[0])
	assert.Equal(t, 3, sweep.Index())
}
