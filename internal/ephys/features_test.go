package ephys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyResolution(t *testing.T) {
	valid := []string{
		"num_spikes",
		"AP_width__50",
		"dVdt_pct_APamp__max__falling",
		"doublet_index_by_num_spikes__4",
		"delta_thresh_last_spike__6",
		"dVdt_pct_APamp_last_spike__20__rising__3",
		"sag_fit_amplitude",
	}
	for _, prop := range valid {
		assert.NoError(t, ValidateProperty(prop), prop)
	}

	assert.ErrorIs(t, ValidateProperty("spike_frequency"), ErrMissingFeature)
	assert.ErrorIs(t, ValidateProperty("AP_width"), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateProperty("AP_width__50__rising"), ErrInvalidArgument)
	// Argument values are only checked when the feature is computed.
	assert.NoError(t, ValidateProperty("dVdt_pct_APamp__20__sideways"))
	assert.ErrorIs(t, ValidateProperty("delta_thresh_by_num_spikes__3"), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateProperty("doublet_index_last_spike__3"), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateProperty("doublet_index_by_num_spikes__x"), ErrInvalidArgument)

	assert.True(t, IsVectorProperty("delta_thresh"))
	assert.False(t, IsVectorProperty("delta_thresh_last_spike__5"))
	assert.False(t, IsVectorProperty("num_spikes"))
}

func TestPropertyArgumentErrorsSurfaceOnCompute(t *testing.T) {
	r := firstResponse(fiveSpikeTrace(0, 12))

	_, err := r.Property("dVdt_pct_APamp__20__sideways")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = r.Property("AP_width__max")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestColumnsExpandVectors(t *testing.T) {
	r := firstResponse(fiveSpikeTrace(0, 12))

	cols, err := r.Columns([]string{"num_spikes", "ISIs", "AP_width__50"})
	require.NoError(t, err)
	require.Len(t, cols, 1+4+5)

	assert.Equal(t, Column{Name: "num_spikes", Property: "num_spikes", Index: -1, Value: 5}, cols[0])
	assert.Equal(t, "ISIs0", cols[1].Name)
	assert.Equal(t, "ISIs3", cols[4].Name)
	assert.Equal(t, 3, cols[4].Index)
	assert.Equal(t, "AP_width__500", cols[5].Name)
	assert.Equal(t, "AP_width__50", cols[5].Property)
}
