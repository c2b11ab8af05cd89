package ephys

// Params tunes feature extraction. The zero value is not useful; start from DefaultParams.
type Params struct {
	// SpikeThreshold is the voltage (mV) a spike must cross upward.
	SpikeThreshold float64
	// DVDTThreshold is the dV/dt (mV/ms) marking spike threshold.
	DVDTThreshold float64
	// SagMaxOnsetMs bounds the time to peak sag for which the sag fit is meaningful.
	SagMaxOnsetMs float64
	// SteadyStateMs is the span before step offset averaged into the steady state.
	SteadyStateMs float64
	// LeftWindowMs and RightWindowMs frame responses averaged for cell properties.
	LeftWindowMs  float64
	RightWindowMs float64
	// ReboundRightWindowMs replaces RightWindowMs for max rebound properties.
	ReboundRightWindowMs float64
}

// DefaultParams returns the standard analysis settings.
func DefaultParams() Params {
	return Params{
		SpikeThreshold:       -10,
		DVDTThreshold:        15,
		SagMaxOnsetMs:        80,
		SteadyStateMs:        10,
		LeftWindowMs:         100,
		RightWindowMs:        100,
		ReboundRightWindowMs: 230,
	}
}
