package models

// Missing marks a descriptive cell field that the recording did not carry.
const Missing = "missing"

// Trace is one sweep of a whole-cell recording: time (s), membrane voltage (mV)
// and command current (pA) sampled on the same uniform clock.
type Trace struct {
	SweepIndex int       `json:"index"`
	SweepTime  float64   `json:"sweep_time"`
	Time       []float64 `json:"time"`
	Data       []float64 `json:"data"`
	Commands   []float64 `json:"commands"`
}

// Len returns the number of samples in the trace.
func (t Trace) Len() int { return len(t.Time) }

// InjectionWindow is one rectangular current step inside a trace.
type InjectionWindow struct {
	OnsetIdx   int     `json:"onset_idx"`
	OffsetIdx  int     `json:"offset_idx"`
	OnsetTime  float64 `json:"onset_time"`
	OffsetTime float64 `json:"offset_time"`
	Amplitude  float64 `json:"amplitude"`
}

// Duration is the step length in seconds.
func (w InjectionWindow) Duration() float64 {
	return w.OffsetTime - w.OnsetTime
}

// CellMetadata holds the descriptive properties of a recorded neuron.
type CellMetadata struct {
	Name          string `json:"name"`
	GeneticMarker string `json:"genetic_marker"`
	CaBuffer      string `json:"ca_buffer"`
	MouseGenotype string `json:"mouse_genotype"`
	Age           string `json:"age"`
	Experimenter  string `json:"experimenter"`
}

// DescriptiveProperties lists the metadata fields exposed as cell properties.
var DescriptiveProperties = []string{
	"cell_name",
	"genetic_marker",
	"ca_buffer",
	"mouse_genotype",
	"age",
	"experimenter",
}

// Property returns a descriptive field by its property name. Empty fields
// resolve to Missing; ok is false only for names that are not descriptive.
func (m CellMetadata) Property(name string) (value string, ok bool) {
	switch name {
	case "cell_name":
		value = m.Name
	case "genetic_marker":
		value = m.GeneticMarker
	case "ca_buffer":
		value = m.CaBuffer
	case "mouse_genotype":
		value = m.MouseGenotype
	case "age":
		value = m.Age
	case "experimenter":
		value = m.Experimenter
	default:
		return "", false
	}
	if value == "" {
		value = Missing
	}
	return value, true
}

// IsDescriptive reports whether name is a metadata-backed cell property.
func IsDescriptive(name string) bool {
	_, ok := CellMetadata{}.Property(name)
	return ok
}

// CellRecording is every sweep recorded from one neuron.
type CellRecording struct {
	Metadata CellMetadata `json:"metadata"`
	Sweeps   []Trace      `json:"sweeps"`
}
