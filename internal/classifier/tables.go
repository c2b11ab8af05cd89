package classifier

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNoModel is returned when the tables hold no model for a calcium buffer
// and spike count.
var ErrNoModel = errors.New("no discriminant model")

// Distribution summarises the discriminant scores of one training population.
type Distribution struct {
	Mean float64 `yaml:"mean"`
	Std  float64 `yaml:"std"`
}

// Model is one published discriminant for a (calcium buffer, spike count) pair.
// Coefficients, Means and Stds align with Tables.Variables.
type Model struct {
	CaBuffer     string       `yaml:"ca_buffer"`
	NumSpikes    int          `yaml:"num_spikes"`
	Coefficients []float64    `yaml:"coefficients"`
	Intercept    float64      `yaml:"intercept"`
	Means        []float64    `yaml:"means"`
	Stds         []float64    `yaml:"stds"`
	D1           Distribution `yaml:"d1"`
	D3           Distribution `yaml:"d3"`
}

// Tables is the YAML root of a classifier definition.
type Tables struct {
	Variables []string `yaml:"variables"`
	Models    []Model  `yaml:"models"`
}

// LoadTables reads and validates classifier tables from path.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier tables: %w", err)
	}
	return ParseTables(data)
}

// ParseTables decodes and validates YAML classifier tables.
func ParseTables(data []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode classifier tables: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Tables) validate() error {
	if len(t.Variables) == 0 {
		return errors.New("classifier tables: no variables")
	}
	seen := make(map[string]bool, len(t.Models))
	n := len(t.Variables)
	for _, m := range t.Models {
		key := fmt.Sprintf("%s/%d", m.CaBuffer, m.NumSpikes)
		if seen[key] {
			return fmt.Errorf("classifier tables: duplicate model %s", key)
		}
		seen[key] = true
		if len(m.Coefficients) != n || len(m.Means) != n || len(m.Stds) != n {
			return fmt.Errorf("classifier tables: model %s needs %d coefficients, means and stds", key, n)
		}
		for i, s := range m.Stds {
			if s == 0 {
				return fmt.Errorf("classifier tables: model %s has zero std for %s", key, t.Variables[i])
			}
		}
	}
	return nil
}

// Lookup returns the model for caBuffer and numSpikes.
func (t *Tables) Lookup(caBuffer string, numSpikes int) (Model, error) {
	for _, m := range t.Models {
		if m.CaBuffer == caBuffer && m.NumSpikes == numSpikes {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w for ca_buffer %q and %d spikes", ErrNoModel, caBuffer, numSpikes)
}
