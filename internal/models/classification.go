package models

import "time"

// Label is the subtype assigned to a cell.
type Label string

const (
	LabelType1            Label = "Type 1"
	LabelType2            Label = "Type 2"
	LabelType3            Label = "Type 3"
	LabelUnidentified     Label = "Unidentified"
	LabelInsufficientData Label = "Insufficient data"
)

// BucketScore is the discriminant outcome for one spike-count bucket.
type BucketScore struct {
	NumSpikes int     `json:"num_spikes"`
	Score     float64 `json:"score"`
	Left      float64 `json:"left"`
	Right     float64 `json:"right"`
	Label     Label   `json:"label"`
}

// Classification is the final subtype call for one cell.
type Classification struct {
	Cell           string        `json:"cell"`
	GeneticMarker  string        `json:"genetic_marker"`
	CaBuffer       string        `json:"ca_buffer"`
	Label          Label         `json:"label"`
	MaxReboundTime float64       `json:"max_rebound_time"`
	Buckets        []BucketScore `json:"buckets,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// ClassificationRun groups the classifications produced by one request.
type ClassificationRun struct {
	RunID     string           `json:"run_id"`
	CreatedAt time.Time        `json:"created_at"`
	Results   []Classification `json:"results"`
}
