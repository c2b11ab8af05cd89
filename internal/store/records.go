package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-ephys/internal/models"
)

// RunRecord is one classification request.
type RunRecord struct {
	ID              string                 `gorm:"type:uuid;primaryKey"`
	CreatedAt       time.Time              `gorm:"not null;index"`
	Classifications []ClassificationRecord `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// TableName pins the table name.
func (RunRecord) TableName() string { return "classification_runs" }

// ClassificationRecord is one cell's call within a run.
type ClassificationRecord struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	RunID          string          `gorm:"type:uuid;not null;index"`
	Position       int             `gorm:"not null"`
	Cell           string          `gorm:"type:varchar(255);not null;index"`
	GeneticMarker  string          `gorm:"type:varchar(64)"`
	CaBuffer       string          `gorm:"type:varchar(64)"`
	Label          string          `gorm:"type:varchar(32);not null;index"`
	MaxReboundTime sql.NullFloat64 `gorm:"type:double precision"`
	Buckets        []byte          `gorm:"type:jsonb"`
	Error          string          `gorm:"type:text"`
}

// TableName pins the table name.
func (ClassificationRecord) TableName() string { return "cell_classifications" }

// bucketJSON encodes a BucketScore with NaN as null.
type bucketJSON struct {
	NumSpikes int      `json:"num_spikes"`
	Score     *float64 `json:"score"`
	Left      *float64 `json:"left"`
	Right     *float64 `json:"right"`
	Label     string   `json:"label"`
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// toRecords converts a run into rows, assigning a fresh id to each cell row.
func toRecords(run models.ClassificationRun) (RunRecord, error) {
	rec := RunRecord{ID: run.RunID, CreatedAt: run.CreatedAt.UTC()}
	for i, c := range run.Results {
		buckets := make([]bucketJSON, len(c.Buckets))
		for j, b := range c.Buckets {
			buckets[j] = bucketJSON{NumSpikes: b.NumSpikes, Score: nullable(b.Score), Left: nullable(b.Left), Right: nullable(b.Right), Label: string(b.Label)}
		}
		encoded, err := json.Marshal(buckets)
		if err != nil {
			return RunRecord{}, fmt.Errorf("encode buckets for %s: %w", c.Cell, err)
		}
		rec.Classifications = append(rec.Classifications, ClassificationRecord{
			ID:             uuid.NewString(),
			RunID:          run.RunID,
			Position:       i,
			Cell:           c.Cell,
			GeneticMarker:  c.GeneticMarker,
			CaBuffer:       c.CaBuffer,
			Label:          string(c.Label),
			MaxReboundTime: nullFloat(c.MaxReboundTime),
			Buckets:        encoded,
			Error:          c.Error,
		})
	}
	return rec, nil
}

func fromRecords(rec RunRecord) (models.ClassificationRun, error) {
	run := models.ClassificationRun{RunID: rec.ID, CreatedAt: rec.CreatedAt}
	for _, c := range rec.Classifications {
		var buckets []bucketJSON
		if len(c.Buckets) > 0 {
			if err := json.Unmarshal(c.Buckets, &buckets); err != nil {
				return models.ClassificationRun{}, fmt.Errorf("decode buckets for %s: %w", c.Cell, err)
			}
		}
		out := models.Classification{
			Cell:           c.Cell,
			GeneticMarker:  c.GeneticMarker,
			CaBuffer:       c.CaBuffer,
			Label:          models.Label(c.Label),
			MaxReboundTime: math.NaN(),
			Error:          c.Error,
		}
		if c.MaxReboundTime.Valid {
			out.MaxReboundTime = c.MaxReboundTime.Float64
		}
		for _, b := range buckets {
			out.Buckets = append(out.Buckets, models.BucketScore{
				NumSpikes: b.NumSpikes, Score: orNaN(b.Score), Left: orNaN(b.Left), Right: orNaN(b.Right), Label: models.Label(b.Label),
			})
		}
		run.Results = append(run.Results, out)
	}
	return run, nil
}
