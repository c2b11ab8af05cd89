package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/miradorstack/mirador-ephys/internal/cache"
	"github.com/miradorstack/mirador-ephys/internal/metrics"
)

// CacheKeyPrefix namespaces query tables in the shared cache.
const CacheKeyPrefix = "ephys:query:"

// tableDTO is the cached form of a Table. NaN has no JSON encoding, so
// numeric values are pointers and nil stands for NaN.
type tableDTO struct {
	ID      string   `json:"id"`
	Columns []string `json:"columns"`
	Rows    []rowDTO `json:"rows"`
}

type rowDTO struct {
	Cell           string              `json:"cell"`
	Labels         map[string]string   `json:"labels,omitempty"`
	Values         map[string]*float64 `json:"values,omitempty"`
	AnalyzedSweeps []int               `json:"analyzed_sweeps,omitempty"`
}

// EncodeTable serializes t for the cache under id.
func EncodeTable(id string, t *Table) ([]byte, error) {
	dto := tableDTO{ID: id, Columns: t.Columns, Rows: make([]rowDTO, 0, len(t.Rows))}
	for _, row := range t.Rows {
		values := make(map[string]*float64, len(row.Values))
		for k, v := range row.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				values[k] = nil
				continue
			}
			v := v
			values[k] = &v
		}
		dto.Rows = append(dto.Rows, rowDTO{Cell: row.Cell, Labels: row.Labels, Values: values, AnalyzedSweeps: row.AnalyzedSweeps})
	}
	return json.Marshal(dto)
}

// DecodeTable parses a cached table and checks it belongs to id.
func DecodeTable(id string, payload []byte) (*Table, error) {
	var dto tableDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return nil, fmt.Errorf("decode cached table: %w", err)
	}
	if dto.ID != id {
		return nil, fmt.Errorf("cached table id %q does not match %q", dto.ID, id)
	}
	t := &Table{Columns: dto.Columns, Rows: make([]Row, 0, len(dto.Rows))}
	for _, r := range dto.Rows {
		row := Row{Cell: r.Cell, Labels: r.Labels, Values: make(map[string]float64, len(r.Values)), AnalyzedSweeps: r.AnalyzedSweeps}
		if row.Labels == nil {
			row.Labels = map[string]string{}
		}
		for k, v := range r.Values {
			if v == nil {
				row.Values[k] = math.NaN()
				continue
			}
			row.Values[k] = *v
		}
		t.Rows = append(t.Rows, row)
	}
	sortRows(t.Rows)
	return t, nil
}

// RunCached returns the table cached under the query's id, running and
// storing it on a miss. Cache failures are logged and never fail the query.
func (q *Query) RunCached(ctx context.Context, provider cache.Provider, ttl time.Duration) (*Table, error) {
	if provider == nil {
		return q.Run(ctx)
	}
	id := q.ID()
	key := CacheKeyPrefix + id

	payload, err := provider.Get(ctx, key)
	switch {
	case err == nil:
		t, decodeErr := DecodeTable(id, payload)
		if decodeErr == nil {
			metrics.ObserveQueryCache(true)
			return t, nil
		}
		q.logger.Warn("discarding cached query table", slog.String("key", key), slog.Any("error", decodeErr))
	case !errors.Is(err, cache.ErrCacheMiss):
		q.logger.Warn("query cache lookup failed", slog.String("key", key), slog.Any("error", err))
	}
	metrics.ObserveQueryCache(false)

	t, err := q.Run(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := EncodeTable(id, t)
	if err != nil {
		q.logger.Warn("encode query table", slog.Any("error", err))
		return t, nil
	}
	if err := provider.Set(ctx, key, encoded, ttl); err != nil {
		q.logger.Warn("query cache store failed", slog.String("key", key), slog.Any("error", err))
	}
	return t, nil
}
