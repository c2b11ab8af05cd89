// Package loader reads cell recordings from JSON files or a remote recording service.
package loader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/miradorstack/mirador-ephys/internal/models"
)

// ErrCellNotFound is returned when a requested cell is not available.
var ErrCellNotFound = errors.New("cell not found")

// Source yields cell recordings by name.
type Source interface {
	// List returns the names of every available cell, sorted.
	List(ctx context.Context) ([]string, error)
	// Load returns the named cells sorted by name; no names loads every cell.
	Load(ctx context.Context, names []string) ([]models.CellRecording, error)
}

// selectCells keeps the requested cells in name order and fails on any
// name that is absent.
func selectCells(all []models.CellRecording, names []string) ([]models.CellRecording, error) {
	sortCells(all)
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]models.CellRecording, len(all))
	for _, c := range all {
		byName[c.Metadata.Name] = c
	}
	wanted := slices.Clone(names)
	slices.Sort(wanted)
	wanted = slices.Compact(wanted)

	out := make([]models.CellRecording, 0, len(wanted))
	var missing []string
	for _, name := range wanted {
		c, ok := byName[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out = append(out, c)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrCellNotFound, missing)
	}
	return out, nil
}

func sortCells(cells []models.CellRecording) {
	sort.Slice(cells, func(i, j int) bool { return cells[i].Metadata.Name < cells[j].Metadata.Name })
}

func cellNames(cells []models.CellRecording) []string {
	names := make([]string, len(cells))
	for i, c := range cells {
		names[i] = c.Metadata.Name
	}
	sort.Strings(names)
	return names
}
