package query

import (
	"math"
	"slices"
	"sort"
)

// Row is one cell's aggregated features. Descriptive properties are labels;
// everything else is numeric and may be NaN.
type Row struct {
	Cell           string
	Labels         map[string]string
	Values         map[string]float64
	AnalyzedSweeps []int
}

// Value returns a numeric column, NaN when the row lacks it.
func (r Row) Value(col string) float64 {
	if v, ok := r.Values[col]; ok {
		return v
	}
	return math.NaN()
}

// Table is the result of a query: one row per cell, sorted by cell name.
type Table struct {
	Columns []string
	Rows    []Row
}

// Row looks up a cell's row.
func (t *Table) Row(cell string) (Row, bool) {
	i := sort.Search(len(t.Rows), func(i int) bool { return t.Rows[i].Cell >= cell })
	if i < len(t.Rows) && t.Rows[i].Cell == cell {
		return t.Rows[i], true
	}
	return Row{}, false
}

// Value returns a numeric cell value, NaN when absent.
func (t *Table) Value(cell, col string) float64 {
	row, ok := t.Row(cell)
	if !ok {
		return math.NaN()
	}
	return row.Value(col)
}

// Join merges other into a new table keyed by cell name. Columns of t come
// first; on overlap t's values win.
func (t *Table) Join(other *Table) *Table {
	byCell := make(map[string]*Row, len(t.Rows)+len(other.Rows))
	merge := func(src []Row, overwrite bool) {
		for _, row := range src {
			dst, ok := byCell[row.Cell]
			if !ok {
				dst = &Row{Cell: row.Cell, Labels: map[string]string{}, Values: map[string]float64{}}
				byCell[row.Cell] = dst
			}
			for k, v := range row.Labels {
				if _, seen := dst.Labels[k]; overwrite || !seen {
					dst.Labels[k] = v
				}
			}
			for k, v := range row.Values {
				if _, seen := dst.Values[k]; overwrite || !seen {
					dst.Values[k] = v
				}
			}
			for _, idx := range row.AnalyzedSweeps {
				if !slices.Contains(dst.AnalyzedSweeps, idx) {
					dst.AnalyzedSweeps = append(dst.AnalyzedSweeps, idx)
				}
			}
		}
	}
	merge(t.Rows, true)
	merge(other.Rows, false)

	out := &Table{Columns: append([]string(nil), t.Columns...)}
	for _, col := range other.Columns {
		if !slices.Contains(out.Columns, col) {
			out.Columns = append(out.Columns, col)
		}
	}
	for _, row := range byCell {
		slices.Sort(row.AnalyzedSweeps)
		out.Rows = append(out.Rows, *row)
	}
	sortRows(out.Rows)
	return out
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Cell < rows[j].Cell })
}
