package adapters

import (
	"github.com/etlite-io/etlite/internal/dataset"
)

// buildDataset assembles a dataset from column names and loosely typed
// rows. Each column's type is inferred from its values, and values are
// settled onto the inferred type where they coerce cleanly.
func buildDataset(names []string, rows [][]any) *dataset.Dataset {
	cols := make([]dataset.Column, len(names))
	for i, name := range names {
		values := make([]any, len(rows))
		for j, row := range rows {
			values[j] = row[i]
		}
		t := dataset.InferType(values)
		cols[i] = dataset.Column{Name: name, Type: t}
		for j, row := range rows {
			if v, ok := dataset.Cast(row[i], t); ok {
				rows[j][i] = v
			}
		}
	}
	return &dataset.Dataset{Columns: cols, Rows: rows}
}
