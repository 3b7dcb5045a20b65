package adapters

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"

	"github.com/etlite-io/etlite/internal/dataset"
)

func init() {
	Register("csv_local", newCSVLocal)
}

type csvParams struct {
	Path      string `yaml:"path"`
	Delimiter string `yaml:"delimiter"`
}

// CSVLocal reads a delimited file from disk. The first record is the
// header; empty cells are nulls; column types are inferred from the
// values.
type CSVLocal struct {
	params csvParams
}

func newCSVLocal(params map[string]any) (Adapter, error) {
	var p csvParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, errors.New("csv_local: params.path is required")
	}
	return &CSVLocal{params: p}, nil
}

// Fetch reads the whole file into records.
func (c *CSVLocal) Fetch(ctx context.Context) (any, error) {
	f, err := os.Open(c.params.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.params.Path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if c.params.Delimiter != "" {
		r.Comma = rune(c.params.Delimiter[0])
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.params.Path, err)
	}
	return records, nil
}

// Normalize turns header+rows into a typed dataset.
func (c *CSVLocal) Normalize(raw any) (*dataset.Dataset, error) {
	records, ok := raw.([][]string)
	if !ok {
		return nil, fmt.Errorf("csv_local: unexpected payload %T", raw)
	}
	if len(records) == 0 {
		return nil, errors.New("csv_local: file has no header row")
	}

	header := records[0]
	rows := make([][]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make([]any, len(header))
		for i := range header {
			if i < len(rec) {
				row[i] = parseScalar(rec[i])
			}
		}
		rows = append(rows, row)
	}

	return buildDataset(header, rows), nil
}

// parseScalar parses a CSV cell into the narrowest value that fits.
func parseScalar(s string) any {
	if s == "" {
		return nil
	}
	if v, ok := dataset.CastInt64(s); ok {
		return v
	}
	if v, ok := dataset.CastFloat64(s); ok {
		return v
	}
	if s == "true" || s == "false" {
		v, _ := dataset.CastBool(s)
		return v
	}
	if v, ok := dataset.CastTime(s); ok {
		return v
	}
	return s
}
