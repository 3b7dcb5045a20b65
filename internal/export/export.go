// Package export materializes a loaded table as partitioned parquet
// files. Export runs downstream of a load and is best-effort: a failure
// here never rolls back or degrades the load that preceded it.
package export

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/uptrace/bun"

	"github.com/etlite-io/etlite/internal/config"
	"github.com/etlite-io/etlite/internal/database"
	"github.com/etlite-io/etlite/internal/dataset"
)

// Outcome summarizes one export.
type Outcome struct {
	FilesWritten int
	Overwritten  int
}

// Export reads the destination table, partitions rows by the configured
// keys and writes one parquet file per partition value under
// dir/key=value/... With overwrite=false existing partition directories
// are left intact (additive export).
func Export(ctx context.Context, db *bun.DB, table string, spec *config.ExportSpec) (Outcome, error) {
	if spec == nil || spec.Dir == "" {
		return Outcome{}, nil
	}

	cols, rows, err := readTable(ctx, db, table)
	if err != nil {
		return Outcome{}, err
	}
	cols, rows, err = deriveColumns(cols, rows, spec.Derive)
	if err != nil {
		return Outcome{}, err
	}

	partIdx, err := partitionIndexes(cols, spec.PartitionBy)
	if err != nil {
		return Outcome{}, err
	}

	// Partition columns are encoded in the directory path, not the files.
	fileCols, project := projectColumns(cols, partIdx)
	schema := parquetSchema(table, fileCols)

	groups := map[string][][]any{}
	var order []string
	for _, row := range rows {
		key := partitionPath(cols, row, partIdx)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	var out Outcome
	for _, key := range order {
		dir := filepath.Join(spec.Dir, key)
		existed := dirExists(dir)
		if existed && !spec.Overwrite {
			log.Printf("export %s: partition %s exists, skipping (overwrite=false)", table, key)
			continue
		}
		if existed {
			if err := os.RemoveAll(dir); err != nil {
				return out, fmt.Errorf("clear partition %s: %w", dir, err)
			}
			out.Overwritten++
		}
		if err := writePartition(dir, schema, fileCols, project, groups[key]); err != nil {
			return out, err
		}
		out.FilesWritten++
	}
	return out, nil
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func readTable(ctx context.Context, db *bun.DB, table string) ([]dataset.Column, [][]any, error) {
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+database.QuoteIdent(table))
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var data [][]any
	for rows.Next() {
		scan := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range scan {
			ptrs[i] = &scan[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		for i, v := range scan {
			if b, ok := v.([]byte); ok {
				scan[i] = string(b)
			}
		}
		data = append(data, scan)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	cols := make([]dataset.Column, len(names))
	for i, name := range names {
		values := make([]any, len(data))
		for j := range data {
			values[j] = data[j][i]
		}
		cols[i] = dataset.Column{Name: name, Type: dataset.InferType(values)}
	}
	return cols, data, nil
}

// deriveColumns appends partition columns computed from a timestamp
// column, e.g. derive: {year: datetime_utc}. Supported derivations are
// year, month and day, keyed by the derived column name.
func deriveColumns(cols []dataset.Column, rows [][]any, derive map[string]string) ([]dataset.Column, [][]any, error) {
	if len(derive) == 0 {
		return cols, rows, nil
	}
	for _, name := range []string{"year", "month", "day"} {
		srcCol, ok := derive[name]
		if !ok {
			continue
		}
		idx := -1
		for i, c := range cols {
			if c.Name == srcCol {
				idx = i
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("derive %s: column %s not found", name, srcCol)
		}
		layout := map[string]string{"year": "2006", "month": "01", "day": "02"}[name]
		cols = append(cols, dataset.Column{Name: name, Type: dataset.TypeText})
		for i, row := range rows {
			var part any
			if row[idx] != nil {
				if ts, ok := dataset.CastTime(row[idx]); ok {
					part = ts.(time.Time).UTC().Format(layout)
				}
			}
			rows[i] = append(row, part)
		}
	}
	for name := range derive {
		if name != "year" && name != "month" && name != "day" {
			return nil, nil, fmt.Errorf("unsupported derivation %q", name)
		}
	}
	return cols, rows, nil
}

func partitionIndexes(cols []dataset.Column, partitionBy []string) ([]int, error) {
	idxs := make([]int, 0, len(partitionBy))
	for _, p := range partitionBy {
		found := -1
		for i, c := range cols {
			if c.Name == p {
				found = i
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("partition column %s not found", p)
		}
		idxs = append(idxs, found)
	}
	return idxs, nil
}

func projectColumns(cols []dataset.Column, partIdx []int) ([]dataset.Column, []int) {
	skip := map[int]bool{}
	for _, i := range partIdx {
		skip[i] = true
	}
	var out []dataset.Column
	var project []int
	for i, c := range cols {
		if skip[i] {
			continue
		}
		out = append(out, c)
		project = append(project, i)
	}
	return out, project
}

// partitionPath renders key=value/... path segments, hive style.
func partitionPath(cols []dataset.Column, row []any, partIdx []int) string {
	if len(partIdx) == 0 {
		return ""
	}
	segs := make([]string, len(partIdx))
	for i, idx := range partIdx {
		v := "null"
		if row[idx] != nil {
			if s, ok := dataset.CastString(row[idx]); ok {
				v = s.(string)
			}
		}
		segs[i] = cols[idx].Name + "=" + url.PathEscape(v)
	}
	return strings.Join(segs, string(filepath.Separator))
}

func parquetSchema(table string, cols []dataset.Column) *parquet.Schema {
	group := parquet.Group{}
	for _, c := range cols {
		var node parquet.Node
		switch c.Type {
		case dataset.TypeBigint:
			node = parquet.Int(64)
		case dataset.TypeDouble:
			node = parquet.Leaf(parquet.DoubleType)
		case dataset.TypeBoolean:
			node = parquet.Leaf(parquet.BooleanType)
		default:
			node = parquet.String()
		}
		group[c.Name] = parquet.Optional(node)
	}
	return parquet.NewSchema(table, group)
}

func writePartition(dir string, schema *parquet.Schema, cols []dataset.Column, project []int, rows [][]any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "data_0.parquet")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := parquet.NewGenericWriter[map[string]any](f, schema)
	records := make([]map[string]any, len(rows))
	for i, row := range rows {
		rec := make(map[string]any, len(cols))
		for j, c := range cols {
			rec[c.Name] = parquetValue(row[project[j]], c.Type)
		}
		records[i] = rec
	}
	if _, err := w.Write(records); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// parquetValue settles a stored value onto the parquet column type,
// nulling anything that does not coerce.
func parquetValue(v any, t dataset.Type) any {
	if v == nil {
		return nil
	}
	switch t {
	case dataset.TypeBigint:
		if out, ok := dataset.CastInt64(v); ok {
			return out
		}
	case dataset.TypeDouble:
		if out, ok := dataset.CastFloat64(v); ok {
			return out
		}
	case dataset.TypeBoolean:
		if out, ok := dataset.CastBool(v); ok {
			return out
		}
	default:
		if out, ok := dataset.CastString(v); ok {
			return out
		}
	}
	return nil
}
