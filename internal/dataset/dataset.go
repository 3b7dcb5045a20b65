package dataset

import "fmt"

// Type is the SQL-level type of a column in the analytical store.
type Type string

const (
	TypeBigint    Type = "BIGINT"
	TypeDouble    Type = "DOUBLE"
	TypeBoolean   Type = "BOOLEAN"
	TypeTimestamp Type = "TIMESTAMP"
	TypeText      Type = "TEXT"
)

// ParseType maps the type names accepted in configuration (dq schema and
// cast maps) to a Type. Both SQL spellings and the short yaml spellings
// used by rule files are accepted.
func ParseType(s string) (Type, error) {
	switch s {
	case "BIGINT", "INTEGER", "int":
		return TypeBigint, nil
	case "DOUBLE", "REAL", "FLOAT", "float":
		return TypeDouble, nil
	case "BOOLEAN", "bool":
		return TypeBoolean, nil
	case "TIMESTAMP", "DATETIME", "datetime":
		return TypeTimestamp, nil
	case "TEXT", "VARCHAR", "str":
		return TypeText, nil
	}
	return "", fmt.Errorf("unknown column type %q", s)
}

// Column describes one named, typed column.
type Column struct {
	Name string
	Type Type
}

// Dataset is the normalized tabular result of a fetch: an ordered sequence
// of named, typed columns and rows in arrival order. A nil cell is a null.
// A Dataset is owned by the pipeline invocation that produced it.
type Dataset struct {
	Columns []Column
	Rows    [][]any
}

// New creates an empty dataset with the given columns.
func New(cols ...Column) *Dataset {
	return &Dataset{Columns: cols}
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// ColumnIndex returns the position of the named column, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the column names in declaration order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Append adds a row. The row length must match the column count.
func (d *Dataset) Append(row []any) error {
	if len(row) != len(d.Columns) {
		return fmt.Errorf("row has %d values, dataset has %d columns", len(row), len(d.Columns))
	}
	d.Rows = append(d.Rows, row)
	return nil
}

// RowMap returns row i as a column-name keyed map. Used by expression
// checks and the export partitioner.
func (d *Dataset) RowMap(i int) map[string]any {
	m := make(map[string]any, len(d.Columns))
	for j, c := range d.Columns {
		m[c.Name] = d.Rows[i][j]
	}
	return m
}
