package dq

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/etlite-io/etlite/internal/dataset"
)

// Violation reports one failed check scoped to a column (or column set).
type Violation struct {
	Kind   string `json:"kind"`
	Column string `json:"column"`
	// Rows is the number of offending rows.
	Rows   int    `json:"rows"`
	Sample string `json:"sample,omitempty"`
}

// Verdict is the outcome of validating a dataset against a rule set.
// Pass is true iff no check produced a violation.
type Verdict struct {
	Pass       bool        `json:"pass"`
	Violations []Violation `json:"violations,omitempty"`
	// OnFail is the configured failure policy for the table, carried so
	// the caller can gate the load without re-reading the rules.
	OnFail string `json:"on_fail"`
}

// Validate evaluates every schema and check rule against the dataset and
// returns the combined verdict. Checks never short-circuit: the verdict
// reports all violations in one pass. A table with no configured rules
// passes automatically. Validate is pure and never touches the store.
func Validate(ds *dataset.Dataset, rules *RuleSet) Verdict {
	if rules == nil {
		return Verdict{Pass: true, OnFail: OnFailWarn}
	}
	v := Verdict{OnFail: rules.OnFail}

	for _, col := range rules.Schema {
		v.add(checkSchema(ds, col))
	}
	for _, c := range rules.Checks {
		switch {
		case len(c.NotNull) > 0:
			for _, col := range c.NotNull {
				v.add(checkNotNull(ds, col))
			}
		case len(c.Unique) > 0:
			v.add(checkUnique(ds, c.Unique))
		case c.Range != nil:
			v.add(checkRange(ds, c.Range))
		case c.Expression != "":
			v.add(checkExpression(ds, c.Expression))
		}
	}

	v.Pass = len(v.Violations) == 0
	return v
}

func (v *Verdict) add(viol *Violation) {
	if viol != nil {
		v.Violations = append(v.Violations, *viol)
	}
}

// checkSchema verifies that a declared column is present and that its
// values are coercible to the declared type. A declared column absent
// from the dataset is a violation with the full row count.
func checkSchema(ds *dataset.Dataset, col SchemaColumn) *Violation {
	idx := ds.ColumnIndex(col.Name)
	if idx < 0 {
		return &Violation{
			Kind:   KindSchema,
			Column: col.Name,
			Rows:   ds.Len(),
			Sample: "column missing from dataset",
		}
	}
	bad := 0
	sample := ""
	for _, row := range ds.Rows {
		if _, ok := dataset.Cast(row[idx], col.Type); !ok {
			bad++
			if sample == "" {
				sample = fmt.Sprintf("%v is not %s", row[idx], col.Type)
			}
		}
	}
	if bad == 0 {
		return nil
	}
	return &Violation{Kind: KindSchema, Column: col.Name, Rows: bad, Sample: sample}
}

func checkNotNull(ds *dataset.Dataset, col string) *Violation {
	idx := ds.ColumnIndex(col)
	if idx < 0 {
		return &Violation{
			Kind:   KindNotNull,
			Column: col,
			Rows:   ds.Len(),
			Sample: "column missing from dataset",
		}
	}
	nulls := 0
	for _, row := range ds.Rows {
		if row[idx] == nil {
			nulls++
		}
	}
	if nulls == 0 {
		return nil
	}
	return &Violation{Kind: KindNotNull, Column: col, Rows: nulls}
}

// checkUnique counts rows beyond the first occurrence of each key value.
// Offending count equals len(rows) - count(distinct keys).
func checkUnique(ds *dataset.Dataset, cols []string) *Violation {
	idxs := make([]int, 0, len(cols))
	for _, col := range cols {
		idx := ds.ColumnIndex(col)
		if idx < 0 {
			return &Violation{
				Kind:   KindUnique,
				Column: strings.Join(cols, ","),
				Rows:   ds.Len(),
				Sample: fmt.Sprintf("column %s missing from dataset", col),
			}
		}
		idxs = append(idxs, idx)
	}
	seen := make(map[string]bool, ds.Len())
	dups := 0
	sample := ""
	for _, row := range ds.Rows {
		key := compositeKey(row, idxs)
		if seen[key] {
			dups++
			if sample == "" {
				sample = key
			}
			continue
		}
		seen[key] = true
	}
	if dups == 0 {
		return nil
	}
	return &Violation{Kind: KindUnique, Column: strings.Join(cols, ","), Rows: dups, Sample: sample}
}

func compositeKey(row []any, idxs []int) string {
	parts := make([]string, len(idxs))
	for i, idx := range idxs {
		parts[i] = fmt.Sprintf("%v", row[idx])
	}
	return strings.Join(parts, "\x1f")
}

// checkRange counts values outside [min, max]. Either bound may be nil
// for a one-sided range. Nulls and non-numeric values are not in range
// violation scope; the schema check covers type problems.
func checkRange(ds *dataset.Dataset, r *RangeCheck) *Violation {
	idx := ds.ColumnIndex(r.Column)
	if idx < 0 {
		return &Violation{
			Kind:   KindRange,
			Column: r.Column,
			Rows:   ds.Len(),
			Sample: "column missing from dataset",
		}
	}
	bad := 0
	sample := ""
	for _, row := range ds.Rows {
		f, ok := dataset.CastFloat64(row[idx])
		if row[idx] == nil || !ok {
			continue
		}
		val := f.(float64)
		if (r.Min != nil && val < *r.Min) || (r.Max != nil && val > *r.Max) {
			bad++
			if sample == "" {
				sample = fmt.Sprintf("%v out of range", row[idx])
			}
		}
	}
	if bad == 0 {
		return nil
	}
	return &Violation{Kind: KindRange, Column: r.Column, Rows: bad, Sample: sample}
}

// checkExpression evaluates a boolean predicate per row. A row fails when
// the predicate is false, errors, or yields a non-boolean. A predicate
// that does not compile fails every row.
func checkExpression(ds *dataset.Dataset, expression string) *Violation {
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return &Violation{
			Kind:   KindExpression,
			Column: expression,
			Rows:   ds.Len(),
			Sample: fmt.Sprintf("compile: %v", err),
		}
	}
	bad := 0
	sample := ""
	for i := range ds.Rows {
		if !evalRow(program, ds.RowMap(i)) {
			bad++
			if sample == "" {
				sample = fmt.Sprintf("row %d", i)
			}
		}
	}
	if bad == 0 {
		return nil
	}
	return &Violation{Kind: KindExpression, Column: expression, Rows: bad, Sample: sample}
}

func evalRow(program *vm.Program, env map[string]any) bool {
	out, err := expr.Run(program, env)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}
