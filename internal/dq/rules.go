package dq

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/etlite-io/etlite/internal/dataset"
)

// Failure policies. Warn records the verdict and loads anyway; block
// skips the load when the verdict fails. Warn is the default: quality
// failures are observational so operators can inspect bad data.
const (
	OnFailWarn  = "warn"
	OnFailBlock = "block"
)

// Rules holds the per-table rule sets parsed from dq.yml.
type Rules struct {
	Rules map[string]*RuleSet `yaml:"rules"`
}

// RuleSet is the declarative quality contract for one destination table.
type RuleSet struct {
	Schema SchemaDef `yaml:"schema"`
	Checks []Check   `yaml:"checks"`
	OnFail string    `yaml:"on_fail"`
}

// SchemaColumn is one declared column with its expected type.
type SchemaColumn struct {
	Name string
	Type dataset.Type
}

// SchemaDef is an ordered list of declared columns. The schema is a
// whitelist of required shape: undeclared dataset columns are ignored.
type SchemaDef []SchemaColumn

// UnmarshalYAML decodes a yaml mapping while preserving document order,
// which a plain map would lose.
func (s *SchemaDef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("schema must be a mapping, got %v", node.Kind)
	}
	for i := 0; i < len(node.Content); i += 2 {
		name := node.Content[i].Value
		typ, err := dataset.ParseType(node.Content[i+1].Value)
		if err != nil {
			return fmt.Errorf("schema column %s: %w", name, err)
		}
		*s = append(*s, SchemaColumn{Name: name, Type: typ})
	}
	return nil
}

// Check is one declarative quality check. Exactly one of the kind fields
// is set, matching the yaml shapes
//
//	- not_null: [col, ...]
//	- unique: [col, ...]
//	- range: {column: col, min: x, max: y}
//	- expression: "value >= 0 && value < limit"
type Check struct {
	NotNull    []string    `yaml:"not_null"`
	Unique     []string    `yaml:"unique"`
	Range      *RangeCheck `yaml:"range"`
	Expression string      `yaml:"expression"`
}

// RangeCheck bounds a numeric column. Either bound may be omitted for a
// one-sided range.
type RangeCheck struct {
	Column string   `yaml:"column"`
	Min    *float64 `yaml:"min"`
	Max    *float64 `yaml:"max"`
}

// Kind names used in violations.
const (
	KindSchema     = "schema"
	KindNotNull    = "not_null"
	KindUnique     = "unique"
	KindRange      = "range"
	KindExpression = "expression"
)

// LoadRules reads and validates a dq.yml document. A missing rules map
// is valid: tables without rules pass automatically.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return nil, errors.New("dq rules path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dq rules: %w", err)
	}
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse dq rules: %w", err)
	}
	for table, rs := range r.Rules {
		if rs == nil {
			continue
		}
		if rs.OnFail == "" {
			rs.OnFail = OnFailWarn
		}
		if rs.OnFail != OnFailWarn && rs.OnFail != OnFailBlock {
			return nil, fmt.Errorf("table %s: on_fail must be %s or %s", table, OnFailWarn, OnFailBlock)
		}
		for i, c := range rs.Checks {
			if err := c.validate(); err != nil {
				return nil, fmt.Errorf("table %s check %d: %w", table, i, err)
			}
		}
	}
	return &r, nil
}

// ForTable returns the rule set configured for a table, or nil.
func (r *Rules) ForTable(table string) *RuleSet {
	if r == nil {
		return nil
	}
	return r.Rules[table]
}

func (c *Check) validate() error {
	n := 0
	if len(c.NotNull) > 0 {
		n++
	}
	if len(c.Unique) > 0 {
		n++
	}
	if c.Range != nil {
		n++
		if c.Range.Column == "" {
			return errors.New("range check requires column")
		}
		if c.Range.Min == nil && c.Range.Max == nil {
			return errors.New("range check requires min or max")
		}
	}
	if c.Expression != "" {
		n++
	}
	if n != 1 {
		return errors.New("check must set exactly one of not_null, unique, range, expression")
	}
	return nil
}
