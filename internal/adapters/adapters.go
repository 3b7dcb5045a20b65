// Package adapters holds the closed set of source adapters. Every
// adapter satisfies the same fetch -> normalize contract; the pipeline
// never inspects adapter internals, only the normalized dataset.
package adapters

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/etlite-io/etlite/internal/dataset"
)

// Adapter produces one dataset per execution.
type Adapter interface {
	// Fetch obtains the raw payload from the producer.
	Fetch(ctx context.Context) (any, error)
	// Normalize turns the raw payload into a tabular dataset.
	Normalize(raw any) (*dataset.Dataset, error)
}

// Factory builds an adapter from its configured params.
type Factory func(params map[string]any) (Adapter, error)

var registry = map[string]Factory{}

// Register adds an adapter kind to the registry. New kinds extend the
// set without modifying the pipeline.
func Register(kind string, f Factory) {
	registry[kind] = f
}

// New builds an adapter of the given kind.
func New(kind string, params map[string]any) (Adapter, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("adapter %q not registered (have %v)", kind, Kinds())
	}
	return f(params)
}

// Known reports whether an adapter kind is registered.
func Known(kind string) bool {
	_, ok := registry[kind]
	return ok
}

// Kinds returns the registered adapter kinds, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Run executes the full adapter pipeline.
func Run(ctx context.Context, a Adapter) (*dataset.Dataset, error) {
	raw, err := a.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	ds, err := a.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return ds, nil
}

// decodeParams maps a loosely typed params mapping onto a typed struct
// through a yaml round trip, so adapters reuse the config tag spellings.
func decodeParams(params map[string]any, out any) error {
	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
