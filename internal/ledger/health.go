package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// HealthReport is the per-run health artifact: run metadata plus the
// per-source metrics, written for external inspection. It is a side
// effect of a run, not a queryable entity.
type HealthReport struct {
	Run     *Run     `json:"run"`
	Metrics []Metric `json:"metrics"`
}

// WriteHealth writes the health artifact to the reports directory, keyed
// by run timestamp and identifier. Returns the written path.
func WriteHealth(reportsDir string, run *Run, metrics []Metric) (string, error) {
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	name := fmt.Sprintf("health_%s_%s.json",
		run.StartedAt.UTC().Format("20060102_150405"), run.RunID)
	path := filepath.Join(reportsDir, name)

	data, err := json.MarshalIndent(HealthReport{Run: run, Metrics: metrics}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode health report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write health report: %w", err)
	}
	return path, nil
}
