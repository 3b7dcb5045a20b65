package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/uptrace/bun"

	"github.com/etlite-io/etlite/internal/adapters"
	"github.com/etlite-io/etlite/internal/config"
	"github.com/etlite-io/etlite/internal/database"
	"github.com/etlite-io/etlite/internal/dataset"
	"github.com/etlite-io/etlite/internal/dq"
	"github.com/etlite-io/etlite/internal/ledger"
	"github.com/etlite-io/etlite/internal/migrations"
)

// staticAdapter yields a fixed dataset, or fails, depending on params.
type staticAdapter struct {
	fail bool
	rows []string
}

func (a *staticAdapter) Fetch(_ context.Context) (any, error) {
	if a.fail {
		return nil, errors.New("upstream unavailable")
	}
	return a.rows, nil
}

func (a *staticAdapter) Normalize(raw any) (*dataset.Dataset, error) {
	ds := dataset.New(
		dataset.Column{Name: "id", Type: dataset.TypeText},
		dataset.Column{Name: "n", Type: dataset.TypeBigint},
	)
	for i, id := range raw.([]string) {
		_ = ds.Append([]any{id, int64(i)})
	}
	return ds, nil
}

func init() {
	adapters.Register("static_fixture", func(params map[string]any) (adapters.Adapter, error) {
		a := &staticAdapter{}
		if f, ok := params["fail"].(bool); ok {
			a.fail = f
		}
		if ids, ok := params["ids"].([]string); ok {
			a.rows = ids
		}
		return a, nil
	})
}

func testStack(t *testing.T, cfg *config.Config, rules *dq.Rules) (*Runner, *bun.DB) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "runner.db"), false)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrations.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db, cfg, rules), db
}

func baseConfig(t *testing.T, sources ...config.Source) *config.Config {
	t.Helper()
	return &config.Config{
		Defaults: config.Defaults{ReportsDir: t.TempDir()},
		Groups:   map[string][]config.Source{"daily": sources},
	}
}

func TestRunGroupSuccess(t *testing.T) {
	cfg := baseConfig(t,
		config.Source{Name: "trips", Type: "static_fixture", Mode: config.ModeFull,
			Params: map[string]any{"ids": []string{"a", "b", "c"}}},
	)
	r, db := testStack(t, cfg, nil)

	run, err := r.RunGroup(context.Background(), "daily")
	if err != nil {
		t.Fatalf("run group: %v", err)
	}
	if run.Status != ledger.StatusSuccess {
		t.Fatalf("status = %s", run.Status)
	}
	if run.RowsTotal != 3 {
		t.Fatalf("rows_total = %d", run.RowsTotal)
	}

	var n int64
	if err := db.NewRaw(`SELECT COUNT(*) FROM "trips"`).Scan(context.Background(), &n); err != nil {
		t.Fatalf("count trips: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 loaded rows, got %d", n)
	}
}

func TestRunGroupPartialOnSourceFailure(t *testing.T) {
	cfg := baseConfig(t,
		config.Source{Name: "good", Type: "static_fixture", Mode: config.ModeFull,
			Params: map[string]any{"ids": []string{"a"}}},
		config.Source{Name: "bad", Type: "static_fixture", Mode: config.ModeFull,
			Params: map[string]any{"fail": true}},
	)
	r, db := testStack(t, cfg, nil)

	run, err := r.RunGroup(context.Background(), "daily")
	if err != nil {
		t.Fatalf("run group: %v", err)
	}
	if run.Status != ledger.StatusPartial {
		t.Fatalf("status = %s, want partial", run.Status)
	}

	metrics, err := ledger.MetricsForRun(context.Background(), db, run.RunID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("one metric per attempted source, got %d", len(metrics))
	}
	if metrics[0].Error != nil {
		t.Fatalf("good source must not carry an error")
	}
	if metrics[1].Error == nil || !strings.Contains(*metrics[1].Error, "upstream unavailable") {
		t.Fatalf("failed source must carry its error, got %+v", metrics[1])
	}
	if metrics[1].RowsLoaded != 0 {
		t.Fatalf("failed source loads nothing, got %d", metrics[1].RowsLoaded)
	}
}

func TestRunGroupAllFailed(t *testing.T) {
	cfg := baseConfig(t,
		config.Source{Name: "bad", Type: "static_fixture", Mode: config.ModeFull,
			Params: map[string]any{"fail": true}},
	)
	r, _ := testStack(t, cfg, nil)

	run, err := r.RunGroup(context.Background(), "daily")
	if err != nil {
		t.Fatalf("run group: %v", err)
	}
	if run.Status != ledger.StatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
}

func TestRunGroupUnknownGroup(t *testing.T) {
	cfg := baseConfig(t,
		config.Source{Name: "trips", Type: "static_fixture", Mode: config.ModeFull},
	)
	r, db := testStack(t, cfg, nil)

	if _, err := r.RunGroup(context.Background(), "nightly"); err == nil {
		t.Fatalf("expected error for unknown group")
	}
	// The attempt is still recorded as a failed run.
	runs, err := ledger.RecentRuns(context.Background(), db, 1)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != ledger.StatusFailed {
		t.Fatalf("unexpected ledger state: %+v", runs)
	}
}

func TestRunGroupWritesHealthArtifact(t *testing.T) {
	cfg := baseConfig(t,
		config.Source{Name: "trips", Type: "static_fixture", Mode: config.ModeFull,
			Params: map[string]any{"ids": []string{"a"}}},
	)
	r, _ := testStack(t, cfg, nil)

	run, err := r.RunGroup(context.Background(), "daily")
	if err != nil {
		t.Fatalf("run group: %v", err)
	}

	entries, err := os.ReadDir(cfg.Defaults.ReportsDir)
	if err != nil {
		t.Fatalf("read reports dir: %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "health_") && strings.Contains(e.Name(), run.RunID) {
			found = true
		}
	}
	if !found {
		t.Fatalf("health artifact for run %s not written (have %v)", run.RunID, entries)
	}
}

func TestRunGroupBlockingRules(t *testing.T) {
	cfg := baseConfig(t,
		config.Source{Name: "trips", Type: "static_fixture", Mode: config.ModeFull,
			Params: map[string]any{"ids": []string{"a", "a"}}},
	)
	rules := &dq.Rules{Rules: map[string]*dq.RuleSet{
		"trips": {OnFail: dq.OnFailBlock, Checks: []dq.Check{{Unique: []string{"id"}}}},
	}}
	r, db := testStack(t, cfg, rules)

	run, err := r.RunGroup(context.Background(), "daily")
	if err != nil {
		t.Fatalf("run group: %v", err)
	}
	// A blocked load is not a source failure: the source completed with
	// zero rows and a failing verdict on record.
	if run.Status != ledger.StatusSuccess {
		t.Fatalf("status = %s", run.Status)
	}
	metrics, err := ledger.MetricsForRun(context.Background(), db, run.RunID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics[0].DQPass || metrics[0].RowsLoaded != 0 {
		t.Fatalf("blocked source metric: %+v", metrics[0])
	}
	exists, err := database.TableExists(context.Background(), db, "trips")
	if err != nil {
		t.Fatalf("table exists: %v", err)
	}
	if exists {
		t.Fatalf("blocked load must not create the table")
	}
}
