package ledger_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/uptrace/bun"

	"github.com/etlite-io/etlite/internal/database"
	. "github.com/etlite-io/etlite/internal/ledger"
	"github.com/etlite-io/etlite/internal/migrations"
)

func testDB(t *testing.T) *bun.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "ledger.db"), false)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrations.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestRecorderLifecycle(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	rec := NewRecorder(db)

	run, err := rec.StartRun(ctx, "daily", 2)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if run.Status != StatusRunning || run.RunID == "" {
		t.Fatalf("unexpected run: %+v", run)
	}

	if err := rec.RecordMetric(ctx, &Metric{
		SourceName: "trips", TableName: "trips", RowsLoaded: 10, DQPass: true,
	}); err != nil {
		t.Fatalf("record metric: %v", err)
	}
	failMsg := "boom"
	if err := rec.RecordMetric(ctx, &Metric{
		SourceName: "cities", TableName: "cities", DQPass: true, Error: &failMsg,
	}); err != nil {
		t.Fatalf("record metric: %v", err)
	}

	done, err := rec.FinishRun(ctx, StatusPartial, nil)
	if err != nil {
		t.Fatalf("finish run: %v", err)
	}
	if done.Status != StatusPartial || done.FinishedAt == nil {
		t.Fatalf("unexpected final run: %+v", done)
	}
	if done.RowsTotal != 10 {
		t.Fatalf("rows_total must sum metric rows, got %d", done.RowsTotal)
	}

	metrics, err := MetricsForRun(ctx, db, run.RunID)
	if err != nil {
		t.Fatalf("metrics for run: %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("expected one metric per attempted source, got %d", len(metrics))
	}
	if metrics[1].Error == nil || *metrics[1].Error != "boom" {
		t.Fatalf("failed source must carry its error: %+v", metrics[1])
	}
}

func TestRecorderFinalizesOnce(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder(testDB(t))

	if _, err := rec.StartRun(ctx, "daily", 0); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, err := rec.FinishRun(ctx, StatusSuccess, nil); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	if _, err := rec.FinishRun(ctx, StatusFailed, nil); err == nil {
		t.Fatalf("expected error on second finalize")
	}
}

func TestRecorderRejectsInvalidStatus(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder(testDB(t))
	if _, err := rec.StartRun(ctx, "daily", 0); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, err := rec.FinishRun(ctx, StatusRunning, nil); err == nil {
		t.Fatalf("running is not a terminal status")
	}
}

func TestLatestLoadsProjection(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	insert := func(run, source, table string, rows int64, at time.Time) {
		rec := NewRecorder(db)
		if _, err := rec.StartRun(ctx, run, 1); err != nil {
			t.Fatalf("start run: %v", err)
		}
		m := &Metric{SourceName: source, TableName: table, RowsLoaded: rows, DQPass: true, LoadedAt: at}
		if err := rec.RecordMetric(ctx, m); err != nil {
			t.Fatalf("record metric: %v", err)
		}
		if _, err := rec.FinishRun(ctx, StatusSuccess, nil); err != nil {
			t.Fatalf("finish run: %v", err)
		}
	}

	insert("g", "trips", "trips", 100, base)
	insert("g", "trips", "trips", 120, base.Add(time.Hour))
	insert("g", "cities", "cities", 5, base)

	latest, err := LatestLoads(ctx, db)
	if err != nil {
		t.Fatalf("latest loads: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected one row per table, got %d", len(latest))
	}
	byTable := map[string]Metric{}
	for _, m := range latest {
		byTable[m.TableName] = m
	}
	if byTable["trips"].RowsLoaded != 120 {
		t.Fatalf("latest trips load must win: %+v", byTable["trips"])
	}
	if byTable["cities"].RowsLoaded != 5 {
		t.Fatalf("unexpected cities row: %+v", byTable["cities"])
	}
}

func TestWriteHealth(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	run := &Run{
		RunID:     "abc-123",
		GroupName: "daily",
		StartedAt: started,
		Status:    StatusSuccess,
		RowsTotal: 42,
	}
	metrics := []Metric{{RunID: "abc-123", SourceName: "trips", TableName: "trips", RowsLoaded: 42, DQPass: true}}

	path, err := WriteHealth(dir, run, metrics)
	if err != nil {
		t.Fatalf("write health: %v", err)
	}
	if filepath.Base(path) != "health_20260825_093000_abc-123.json" {
		t.Fatalf("unexpected artifact name: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var report HealthReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if report.Run.RunID != "abc-123" || len(report.Metrics) != 1 {
		t.Fatalf("unexpected artifact content: %+v", report)
	}
	if report.Metrics[0].RowsLoaded != 42 {
		t.Fatalf("unexpected metric: %+v", report.Metrics[0])
	}
}
