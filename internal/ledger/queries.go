package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
)

// RecentRuns returns the latest run records, newest first.
func RecentRuns(ctx context.Context, db *bun.DB, limit int) ([]Run, error) {
	var runs []Run
	err := db.NewSelect().
		Model(&runs).
		OrderExpr("started_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return runs, nil
}

// RecentMetrics returns the latest metric records, newest first.
func RecentMetrics(ctx context.Context, db *bun.DB, limit int) ([]Metric, error) {
	var metrics []Metric
	err := db.NewSelect().
		Model(&metrics).
		OrderExpr("loaded_at DESC, run_id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return metrics, nil
}

// MetricsForRun returns the metric rows of one run in insertion order.
func MetricsForRun(ctx context.Context, db *bun.DB, runID string) ([]Metric, error) {
	var metrics []Metric
	err := db.NewSelect().
		Model(&metrics).
		Where("run_id = ?", runID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return metrics, nil
}

// LatestLoads returns, for each destination table, the metric with the
// maximum load timestamp. This is a read-time projection over
// etl_metrics; it is never maintained as a separate table, which would
// be a second source of truth.
func LatestLoads(ctx context.Context, db *bun.DB) ([]Metric, error) {
	var metrics []Metric
	err := db.NewRaw(`
        SELECT id, run_id, source_name, table_name, rows_loaded,
               duration_s, dq_pass, dq_violations, error, loaded_at
        FROM (
            SELECT m.*, ROW_NUMBER() OVER (
                PARTITION BY table_name ORDER BY loaded_at DESC, id DESC
            ) AS rn
            FROM etl_metrics m
        )
        WHERE rn = 1
        ORDER BY table_name`).
		Scan(ctx, &metrics)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return metrics, nil
}
