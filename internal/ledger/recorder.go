package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Recorder appends run and metric rows to the ledger. One recorder
// serves one run; its Run can be finalized exactly once.
type Recorder struct {
	db        *bun.DB
	run       *Run
	finalized bool
}

// NewRecorder returns a recorder bound to the given store handle.
func NewRecorder(db *bun.DB) *Recorder {
	return &Recorder{db: db}
}

// StartRun inserts a running Run record for the group and returns it.
// It must be called before any source in the group is processed.
func (rec *Recorder) StartRun(ctx context.Context, group string, sources int) (*Run, error) {
	if rec.run != nil {
		return nil, errors.New("recorder already holds a run")
	}
	run := &Run{
		RunID:        uuid.NewString(),
		GroupName:    group,
		StartedAt:    time.Now().UTC(),
		Status:       StatusRunning,
		SourcesCount: sources,
	}
	if _, err := rec.db.NewInsert().Model(run).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert run record: %w", err)
	}
	rec.run = run
	return run, nil
}

// RecordMetric appends exactly one metric row for a source execution,
// regardless of quality or load outcome, so the ledger always reflects
// attempted work.
func (rec *Recorder) RecordMetric(ctx context.Context, m *Metric) error {
	if rec.run == nil {
		return errors.New("no run in progress")
	}
	m.RunID = rec.run.RunID
	if m.LoadedAt.IsZero() {
		m.LoadedAt = time.Now().UTC()
	}
	if _, err := rec.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("insert metric record: %w", err)
	}
	rec.run.RowsTotal += m.RowsLoaded
	return nil
}

// FinishRun finalizes the run record with its terminal status. The
// update is guarded on status=running so a Run can only transition out
// of running once; a second call is an error.
func (rec *Recorder) FinishRun(ctx context.Context, status string, runErr error) (*Run, error) {
	if rec.run == nil {
		return nil, errors.New("no run in progress")
	}
	if rec.finalized {
		return nil, errors.New("run already finalized")
	}
	switch status {
	case StatusSuccess, StatusPartial, StatusFailed:
	default:
		return nil, fmt.Errorf("invalid terminal status %q", status)
	}

	now := time.Now().UTC()
	rec.run.FinishedAt = &now
	rec.run.Status = status
	rec.run.DurationS = now.Sub(rec.run.StartedAt).Seconds()
	if runErr != nil {
		msg := runErr.Error()
		rec.run.Error = &msg
	}

	res, err := rec.db.NewUpdate().
		Model(rec.run).
		Column("finished_at", "status", "error", "rows_total", "duration_s").
		Where("run_id = ?", rec.run.RunID).
		Where("status = ?", StatusRunning).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("finalize run record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, errors.New("run record was not in running state")
	}
	rec.finalized = true
	return rec.run, nil
}

// Run returns the in-progress run record, or nil before StartRun.
func (rec *Recorder) Run() *Run {
	return rec.run
}
