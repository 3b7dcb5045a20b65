// Package runner executes configured groups: fetch, validate, load,
// record, export — sequentially, one source at a time.
package runner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/uptrace/bun"

	"github.com/etlite-io/etlite/internal/adapters"
	"github.com/etlite-io/etlite/internal/config"
	"github.com/etlite-io/etlite/internal/dq"
	"github.com/etlite-io/etlite/internal/export"
	"github.com/etlite-io/etlite/internal/ledger"
	"github.com/etlite-io/etlite/internal/load"
)

// Runner drives one group run against a store handle it exclusively
// owns for the duration of the run.
type Runner struct {
	db     *bun.DB
	cfg    *config.Config
	rules  *dq.Rules
	engine *load.Engine
}

// New builds a runner over an opened store.
func New(db *bun.DB, cfg *config.Config, rules *dq.Rules) *Runner {
	return &Runner{db: db, cfg: cfg, rules: rules, engine: load.NewEngine(db)}
}

// RunGroup executes every source in the group in order. Per-source
// failures are converted into failed metric records and the group
// continues; only store-level failures abort the run. The returned Run
// carries the terminal status.
func (r *Runner) RunGroup(ctx context.Context, group string) (*ledger.Run, error) {
	sources, ok := r.cfg.Groups[group]
	rec := ledger.NewRecorder(r.db)

	run, err := rec.StartRun(ctx, group, len(sources))
	if err != nil {
		// Store unreachable before any source ran: nothing to record.
		return nil, fmt.Errorf("start run for group %s: %w", group, err)
	}
	if !ok {
		ferr := fmt.Errorf("group %q is not configured", group)
		if _, err := rec.FinishRun(ctx, ledger.StatusFailed, ferr); err != nil {
			log.Printf("finalize failed run: %v", err)
		}
		return rec.Run(), ferr
	}

	var failed, completed int
	for i := range sources {
		src := &sources[i]
		m := r.runSource(ctx, src)
		if m.Error != nil {
			failed++
		} else {
			completed++
		}
		if err := rec.RecordMetric(ctx, m); err != nil {
			ferr := fmt.Errorf("record metric for %s: %w", src.Name, err)
			if _, ferr2 := rec.FinishRun(ctx, ledger.StatusFailed, ferr); ferr2 != nil {
				log.Printf("finalize failed run: %v", ferr2)
			}
			return rec.Run(), ferr
		}
		if m.Error == nil && src.Export != nil {
			r.exportSource(ctx, src)
		}
	}

	status := ledger.StatusSuccess
	switch {
	case failed > 0 && completed > 0:
		status = ledger.StatusPartial
	case failed > 0:
		status = ledger.StatusFailed
	}

	run, err = rec.FinishRun(ctx, status, nil)
	if err != nil {
		return rec.Run(), fmt.Errorf("finalize run: %w", err)
	}

	r.writeHealth(ctx, run)
	log.Printf("run %s group=%s status=%s sources=%d rows=%d (%.2fs)",
		run.RunID, group, run.Status, run.SourcesCount, run.RowsTotal, run.DurationS)
	return run, nil
}

// runSource executes one source end to end. All failures are caught at
// this boundary and converted into the returned metric.
func (r *Runner) runSource(ctx context.Context, src *config.Source) *ledger.Metric {
	start := time.Now()
	m := &ledger.Metric{
		SourceName: src.Name,
		TableName:  src.DestTable(),
		DQPass:     true,
		LoadedAt:   start.UTC(),
	}
	fail := func(err error) *ledger.Metric {
		msg := err.Error()
		m.Error = &msg
		m.RowsLoaded = 0
		m.DurationS = time.Since(start).Seconds()
		log.Printf("source %s failed: %v", src.Name, err)
		return m
	}

	adp, err := adapters.New(src.Type, src.Params)
	if err != nil {
		return fail(err)
	}

	ds, err := adapters.Run(ctx, adp)
	if err != nil {
		return fail(err)
	}

	verdict := dq.Validate(ds, r.rules.ForTable(src.DestTable()))
	m.DQPass = verdict.Pass
	m.DQViolations = len(verdict.Violations)
	if !verdict.Pass {
		for _, v := range verdict.Violations {
			log.Printf("dq %s/%s [%s] %s: %d rows %s",
				src.Name, src.DestTable(), v.Kind, v.Column, v.Rows, v.Sample)
		}
	}

	outcome, err := r.engine.Load(ctx, ds, src, verdict)
	if err != nil {
		return fail(err)
	}

	m.RowsLoaded = outcome.RowsLoaded
	m.DurationS = time.Since(start).Seconds()
	log.Printf("source %s -> %s [%s] rows=%d dup_skipped=%d null_key_skipped=%d dq_pass=%v (%.2fs)",
		src.Name, src.DestTable(), src.Mode, outcome.RowsLoaded,
		outcome.DuplicatesSkipped, outcome.NullKeySkipped, m.DQPass, m.DurationS)
	return m
}

// exportSource is best-effort: an export failure is logged and never
// alters the load's success status.
func (r *Runner) exportSource(ctx context.Context, src *config.Source) {
	out, err := export.Export(ctx, r.db, src.DestTable(), src.Export)
	if err != nil {
		log.Printf("export %s: %v", src.DestTable(), err)
		return
	}
	log.Printf("export %s -> %s files=%d overwritten=%d",
		src.DestTable(), src.Export.Dir, out.FilesWritten, out.Overwritten)
}

func (r *Runner) writeHealth(ctx context.Context, run *ledger.Run) {
	metrics, err := ledger.MetricsForRun(ctx, r.db, run.RunID)
	if err != nil {
		log.Printf("collect metrics for health report: %v", err)
		return
	}
	path, err := ledger.WriteHealth(r.cfg.Defaults.ReportsDir, run, metrics)
	if err != nil {
		log.Printf("write health report: %v", err)
		return
	}
	log.Printf("health report written to %s", path)
}
