package load

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/etlite-io/etlite/internal/config"
	"github.com/etlite-io/etlite/internal/database"
	"github.com/etlite-io/etlite/internal/dataset"
	"github.com/etlite-io/etlite/internal/dq"
)

// Outcome summarizes one load operation.
type Outcome struct {
	RowsLoaded        int64 `json:"rows_loaded"`
	DuplicatesSkipped int64 `json:"duplicates_skipped"`
	NullKeySkipped    int64 `json:"null_key_skipped"`
	// Blocked is set when a failing verdict with on_fail=block skipped
	// the load entirely.
	Blocked bool `json:"blocked,omitempty"`
}

// Engine persists datasets into the analytical store.
type Engine struct {
	db *bun.DB
}

// NewEngine returns an engine bound to the given store handle.
func NewEngine(db *bun.DB) *Engine {
	return &Engine{db: db}
}

// Load applies the verdict's outcome to the store: full replace or staged
// incremental upsert. A failing verdict does not prevent the load under
// the default warn policy; quality failures are observational and the
// caller records dq_pass=false in the metric. Only the explicit
// on_fail=block policy skips the load.
func (e *Engine) Load(ctx context.Context, ds *dataset.Dataset, src *config.Source, verdict dq.Verdict) (Outcome, error) {
	if !verdict.Pass && verdict.OnFail == dq.OnFailBlock {
		log.Printf("load %s blocked by failing quality verdict (%d violations)", src.Name, len(verdict.Violations))
		return Outcome{Blocked: true}, nil
	}
	if ds == nil || len(ds.Columns) == 0 {
		return Outcome{}, nil
	}
	if src.Mode == config.ModeIncremental {
		return e.loadIncremental(ctx, ds, src)
	}
	return e.loadFull(ctx, ds, src.DestTable())
}

// loadFull replaces the destination table's entire contents in one
// transaction, so a failure mid-load leaves the prior rows intact.
func (e *Engine) loadFull(ctx context.Context, ds *dataset.Dataset, table string) (Outcome, error) {
	err := e.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+database.QuoteIdent(table)); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, createTableSQL(table, ds.Columns)); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
		return insertRows(ctx, tx, table, ds.ColumnNames(), ds.Rows)
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{RowsLoaded: int64(ds.Len())}, nil
}

// loadIncremental materializes the batch into a staging table, applies
// the permissive cast map, drops null-key rows, anti-joins against the
// destination and inserts only unseen keys. The staging table is dropped
// on every exit path so a retry never collides with leftovers.
func (e *Engine) loadIncremental(ctx context.Context, ds *dataset.Dataset, src *config.Source) (Outcome, error) {
	dest := src.DestTable()
	staging := stagingName(dest, src.Name)

	casted, err := applyCastMap(ds, src.Cast)
	if err != nil {
		return Outcome{}, err
	}

	// Stale staging from a crashed run is dropped before reuse.
	if _, err := e.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+database.QuoteIdent(staging)); err != nil {
		return Outcome{}, fmt.Errorf("drop stale staging %s: %w", staging, err)
	}
	if _, err := e.db.ExecContext(ctx, createTableSQL(staging, casted.Columns)); err != nil {
		return Outcome{}, fmt.Errorf("create staging %s: %w", staging, err)
	}
	defer func() {
		if _, derr := e.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+database.QuoteIdent(staging)); derr != nil {
			log.Printf("drop staging %s: %v", staging, derr)
		}
	}()

	if err := insertRows(ctx, e.db, staging, casted.ColumnNames(), casted.Rows); err != nil {
		return Outcome{}, fmt.Errorf("fill staging %s: %w", staging, err)
	}

	if err := dedupBatch(ctx, e.db, staging, src); err != nil {
		return Outcome{}, err
	}

	if _, err := e.db.ExecContext(ctx, ensureTableSQL(dest, casted.Columns)); err != nil {
		return Outcome{}, fmt.Errorf("ensure %s: %w", dest, err)
	}

	return mergeStaging(ctx, e.db, staging, dest, casted.ColumnNames(), src.Key)
}

// mergeStaging inserts staging rows whose key is non-null and not yet
// present in the destination. Deduplication compares only against rows
// already persisted, not within the batch itself.
func mergeStaging(ctx context.Context, db *bun.DB, staging, dest string, cols, key []string) (Outcome, error) {
	qs := database.QuoteIdent(staging)
	qd := database.QuoteIdent(dest)

	onClause := make([]string, len(key))
	notNull := make([]string, len(key))
	for i, k := range key {
		qk := database.QuoteIdent(k)
		onClause[i] = fmt.Sprintf("s.%s = t.%s", qk, qk)
		notNull[i] = fmt.Sprintf("s.%s IS NOT NULL", qk)
	}
	selectCols := make([]string, len(cols))
	insertCols := make([]string, len(cols))
	for i, c := range cols {
		selectCols[i] = "s." + database.QuoteIdent(c)
		insertCols[i] = database.QuoteIdent(c)
	}

	var total, nullKey, before, after int64
	if err := db.NewRaw("SELECT COUNT(*) FROM " + qs).Scan(ctx, &total); err != nil {
		return Outcome{}, err
	}
	if err := db.NewRaw(
		"SELECT COUNT(*) FROM " + qs + " s WHERE NOT (" + strings.Join(notNull, " AND ") + ")",
	).Scan(ctx, &nullKey); err != nil {
		return Outcome{}, err
	}
	if err := db.NewRaw("SELECT COUNT(*) FROM " + qd).Scan(ctx, &before); err != nil {
		return Outcome{}, err
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s s LEFT JOIN %s t ON %s WHERE t.%s IS NULL AND (%s)",
		qd,
		strings.Join(insertCols, ", "),
		strings.Join(selectCols, ", "),
		qs, qd,
		strings.Join(onClause, " AND "),
		database.QuoteIdent(key[0]),
		strings.Join(notNull, " AND "),
	)
	if _, err := db.ExecContext(ctx, insert); err != nil {
		return Outcome{}, fmt.Errorf("merge into %s: %w", dest, err)
	}

	if err := db.NewRaw("SELECT COUNT(*) FROM " + qd).Scan(ctx, &after); err != nil {
		return Outcome{}, err
	}

	inserted := after - before
	dups := total - nullKey - inserted
	if dups < 0 {
		dups = 0
	}
	return Outcome{RowsLoaded: inserted, DuplicatesSkipped: dups, NullKeySkipped: nullKey}, nil
}

// dedupBatch applies the configured within-batch duplicate key policy to
// the staging table. With the default none policy a batch that repeats a
// key not yet persisted inserts every occurrence.
func dedupBatch(ctx context.Context, db *bun.DB, staging string, src *config.Source) error {
	var keep string
	switch src.BatchDedup {
	case config.DedupFirst:
		keep = "MIN"
	case config.DedupLast:
		keep = "MAX"
	default:
		return nil
	}
	keyCols := make([]string, len(src.Key))
	for i, k := range src.Key {
		keyCols[i] = database.QuoteIdent(k)
	}
	qs := database.QuoteIdent(staging)
	stmt := fmt.Sprintf(
		"DELETE FROM %s WHERE rowid NOT IN (SELECT %s(rowid) FROM %s GROUP BY %s)",
		qs, keep, qs, strings.Join(keyCols, ", "),
	)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("dedup batch in %s: %w", staging, err)
	}
	return nil
}

// applyCastMap coerces configured columns to their target types,
// tolerating cast failures by nulling the affected cell rather than
// aborting the row.
func applyCastMap(ds *dataset.Dataset, castMap map[string]string) (*dataset.Dataset, error) {
	if len(castMap) == 0 {
		return ds, nil
	}
	types := make(map[int]dataset.Type)
	cols := make([]dataset.Column, len(ds.Columns))
	copy(cols, ds.Columns)
	for name, typ := range castMap {
		idx := ds.ColumnIndex(name)
		if idx < 0 {
			continue
		}
		t, err := dataset.ParseType(typ)
		if err != nil {
			return nil, fmt.Errorf("cast map for %s: %w", name, err)
		}
		types[idx] = t
		cols[idx].Type = t
	}

	out := &dataset.Dataset{Columns: cols, Rows: make([][]any, len(ds.Rows))}
	for i, row := range ds.Rows {
		nr := make([]any, len(row))
		copy(nr, row)
		for idx, t := range types {
			v, ok := dataset.Cast(row[idx], t)
			if !ok {
				v = nil
			}
			nr[idx] = v
		}
		out.Rows[i] = nr
	}
	return out, nil
}

func stagingName(dest, source string) string {
	return dest + "__stage_" + source
}

func createTableSQL(table string, cols []dataset.Column) string {
	return "CREATE TABLE " + database.QuoteIdent(table) + " (" + columnDefs(cols) + ")"
}

func ensureTableSQL(table string, cols []dataset.Column) string {
	return "CREATE TABLE IF NOT EXISTS " + database.QuoteIdent(table) + " (" + columnDefs(cols) + ")"
}

func columnDefs(cols []dataset.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = database.QuoteIdent(c.Name) + " " + string(c.Type)
	}
	return strings.Join(defs, ", ")
}

// insertBatchSize bounds the bind variables per statement.
const insertBatchSize = 200

func insertRows(ctx context.Context, db bun.IDB, table string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = database.QuoteIdent(c)
	}
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	prefix := "INSERT INTO " + database.QuoteIdent(table) + " (" + strings.Join(quoted, ", ") + ") VALUES "

	for start := 0; start < len(rows); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		values := make([]string, len(batch))
		args := make([]any, 0, len(batch)*len(cols))
		for i, row := range batch {
			values[i] = placeholders
			for _, v := range row {
				args = append(args, bindValue(v))
			}
		}
		if _, err := db.ExecContext(ctx, prefix+strings.Join(values, ", "), args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}

// bindValue normalizes timestamps to a stable text form so key equality
// holds across runs regardless of driver.
func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}
