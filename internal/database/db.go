package database

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

// NewDB opens the embedded analytical store with sane defaults and
// optional query logging. The returned handle is exclusively owned by
// the run that opened it; concurrent runs against the same file require
// external serialization.
func NewDB(dsn string, debug bool) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())

	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	// WAL keeps the ledger readable while a load writes; foreign keys
	// back the etl_metrics -> etl_runs reference.
	if _, err := db.Exec(`
        PRAGMA journal_mode = WAL;
        PRAGMA synchronous = NORMAL;
        PRAGMA foreign_keys = ON;
        PRAGMA cache_size = -64000;
    `); err != nil {
		return nil, err
	}

	return db, nil
}

// TableExists reports whether a table or view with the given name exists.
func TableExists(ctx context.Context, db *bun.DB, name string) (bool, error) {
	var n int
	err := db.NewRaw(
		"SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?",
		name,
	).Scan(ctx, &n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// QuoteIdent quotes an identifier for interpolation into dynamic DDL.
// Destination table and column names come from configuration and fetched
// payloads, not from a fixed schema, so they cannot be bound as
// parameters.
func QuoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"', '"')
			continue
		}
		out = append(out, name[i])
	}
	return string(append(out, '"'))
}
