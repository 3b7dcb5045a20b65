package migrations

import (
	"context"
	"log"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/etlite-io/etlite/internal/ledger"
)

var Migrations = migrate.NewMigrations()

func init() {
	// Migration 1: ledger tables. Destination tables are created by the
	// load engine from dataset schemas, never migrated.
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewCreateTable().
			Model((*ledger.Run)(nil)).
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewCreateTable().
			Model((*ledger.Metric)(nil)).
			IfNotExists().
			ForeignKey(`("run_id") REFERENCES "etl_runs" ("run_id")`).
			Exec(ctx); err != nil {
			return err
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewDropTable().Model((*ledger.Metric)(nil)).IfExists().Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewDropTable().Model((*ledger.Run)(nil)).IfExists().Exec(ctx); err != nil {
			return err
		}
		return nil
	})

	// Migration 2: indexes for the status and latest-load projections.
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		indexes := []string{
			"CREATE INDEX IF NOT EXISTS idx_runs_started ON etl_runs(started_at DESC)",
			"CREATE INDEX IF NOT EXISTS idx_metrics_run ON etl_metrics(run_id)",
			"CREATE INDEX IF NOT EXISTS idx_metrics_table_loaded ON etl_metrics(table_name, loaded_at DESC)",
		}
		for _, idx := range indexes {
			if _, err := db.ExecContext(ctx, idx); err != nil {
				return err
			}
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		indexes := []string{
			"DROP INDEX IF EXISTS idx_runs_started",
			"DROP INDEX IF EXISTS idx_metrics_run",
			"DROP INDEX IF EXISTS idx_metrics_table_loaded",
		}
		for _, idx := range indexes {
			if _, err := db.ExecContext(ctx, idx); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunMigrations brings the ledger schema up to date.
func RunMigrations(ctx context.Context, db *bun.DB) error {
	migrator := migrate.NewMigrator(db, Migrations)

	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}

	if !group.IsZero() {
		log.Printf("ledger migrated to %s", group)
	}
	return nil
}
