package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/uptrace/bun"

	"github.com/etlite-io/etlite/internal/adapters"
	"github.com/etlite-io/etlite/internal/config"
	"github.com/etlite-io/etlite/internal/database"
	"github.com/etlite-io/etlite/internal/dq"
	"github.com/etlite-io/etlite/internal/export"
	"github.com/etlite-io/etlite/internal/ledger"
	"github.com/etlite-io/etlite/internal/migrations"
	"github.com/etlite-io/etlite/internal/report"
	"github.com/etlite-io/etlite/internal/runner"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) < 2 {
		printUsage()
		return 2
	}

	var err error
	switch args[1] {
	case "run":
		err = cmdRun(args[2:])
	case "status":
		err = cmdStatus(args[2:])
	case "export":
		err = cmdExport(args[2:])
	case "report":
		err = cmdReport(args[2:])
	case "schedule":
		err = cmdSchedule(args[2:])
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "etlite: unknown command %q\n\n", args[1])
		printUsage()
		return 2
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "etlite error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Print(`etlite - config-driven ingestion engine

Usage:
  etlite run      --config <sources.yml> --dq <dq.yml> --group <name>
  etlite status   [--db <path>] [--n <count>] [--last] [--json]
  etlite export   --config <sources.yml> [--only <source>]
  etlite report   [--db <path>] [--out <dir>]
  etlite schedule --config <sources.yml> --dq <dq.yml>
  etlite help

Commands:
  run        Execute every source in one group and record the run
  status     Show recent runs and metrics from the ledger
  export     Write configured parquet exports without re-loading
  report     Render an HTML summary of the ledger
  schedule   Run all groups periodically until interrupted
  help       Show this help message
`)
}

// loadStack opens the store (running migrations) and parses the config
// and rules files shared by run and schedule.
func loadStack(configPath, dqPath string) (*bun.DB, *config.Config, *dq.Rules, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := checkAdapterKinds(cfg); err != nil {
		return nil, nil, nil, err
	}
	rules, err := dq.LoadRules(dqPath)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := openStore(cfg.Defaults.DBPath, cfg.Defaults.Debug)
	if err != nil {
		return nil, nil, nil, err
	}
	return db, cfg, rules, nil
}

func openStore(dbPath string, debug bool) (*bun.DB, error) {
	if dir := dirOf(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := database.NewDB(dbPath, debug)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", dbPath, err)
	}
	if err := migrations.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return db, nil
}

func checkAdapterKinds(cfg *config.Config) error {
	for group, sources := range cfg.Groups {
		for i := range sources {
			if !adapters.Known(sources[i].Type) {
				return fmt.Errorf("group %s source %s: unknown adapter type %q (have %v)",
					group, sources[i].Name, sources[i].Type, adapters.Kinds())
			}
		}
	}
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if os.IsPathSeparator(path[i]) {
			return path[:i]
		}
	}
	return ""
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultSourcesPath, "path to sources.yml")
	dqPath := fs.String("dq", config.DefaultDQPath, "path to dq.yml")
	group := fs.String("group", "", "group to run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *group == "" {
		return fmt.Errorf("missing required flag: --group")
	}

	db, cfg, rules, err := loadStack(*configPath, *dqPath)
	if err != nil {
		return err
	}
	defer db.Close()

	r := runner.New(db, cfg, rules)
	run, err := r.RunGroup(context.Background(), *group)
	if err != nil {
		return err
	}
	if run.Status == ledger.StatusFailed {
		return fmt.Errorf("run %s failed", run.RunID)
	}
	return nil
}

func cmdSchedule(args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultSourcesPath, "path to sources.yml")
	dqPath := fs.String("dq", config.DefaultDQPath, "path to dq.yml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, cfg, rules, err := loadStack(*configPath, *dqPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.New(db, cfg, rules)
	if err := r.Schedule(ctx); err != nil && err != context.Canceled {
		return err
	}
	log.Println("scheduler stopped")
	return nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dbPath := fs.String("db", "data/warehouse.db", "path to the store")
	n := fs.Int("n", 10, "number of runs and metrics to show")
	last := fs.Bool("last", false, "show only the latest load per table")
	asJSON := fs.Bool("json", false, "emit JSON instead of text")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := database.NewDB(*dbPath, false)
	if err != nil {
		return fmt.Errorf("open store %s: %w", *dbPath, err)
	}
	defer db.Close()

	ctx := context.Background()

	if *last {
		latest, err := ledger.LatestLoads(ctx, db)
		if err != nil {
			return err
		}
		if *asJSON {
			return printJSON(map[string]any{"latest_loads": latest})
		}
		fmt.Println("latest load per table:")
		for _, m := range latest {
			fmt.Printf("  %-24s source=%-20s rows=%-8d dq_pass=%-5v loaded_at=%s\n",
				m.TableName, m.SourceName, m.RowsLoaded, m.DQPass,
				m.LoadedAt.Format("2006-01-02 15:04:05"))
		}
		if len(latest) == 0 {
			fmt.Println("  (none)")
		}
		return nil
	}

	runs, err := ledger.RecentRuns(ctx, db, *n)
	if err != nil {
		return err
	}
	metrics, err := ledger.RecentMetrics(ctx, db, *n)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(map[string]any{"runs": runs, "metrics": metrics})
	}

	fmt.Printf("recent runs (%d):\n", len(runs))
	for _, r := range runs {
		errText := ""
		if r.Error != nil {
			errText = " error=" + *r.Error
		}
		fmt.Printf("  %s group=%-12s status=%-8s rows=%-8d %.2fs%s\n",
			r.RunID, r.GroupName, r.Status, r.RowsTotal, r.DurationS, errText)
	}
	if len(runs) == 0 {
		fmt.Println("  (none)")
	}

	fmt.Printf("recent metrics (%d):\n", len(metrics))
	for _, m := range metrics {
		errText := ""
		if m.Error != nil {
			errText = " error=" + *m.Error
		}
		fmt.Printf("  %-20s -> %-24s rows=%-8d dq_pass=%-5v violations=%d%s\n",
			m.SourceName, m.TableName, m.RowsLoaded, m.DQPass, m.DQViolations, errText)
	}
	if len(metrics) == 0 {
		fmt.Println("  (none)")
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultSourcesPath, "path to sources.yml")
	only := fs.String("only", "", "export just this source")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	db, err := database.NewDB(cfg.Defaults.DBPath, cfg.Defaults.Debug)
	if err != nil {
		return fmt.Errorf("open store %s: %w", cfg.Defaults.DBPath, err)
	}
	defer db.Close()

	ctx := context.Background()
	exported := 0
	for _, sources := range cfg.Groups {
		for i := range sources {
			src := &sources[i]
			if src.Export == nil {
				continue
			}
			if *only != "" && src.Name != *only {
				continue
			}
			out, err := export.Export(ctx, db, src.DestTable(), src.Export)
			if err != nil {
				return fmt.Errorf("export %s: %w", src.DestTable(), err)
			}
			fmt.Printf("exported %s -> %s files=%d overwritten=%d\n",
				src.DestTable(), src.Export.Dir, out.FilesWritten, out.Overwritten)
			exported++
		}
	}
	if exported == 0 {
		if *only != "" {
			return fmt.Errorf("no exportable source named %q", *only)
		}
		fmt.Println("no sources configure export_parquet")
	}
	return nil
}

func cmdReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	dbPath := fs.String("db", "data/warehouse.db", "path to the store")
	outDir := fs.String("out", "data/reports", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := database.NewDB(*dbPath, false)
	if err != nil {
		return fmt.Errorf("open store %s: %w", *dbPath, err)
	}
	defer db.Close()

	path, err := report.Assemble(context.Background(), db, *dbPath, *outDir)
	if err != nil {
		return err
	}
	fmt.Printf("report written to %s\n", path)
	return nil
}
