// Package report renders a static HTML summary of the ledger for quick
// inspection without the CLI.
package report

import (
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/uptrace/bun"

	"github.com/etlite-io/etlite/internal/ledger"
)

var pageTmpl = template.Must(template.New("report").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>etlite report</title>
<style>
body{font-family:system-ui,sans-serif;margin:24px}
table{border-collapse:collapse;width:100%}
th,td{border:1px solid #ddd;padding:6px 8px;font-size:13px}
th{background:#f6f6f6;text-align:left}
h1{margin-top:0} h2{margin-top:28px}
</style></head><body>
<h1>ETL run report</h1>
<ul>
<li>DB: <code>{{.DBPath}}</code></li>
<li>Generated: <code>{{.Now}}</code></li>
</ul>

<h2>Latest runs</h2>
{{if .Runs}}<table>
<tr><th>run</th><th>group</th><th>status</th><th>started</th><th>rows</th><th>duration (s)</th><th>error</th></tr>
{{range .Runs}}<tr><td>{{.RunID}}</td><td>{{.GroupName}}</td><td>{{.Status}}</td><td>{{.Started}}</td><td>{{.RowsTotal}}</td><td>{{printf "%.2f" .DurationS}}</td><td>{{.ErrorText}}</td></tr>
{{end}}</table>{{else}}<p><i>(no runs)</i></p>{{end}}

<h2>Recent metrics</h2>
{{if .Metrics}}<table>
<tr><th>run</th><th>source</th><th>table</th><th>rows</th><th>dq pass</th><th>violations</th><th>loaded at</th></tr>
{{range .Metrics}}<tr><td>{{.RunID}}</td><td>{{.SourceName}}</td><td>{{.TableName}}</td><td>{{.RowsLoaded}}</td><td>{{.DQPass}}</td><td>{{.DQViolations}}</td><td>{{.LoadedAt}}</td></tr>
{{end}}</table>{{else}}<p><i>(no metrics)</i></p>{{end}}

<h2>Latest load per table</h2>
{{if .Latest}}<table>
<tr><th>table</th><th>source</th><th>rows</th><th>dq pass</th><th>violations</th><th>loaded at</th></tr>
{{range .Latest}}<tr><td>{{.TableName}}</td><td>{{.SourceName}}</td><td>{{.RowsLoaded}}</td><td>{{.DQPass}}</td><td>{{.DQViolations}}</td><td>{{.LoadedAt}}</td></tr>
{{end}}</table>{{else}}<p><i>(no loads)</i></p>{{end}}
</body></html>
`))

type runView struct {
	RunID     string
	GroupName string
	Status    string
	Started   string
	RowsTotal int64
	DurationS float64
	ErrorText string
}

type pageData struct {
	DBPath  string
	Now     string
	Runs    []runView
	Metrics []ledger.Metric
	Latest  []ledger.Metric
}

func runViews(runs []ledger.Run) []runView {
	out := make([]runView, len(runs))
	for i, r := range runs {
		v := runView{
			RunID:     r.RunID,
			GroupName: r.GroupName,
			Status:    r.Status,
			Started:   r.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			RowsTotal: r.RowsTotal,
			DurationS: r.DurationS,
		}
		if r.Error != nil {
			v.ErrorText = *r.Error
		}
		out[i] = v
	}
	return out
}

// Assemble queries the ledger and writes run_<ts>.html into outDir,
// returning the written path.
func Assemble(ctx context.Context, db *bun.DB, dbPath, outDir string) (string, error) {
	runs, err := ledger.RecentRuns(ctx, db, 20)
	if err != nil {
		return "", fmt.Errorf("load runs: %w", err)
	}
	metrics, err := ledger.RecentMetrics(ctx, db, 100)
	if err != nil {
		return "", fmt.Errorf("load metrics: %w", err)
	}
	latest, err := ledger.LatestLoads(ctx, db)
	if err != nil {
		return "", fmt.Errorf("load latest loads: %w", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	now := time.Now().UTC()
	path := filepath.Join(outDir, fmt.Sprintf("run_%s.html", now.Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	data := pageData{
		DBPath:  dbPath,
		Now:     now.Format("2006-01-02 15:04:05 UTC"),
		Runs:    runViews(runs),
		Metrics: metrics,
		Latest:  latest,
	}
	if err := pageTmpl.Execute(f, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return path, nil
}
