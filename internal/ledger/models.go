package ledger

import (
	"time"

	"github.com/uptrace/bun"
)

// Run statuses. A run starts as running and is finalized exactly once.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Run is one group execution in the etl_runs ledger. Created at run
// start, finalized once at run end, append-only afterward.
type Run struct {
	bun.BaseModel `bun:"table:etl_runs,alias:r"`

	RunID        string     `bun:"run_id,pk" json:"run_id"`
	GroupName    string     `bun:"group_name,notnull" json:"group"`
	StartedAt    time.Time  `bun:"started_at,notnull" json:"started_at"`
	FinishedAt   *time.Time `bun:"finished_at" json:"finished_at,omitempty"`
	Status       string     `bun:"status,notnull" json:"status"`
	Error        *string    `bun:"error" json:"error,omitempty"`
	SourcesCount int        `bun:"sources_count,default:0" json:"sources"`
	RowsTotal    int64      `bun:"rows_total,default:0" json:"rows_total"`
	DurationS    float64    `bun:"duration_s,default:0" json:"duration_s"`
}

// Metric is one source execution in the etl_metrics ledger: exactly one
// row per attempted source, appended regardless of outcome, never
// updated or deleted by normal operation.
type Metric struct {
	bun.BaseModel `bun:"table:etl_metrics,alias:m"`

	ID           int64     `bun:"id,pk,autoincrement" json:"-"`
	RunID        string    `bun:"run_id,notnull" json:"run_id"`
	SourceName   string    `bun:"source_name,notnull" json:"source"`
	TableName    string    `bun:"table_name,notnull" json:"table"`
	RowsLoaded   int64     `bun:"rows_loaded,default:0" json:"rows_loaded"`
	DurationS    float64   `bun:"duration_s,default:0" json:"duration_s"`
	DQPass       bool      `bun:"dq_pass,notnull" json:"dq_pass"`
	DQViolations int       `bun:"dq_violations,default:0" json:"dq_violations"`
	Error        *string   `bun:"error" json:"error,omitempty"`
	LoadedAt     time.Time `bun:"loaded_at,notnull" json:"loaded_at"`
}
