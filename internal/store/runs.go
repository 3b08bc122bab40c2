package store

import (
	"context"
	"fmt"
	"time"
)

// Run is the stored digest of one workflow execution.
type Run struct {
	ExecutionID string    `json:"execution_id"`
	Workflow    string    `json:"workflow"`
	Success     bool      `json:"success"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	DurationMS  float64   `json:"duration_ms"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Runs stores workflow run digests.
type Runs struct {
	db *DB
}

// NewRuns creates a run store over db.
func NewRuns(db *DB) *Runs {
	return &Runs{db: db}
}

// Record inserts or replaces a run.
func (s *Runs) Record(ctx context.Context, r Run) error {
	if r.ExecutionID == "" {
		return fmt.Errorf("run has no execution id")
	}
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT OR REPLACE INTO workflow_runs
		 (execution_id, workflow, success, succeeded, failed, skipped, duration_ms, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ExecutionID, r.Workflow, r.Success, r.Succeeded, r.Failed, r.Skipped, r.DurationMS, r.FinishedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", r.ExecutionID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. An empty workflow matches
// every workflow.
func (s *Runs) Recent(ctx context.Context, workflow string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT execution_id, workflow, success, succeeded, failed, skipped, duration_ms, finished_at
		FROM workflow_runs`
	args := []any{}
	if workflow != "" {
		query += " WHERE workflow = ?"
		args = append(args, workflow)
	}
	query += " ORDER BY finished_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r  Run
			ts int64
		)
		if err := rows.Scan(&r.ExecutionID, &r.Workflow, &r.Success, &r.Succeeded, &r.Failed, &r.Skipped, &r.DurationMS, &ts); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.FinishedAt = time.UnixMicro(ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
