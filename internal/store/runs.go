package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/orchestrator"
)

// RecordRun stores a team run and one row per task in a single transaction.
// It satisfies orchestrator.Recorder.
func (s *Store) RecordRun(ctx context.Context, report *orchestrator.RunReport) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`
			INSERT INTO runs (id, team, mode, success, deadlock, started_at, duration_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			report.ID, report.Team, string(report.Mode), report.Succeeded(),
			report.Deadlock, report.Started, report.Duration.Milliseconds(),
		)
		for i, t := range report.Tasks {
			var (
				success *bool
				output  []byte
				errMsg  string
			)
			if out, ok := report.Results[t.Name]; ok {
				success = &out.Success
				errMsg = out.Error
				if out.Output != nil {
					b, err := json.Marshal(out.Output)
					if err != nil {
						return fmt.Errorf("marshal output of %s: %w", t.Name, err)
					}
					output = b
				}
			}
			deps := t.DependsOn
			if deps == nil {
				deps = []string{}
			}
			batch.Queue(`
				INSERT INTO task_results (run_id, task, position, status, success, output, error, depends_on, started_at, completed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				report.ID, t.Name, i, string(t.Status), success, output, errMsg, deps, t.StartedAt, t.CompletedAt,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("record run %s: %w", report.ID, err)
	}
	s.logger.Debug("run recorded", zap.String("run_id", report.ID), zap.Int("tasks", len(report.Tasks)))
	return nil
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID       string        `json:"run_id"`
	Team     string        `json:"team_name"`
	Mode     string        `json:"mode"`
	Success  bool          `json:"success"`
	Deadlock string        `json:"deadlock,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// TaskRecord is one stored task result.
type TaskRecord struct {
	Task      string          `json:"task"`
	Status    string          `json:"status"`
	Success   *bool           `json:"success,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	DependsOn []string        `json:"depends_on"`
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, team, mode, success, deadlock, started_at, duration_ms
		FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var ms int64
		if err := rows.Scan(&r.ID, &r.Team, &r.Mode, &r.Success, &r.Deadlock, &r.Started, &ms); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TaskResults returns the stored tasks of a run in plan order.
func (s *Store) TaskResults(ctx context.Context, runID string) ([]TaskRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT task, status, success, output, error, depends_on
		FROM task_results WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("task results: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var output []byte
		if err := rows.Scan(&r.Task, &r.Status, &r.Success, &output, &r.Error, &r.DependsOn); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		if len(output) > 0 {
			r.Output = output
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
