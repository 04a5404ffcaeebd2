package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"vitalis/internal/types"
)

// ErrDuplicateRun means a run with the same idempotency key already
// exists; the scheduler skips instead of re-executing.
var ErrDuplicateRun = errors.New("store: duplicate job run")

// CreateJobRun inserts a run record. The unique idempotency-key index is
// the dedupe mechanism: a second insert for the same (job, bucket) comes
// back as ErrDuplicateRun.
func (s *Store) CreateJobRun(ctx context.Context, run *types.JobRun) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (job_id, idempotency_key, status, started_at,
			completed_at, duration_ms, result_summary, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.JobID, run.IdempotencyKey, string(run.Status),
		encodeTimePtr(run.StartedAt), encodeTimePtr(run.CompletedAt),
		run.DurationMs, run.ResultSummary, run.Error)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateRun
		}
		return fmt.Errorf("create job run: %w", err)
	}
	run.ID, _ = res.LastInsertId()
	return nil
}

// CompletedRunWithKey reports whether a completed run already exists for
// the idempotency key.
func (s *Store) CompletedRunWithKey(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM job_runs
		WHERE idempotency_key = ? AND status = 'completed'`, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check job run: %w", err)
	}
	return n > 0, nil
}

// UpdateJobRun rewrites the run's terminal fields.
func (s *Store) UpdateJobRun(ctx context.Context, run *types.JobRun) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_runs SET status = ?, started_at = ?, completed_at = ?,
			duration_ms = ?, result_summary = ?, error = ?
		WHERE id = ?`,
		string(run.Status), encodeTimePtr(run.StartedAt),
		encodeTimePtr(run.CompletedAt), run.DurationMs,
		run.ResultSummary, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("update job run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RunsForJob lists a job's run records, newest first.
func (s *Store) RunsForJob(ctx context.Context, jobID string, limit int) ([]types.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, idempotency_key, status, started_at, completed_at,
			duration_ms, result_summary, error
		FROM job_runs WHERE job_id = ?
		ORDER BY id DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	var out []types.JobRun
	for rows.Next() {
		r := types.JobRun{JobID: jobID}
		var status string
		var started, completed sql.NullString
		if err := rows.Scan(&r.ID, &r.IdempotencyKey, &status, &started,
			&completed, &r.DurationMs, &r.ResultSummary, &r.Error); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		r.Status = types.JobStatus(status)
		r.StartedAt = decodeTimePtr(started)
		r.CompletedAt = decodeTimePtr(completed)
		out = append(out, r)
	}
	return out, rows.Err()
}
