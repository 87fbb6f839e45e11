package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aevon-lab/ledgerview/internal/core/aggregation"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

// createJobAttempts bounds the insert/attach loop. A retry is only needed when
// the active job finished between the conflicting insert and the attach read.
const createJobAttempts = 3

const (
	jobColumns = `
		job_id, kind, period, dimension, status, created_at, started_at, completed_at,
		processed, total, error_detail, triggered_by, requested_by, reason, never_expires
	`

	// queryInsertJob relies on the partial unique index uq_rebuild_jobs_active.
	// A conflict means a queued or running job already exists; no row is returned.
	queryInsertJob = `
		INSERT INTO rebuild_jobs (
			job_id, kind, period, dimension, status, created_at,
			triggered_by, requested_by, reason, never_expires
		) VALUES ($1, $2, $3, $4, 'queued', $5, $6, $7, $8, $9)
		ON CONFLICT (kind, period, dimension) WHERE status IN ('queued', 'running')
		DO NOTHING
		RETURNING` + jobColumns

	queryGetJob = `SELECT` + jobColumns + `FROM rebuild_jobs WHERE job_id = $1`

	queryActiveJob = `SELECT` + jobColumns + `
		FROM rebuild_jobs
		WHERE kind = $1 AND period = $2 AND dimension = $3
		  AND status IN ('queued', 'running')
	`

	queryMarkRunning = `
		UPDATE rebuild_jobs
		SET status = 'running', started_at = $2
		WHERE job_id = $1 AND status = 'queued'
	`

	queryUpdateProgress = `
		UPDATE rebuild_jobs
		SET processed = $2, total = $3
		WHERE job_id = $1 AND status = 'running'
	`

	queryMarkCompleted = `
		UPDATE rebuild_jobs
		SET status = 'completed', completed_at = $2, processed = $3, total = $4
		WHERE job_id = $1 AND status = 'running'
	`

	queryMarkFailed = `
		UPDATE rebuild_jobs
		SET status = 'failed', completed_at = $2, error_detail = $3
		WHERE job_id = $1 AND status IN ('queued', 'running')
	`

	queryPruneTerminal = `
		DELETE FROM rebuild_jobs
		WHERE status IN ('completed', 'failed')
		  AND completed_at < $1
	`
)

// JobAdapter implements storage.JobStore using PostgreSQL.
type JobAdapter struct {
	db *sql.DB
}

var _ storage.JobStore = (*JobAdapter)(nil)

// NewJobAdapter creates a JobAdapter sharing the given connection.
func NewJobAdapter(db *sql.DB) *JobAdapter {
	return &JobAdapter{db: db}
}

// CreateJob inserts job as queued, or returns the active job for its key.
func (a *JobAdapter) CreateJob(ctx context.Context, job *storage.RebuildJob) (*storage.RebuildJob, bool, error) {
	for attempt := 1; attempt <= createJobAttempts; attempt++ {
		created, err := scanJobRow(a.db.QueryRowContext(ctx, queryInsertJob,
			job.JobID,
			job.Key.Kind,
			job.Key.Period.String(),
			job.Key.Dimension,
			job.CreatedAt,
			string(job.TriggeredBy),
			job.RequestedBy,
			job.Reason,
			job.NeverExpires,
		))
		if err == nil {
			return created, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("create job %s: %w", job.Key, err)
		}

		active, err := a.ActiveJob(ctx, job.Key)
		if err == nil {
			return active, true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, false, err
		}

		slog.Debug("[JobAdapter] Active job finished during attach, retrying insert",
			"key", job.Key.String(),
			"attempt", attempt)
	}
	return nil, false, fmt.Errorf("create job %s: active job churned %d times", job.Key, createJobAttempts)
}

// GetJob loads a job by id.
func (a *JobAdapter) GetJob(ctx context.Context, jobID string) (*storage.RebuildJob, error) {
	job, err := scanJobRow(a.db.QueryRowContext(ctx, queryGetJob, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// ActiveJob loads the queued or running job for key.
func (a *JobAdapter) ActiveJob(ctx context.Context, key aggregation.AggregateKey) (*storage.RebuildJob, error) {
	job, err := scanJobRow(a.db.QueryRowContext(ctx, queryActiveJob, key.Kind, key.Period.String(), key.Dimension))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active job %s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("active job %s: %w", key, err)
	}
	return job, nil
}

// MarkRunning transitions a queued job to running.
func (a *JobAdapter) MarkRunning(ctx context.Context, jobID string, startedAt time.Time) error {
	return a.transition(ctx, "mark running", jobID, queryMarkRunning, jobID, startedAt)
}

// UpdateProgress records progress on a running job.
func (a *JobAdapter) UpdateProgress(ctx context.Context, jobID string, progress storage.JobProgress) error {
	return a.transition(ctx, "update progress", jobID, queryUpdateProgress, jobID, progress.Processed, progress.Total)
}

// MarkCompleted transitions a running job to completed with final progress.
func (a *JobAdapter) MarkCompleted(ctx context.Context, jobID string, completedAt time.Time, progress storage.JobProgress) error {
	return a.transition(ctx, "mark completed", jobID, queryMarkCompleted, jobID, completedAt, progress.Processed, progress.Total)
}

// MarkFailed transitions a queued or running job to failed.
func (a *JobAdapter) MarkFailed(ctx context.Context, jobID string, completedAt time.Time, detail string) error {
	return a.transition(ctx, "mark failed", jobID, queryMarkFailed, jobID, completedAt, nullString(detail))
}

func (a *JobAdapter) transition(ctx context.Context, op, jobID, query string, args ...interface{}) error {
	result, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, jobID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", op, jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: no job in a valid state: %w", op, jobID, storage.ErrNotFound)
	}
	return nil
}

// PruneTerminal deletes terminal jobs completed before cutoff.
func (a *JobAdapter) PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := a.db.ExecContext(ctx, queryPruneTerminal, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune jobs: rows affected: %w", err)
	}
	if n > 0 {
		slog.Info("[JobAdapter] Pruned terminal jobs", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
