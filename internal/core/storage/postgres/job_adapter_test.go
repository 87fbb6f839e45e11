package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aevon-lab/ledgerview/internal/core/aggregation"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
	"github.com/stretchr/testify/require"
)

func jobRowColumns() []string {
	return []string{
		"job_id", "kind", "period", "dimension", "status", "created_at", "started_at", "completed_at",
		"processed", "total", "error_detail", "triggered_by", "requested_by", "reason", "never_expires",
	}
}

func newTestJob(now time.Time) *storage.RebuildJob {
	return &storage.RebuildJob{
		JobID:       "job-new",
		Key:         aggregation.AggregateKey{Kind: "daily-activity-count", Period: aggregation.MustParsePeriod("2024-03-15")},
		Status:      storage.JobQueued,
		CreatedAt:   now,
		TriggeredBy: storage.TriggerAdmin,
		RequestedBy: "ops",
		Reason:      "late file",
	}
}

func TestJobAdapter_CreateJob_Inserted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewJobAdapter(db)
	now := time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)
	job := newTestJob(now)

	mock.ExpectQuery(regexp.QuoteMeta(queryInsertJob)).
		WithArgs("job-new", "daily-activity-count", "2024-03-15", "", now, "admin", "ops", "late file", false).
		WillReturnRows(sqlmock.NewRows(jobRowColumns()).AddRow(
			"job-new", "daily-activity-count", "2024-03-15", "", "queued", now, nil, nil,
			int64(0), int64(0), nil, "admin", "ops", "late file", false,
		))

	stored, attached, err := adapter.CreateJob(context.Background(), job)
	require.NoError(t, err)
	require.False(t, attached)
	require.Equal(t, "job-new", stored.JobID)
	require.Equal(t, storage.JobQueued, stored.Status)
	require.Equal(t, job.Key, stored.Key)
	require.Nil(t, stored.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobAdapter_CreateJob_AttachesToActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewJobAdapter(db)
	now := time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)
	started := now.Add(-time.Minute)

	// Partial unique index conflict: DO NOTHING returns no row.
	mock.ExpectQuery(regexp.QuoteMeta(queryInsertJob)).
		WillReturnRows(sqlmock.NewRows(jobRowColumns()))
	mock.ExpectQuery(regexp.QuoteMeta(queryActiveJob)).
		WithArgs("daily-activity-count", "2024-03-15", "").
		WillReturnRows(sqlmock.NewRows(jobRowColumns()).AddRow(
			"job-running", "daily-activity-count", "2024-03-15", "", "running", started.Add(-time.Second), started, nil,
			int64(400), int64(1200), nil, "read-miss", "", "", false,
		))

	stored, attached, err := adapter.CreateJob(context.Background(), newTestJob(now))
	require.NoError(t, err)
	require.True(t, attached)
	require.Equal(t, "job-running", stored.JobID)
	require.Equal(t, storage.JobRunning, stored.Status)
	require.Equal(t, storage.JobProgress{Processed: 400, Total: 1200}, stored.Progress)
	require.NotNil(t, stored.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobAdapter_CreateJob_RetriesWhenActiveJobFinished(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewJobAdapter(db)
	now := time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryInsertJob)).WillReturnRows(sqlmock.NewRows(jobRowColumns()))
	mock.ExpectQuery(regexp.QuoteMeta(queryActiveJob)).WillReturnRows(sqlmock.NewRows(jobRowColumns()))
	mock.ExpectQuery(regexp.QuoteMeta(queryInsertJob)).
		WillReturnRows(sqlmock.NewRows(jobRowColumns()).AddRow(
			"job-new", "daily-activity-count", "2024-03-15", "", "queued", now, nil, nil,
			int64(0), int64(0), nil, "admin", "ops", "late file", false,
		))

	stored, attached, err := adapter.CreateJob(context.Background(), newTestJob(now))
	require.NoError(t, err)
	require.False(t, attached)
	require.Equal(t, "job-new", stored.JobID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobAdapter_Transitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewJobAdapter(db)
	ctx := context.Background()
	now := time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(queryMarkRunning)).
		WithArgs("job-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryUpdateProgress)).
		WithArgs("job-1", int64(500), int64(1200)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryMarkCompleted)).
		WithArgs("job-1", now.Add(time.Second), int64(1200), int64(1200)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryMarkFailed)).
		WithArgs("job-1", now.Add(2*time.Second), "superseded").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, adapter.MarkRunning(ctx, "job-1", now))
	require.NoError(t, adapter.UpdateProgress(ctx, "job-1", storage.JobProgress{Processed: 500, Total: 1200}))
	require.NoError(t, adapter.MarkCompleted(ctx, "job-1", now.Add(time.Second), storage.JobProgress{Processed: 1200, Total: 1200}))

	// Already terminal: no row matches the status guard.
	err = adapter.MarkFailed(ctx, "job-1", now.Add(2*time.Second), storage.DetailSuperseded)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobAdapter_GetJobNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewJobAdapter(db)
	mock.ExpectQuery(regexp.QuoteMeta(queryGetJob)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(jobRowColumns()))

	_, err = adapter.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobAdapter_PruneTerminal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewJobAdapter(db)
	cutoff := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(queryPruneTerminal)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := adapter.PruneTerminal(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
