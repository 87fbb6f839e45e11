package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/aevon-lab/ledgerview/internal/api/v1"
	"github.com/aevon-lab/ledgerview/internal/core/aggregation"
)

var (
	// ErrNotFound is returned when no row exists for the requested key or id.
	ErrNotFound = errors.New("not found")

	// ErrSuperseded is returned by AggregateStore.Put when the stored record was
	// built by a job that started later than the writer's job.
	ErrSuperseded = errors.New("aggregate superseded by a newer rebuild")

	// ErrVerificationInconclusive means an object store existence check failed.
	// The candidate is treated as owned and left untouched.
	ErrVerificationInconclusive = errors.New("storage verification inconclusive")
)

// ScanQuery bounds a transaction log read to a processing-date range and an
// optional entity.
type ScanQuery struct {
	Start    time.Time // inclusive
	End      time.Time // exclusive
	EntityID string    // empty means every entity
}

// TransactionLog is the read-only view of the ingested record log.
type TransactionLog interface {
	// ScanRecords returns up to limit rows with seq > afterSeq in seq order.
	// afterSeq = 0 means "from the beginning of the range".
	ScanRecords(ctx context.Context, q ScanQuery, afterSeq int64, limit int) ([]*v1.Record, error)

	// CountRecords returns the number of rows in range, malformed rows included.
	CountRecords(ctx context.Context, q ScanQuery) (int64, error)

	// ListPage returns rows [offset, offset+limit) of the range in seq order.
	ListPage(ctx context.Context, q ScanQuery, offset, limit int) ([]*v1.Record, error)
}

// KeyPattern selects durable aggregates for Clear. Empty fields match everything.
type KeyPattern struct {
	Kind         string
	PeriodPrefix string // "2024" matches every 2024 period, pages included
	Dimension    string
}

// StoredAggregate is the raw identity and metadata of a durable row, as written.
// Kind, Period and Dimension are not canonicalized, so rows written under loose
// spellings by older writers stay addressable.
type StoredAggregate struct {
	Kind         string
	Period       string
	Dimension    string
	RowCount     int64
	PayloadBytes int64
	BuiltAt      time.Time
	JobID        string
}

// AggregateRef addresses one durable row by its raw key columns.
type AggregateRef struct {
	Kind      string
	Period    string
	Dimension string
}

// Ref returns the raw address of the row.
func (s StoredAggregate) Ref() AggregateRef {
	return AggregateRef{Kind: s.Kind, Period: s.Period, Dimension: s.Dimension}
}

// AggregateStore persists one authoritative AggregateRecord per key.
type AggregateStore interface {
	// Get returns ErrNotFound when no record exists for key.
	Get(ctx context.Context, key aggregation.AggregateKey) (*aggregation.AggregateRecord, error)

	// Put replaces the record for rec.Key atomically. It returns ErrSuperseded
	// when the stored record's JobStartedAt is later than rec.JobStartedAt.
	Put(ctx context.Context, rec *aggregation.AggregateRecord) error

	// Exists reports whether a record exists for key.
	Exists(ctx context.Context, key aggregation.AggregateKey) (bool, error)

	// Clear deletes every record matching pattern and returns the count.
	Clear(ctx context.Context, pattern KeyPattern) (int64, error)

	// ListAggregates returns every stored row without payloads.
	ListAggregates(ctx context.Context) ([]StoredAggregate, error)

	// Delete removes rows by raw address and returns the count.
	Delete(ctx context.Context, refs []AggregateRef) (int64, error)
}

// JobStore tracks rebuild jobs.
type JobStore interface {
	// CreateJob inserts job unless a queued or running job exists for job.Key.
	// In that case the existing job is returned with attached = true.
	// The check and the insert are one atomic step.
	CreateJob(ctx context.Context, job *RebuildJob) (stored *RebuildJob, attached bool, err error)

	// GetJob returns ErrNotFound for unknown ids.
	GetJob(ctx context.Context, jobID string) (*RebuildJob, error)

	// ActiveJob returns the queued or running job for key, or ErrNotFound.
	ActiveJob(ctx context.Context, key aggregation.AggregateKey) (*RebuildJob, error)

	MarkRunning(ctx context.Context, jobID string, startedAt time.Time) error
	UpdateProgress(ctx context.Context, jobID string, progress JobProgress) error
	MarkCompleted(ctx context.Context, jobID string, completedAt time.Time, progress JobProgress) error
	MarkFailed(ctx context.Context, jobID string, completedAt time.Time, detail string) error

	// PruneTerminal deletes completed and failed jobs that finished before cutoff.
	PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}

// UploadStore exposes the ingestion pipeline's upload bookkeeping.
type UploadStore interface {
	// ListUploads returns uploads that are not soft-deleted.
	ListUploads(ctx context.Context) ([]Upload, error)

	// SoftDeleteUploads marks uploads deleted. Their storage objects become orphans.
	SoftDeleteUploads(ctx context.Context, ids []string, at time.Time) (int64, error)

	// ListOrphanObjects returns storage objects whose upload is missing or soft-deleted.
	ListOrphanObjects(ctx context.Context) ([]StorageObject, error)

	// MarkObjectsForPurge stamps purge_marked_at on objects not already marked.
	MarkObjectsForPurge(ctx context.Context, ids []string, at time.Time) (int64, error)

	// DeleteObjectRecords removes storage object rows.
	DeleteObjectRecords(ctx context.Context, ids []string) (int64, error)
}

// ObjectStore is the backing blob store for uploaded files.
type ObjectStore interface {
	Exists(ctx context.Context, objectKey string) (bool, error)
	Delete(ctx context.Context, objectKey string) error
}
