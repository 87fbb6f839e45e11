package postgres

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	v1 "github.com/aevon-lab/ledgerview/internal/api/v1"
	"github.com/aevon-lab/ledgerview/internal/core/aggregation"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecordRow scans a transactions row.
// Nullable columns map to zero values; Record.Validate decides whether the row is usable.
func scanRecordRow(row scanner) (*v1.Record, error) {
	var (
		rec            v1.Record
		entityID       sql.NullString
		recordType     sql.NullString
		processingDate sql.NullTime
		rawAmount      sql.NullString
	)

	err := row.Scan(
		&rec.Seq,
		&rec.ID,
		&rec.UploadID,
		&entityID,
		&recordType,
		&processingDate,
		&rawAmount,
		&rec.CurrencyExponent,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction row: %w", err)
	}

	rec.EntityID = entityID.String
	rec.RecordType = recordType.String
	if processingDate.Valid {
		rec.ProcessingDate = processingDate.Time.UTC()
	}
	rec.RawAmount = rawAmount.String
	return &rec, nil
}

// scanJobRow scans a rebuild_jobs row.
func scanJobRow(row scanner) (*storage.RebuildJob, error) {
	var (
		job         storage.RebuildJob
		kind        string
		period      string
		dimension   string
		status      string
		triggeredBy string
		startedAt   sql.NullTime
		completedAt sql.NullTime
		errorDetail sql.NullString
	)

	err := row.Scan(
		&job.JobID,
		&kind,
		&period,
		&dimension,
		&status,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.Progress.Processed,
		&job.Progress.Total,
		&errorDetail,
		&triggeredBy,
		&job.RequestedBy,
		&job.Reason,
		&job.NeverExpires,
	)
	if err != nil {
		return nil, err
	}

	p, err := aggregation.ParsePeriod(period)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.JobID, err)
	}
	job.Key = aggregation.AggregateKey{Kind: kind, Period: p, Dimension: dimension}
	job.Status = storage.JobStatus(status)
	job.TriggeredBy = storage.Trigger(triggeredBy)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	job.ErrorDetail = errorDetail.String
	return &job, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// likePrefix escapes LIKE metacharacters in prefix and appends the wildcard.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
