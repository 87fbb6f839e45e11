package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aevon-lab/ledgerview/internal/core/aggregation"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

const (
	// queryUpsertAggregate replaces the whole row for a key.
	// The WHERE guard rejects writers whose job started before the stored row's
	// job; a rejected upsert returns no row.
	queryUpsertAggregate = `
		INSERT INTO aggregates (
			kind, period, dimension, shape, payload, row_count, skipped_count,
			build_duration_ms, built_at, job_started_at, never_expires,
			requested_by, request_reason, kind_fingerprint, job_id, payload_bytes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (kind, period, dimension)
		DO UPDATE SET
			shape             = EXCLUDED.shape,
			payload           = EXCLUDED.payload,
			row_count         = EXCLUDED.row_count,
			skipped_count     = EXCLUDED.skipped_count,
			build_duration_ms = EXCLUDED.build_duration_ms,
			built_at          = EXCLUDED.built_at,
			job_started_at    = EXCLUDED.job_started_at,
			never_expires     = EXCLUDED.never_expires,
			requested_by      = EXCLUDED.requested_by,
			request_reason    = EXCLUDED.request_reason,
			kind_fingerprint  = EXCLUDED.kind_fingerprint,
			job_id            = EXCLUDED.job_id,
			payload_bytes     = EXCLUDED.payload_bytes
		WHERE aggregates.job_started_at <= EXCLUDED.job_started_at
		RETURNING job_id
	`

	queryGetAggregate = `
		SELECT
			shape, payload, row_count, skipped_count, build_duration_ms, built_at,
			job_started_at, never_expires, requested_by, request_reason,
			kind_fingerprint, job_id, payload_bytes
		FROM aggregates
		WHERE kind = $1 AND period = $2 AND dimension = $3
	`

	queryExistsAggregate = `
		SELECT EXISTS (
			SELECT 1 FROM aggregates
			WHERE kind = $1 AND period = $2 AND dimension = $3
		)
	`

	queryClearAggregates = `
		DELETE FROM aggregates
		WHERE ($1 = '' OR kind = $1)
		  AND period LIKE $2
		  AND ($3 = '' OR dimension = $3)
	`

	queryListAggregates = `
		SELECT kind, period, dimension, row_count, payload_bytes, built_at, job_id
		FROM aggregates
		ORDER BY kind, period, dimension
	`

	queryDeleteAggregate = `
		DELETE FROM aggregates
		WHERE kind = $1 AND period = $2 AND dimension = $3
	`
)

// AggregateAdapter implements storage.AggregateStore using PostgreSQL.
// Each put is one upsert statement, so readers see either the previous payload
// or the new one, never a mix.
type AggregateAdapter struct {
	db *sql.DB
}

var _ storage.AggregateStore = (*AggregateAdapter)(nil)

// NewAggregateAdapter creates an AggregateAdapter sharing the given connection.
func NewAggregateAdapter(db *sql.DB) *AggregateAdapter {
	return &AggregateAdapter{db: db}
}

// Put replaces the record for rec.Key and sets rec.PayloadBytes.
// Returns storage.ErrSuperseded when a record from a later-started job is
// already stored.
func (a *AggregateAdapter) Put(ctx context.Context, rec *aggregation.AggregateRecord) error {
	payload, err := aggregation.EncodePayload(rec.Payload)
	if err != nil {
		return fmt.Errorf("aggregate put %s: %w", rec.Key, err)
	}
	rec.PayloadBytes = int64(len(payload))

	var storedJobID string
	err = a.db.QueryRowContext(ctx, queryUpsertAggregate,
		rec.Key.Kind,
		rec.Key.Period.String(),
		rec.Key.Dimension,
		string(rec.Shape),
		payload,
		rec.RowCount,
		rec.SkippedCount,
		rec.BuildDurationMs,
		rec.BuiltAt,
		rec.JobStartedAt,
		rec.NeverExpires,
		rec.RequestedBy,
		rec.RequestReason,
		rec.KindFingerprint,
		rec.JobID,
		rec.PayloadBytes,
	).Scan(&storedJobID)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn("[AggregateAdapter] Put rejected by newer record",
			"key", rec.Key.String(),
			"job_id", rec.JobID,
			"job_started_at", rec.JobStartedAt)
		return fmt.Errorf("aggregate put %s: %w", rec.Key, storage.ErrSuperseded)
	}
	if err != nil {
		return fmt.Errorf("aggregate put %s: %w", rec.Key, err)
	}

	slog.Debug("[AggregateAdapter] Stored aggregate",
		"key", rec.Key.String(),
		"job_id", storedJobID,
		"rows", rec.RowCount,
		"payload_bytes", rec.PayloadBytes)
	return nil
}

// Get loads and decodes the record for key.
func (a *AggregateAdapter) Get(ctx context.Context, key aggregation.AggregateKey) (*aggregation.AggregateRecord, error) {
	var (
		rec     = aggregation.AggregateRecord{Key: key}
		shape   string
		payload []byte
	)
	err := a.db.QueryRowContext(ctx, queryGetAggregate, key.Kind, key.Period.String(), key.Dimension).Scan(
		&shape,
		&payload,
		&rec.RowCount,
		&rec.SkippedCount,
		&rec.BuildDurationMs,
		&rec.BuiltAt,
		&rec.JobStartedAt,
		&rec.NeverExpires,
		&rec.RequestedBy,
		&rec.RequestReason,
		&rec.KindFingerprint,
		&rec.JobID,
		&rec.PayloadBytes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("aggregate %s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("aggregate get %s: %w", key, err)
	}

	rec.Shape = aggregation.Shape(shape)
	rec.Payload, err = aggregation.DecodePayload(rec.Shape, payload)
	if err != nil {
		return nil, fmt.Errorf("aggregate get %s: %w", key, err)
	}
	rec.BuiltAt = rec.BuiltAt.UTC()
	rec.JobStartedAt = rec.JobStartedAt.UTC()
	return &rec, nil
}

// Exists reports whether a record is stored for key.
func (a *AggregateAdapter) Exists(ctx context.Context, key aggregation.AggregateKey) (bool, error) {
	var exists bool
	err := a.db.QueryRowContext(ctx, queryExistsAggregate, key.Kind, key.Period.String(), key.Dimension).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("aggregate exists %s: %w", key, err)
	}
	return exists, nil
}

// Clear deletes every record matching pattern.
func (a *AggregateAdapter) Clear(ctx context.Context, pattern storage.KeyPattern) (int64, error) {
	result, err := a.db.ExecContext(ctx, queryClearAggregates,
		pattern.Kind,
		likePrefix(pattern.PeriodPrefix),
		pattern.Dimension,
	)
	if err != nil {
		return 0, fmt.Errorf("aggregate clear: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("aggregate clear: rows affected: %w", err)
	}

	slog.Info("[AggregateAdapter] Cleared aggregates",
		"kind", pattern.Kind,
		"period_prefix", pattern.PeriodPrefix,
		"dimension", pattern.Dimension,
		"count", n)
	return n, nil
}

// ListAggregates returns the identity and metadata of every stored row.
func (a *AggregateAdapter) ListAggregates(ctx context.Context) ([]storage.StoredAggregate, error) {
	rows, err := a.db.QueryContext(ctx, queryListAggregates)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	defer rows.Close()

	var out []storage.StoredAggregate
	for rows.Next() {
		var s storage.StoredAggregate
		if err := rows.Scan(
			&s.Kind,
			&s.Period,
			&s.Dimension,
			&s.RowCount,
			&s.PayloadBytes,
			&s.BuiltAt,
			&s.JobID,
		); err != nil {
			return nil, fmt.Errorf("list aggregates: scan row: %w", err)
		}
		s.BuiltAt = s.BuiltAt.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list aggregates: iterate rows: %w", err)
	}
	return out, nil
}

// Delete removes rows by raw address in one transaction.
func (a *AggregateAdapter) Delete(ctx context.Context, refs []storage.AggregateRef) (int64, error) {
	if len(refs) == 0 {
		return 0, nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("aggregate delete: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, queryDeleteAggregate)
	if err != nil {
		return 0, fmt.Errorf("aggregate delete: prepare: %w", err)
	}
	defer stmt.Close()

	var total int64
	for _, ref := range refs {
		result, err := stmt.ExecContext(ctx, ref.Kind, ref.Period, ref.Dimension)
		if err != nil {
			return 0, fmt.Errorf("aggregate delete %s/%s/%s: %w", ref.Kind, ref.Period, ref.Dimension, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("aggregate delete: rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("aggregate delete: commit: %w", err)
	}
	return total, nil
}
