package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

const (
	queryListUploads = `
		SELECT id, filename, COALESCE(business_key, ''), state, size_bytes,
		       COALESCE(object_key, ''), created_at, deleted_at
		FROM uploads
		WHERE deleted_at IS NULL
		ORDER BY created_at ASC, id ASC
	`

	querySoftDeleteUploads = `
		UPDATE uploads
		SET deleted_at = $2
		WHERE id = ANY($1) AND deleted_at IS NULL
	`

	// queryListOrphanObjects finds objects whose upload row is gone or soft-deleted.
	queryListOrphanObjects = `
		SELECT o.id, o.upload_id, o.object_key, o.size_bytes, o.created_at, o.purge_marked_at
		FROM storage_objects o
		LEFT JOIN uploads u ON u.id = o.upload_id
		WHERE u.id IS NULL OR u.deleted_at IS NOT NULL
		ORDER BY o.created_at ASC, o.id ASC
	`

	queryMarkObjectsForPurge = `
		UPDATE storage_objects
		SET purge_marked_at = $2
		WHERE id = ANY($1) AND purge_marked_at IS NULL
	`

	queryDeleteObjectRecords = `DELETE FROM storage_objects WHERE id = ANY($1)`
)

// UploadAdapter implements storage.UploadStore over the ingestion pipeline's tables.
type UploadAdapter struct {
	db *sql.DB
}

var _ storage.UploadStore = (*UploadAdapter)(nil)

// NewUploadAdapter creates an UploadAdapter sharing the given connection.
func NewUploadAdapter(db *sql.DB) *UploadAdapter {
	return &UploadAdapter{db: db}
}

// ListUploads returns every upload that is not soft-deleted, oldest first.
func (a *UploadAdapter) ListUploads(ctx context.Context) ([]storage.Upload, error) {
	rows, err := a.db.QueryContext(ctx, queryListUploads)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var out []storage.Upload
	for rows.Next() {
		var (
			u         storage.Upload
			state     string
			deletedAt sql.NullTime
		)
		if err := rows.Scan(
			&u.ID,
			&u.Filename,
			&u.BusinessKey,
			&state,
			&u.SizeBytes,
			&u.ObjectKey,
			&u.CreatedAt,
			&deletedAt,
		); err != nil {
			return nil, fmt.Errorf("list uploads: scan row: %w", err)
		}
		u.State = storage.UploadState(state)
		u.CreatedAt = u.CreatedAt.UTC()
		u.DeletedAt = timePtr(deletedAt)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list uploads: iterate rows: %w", err)
	}
	return out, nil
}

// SoftDeleteUploads stamps deleted_at on the given uploads.
func (a *UploadAdapter) SoftDeleteUploads(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := a.exec(ctx, querySoftDeleteUploads, pq.Array(ids), at)
	if err != nil {
		return 0, fmt.Errorf("soft delete uploads: %w", err)
	}
	slog.Info("[UploadAdapter] Soft-deleted uploads", "requested", len(ids), "deleted", n)
	return n, nil
}

// ListOrphanObjects returns storage objects with no live owning upload.
func (a *UploadAdapter) ListOrphanObjects(ctx context.Context) ([]storage.StorageObject, error) {
	rows, err := a.db.QueryContext(ctx, queryListOrphanObjects)
	if err != nil {
		return nil, fmt.Errorf("list orphan objects: %w", err)
	}
	defer rows.Close()

	var out []storage.StorageObject
	for rows.Next() {
		var (
			o        storage.StorageObject
			markedAt sql.NullTime
		)
		if err := rows.Scan(
			&o.ID,
			&o.UploadID,
			&o.ObjectKey,
			&o.SizeBytes,
			&o.CreatedAt,
			&markedAt,
		); err != nil {
			return nil, fmt.Errorf("list orphan objects: scan row: %w", err)
		}
		o.CreatedAt = o.CreatedAt.UTC()
		o.PurgeMarkedAt = timePtr(markedAt)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orphan objects: iterate rows: %w", err)
	}
	return out, nil
}

// MarkObjectsForPurge stamps purge_marked_at on unmarked objects. Existing marks
// are kept so the grace period runs from the first sighting.
func (a *UploadAdapter) MarkObjectsForPurge(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := a.exec(ctx, queryMarkObjectsForPurge, pq.Array(ids), at)
	if err != nil {
		return 0, fmt.Errorf("mark objects for purge: %w", err)
	}
	return n, nil
}

// DeleteObjectRecords removes storage object rows.
func (a *UploadAdapter) DeleteObjectRecords(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := a.exec(ctx, queryDeleteObjectRecords, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete object records: %w", err)
	}
	return n, nil
}

func (a *UploadAdapter) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
