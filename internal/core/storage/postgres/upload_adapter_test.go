package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
	"github.com/stretchr/testify/require"
)

func TestUploadAdapter_ListUploads(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewUploadAdapter(db)
	created := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryListUploads)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "filename", "business_key", "state", "size_bytes", "object_key", "created_at", "deleted_at",
		}).
			AddRow("up-1", "Detail 0315.txt", "", "complete", int64(2048), "uploads/up-1", created, nil).
			AddRow("up-2", "detail 0315 (1).txt", "BK-1", "uploaded", int64(2048), "", created.Add(time.Hour), nil))

	uploads, err := adapter.ListUploads(context.Background())
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	require.Equal(t, storage.UploadComplete, uploads[0].State)
	require.Equal(t, "BK-1", uploads[1].BusinessKey)
	require.Nil(t, uploads[1].DeletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadAdapter_ListOrphanObjects(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewUploadAdapter(db)
	created := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	marked := created.Add(24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(queryListOrphanObjects)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "upload_id", "object_key", "size_bytes", "created_at", "purge_marked_at",
		}).
			AddRow("obj-1", "up-gone", "uploads/up-gone", int64(10), created, nil).
			AddRow("obj-2", "up-deleted", "uploads/up-deleted", int64(20), created, marked))

	objects, err := adapter.ListOrphanObjects(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 2)
	require.Nil(t, objects[0].PurgeMarkedAt)
	require.NotNil(t, objects[1].PurgeMarkedAt)
	require.Equal(t, marked, *objects[1].PurgeMarkedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadAdapter_Mutations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewUploadAdapter(db)
	ctx := context.Background()
	now := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(querySoftDeleteUploads)).
		WithArgs(sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(queryMarkObjectsForPurge)).
		WithArgs(sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryDeleteObjectRecords)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := adapter.SoftDeleteUploads(ctx, []string{"up-1", "up-2"}, now)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = adapter.MarkObjectsForPurge(ctx, []string{"obj-1"}, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = adapter.DeleteObjectRecords(ctx, []string{"obj-1", "obj-2", "obj-3"})
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	// Empty id lists never reach the database.
	n, err = adapter.DeleteObjectRecords(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
