package storage

import "time"

// UploadState is the processing state of an uploaded file, in pipeline order.
type UploadState string

const (
	UploadStarted    UploadState = "started"
	UploadUploading  UploadState = "uploading"
	UploadUploaded   UploadState = "uploaded"
	UploadIdentified UploadState = "identified"
	UploadEncoding   UploadState = "encoding"
	UploadEncoded    UploadState = "encoded"
	UploadProcessing UploadState = "processing"
	UploadComplete   UploadState = "complete"
)

var uploadStateRank = map[UploadState]int{
	UploadStarted:    1,
	UploadUploading:  2,
	UploadUploaded:   3,
	UploadIdentified: 4,
	UploadEncoding:   5,
	UploadEncoded:    6,
	UploadProcessing: 7,
	UploadComplete:   8,
}

// Rank orders states by pipeline progress. Unknown states rank 0.
func (s UploadState) Rank() int {
	return uploadStateRank[s]
}

// Upload is one file submitted to the ingestion pipeline.
type Upload struct {
	ID          string
	Filename    string
	BusinessKey string // optional; preferred over Filename for duplicate grouping
	State       UploadState
	SizeBytes   int64
	ObjectKey   string
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// StorageObject is a blob tracked in the database on behalf of an upload.
type StorageObject struct {
	ID            string
	UploadID      string
	ObjectKey     string
	SizeBytes     int64
	CreatedAt     time.Time
	PurgeMarkedAt *time.Time
}
