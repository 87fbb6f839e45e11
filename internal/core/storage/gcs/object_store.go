// Package gcs implements storage.ObjectStore on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

// ObjectStore checks and deletes upload blobs in one bucket.
type ObjectStore struct {
	client *gcstorage.Client
	bucket string
}

var _ storage.ObjectStore = (*ObjectStore)(nil)

// NewObjectStore creates a client for bucket. An empty credentialsFile uses
// Application Default Credentials.
func NewObjectStore(ctx context.Context, bucket, credentialsFile string) (*ObjectStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	slog.Info("[GCS] Object store initialized", "bucket", bucket)
	return &ObjectStore{client: client, bucket: bucket}, nil
}

// Exists reports whether objectKey is present in the bucket.
func (s *ObjectStore) Exists(ctx context.Context, objectKey string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(objectKey).Attrs(ctx)
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gcs attrs gs://%s/%s: %w", s.bucket, objectKey, err)
	}
	return true, nil
}

// Delete removes objectKey. Deleting an absent object is not an error.
func (s *ObjectStore) Delete(ctx context.Context, objectKey string) error {
	err := s.client.Bucket(s.bucket).Object(objectKey).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete gs://%s/%s: %w", s.bucket, objectKey, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *ObjectStore) Close() error {
	return s.client.Close()
}
