package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

// UploadStore holds uploads and their storage object rows.
type UploadStore struct {
	mu      sync.RWMutex
	uploads map[string]*storage.Upload
	objects map[string]*storage.StorageObject
}

var _ storage.UploadStore = (*UploadStore)(nil)

// NewUploadStore creates an empty upload store.
func NewUploadStore() *UploadStore {
	return &UploadStore{
		uploads: make(map[string]*storage.Upload),
		objects: make(map[string]*storage.StorageObject),
	}
}

// AddUpload inserts or replaces an upload.
func (s *UploadStore) AddUpload(u storage.Upload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[u.ID] = &u
}

// AddObject inserts or replaces a storage object row.
func (s *UploadStore) AddObject(o storage.StorageObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[o.ID] = &o
}

// Upload returns the upload with id, soft-deleted or not.
func (s *UploadStore) Upload(id string) (storage.Upload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[id]
	if !ok {
		return storage.Upload{}, false
	}
	return *u, true
}

// Object returns the storage object row with id.
func (s *UploadStore) Object(id string) (storage.StorageObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[id]
	if !ok {
		return storage.StorageObject{}, false
	}
	return *o, true
}

func (s *UploadStore) ListUploads(ctx context.Context) ([]storage.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Upload
	for _, u := range s.uploads {
		if u.DeletedAt == nil {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *UploadStore) SoftDeleteUploads(ctx context.Context, ids []string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		if u, ok := s.uploads[id]; ok && u.DeletedAt == nil {
			t := at
			u.DeletedAt = &t
			n++
		}
	}
	return n, nil
}

func (s *UploadStore) ListOrphanObjects(ctx context.Context) ([]storage.StorageObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.StorageObject
	for _, o := range s.objects {
		u, ok := s.uploads[o.UploadID]
		if !ok || u.DeletedAt != nil {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *UploadStore) MarkObjectsForPurge(ctx context.Context, ids []string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		if o, ok := s.objects[id]; ok && o.PurgeMarkedAt == nil {
			t := at
			o.PurgeMarkedAt = &t
			n++
		}
	}
	return n, nil
}

func (s *UploadStore) DeleteObjectRecords(ctx context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		if _, ok := s.objects[id]; ok {
			delete(s.objects, id)
			n++
		}
	}
	return n, nil
}
