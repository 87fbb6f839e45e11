package memory

import (
	"context"
	"sync"

	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

// ObjectStore is an in-memory blob key set with injectable per-key failures.
type ObjectStore struct {
	mu          sync.Mutex
	objects     map[string]bool
	existsErr   map[string]error
	existsCalls int
}

var _ storage.ObjectStore = (*ObjectStore)(nil)

// NewObjectStore creates a store holding keys.
func NewObjectStore(keys ...string) *ObjectStore {
	s := &ObjectStore{
		objects:   make(map[string]bool),
		existsErr: make(map[string]error),
	}
	for _, k := range keys {
		s.objects[k] = true
	}
	return s
}

// Put adds a key.
func (s *ObjectStore) Put(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = true
}

// FailExists makes Exists(key) return err. nil clears it.
func (s *ObjectStore) FailExists(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.existsErr, key)
		return
	}
	s.existsErr[key] = err
}

func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.existsCalls++
	if err := s.existsErr[key]; err != nil {
		return false, err
	}
	return s.objects[key], nil
}

func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Has reports whether key is present without counting as an Exists call.
func (s *ObjectStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key]
}

// ExistsCalls returns how many times Exists was called.
func (s *ObjectStore) ExistsCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsCalls
}
