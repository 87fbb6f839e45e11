package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aevon-lab/ledgerview/internal/core/aggregation"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

// AggregateStore keeps one record per raw (kind, period, dimension) address.
type AggregateStore struct {
	mu   sync.RWMutex
	rows map[storage.AggregateRef]*aggregation.AggregateRecord
}

var _ storage.AggregateStore = (*AggregateStore)(nil)

// NewAggregateStore creates an empty store.
func NewAggregateStore() *AggregateStore {
	return &AggregateStore{rows: make(map[storage.AggregateRef]*aggregation.AggregateRecord)}
}

func refOf(key aggregation.AggregateKey) storage.AggregateRef {
	return storage.AggregateRef{Kind: key.Kind, Period: key.Period.String(), Dimension: key.Dimension}
}

// Seed stores rec under a raw address, bypassing canonicalization. Tests use it
// to model rows written by older writers under loose spellings.
func (s *AggregateStore) Seed(ref storage.AggregateRef, rec *aggregation.AggregateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rec
	s.rows[ref] = &c
}

func (s *AggregateStore) Get(ctx context.Context, key aggregation.AggregateKey) (*aggregation.AggregateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.rows[refOf(key)]
	if !ok {
		return nil, fmt.Errorf("aggregate %s: %w", key, storage.ErrNotFound)
	}
	c := *rec
	return &c, nil
}

func (s *AggregateStore) Put(ctx context.Context, rec *aggregation.AggregateRecord) error {
	data, err := aggregation.EncodePayload(rec.Payload)
	if err != nil {
		return fmt.Errorf("aggregate put %s: %w", rec.Key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ref := refOf(rec.Key)
	if existing, ok := s.rows[ref]; ok && existing.JobStartedAt.After(rec.JobStartedAt) {
		return fmt.Errorf("aggregate put %s: %w", rec.Key, storage.ErrSuperseded)
	}
	rec.PayloadBytes = int64(len(data))
	c := *rec
	s.rows[ref] = &c
	return nil
}

func (s *AggregateStore) Exists(ctx context.Context, key aggregation.AggregateKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[refOf(key)]
	return ok, nil
}

func (s *AggregateStore) Clear(ctx context.Context, pattern storage.KeyPattern) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for ref := range s.rows {
		if pattern.Kind != "" && ref.Kind != pattern.Kind {
			continue
		}
		if !strings.HasPrefix(ref.Period, pattern.PeriodPrefix) {
			continue
		}
		if pattern.Dimension != "" && ref.Dimension != pattern.Dimension {
			continue
		}
		delete(s.rows, ref)
		n++
	}
	return n, nil
}

func (s *AggregateStore) ListAggregates(ctx context.Context) ([]storage.StoredAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.StoredAggregate, 0, len(s.rows))
	for ref, rec := range s.rows {
		out = append(out, storage.StoredAggregate{
			Kind:         ref.Kind,
			Period:       ref.Period,
			Dimension:    ref.Dimension,
			RowCount:     rec.RowCount,
			PayloadBytes: rec.PayloadBytes,
			BuiltAt:      rec.BuiltAt,
			JobID:        rec.JobID,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		return out[i].Dimension < out[j].Dimension
	})
	return out, nil
}

func (s *AggregateStore) Delete(ctx context.Context, refs []storage.AggregateRef) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, ref := range refs {
		if _, ok := s.rows[ref]; ok {
			delete(s.rows, ref)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored rows.
func (s *AggregateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
