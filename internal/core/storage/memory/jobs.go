package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aevon-lab/ledgerview/internal/core/aggregation"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

// JobStore tracks rebuild jobs in memory. The active-per-key index plays the
// role of the partial unique index in PostgreSQL.
type JobStore struct {
	mu     sync.Mutex
	jobs   map[string]*storage.RebuildJob
	active map[string]string // key string -> job id
}

var _ storage.JobStore = (*JobStore)(nil)

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:   make(map[string]*storage.RebuildJob),
		active: make(map[string]string),
	}
}

func (s *JobStore) CreateJob(ctx context.Context, job *storage.RebuildJob) (*storage.RebuildJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.active[job.Key.String()]; ok {
		return s.jobs[id].Clone(), true, nil
	}
	if _, dup := s.jobs[job.JobID]; dup {
		return nil, false, fmt.Errorf("create job: duplicate job id %s", job.JobID)
	}

	c := job.Clone()
	c.Status = storage.JobQueued
	s.jobs[c.JobID] = c
	s.active[c.Key.String()] = c.JobID
	return c.Clone(), false, nil
}

func (s *JobStore) GetJob(ctx context.Context, jobID string) (*storage.RebuildJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	return job.Clone(), nil
}

func (s *JobStore) ActiveJob(ctx context.Context, key aggregation.AggregateKey) (*storage.RebuildJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.active[key.String()]
	if !ok {
		return nil, fmt.Errorf("active job %s: %w", key, storage.ErrNotFound)
	}
	return s.jobs[id].Clone(), nil
}

func (s *JobStore) MarkRunning(ctx context.Context, jobID string, startedAt time.Time) error {
	return s.update(jobID, "mark running", func(j *storage.RebuildJob) bool {
		if j.Status != storage.JobQueued {
			return false
		}
		j.Status = storage.JobRunning
		j.StartedAt = &startedAt
		return true
	})
}

func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress storage.JobProgress) error {
	return s.update(jobID, "update progress", func(j *storage.RebuildJob) bool {
		if j.Status != storage.JobRunning {
			return false
		}
		j.Progress = progress
		return true
	})
}

func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, completedAt time.Time, progress storage.JobProgress) error {
	return s.update(jobID, "mark completed", func(j *storage.RebuildJob) bool {
		if j.Status != storage.JobRunning {
			return false
		}
		j.Status = storage.JobCompleted
		j.CompletedAt = &completedAt
		j.Progress = progress
		return true
	})
}

func (s *JobStore) MarkFailed(ctx context.Context, jobID string, completedAt time.Time, detail string) error {
	return s.update(jobID, "mark failed", func(j *storage.RebuildJob) bool {
		if j.Status.IsTerminal() {
			return false
		}
		j.Status = storage.JobFailed
		j.CompletedAt = &completedAt
		j.ErrorDetail = detail
		return true
	})
}

func (s *JobStore) update(jobID, op string, apply func(*storage.RebuildJob) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || !apply(job) {
		return fmt.Errorf("%s %s: no job in a valid state: %w", op, jobID, storage.ErrNotFound)
	}
	if job.Status.IsTerminal() {
		delete(s.active, job.Key.String())
	}
	return nil
}

func (s *JobStore) PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// Jobs returns a snapshot of every tracked job.
func (s *JobStore) Jobs() []*storage.RebuildJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*storage.RebuildJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	return out
}
