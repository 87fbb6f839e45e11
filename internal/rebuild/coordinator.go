// Package rebuild coordinates aggregate recomputation: at most one job per key,
// durable job records, and attach semantics for concurrent requesters.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aevon-lab/ledgerview/internal/aggregation"
	coreagg "github.com/aevon-lab/ledgerview/internal/core/aggregation"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
	"github.com/aevon-lab/ledgerview/internal/freshness"
	"github.com/aevon-lab/ledgerview/internal/metrics"
)

// ErrRebuildFailed is returned to waiters of a job that ended failed.
var ErrRebuildFailed = errors.New("rebuild failed")

const (
	defaultJobRetention     = 24 * time.Hour
	defaultProgressInterval = time.Second
	defaultPollInterval     = 250 * time.Millisecond
	defaultAbandonAfter     = 5 * time.Minute

	transitionAttempts = 3
	transitionTimeout  = 5 * time.Second
	transitionBackoff  = 100 * time.Millisecond
)

// Options tunes job bookkeeping.
type Options struct {
	JobRetention     time.Duration
	ProgressInterval time.Duration
	PollInterval     time.Duration
	// AbandonAfter is how long a queued or running job may go without finishing
	// before a new request replaces it. Keep it above the engine compute timeout.
	AbandonAfter time.Duration
}

func (o Options) normalized() Options {
	n := o
	if n.JobRetention <= 0 {
		n.JobRetention = defaultJobRetention
	}
	if n.ProgressInterval <= 0 {
		n.ProgressInterval = defaultProgressInterval
	}
	if n.PollInterval <= 0 {
		n.PollInterval = defaultPollInterval
	}
	if n.AbandonAfter <= 0 {
		n.AbandonAfter = defaultAbandonAfter
	}
	return n
}

// Computer runs one aggregation pass. *aggregation.Engine implements it.
type Computer interface {
	Compute(ctx context.Context, key coreagg.AggregateKey, progress aggregation.ProgressFunc) (*aggregation.Result, error)
}

// Invalidator drops cached reads. *freshness.Cache implements it.
type Invalidator interface {
	EvictPattern(substr string) int
}

// Request asks for one key to be rebuilt.
type Request struct {
	Key          coreagg.AggregateKey
	TriggeredBy  storage.Trigger
	RequestedBy  string
	Reason       string
	NeverExpires bool
}

// flight is the in-process handle of a job this coordinator is running.
type flight struct {
	done chan struct{}
	rec  *coreagg.AggregateRecord
	err  error
}

// Coordinator creates rebuild jobs and runs them on background goroutines.
type Coordinator struct {
	jobs   storage.JobStore
	store  storage.AggregateStore
	engine Computer
	kinds  *coreagg.KindRegistry
	cache  Invalidator
	opts   Options

	now     func() time.Time
	newID   func() string
	backoff time.Duration

	mu      sync.Mutex
	flights map[string]*flight // job id -> running flight
	wg      sync.WaitGroup
}

// NewCoordinator wires a coordinator. cache may be nil.
func NewCoordinator(
	jobs storage.JobStore,
	store storage.AggregateStore,
	engine Computer,
	kinds *coreagg.KindRegistry,
	cache Invalidator,
	opts Options,
) *Coordinator {
	return &Coordinator{
		jobs:    jobs,
		store:   store,
		engine:  engine,
		kinds:   kinds,
		cache:   cache,
		opts:    opts.normalized(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		backoff: transitionBackoff,
		flights: make(map[string]*flight),
	}
}

// Request creates a job for req.Key, or attaches to the queued or running job
// for that key. The returned job is a snapshot; attached reports which case applied.
func (c *Coordinator) Request(ctx context.Context, req Request) (*storage.RebuildJob, bool, error) {
	def, err := c.kinds.Get(req.Key.Kind)
	if err != nil {
		return nil, false, err
	}
	if err := def.ValidateKey(req.Key); err != nil {
		return nil, false, err
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = storage.TriggerAdmin
	}

	job := &storage.RebuildJob{
		JobID:        c.newID(),
		Key:          req.Key,
		Status:       storage.JobQueued,
		CreatedAt:    c.now(),
		TriggeredBy:  req.TriggeredBy,
		RequestedBy:  req.RequestedBy,
		Reason:       req.Reason,
		NeverExpires: req.NeverExpires || def.NeverExpires,
	}

	// Registered before the insert so attachers always find the flight.
	f := &flight{done: make(chan struct{})}
	c.mu.Lock()
	c.flights[job.JobID] = f
	c.mu.Unlock()

	stored, attached, err := c.createJob(ctx, job)
	if err != nil || attached {
		c.mu.Lock()
		delete(c.flights, job.JobID)
		c.mu.Unlock()
	}
	if err != nil {
		return nil, false, fmt.Errorf("create rebuild job for %s: %w", req.Key, err)
	}
	metrics.RebuildRequests.WithLabelValues(string(req.TriggeredBy), fmt.Sprint(attached)).Inc()

	if attached {
		slog.Info("[Coordinator] Attached to active rebuild",
			"key", req.Key.String(), "job_id", stored.JobID, "status", stored.Status)
		return stored, true, nil
	}

	slog.Info("[Coordinator] Rebuild queued",
		"key", req.Key.String(), "job_id", stored.JobID, "trigger", stored.TriggeredBy, "requested_by", stored.RequestedBy)
	c.pruneTerminal(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(stored, def, f)
	}()
	return stored, false, nil
}

// createJob inserts job, replacing an abandoned active job for the same key.
// A job is abandoned when no local flight runs it and it has been active for
// longer than AbandonAfter, e.g. after a crash or a lost state write.
func (c *Coordinator) createJob(ctx context.Context, job *storage.RebuildJob) (*storage.RebuildJob, bool, error) {
	stored, attached, err := c.jobs.CreateJob(ctx, job)
	if err != nil || !attached || !c.abandoned(stored) {
		return stored, attached, err
	}

	slog.Warn("[Coordinator] Replacing abandoned rebuild",
		"key", stored.Key.String(), "job_id", stored.JobID, "status", stored.Status, "created_at", stored.CreatedAt)
	if err := c.jobs.MarkFailed(ctx, stored.JobID, c.now(), storage.DetailAbandoned); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("mark job %s abandoned: %w", stored.JobID, err)
	}
	metrics.RebuildOutcomes.WithLabelValues(stored.Key.Kind, metrics.OutcomeAbandoned).Inc()
	return c.jobs.CreateJob(ctx, job)
}

func (c *Coordinator) abandoned(job *storage.RebuildJob) bool {
	c.mu.Lock()
	_, local := c.flights[job.JobID]
	c.mu.Unlock()
	if local || job.Status.IsTerminal() {
		return false
	}
	since := job.CreatedAt
	if job.StartedAt != nil {
		since = *job.StartedAt
	}
	return c.now().Sub(since) > c.opts.AbandonAfter
}

// Wait blocks until jobID is terminal and returns the resulting record.
// A superseded job yields the winning record and a nil error. Jobs run by
// another process are polled.
func (c *Coordinator) Wait(ctx context.Context, jobID string) (*coreagg.AggregateRecord, error) {
	c.mu.Lock()
	f, local := c.flights[jobID]
	c.mu.Unlock()

	if local {
		select {
		case <-f.done:
			return f.rec, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.poll(ctx, jobID)
}

// RequestAndWait is Request followed by Wait on the resulting job.
func (c *Coordinator) RequestAndWait(ctx context.Context, req Request) (*coreagg.AggregateRecord, *storage.RebuildJob, error) {
	job, _, err := c.Request(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	rec, err := c.Wait(ctx, job.JobID)
	return rec, job, err
}

// Job returns the current state of jobID.
func (c *Coordinator) Job(ctx context.Context, jobID string) (*storage.RebuildJob, error) {
	return c.jobs.GetJob(ctx, jobID)
}

// ActiveJob returns the queued or running job for key, or storage.ErrNotFound.
func (c *Coordinator) ActiveJob(ctx context.Context, key coreagg.AggregateKey) (*storage.RebuildJob, error) {
	return c.jobs.ActiveJob(ctx, key)
}

// Drain waits for every job started by this coordinator, or for ctx.
func (c *Coordinator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run(job *storage.RebuildJob, def coreagg.KindDefinition, f *flight) {
	defer func() {
		close(f.done)
		c.mu.Lock()
		delete(c.flights, job.JobID)
		c.mu.Unlock()
	}()

	// Detached from the requester: the engine bounds the pass with its own timeout.
	ctx := context.Background()
	key := job.Key
	log := slog.With("key", key.String(), "job_id", job.JobID)

	startedAt := c.now()
	if err := c.transition("mark running", job.JobID, func(ctx context.Context) error {
		return c.jobs.MarkRunning(ctx, job.JobID, startedAt)
	}); err != nil {
		log.Error("[Coordinator] Failed to mark job running", "error", err)
		c.fail(job, "mark running: "+err.Error(), metrics.OutcomeFailed)
		f.err = fmt.Errorf("%w: %s: %w", ErrRebuildFailed, key, err)
		return
	}

	res, err := c.engine.Compute(ctx, key, c.progressWriter(ctx, job.JobID))
	if err != nil {
		detail, outcome := err.Error(), metrics.OutcomeFailed
		if errors.Is(err, coreagg.ErrTimeout) {
			detail, outcome = storage.DetailTimeout, metrics.OutcomeTimeout
		}
		c.fail(job, detail, outcome)
		log.Error("[Coordinator] Rebuild failed", "error", err)
		f.err = fmt.Errorf("%w: %s: %w", ErrRebuildFailed, key, err)
		return
	}
	metrics.RebuildDuration.WithLabelValues(key.Kind).Observe(res.Duration.Seconds())

	rec := &coreagg.AggregateRecord{
		Key:             key,
		Shape:           def.Shape,
		Payload:         res.Payload,
		RowCount:        res.RowCount,
		SkippedCount:    res.SkippedCount,
		BuildDurationMs: res.Duration.Milliseconds(),
		BuiltAt:         c.now(),
		JobStartedAt:    startedAt,
		NeverExpires:    job.NeverExpires,
		RequestedBy:     job.RequestedBy,
		RequestReason:   job.Reason,
		KindFingerprint: def.Fingerprint,
		JobID:           job.JobID,
	}

	if err := c.store.Put(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrSuperseded) {
			c.fail(job, storage.DetailSuperseded, metrics.OutcomeSuperseded)
			winner, gerr := c.store.Get(ctx, key)
			if gerr != nil {
				f.err = fmt.Errorf("%w: %s: load winning record: %w", ErrRebuildFailed, key, gerr)
				return
			}
			log.Warn("[Coordinator] Rebuild superseded", "winner_job_id", winner.JobID)
			f.rec = winner
			return
		}
		c.fail(job, err.Error(), metrics.OutcomeFailed)
		log.Error("[Coordinator] Failed to store aggregate", "error", err)
		f.err = fmt.Errorf("%w: %s: %w", ErrRebuildFailed, key, err)
		return
	}

	if c.cache != nil {
		evicted := c.cache.EvictPattern(freshness.KeyPattern(key.String()))
		log.Debug("[Coordinator] Evicted cached reads", "count", evicted)
	}

	progress := storage.JobProgress{Processed: res.RowCount + res.SkippedCount, Total: res.RowCount + res.SkippedCount}
	if err := c.transition("mark completed", job.JobID, func(ctx context.Context) error {
		return c.jobs.MarkCompleted(ctx, job.JobID, c.now(), progress)
	}); err != nil {
		// The record is stored and authoritative; a job row left running is
		// reclaimed as abandoned by a later request.
		log.Warn("[Coordinator] Failed to mark job completed", "error", err)
	}
	metrics.RebuildOutcomes.WithLabelValues(key.Kind, metrics.OutcomeCompleted).Inc()
	if res.SkippedCount > 0 {
		metrics.SkippedRecords.WithLabelValues(key.Kind).Add(float64(res.SkippedCount))
	}

	log.Info("[Coordinator] Rebuild completed",
		"rows", res.RowCount,
		"skipped", res.SkippedCount,
		"duration_ms", rec.BuildDurationMs,
	)
	f.rec = rec
}

func (c *Coordinator) fail(job *storage.RebuildJob, detail, outcome string) {
	if err := c.transition("mark failed", job.JobID, func(ctx context.Context) error {
		return c.jobs.MarkFailed(ctx, job.JobID, c.now(), detail)
	}); err != nil {
		slog.Warn("[Coordinator] Failed to mark job failed", "job_id", job.JobID, "error", err)
	}
	metrics.RebuildOutcomes.WithLabelValues(job.Key.Kind, outcome).Inc()
}

// transition retries a job state write, each attempt on its own bounded context.
// storage.ErrNotFound means the job already left the expected state and is final.
func (c *Coordinator) transition(op, jobID string, write func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= transitionAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), transitionTimeout)
		err = write(ctx)
		cancel()
		if err == nil || errors.Is(err, storage.ErrNotFound) {
			return err
		}
		slog.Warn("[Coordinator] Job state write failed", "op", op, "job_id", jobID, "attempt", attempt, "error", err)
		if attempt < transitionAttempts {
			time.Sleep(time.Duration(attempt) * c.backoff)
		}
	}
	return err
}

// progressWriter persists progress at most once per ProgressInterval.
// The engine calls it from a single goroutine.
func (c *Coordinator) progressWriter(ctx context.Context, jobID string) aggregation.ProgressFunc {
	var last time.Time
	return func(p storage.JobProgress) {
		now := c.now()
		if !last.IsZero() && now.Sub(last) < c.opts.ProgressInterval {
			return
		}
		last = now
		if err := c.jobs.UpdateProgress(ctx, jobID, p); err != nil {
			slog.Debug("[Coordinator] Progress update skipped", "job_id", jobID, "error", err)
		}
	}
}

func (c *Coordinator) pruneTerminal(ctx context.Context) {
	n, err := c.jobs.PruneTerminal(ctx, c.now().Add(-c.opts.JobRetention))
	if err != nil {
		slog.Warn("[Coordinator] Failed to prune terminal jobs", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("[Coordinator] Pruned terminal jobs", "count", n)
	}
}

func (c *Coordinator) poll(ctx context.Context, jobID string) (*coreagg.AggregateRecord, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		job, err := c.jobs.GetJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("poll job %s: %w", jobID, err)
		}
		switch {
		case job.Status == storage.JobCompleted:
			return c.store.Get(ctx, job.Key)
		case job.Status == storage.JobFailed && job.ErrorDetail == storage.DetailSuperseded:
			return c.store.Get(ctx, job.Key)
		case job.Status == storage.JobFailed:
			return nil, fmt.Errorf("%w: %s: %s", ErrRebuildFailed, job.Key, job.ErrorDetail)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
