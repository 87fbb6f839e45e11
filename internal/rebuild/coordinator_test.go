package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/ledgerview/internal/aggregation"
	coreagg "github.com/aevon-lab/ledgerview/internal/core/aggregation"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
	"github.com/aevon-lab/ledgerview/internal/core/storage/memory"
	"github.com/aevon-lab/ledgerview/internal/freshness"
)

// fakeEngine returns a fixed activity payload, optionally blocking on gate.
type fakeEngine struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
	steps int
}

func (f *fakeEngine) Compute(ctx context.Context, key coreagg.AggregateKey, progress aggregation.ProgressFunc) (*aggregation.Result, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for i := 1; i <= f.steps; i++ {
		progress(storage.JobProgress{Processed: int64(i), Total: int64(f.steps)})
	}
	if f.err != nil {
		return nil, f.err
	}
	return &aggregation.Result{
		Payload: &coreagg.ActivityPayload{
			Total:     3,
			Buckets:   map[string]int64{"2024-03-15": 3},
			Breakdown: map[string]int64{"sale": 2, coreagg.Unassigned: 1},
		},
		RowCount:     3,
		SkippedCount: 1,
		Duration:     5 * time.Millisecond,
	}, nil
}

type fixture struct {
	coord  *Coordinator
	jobs   *memory.JobStore
	store  *memory.AggregateStore
	engine *fakeEngine
	cache  *freshness.Cache
}

func newFixture(t *testing.T, engine *fakeEngine) *fixture {
	t.Helper()
	kinds := coreagg.NewKindRegistry(coreagg.DefaultKinds()...)

	f := &fixture{
		jobs:   memory.NewJobStore(),
		store:  memory.NewAggregateStore(),
		engine: engine,
		cache:  freshness.New(freshness.Options{}),
	}
	f.coord = NewCoordinator(f.jobs, f.store, engine, kinds, f.cache, Options{PollInterval: 5 * time.Millisecond})
	f.coord.backoff = time.Millisecond
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, f.coord.Drain(ctx))
	})
	return f
}

var testKey = coreagg.AggregateKey{Kind: "daily-activity-count", Period: coreagg.MustParsePeriod("2024-03-15")}

func TestCoordinator_ConcurrentRequestsShareOneJob(t *testing.T) {
	engine := &fakeEngine{gate: make(chan struct{})}
	f := newFixture(t, engine)
	ctx := context.Background()

	const callers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		jobIDs   = make(map[string]int)
		attached atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, att, err := f.coord.Request(ctx, Request{Key: testKey, TriggeredBy: storage.TriggerReadMiss})
			if !assert.NoError(t, err) {
				return
			}
			if att {
				attached.Add(1)
			}
			mu.Lock()
			jobIDs[job.JobID]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, jobIDs, 1, "exactly one job for the key")
	assert.Equal(t, int32(callers-1), attached.Load())

	var jobID string
	for id := range jobIDs {
		jobID = id
	}

	results := make(chan *coreagg.AggregateRecord, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := f.coord.Wait(ctx, jobID)
			if assert.NoError(t, err) {
				results <- rec
			}
		}()
	}
	close(engine.gate)
	wg.Wait()
	close(results)

	for rec := range results {
		assert.Equal(t, jobID, rec.JobID, "every caller receives the same terminal result")
	}
	assert.Equal(t, int32(1), engine.calls.Load())

	job, err := f.coord.Job(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, storage.JobCompleted, job.Status)
	assert.Equal(t, storage.JobProgress{Processed: 4, Total: 4}, job.Progress)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
}

func TestCoordinator_CompletedRebuildStoresRecordAndEvictsCache(t *testing.T) {
	f := newFixture(t, &fakeEngine{})
	ctx := context.Background()

	own := freshness.Fingerprint(testKey.String(), nil)
	other := freshness.Fingerprint(testKey.String()+"/ent-1", nil)
	f.cache.Set(own, "old", time.Minute)
	f.cache.Set(other, "other", time.Minute)

	rec, job, err := f.coord.RequestAndWait(ctx, Request{Key: testKey, RequestedBy: "ops", Reason: "late file", NeverExpires: true})
	require.NoError(t, err)
	assert.Equal(t, job.JobID, rec.JobID)
	assert.Equal(t, int64(3), rec.RowCount)
	assert.Equal(t, int64(1), rec.SkippedCount)
	assert.True(t, rec.NeverExpires)
	assert.Equal(t, "ops", rec.RequestedBy)
	assert.Equal(t, "late file", rec.RequestReason)
	assert.NotEmpty(t, rec.KindFingerprint)
	assert.False(t, rec.JobStartedAt.IsZero())

	stored, err := f.store.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, stored.JobID)

	assert.Equal(t, []string{other}, f.cache.Fingerprints())
}

func TestCoordinator_FailureKeepsPreviousRecord(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantDetail string
	}{
		{name: "source unavailable", err: fmt.Errorf("%w: connection refused", coreagg.ErrSourceUnavailable), wantDetail: "connection refused"},
		{name: "timeout", err: fmt.Errorf("%w: scan records", coreagg.ErrTimeout), wantDetail: storage.DetailTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeEngine{err: tt.err})
			ctx := context.Background()

			previous := &coreagg.AggregateRecord{Key: testKey, Shape: coreagg.ShapeActivity, JobID: "previous", Payload: &coreagg.ActivityPayload{}}
			require.NoError(t, f.store.Put(ctx, previous))

			_, job, err := f.coord.RequestAndWait(ctx, Request{Key: testKey})
			require.ErrorIs(t, err, ErrRebuildFailed)
			require.ErrorIs(t, err, tt.err)

			got, err := f.store.Get(ctx, testKey)
			require.NoError(t, err)
			assert.Equal(t, "previous", got.JobID, "stale record stays authoritative")

			failed, err := f.coord.Job(ctx, job.JobID)
			require.NoError(t, err)
			assert.Equal(t, storage.JobFailed, failed.Status)
			assert.Contains(t, failed.ErrorDetail, tt.wantDetail)

			// A terminal job does not block the next request.
			next, attached, err := f.coord.Request(ctx, Request{Key: testKey})
			require.NoError(t, err)
			assert.False(t, attached)
			assert.NotEqual(t, job.JobID, next.JobID)
		})
	}
}

func TestCoordinator_SupersededReturnsWinner(t *testing.T) {
	f := newFixture(t, &fakeEngine{})
	ctx := context.Background()

	winner := &coreagg.AggregateRecord{
		Key: testKey, Shape: coreagg.ShapeActivity, JobID: "winner",
		JobStartedAt: time.Now().Add(time.Hour),
		Payload:      &coreagg.ActivityPayload{Total: 7},
	}
	require.NoError(t, f.store.Put(ctx, winner))

	rec, job, err := f.coord.RequestAndWait(ctx, Request{Key: testKey})
	require.NoError(t, err, "superseded is not an error to the caller")
	assert.Equal(t, "winner", rec.JobID)

	loser, err := f.coord.Job(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, storage.JobFailed, loser.Status)
	assert.Equal(t, storage.DetailSuperseded, loser.ErrorDetail)
	assert.Equal(t, 1, f.store.Len())
}

func TestCoordinator_WaitPollsJobsRunByAnotherProcess(t *testing.T) {
	engine := &fakeEngine{gate: make(chan struct{})}
	a := newFixture(t, engine)
	ctx := context.Background()

	kinds := coreagg.NewKindRegistry(coreagg.DefaultKinds()...)
	b := NewCoordinator(a.jobs, a.store, &fakeEngine{err: errors.New("must not run")}, kinds, nil, Options{PollInterval: 5 * time.Millisecond})

	first, attached, err := a.coord.Request(ctx, Request{Key: testKey})
	require.NoError(t, err)
	require.False(t, attached)

	second, attached, err := b.Request(ctx, Request{Key: testKey})
	require.NoError(t, err)
	require.True(t, attached)
	require.Equal(t, first.JobID, second.JobID)

	done := make(chan *coreagg.AggregateRecord, 1)
	go func() {
		rec, err := b.Wait(ctx, second.JobID)
		assert.NoError(t, err)
		done <- rec
	}()
	close(engine.gate)

	select {
	case rec := <-done:
		require.NotNil(t, rec)
		assert.Equal(t, first.JobID, rec.JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not observe the completed job")
	}
}

func TestCoordinator_WaitHonoursContext(t *testing.T) {
	engine := &fakeEngine{gate: make(chan struct{})}
	f := newFixture(t, engine)
	defer close(engine.gate)

	job, _, err := f.coord.Request(context.Background(), Request{Key: testKey})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.coord.Wait(ctx, job.JobID)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_RejectsInvalidKeys(t *testing.T) {
	f := newFixture(t, &fakeEngine{})
	ctx := context.Background()

	_, _, err := f.coord.Request(ctx, Request{Key: coreagg.AggregateKey{Kind: "nope", Period: coreagg.MustParsePeriod("2024")}})
	require.ErrorIs(t, err, coreagg.ErrUnknownKind)

	_, _, err = f.coord.Request(ctx, Request{Key: coreagg.AggregateKey{Kind: "daily-activity-count", Period: coreagg.MustParsePeriod("2024")}})
	require.ErrorIs(t, err, coreagg.ErrInvalidPeriod)
	assert.Empty(t, f.jobs.Jobs())
}

func TestCoordinator_PrunesTerminalJobsOnCreate(t *testing.T) {
	f := newFixture(t, &fakeEngine{})
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	oldKey := coreagg.AggregateKey{Kind: "monthly-totals", Period: coreagg.MustParsePeriod("2023-01")}
	_, _, err := f.jobs.CreateJob(ctx, &storage.RebuildJob{JobID: "ancient", Key: oldKey, CreatedAt: old})
	require.NoError(t, err)
	require.NoError(t, f.jobs.MarkRunning(ctx, "ancient", old))
	require.NoError(t, f.jobs.MarkCompleted(ctx, "ancient", old, storage.JobProgress{}))

	_, _, err = f.coord.RequestAndWait(ctx, Request{Key: testKey})
	require.NoError(t, err)

	_, err = f.coord.Job(ctx, "ancient")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// countingJobs counts persisted progress updates.
type countingJobs struct {
	*memory.JobStore
	updates atomic.Int32
}

func (c *countingJobs) UpdateProgress(ctx context.Context, jobID string, p storage.JobProgress) error {
	c.updates.Add(1)
	return c.JobStore.UpdateProgress(ctx, jobID, p)
}

func TestCoordinator_ProgressIsThrottled(t *testing.T) {
	kinds := coreagg.NewKindRegistry(coreagg.DefaultKinds()...)
	jobs := &countingJobs{JobStore: memory.NewJobStore()}

	coord := NewCoordinator(jobs, memory.NewAggregateStore(), &fakeEngine{steps: 50}, kinds, nil, Options{ProgressInterval: time.Hour})
	fixed := time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)
	coord.now = func() time.Time { return fixed }

	_, _, err := coord.RequestAndWait(context.Background(), Request{Key: testKey})
	require.NoError(t, err)
	assert.Equal(t, int32(1), jobs.updates.Load())
}

// flakyJobs fails the first N running and completed transitions.
type flakyJobs struct {
	*memory.JobStore
	failRunning   atomic.Int32
	failCompleted atomic.Int32
}

func (j *flakyJobs) MarkRunning(ctx context.Context, jobID string, startedAt time.Time) error {
	if j.failRunning.Add(-1) >= 0 {
		return errors.New("db blip")
	}
	return j.JobStore.MarkRunning(ctx, jobID, startedAt)
}

func (j *flakyJobs) MarkCompleted(ctx context.Context, jobID string, completedAt time.Time, p storage.JobProgress) error {
	if j.failCompleted.Add(-1) >= 0 {
		return errors.New("db blip")
	}
	return j.JobStore.MarkCompleted(ctx, jobID, completedAt, p)
}

func TestCoordinator_JobStateWriteFailuresNeverWedgeTheKey(t *testing.T) {
	tests := []struct {
		name          string
		failRunning   int32
		failCompleted int32
		wantErr       bool
		wantStatus    storage.JobStatus
	}{
		{name: "mark running fails once", failRunning: 1, wantStatus: storage.JobCompleted},
		{name: "mark running keeps failing", failRunning: 100, wantErr: true, wantStatus: storage.JobFailed},
		{name: "mark completed fails once", failCompleted: 1, wantStatus: storage.JobCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &flakyJobs{JobStore: memory.NewJobStore()}
			jobs.failRunning.Store(tt.failRunning)
			jobs.failCompleted.Store(tt.failCompleted)
			kinds := coreagg.NewKindRegistry(coreagg.DefaultKinds()...)
			coord := NewCoordinator(jobs, memory.NewAggregateStore(), &fakeEngine{}, kinds, nil, Options{PollInterval: 5 * time.Millisecond})
			coord.backoff = time.Millisecond
			ctx := context.Background()

			_, job, err := coord.RequestAndWait(ctx, Request{Key: testKey})
			if tt.wantErr {
				require.ErrorIs(t, err, ErrRebuildFailed)
			} else {
				require.NoError(t, err)
			}

			got, err := coord.Job(ctx, job.JobID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)

			// The key is idle again: the next request starts a fresh job.
			jobs.failRunning.Store(0)
			next, attached, err := coord.Request(ctx, Request{Key: testKey})
			require.NoError(t, err)
			assert.False(t, attached)
			assert.NotEqual(t, job.JobID, next.JobID)

			waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			_, err = coord.Wait(waitCtx, next.JobID)
			require.NoError(t, err)
			require.NoError(t, coord.Drain(waitCtx))
		})
	}
}

func TestCoordinator_ReplacesAbandonedJobs(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		running  bool
		replaced bool
	}{
		{name: "queued job nobody runs", age: time.Hour, replaced: true},
		{name: "running job past the deadline", age: time.Hour, running: true, replaced: true},
		{name: "recent job from another process", age: time.Second, running: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeEngine{})
			ctx := context.Background()
			since := time.Now().UTC().Add(-tt.age)

			_, _, err := f.jobs.CreateJob(ctx, &storage.RebuildJob{JobID: "orphaned", Key: testKey, CreatedAt: since})
			require.NoError(t, err)
			if tt.running {
				require.NoError(t, f.jobs.MarkRunning(ctx, "orphaned", since))
			}

			job, attached, err := f.coord.Request(ctx, Request{Key: testKey})
			require.NoError(t, err)

			old, err := f.coord.Job(ctx, "orphaned")
			require.NoError(t, err)
			if !tt.replaced {
				assert.True(t, attached)
				assert.Equal(t, "orphaned", job.JobID)
				assert.False(t, old.Status.IsTerminal())
				return
			}

			assert.False(t, attached)
			assert.NotEqual(t, "orphaned", job.JobID)
			assert.Equal(t, storage.JobFailed, old.Status)
			assert.Equal(t, storage.DetailAbandoned, old.ErrorDetail)

			rec, err := f.coord.Wait(ctx, job.JobID)
			require.NoError(t, err)
			assert.Equal(t, job.JobID, rec.JobID)
		})
	}
}
