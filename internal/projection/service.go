package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	coreagg "github.com/aevon-lab/ledgerview/internal/core/aggregation"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
	"github.com/aevon-lab/ledgerview/internal/freshness"
	"github.com/aevon-lab/ledgerview/internal/metrics"
	"github.com/aevon-lab/ledgerview/internal/rebuild"
)

const (
	defaultReadWait = 2 * time.Second
	loadTimeout     = 5 * time.Second
)

var (
	// ErrInvalidQuery marks request validation errors that should return HTTP 400.
	ErrInvalidQuery = errors.New("invalid aggregate query")

	// ErrNotAvailable means no record exists and the rebuild for it failed.
	ErrNotAvailable = errors.New("aggregate not available")

	// ErrStoreUnavailable means the durable store could not be read. Callers may retry.
	ErrStoreUnavailable = errors.New("aggregate store unavailable")
)

// Rebuilder is the coordinator surface the read path needs.
type Rebuilder interface {
	Request(ctx context.Context, req rebuild.Request) (*storage.RebuildJob, bool, error)
	Wait(ctx context.Context, jobID string) (*coreagg.AggregateRecord, error)
	Job(ctx context.Context, jobID string) (*storage.RebuildJob, error)
}

// Service implements the read path: freshness cache, then durable store, then
// rebuild. It never computes aggregates itself.
type Service struct {
	store    storage.AggregateStore
	rebuilds Rebuilder
	cache    *freshness.Cache
	kinds    *coreagg.KindRegistry
	readWait time.Duration
	loads    singleflight.Group
	nowFn    func() time.Time
}

// NewService creates a new projection service. readWait bounds how long a
// read on a missing aggregate waits for its rebuild before answering pending.
func NewService(
	store storage.AggregateStore,
	rebuilds Rebuilder,
	cache *freshness.Cache,
	kinds *coreagg.KindRegistry,
	readWait time.Duration,
) *Service {
	if readWait < 0 {
		readWait = defaultReadWait
	}
	return &Service{
		store:    store,
		rebuilds: rebuilds,
		cache:    cache,
		kinds:    kinds,
		readWait: readWait,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// QueryAggregate answers one aggregate read. A missing aggregate triggers a
// rebuild; the response is pending when the rebuild outlasts the read wait.
// A stale aggregate is served as-is while a background rebuild refreshes it.
func (s *Service) QueryAggregate(ctx context.Context, req AggregateQueryRequest) (*AggregateQueryResponse, error) {
	key, def, err := s.resolveKey(req.Kind, req.Period, req.Dimension)
	if err != nil {
		return nil, err
	}
	fp := freshness.Fingerprint(key.String(), nil)

	if v, ok := s.cache.Get(fp); ok {
		if rec, ok := v.(*coreagg.AggregateRecord); ok {
			metrics.Reads.WithLabelValues(key.Kind, metrics.SourceCache).Inc()
			resp := toResponse(rec)
			resp.FromCache = true
			return resp, nil
		}
	}

	gen := s.cache.Generation()
	rec, err := s.load(ctx, fp, key)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		return s.rebuildOnMiss(ctx, key, fp)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		slog.Warn("[Projection] Durable store read failed", "key", key.String(), "error", err)
		return nil, fmt.Errorf("%w: load aggregate %s: %w", ErrStoreUnavailable, key, err)
	}

	if rec.IsStale(def, s.nowFn()) {
		job, _, rerr := s.rebuilds.Request(ctx, rebuild.Request{Key: key, TriggeredBy: storage.TriggerReadStale})
		resp := toResponse(rec)
		resp.Stale = true
		if rerr != nil {
			slog.Warn("[Projection] Failed to request stale rebuild", "key", key.String(), "error", rerr)
		} else {
			resp.JobID = job.JobID
		}
		metrics.Reads.WithLabelValues(key.Kind, metrics.SourceStale).Inc()
		return resp, nil
	}

	if !s.cache.SetSizedAt(fp, rec, rec.RowCount, gen) {
		slog.Debug("[Projection] Skipped cache fill after invalidation", "key", key.String())
	}
	metrics.Reads.WithLabelValues(key.Kind, metrics.SourceStore).Inc()
	return toResponse(rec), nil
}

// load reads the durable record, collapsing concurrent identical reads.
// The shared read is detached from any one caller and bounded by loadTimeout;
// a caller that goes away stops waiting without failing the others.
func (s *Service) load(ctx context.Context, fp string, key coreagg.AggregateKey) (*coreagg.AggregateRecord, error) {
	ch := s.loads.DoChan(fp, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.store.Get(loadCtx, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*coreagg.AggregateRecord), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) rebuildOnMiss(ctx context.Context, key coreagg.AggregateKey, fp string) (*AggregateQueryResponse, error) {
	job, _, err := s.rebuilds.Request(ctx, rebuild.Request{Key: key, TriggeredBy: storage.TriggerReadMiss})
	if err != nil {
		return nil, fmt.Errorf("request rebuild for %s: %w", key, err)
	}

	pending := &AggregateQueryResponse{
		Kind:      key.Kind,
		Period:    key.Period.String(),
		Dimension: key.Dimension,
		Status:    StatusPending,
		JobID:     job.JobID,
	}
	if s.readWait == 0 {
		metrics.Reads.WithLabelValues(key.Kind, metrics.SourcePending).Inc()
		return pending, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.readWait)
	defer cancel()

	rec, err := s.rebuilds.Wait(waitCtx, job.JobID)
	switch {
	case err == nil:
		s.cache.SetSized(fp, rec, rec.RowCount)
		metrics.Reads.WithLabelValues(key.Kind, metrics.SourceStore).Inc()
		return toResponse(rec), nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		metrics.Reads.WithLabelValues(key.Kind, metrics.SourcePending).Inc()
		return pending, nil
	case errors.Is(err, rebuild.ErrRebuildFailed):
		return nil, &notAvailableError{jobID: job.JobID, err: err}
	default:
		return nil, err
	}
}

// RequestRebuild creates or attaches to a rebuild job for an explicit request.
func (s *Service) RequestRebuild(ctx context.Context, req RebuildRequest) (*RebuildResponse, error) {
	key, _, err := s.resolveKey(req.Kind, req.Period, req.Dimension)
	if err != nil {
		return nil, err
	}

	job, attached, err := s.rebuilds.Request(ctx, rebuild.Request{
		Key:          key,
		TriggeredBy:  storage.TriggerAdmin,
		RequestedBy:  req.RequestedBy,
		Reason:       req.Reason,
		NeverExpires: req.NeverExpires,
	})
	if err != nil {
		return nil, fmt.Errorf("request rebuild for %s: %w", key, err)
	}
	return &RebuildResponse{
		JobID:     job.JobID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
		StartedAt: job.StartedAt,
		Attached:  attached,
	}, nil
}

// RebuildStatus returns the job with its key spelled out.
func (s *Service) RebuildStatus(ctx context.Context, jobID string) (*RebuildStatusResponse, error) {
	job, err := s.rebuilds.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &RebuildStatusResponse{
		RebuildJob: job,
		Kind:       job.Key.Kind,
		Period:     job.Key.Period.String(),
		Dimension:  job.Key.Dimension,
	}, nil
}

// ClearCache evicts freshness entries whose fingerprint contains req.Pattern,
// and deletes durable rows when req.Durable is set.
func (s *Service) ClearCache(ctx context.Context, req ClearCacheRequest) (*ClearCacheResponse, error) {
	resp := &ClearCacheResponse{}
	if req.Pattern == "" {
		resp.ClearedCount = s.cache.Clear()
	} else {
		resp.ClearedCount = s.cache.EvictPattern(req.Pattern)
	}

	if req.Durable != nil {
		if req.Durable.Kind == "" && req.Durable.PeriodPrefix == "" {
			return nil, invalidQueryf("durable clear requires kind or period_prefix")
		}
		n, err := s.store.Clear(ctx, storage.KeyPattern{
			Kind:         req.Durable.Kind,
			PeriodPrefix: req.Durable.PeriodPrefix,
			Dimension:    strings.TrimSpace(req.Durable.Dimension),
		})
		if err != nil {
			return nil, fmt.Errorf("clear durable aggregates: %w", err)
		}
		resp.DurableCleared = n
	}

	slog.Info("[Projection] Cache cleared",
		"pattern", req.Pattern,
		"cleared", resp.ClearedCount,
		"durable_cleared", resp.DurableCleared,
	)
	return resp, nil
}

// CacheStats returns a snapshot of the freshness cache.
func (s *Service) CacheStats() freshness.Stats {
	return s.cache.Stats()
}

func (s *Service) resolveKey(kind, period, dimension string) (coreagg.AggregateKey, coreagg.KindDefinition, error) {
	def, err := s.kinds.Get(kind)
	if err != nil {
		return coreagg.AggregateKey{}, coreagg.KindDefinition{}, err
	}
	key, err := coreagg.NewKey(kind, period, dimension)
	if err != nil {
		return coreagg.AggregateKey{}, coreagg.KindDefinition{}, invalidQueryf("%v", err)
	}
	if err := def.ValidateKey(key); err != nil {
		return coreagg.AggregateKey{}, coreagg.KindDefinition{}, invalidQueryf("%v", err)
	}
	return key, def, nil
}

func toResponse(rec *coreagg.AggregateRecord) *AggregateQueryResponse {
	built := rec.BuiltAt
	return &AggregateQueryResponse{
		Kind:         rec.Key.Kind,
		Period:       rec.Key.Period.String(),
		Dimension:    rec.Key.Dimension,
		Status:       StatusReady,
		Shape:        rec.Shape,
		Payload:      rec.Payload,
		RowCount:     rec.RowCount,
		SkippedCount: rec.SkippedCount,
		BuiltAt:      &built,
		NeverExpires: rec.NeverExpires,
	}
}

// notAvailableError carries the failed job id to the handler.
type notAvailableError struct {
	jobID string
	err   error
}

func (e *notAvailableError) Error() string {
	return fmt.Sprintf("%v: job %s: %v", ErrNotAvailable, e.jobID, e.err)
}

func (e *notAvailableError) Unwrap() []error {
	return []error{ErrNotAvailable, e.err}
}

func invalidQueryf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
