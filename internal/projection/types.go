package projection

import (
	"time"

	coreagg "github.com/aevon-lab/ledgerview/internal/core/aggregation"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
)

// Read statuses.
const (
	StatusReady   = "ready"
	StatusPending = "pending"
)

// AggregateQueryRequest identifies one aggregate read.
type AggregateQueryRequest struct {
	Kind      string
	Period    string
	Dimension string
}

// AggregateQueryResponse is either a ready aggregate or a pending rebuild.
type AggregateQueryResponse struct {
	Kind         string          `json:"kind"`
	Period       string          `json:"period"`
	Dimension    string          `json:"dimension,omitempty"`
	Status       string          `json:"status"`
	Shape        coreagg.Shape   `json:"shape,omitempty"`
	Payload      coreagg.Payload `json:"payload,omitempty"`
	RowCount     int64           `json:"row_count"`
	SkippedCount int64           `json:"skipped_count"`
	BuiltAt      *time.Time      `json:"built_at,omitempty"`
	FromCache    bool            `json:"from_cache"`
	Stale        bool            `json:"stale"`
	NeverExpires bool            `json:"never_expires"`
	JobID        string          `json:"job_id,omitempty"` // pending, or the background rebuild of a stale read
}

// RebuildRequest is the body of POST /v1/rebuilds.
type RebuildRequest struct {
	Kind         string `json:"kind" binding:"required"`
	Period       string `json:"period" binding:"required"`
	Dimension    string `json:"dimension"`
	RequestedBy  string `json:"requested_by"`
	Reason       string `json:"reason"`
	NeverExpires bool   `json:"never_expires"`
}

// RebuildResponse acknowledges a rebuild request.
type RebuildResponse struct {
	JobID     string            `json:"job_id"`
	Status    storage.JobStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	Attached  bool              `json:"attached"`
}

// RebuildStatusResponse is a job with its key spelled out.
type RebuildStatusResponse struct {
	*storage.RebuildJob
	Kind      string `json:"kind"`
	Period    string `json:"period"`
	Dimension string `json:"dimension,omitempty"`
}

// DurableClear selects durable rows to delete alongside cache entries.
type DurableClear struct {
	Kind         string `json:"kind"`
	PeriodPrefix string `json:"period_prefix"`
	Dimension    string `json:"dimension"`
}

// ClearCacheRequest is the body of POST /v1/cache/clear.
// An empty pattern clears the whole freshness cache.
type ClearCacheRequest struct {
	Pattern string        `json:"pattern"`
	Durable *DurableClear `json:"durable,omitempty"`
}

// ClearCacheResponse reports what was removed.
type ClearCacheResponse struct {
	ClearedCount   int   `json:"cleared_count"`
	DurableCleared int64 `json:"durable_cleared,omitempty"`
}
