package storage

import (
	"time"

	"github.com/aevon-lab/ledgerview/internal/core/aggregation"
)

// JobStatus is the lifecycle state of a rebuild job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Trigger records why a rebuild was requested.
type Trigger string

const (
	TriggerReadMiss  Trigger = "read-miss"
	TriggerReadStale Trigger = "read-stale"
	TriggerAdmin     Trigger = "admin"
)

// Failure details recorded on failed jobs.
const (
	DetailSuperseded = "superseded"
	DetailTimeout    = "timeout"
	DetailAbandoned  = "abandoned"
)

// JobProgress counts rows processed against the period's row count.
type JobProgress struct {
	Processed int64 `json:"processed"`
	Total     int64 `json:"total"`
}

// RebuildJob is one requested recomputation of an aggregate.
type RebuildJob struct {
	JobID        string                   `json:"job_id"`
	Key          aggregation.AggregateKey `json:"-"`
	Status       JobStatus                `json:"status"`
	CreatedAt    time.Time                `json:"created_at"`
	StartedAt    *time.Time               `json:"started_at,omitempty"`
	CompletedAt  *time.Time               `json:"completed_at,omitempty"`
	Progress     JobProgress              `json:"progress"`
	ErrorDetail  string                   `json:"error_detail,omitempty"`
	TriggeredBy  Trigger                  `json:"triggered_by"`
	RequestedBy  string                   `json:"requested_by,omitempty"`
	Reason       string                   `json:"reason,omitempty"`
	NeverExpires bool                     `json:"never_expires"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *RebuildJob) Clone() *RebuildJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
