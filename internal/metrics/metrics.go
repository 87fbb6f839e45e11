// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rebuild outcomes.
const (
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
	OutcomeTimeout    = "timeout"
	OutcomeSuperseded = "superseded"
	OutcomeAbandoned  = "abandoned"
)

// Read path sources.
const (
	SourceCache   = "cache"
	SourceStore   = "store"
	SourceStale   = "stale"
	SourcePending = "pending"
)

var (
	// RebuildRequests counts rebuild requests by trigger and whether they attached to a running job.
	RebuildRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerview_rebuild_requests_total",
		Help: "Rebuild requests by trigger and attach result",
	}, []string{"trigger", "attached"})

	// RebuildOutcomes counts finished rebuild jobs.
	RebuildOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerview_rebuild_outcomes_total",
		Help: "Finished rebuild jobs by kind and outcome",
	}, []string{"kind", "outcome"})

	// RebuildDuration tracks engine pass latency.
	RebuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerview_rebuild_duration_seconds",
		Help:    "Aggregation pass duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"kind"})

	// SkippedRecords counts malformed rows skipped by completed passes.
	SkippedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerview_skipped_records_total",
		Help: "Malformed transaction rows skipped during aggregation",
	}, []string{"kind"})

	// Reads counts aggregate reads by serving source.
	Reads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerview_aggregate_reads_total",
		Help: "Aggregate reads by kind and serving source",
	}, []string{"kind", "source"})

	// DetectorActions counts detector decisions applied during purge.
	DetectorActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerview_detector_actions_total",
		Help: "Duplicate/orphan purge actions by target and action",
	}, []string{"target", "action"})

	// ObjectChecks counts object store verifications by result.
	ObjectChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerview_object_checks_total",
		Help: "Object store existence checks by result",
	}, []string{"result"})
)

// CacheStats is the subset of freshness cache counters exported as gauges.
type CacheStats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// RegisterCache exports cache counters read from stats on every scrape.
func RegisterCache(reg prometheus.Registerer, stats func() CacheStats) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ledgerview_cache_entries",
			Help: "Live freshness cache entries",
		}, func() float64 { return float64(stats().Entries) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "ledgerview_cache_hits_total",
			Help: "Freshness cache hits",
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "ledgerview_cache_misses_total",
			Help: "Freshness cache misses, expired entries included",
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "ledgerview_cache_evictions_total",
			Help: "Freshness cache LRU evictions",
		}, func() float64 { return float64(stats().Evictions) }),
	)
}
