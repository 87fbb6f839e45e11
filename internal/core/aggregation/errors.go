package aggregation

import "errors"

var (
	// ErrUnknownKind is returned for kinds missing from the registry.
	ErrUnknownKind = errors.New("unknown aggregate kind")
	// ErrInvalidPeriod is returned for unparseable periods or grains a kind does not allow.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrSourceUnavailable means the transaction log could not be read. Callers may retry.
	ErrSourceUnavailable = errors.New("transaction log unavailable")
	// ErrTimeout means the pass exceeded its hard deadline.
	ErrTimeout = errors.New("aggregation timed out")
	// ErrMalformedRecord marks a row that was skipped and counted.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrReconciliation means a breakdown did not sum to its total. Never persisted.
	ErrReconciliation = errors.New("aggregate does not reconcile")
)
