package aggregation

import (
	"fmt"
	"strings"
	"time"
)

// Unassigned is the breakdown bucket for rows with no value for the grouping dimension.
// Rows are never dropped, so breakdowns always reconcile with totals.
const Unassigned = "unassigned"

// AggregateKey identifies one authoritative durable aggregate.
type AggregateKey struct {
	Kind      string
	Period    Period
	Dimension string // optional entity filter; empty means all entities
}

// NewKey parses the period and builds a key. Dimension is trimmed.
func NewKey(kind, period, dimension string) (AggregateKey, error) {
	if strings.TrimSpace(kind) == "" {
		return AggregateKey{}, fmt.Errorf("%w: kind is required", ErrUnknownKind)
	}
	p, err := ParsePeriod(period)
	if err != nil {
		return AggregateKey{}, err
	}
	return AggregateKey{
		Kind:      kind,
		Period:    p,
		Dimension: strings.TrimSpace(dimension),
	}, nil
}

// String renders kind/period[/dimension]. Cache fingerprints are prefixed by it.
func (k AggregateKey) String() string {
	if k.Dimension == "" {
		return k.Kind + "/" + k.Period.String()
	}
	return k.Kind + "/" + k.Period.String() + "/" + k.Dimension
}

// AggregateRecord is the durable row for one AggregateKey.
// It is only ever replaced as a whole.
type AggregateRecord struct {
	Key             AggregateKey
	Shape           Shape
	Payload         Payload
	RowCount        int64
	SkippedCount    int64 // malformed rows skipped during the pass
	BuildDurationMs int64
	BuiltAt         time.Time
	JobStartedAt    time.Time // orders concurrent writers for the same key
	NeverExpires    bool
	RequestedBy     string
	RequestReason   string
	KindFingerprint string
	JobID           string
	PayloadBytes    int64
}

// IsStale reports whether a record should be rebuilt under def at now.
// Never-expires records are only replaced by explicit request.
func (r *AggregateRecord) IsStale(def KindDefinition, now time.Time) bool {
	if r.NeverExpires {
		return false
	}
	if def.Fingerprint != "" && r.KindFingerprint != def.Fingerprint {
		return true
	}
	if def.MaxAge > 0 && now.Sub(r.BuiltAt) > def.MaxAge {
		return true
	}
	return false
}
