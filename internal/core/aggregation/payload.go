package aggregation

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	v1 "github.com/aevon-lab/ledgerview/internal/api/v1"
)

// Payload is the typed aggregate value. The concrete type is fixed by the kind's shape.
type Payload interface {
	Shape() Shape
	// Rows returns the number of source rows the payload accounts for.
	Rows() int64
	// Reconcile verifies that the breakdown accounts for every row.
	Reconcile() error
}

// ActivityPayload holds row counts for an activity heatmap.
type ActivityPayload struct {
	Total     int64            `json:"total"`
	Buckets   map[string]int64 `json:"buckets"`   // processing day (YYYY-MM-DD) -> rows
	Breakdown map[string]int64 `json:"breakdown"` // dimension value -> rows
}

func (p *ActivityPayload) Shape() Shape { return ShapeActivity }
func (p *ActivityPayload) Rows() int64  { return p.Total }

func (p *ActivityPayload) Reconcile() error {
	var byDim, byDay int64
	for _, n := range p.Breakdown {
		byDim += n
	}
	for _, n := range p.Buckets {
		byDay += n
	}
	if byDim != p.Total {
		return fmt.Errorf("%w: breakdown sums to %d, total is %d", ErrReconciliation, byDim, p.Total)
	}
	if byDay != p.Total {
		return fmt.Errorf("%w: day buckets sum to %d, total is %d", ErrReconciliation, byDay, p.Total)
	}
	return nil
}

// DimensionTotal is one breakdown entry of a totals payload.
type DimensionTotal struct {
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// TotalsPayload holds a row count and a measured amount over a period.
type TotalsPayload struct {
	Count     int64                     `json:"count"`
	Amount    decimal.Decimal           `json:"amount"`
	Measure   string                    `json:"measure"`
	Breakdown map[string]DimensionTotal `json:"breakdown"`
}

func (p *TotalsPayload) Shape() Shape { return ShapeTotals }
func (p *TotalsPayload) Rows() int64  { return p.Count }

// Reconcile checks counts for every measure. Amounts are additive only for
// count and sum; min and max are checked by re-merging the breakdown.
func (p *TotalsPayload) Reconcile() error {
	var count int64
	for _, d := range p.Breakdown {
		count += d.Count
	}
	if count != p.Count {
		return fmt.Errorf("%w: breakdown counts sum to %d, total is %d", ErrReconciliation, count, p.Count)
	}
	if p.Count == 0 {
		return nil
	}

	agg, ok := Operators[p.Measure]
	if !ok {
		return fmt.Errorf("%w: unsupported measure %q", ErrReconciliation, p.Measure)
	}
	var (
		merged decimal.Decimal
		first  = true
	)
	for _, d := range p.Breakdown {
		if d.Count == 0 {
			continue
		}
		if first {
			merged, first = d.Amount, false
			continue
		}
		merged = agg.Merge(merged, d.Amount)
	}
	if !merged.Equal(p.Amount) {
		return fmt.Errorf("%w: breakdown amounts merge to %s, total is %s", ErrReconciliation, merged, p.Amount)
	}
	return nil
}

// ListingPayload is one page of record summaries ordered by log sequence.
type ListingPayload struct {
	Page      int                `json:"page"`
	PageSize  int                `json:"page_size"`
	TotalRows int64              `json:"total_rows"`
	HasMore   bool               `json:"has_more"`
	Records   []v1.RecordSummary `json:"records"`
	Skipped   int                `json:"skipped,omitempty"` // malformed rows on this page
}

func (p *ListingPayload) Shape() Shape { return ShapeListing }
func (p *ListingPayload) Rows() int64  { return int64(len(p.Records)) }

func (p *ListingPayload) Reconcile() error {
	onPage := len(p.Records) + p.Skipped
	if onPage > p.PageSize {
		return fmt.Errorf("%w: page holds %d rows, page size is %d", ErrReconciliation, onPage, p.PageSize)
	}
	if onPage == 0 {
		// Pages past the end are valid and empty.
		if p.HasMore {
			return fmt.Errorf("%w: empty page %d reports has_more", ErrReconciliation, p.Page)
		}
		return nil
	}
	shown := int64((p.Page-1)*p.PageSize + onPage)
	if shown > p.TotalRows {
		return fmt.Errorf("%w: page %d ends at row %d, period has %d", ErrReconciliation, p.Page, shown, p.TotalRows)
	}
	if p.HasMore != (shown < p.TotalRows) {
		return fmt.Errorf("%w: has_more=%t inconsistent with %d/%d rows", ErrReconciliation, p.HasMore, shown, p.TotalRows)
	}
	return nil
}

// EncodePayload serializes a payload for the durable store.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode payload: nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Shape(), err)
	}
	return data, nil
}

// DecodePayload parses a stored payload into the variant for shape.
func DecodePayload(shape Shape, data []byte) (Payload, error) {
	var p Payload
	switch shape {
	case ShapeActivity:
		p = &ActivityPayload{}
	case ShapeTotals:
		p = &TotalsPayload{}
	case ShapeListing:
		p = &ListingPayload{}
	default:
		return nil, fmt.Errorf("decode payload: unsupported shape %q", shape)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", shape, err)
	}
	return p, nil
}
