package aggregation

import (
	"github.com/shopspring/decimal"
)

// Supported measure operators for totals kinds.
const (
	OpCount = "count"
	OpSum   = "sum"
	OpMin   = "min"
	OpMax   = "max"
)

// Aggregator defines the reduce semantics of a measure operator.
// Engine workers fold rows with Initial/Apply and combine partial results
// with Merge, so every operator must be commutative and associative.
type Aggregator interface {
	// Initial returns the aggregate value after the first row for a bucket.
	// count → 1; sum/min/max → the incoming value itself.
	Initial(incoming decimal.Decimal) decimal.Decimal

	// Apply folds an incoming row value into an existing aggregate.
	Apply(current, incoming decimal.Decimal) decimal.Decimal

	// Merge combines two partial aggregates of the same bucket.
	Merge(a, b decimal.Decimal) decimal.Decimal
}

// Operators is the registry of all supported measure operators.
var Operators = map[string]Aggregator{
	OpCount: countAgg{},
	OpSum:   sumAgg{},
	OpMin:   minAgg{},
	OpMax:   maxAgg{},
}

// ValidOperator reports whether op is a registered measure operator.
func ValidOperator(op string) bool {
	_, ok := Operators[op]
	return ok
}

// countAgg increments by 1 per row. The incoming value is ignored.
type countAgg struct{}

func (countAgg) Initial(_ decimal.Decimal) decimal.Decimal    { return decimal.NewFromInt(1) }
func (countAgg) Apply(cur, _ decimal.Decimal) decimal.Decimal { return cur.Add(decimal.NewFromInt(1)) }
func (countAgg) Merge(a, b decimal.Decimal) decimal.Decimal   { return a.Add(b) }

// sumAgg accumulates the sum of incoming values.
type sumAgg struct{}

func (sumAgg) Initial(v decimal.Decimal) decimal.Decimal      { return v }
func (sumAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal { return cur.Add(inc) }
func (sumAgg) Merge(a, b decimal.Decimal) decimal.Decimal     { return a.Add(b) }

// minAgg tracks the minimum value seen.
type minAgg struct{}

func (minAgg) Initial(v decimal.Decimal) decimal.Decimal { return v }
func (minAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal {
	if inc.LessThan(cur) {
		return inc
	}
	return cur
}
func (m minAgg) Merge(a, b decimal.Decimal) decimal.Decimal { return m.Apply(a, b) }

// maxAgg tracks the maximum value seen.
type maxAgg struct{}

func (maxAgg) Initial(v decimal.Decimal) decimal.Decimal { return v }
func (maxAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal {
	if inc.GreaterThan(cur) {
		return inc
	}
	return cur
}
func (m maxAgg) Merge(a, b decimal.Decimal) decimal.Decimal { return m.Apply(a, b) }
