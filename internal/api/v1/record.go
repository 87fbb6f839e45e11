package v1

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrencyExponent is used when a row does not carry its own exponent.
// Detail files report cents, so two minor-unit digits is the common case.
const DefaultCurrencyExponent = 2

// maxCurrencyExponent bounds the exponent accepted from a row.
const maxCurrencyExponent = 6

// Record is one typed row of the transaction log.
// Rows are appended by the ingestion pipeline; this service only reads them.
type Record struct {
	// Seq is the log sequence assigned on append (BIGSERIAL).
	// Scans page by Seq so batch boundaries never skip or repeat rows.
	Seq int64 `json:"seq"`

	// ID is the business identifier of the row inside its source file.
	ID string `json:"id"`

	// UploadID is the owning upload (the file this row was parsed from).
	UploadID string `json:"upload_id"`

	// EntityID is the merchant/terminal the row belongs to.
	// Empty when the source row carried no entity.
	EntityID string `json:"entity_id,omitempty"`

	// RecordType is the detail/batch record kind (e.g. "sale", "refund", "batch-header").
	RecordType string `json:"record_type,omitempty"`

	// ProcessingDate is the calendar day the row was processed on.
	ProcessingDate time.Time `json:"processing_date"`

	// RawAmount is the amount exactly as parsed from the file, in minor units.
	RawAmount string `json:"raw_amount"`

	// CurrencyExponent is the number of minor-unit digits; 0 means DefaultCurrencyExponent.
	CurrencyExponent int `json:"currency_exponent,omitempty"`
}

// Validate reports whether the row can be aggregated.
// A failing row is malformed: aggregation skips and counts it.
func (r *Record) Validate() error {
	if r.ProcessingDate.IsZero() {
		return fmt.Errorf("processing_date is required")
	}
	if r.CurrencyExponent < 0 || r.CurrencyExponent > maxCurrencyExponent {
		return fmt.Errorf("currency_exponent %d out of range", r.CurrencyExponent)
	}
	if _, err := r.minorUnits(); err != nil {
		return err
	}
	return nil
}

// Amount converts RawAmount to a major-unit decimal.
// The conversion happens once per row; callers accumulate the decimal.
func (r *Record) Amount() (decimal.Decimal, error) {
	minor, err := r.minorUnits()
	if err != nil {
		return decimal.Zero, err
	}
	exp := r.CurrencyExponent
	if exp == 0 {
		exp = DefaultCurrencyExponent
	}
	return decimal.New(minor, int32(-exp)), nil
}

func (r *Record) minorUnits() (int64, error) {
	raw := strings.TrimSpace(r.RawAmount)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("raw_amount %q is not an integer minor-unit value", r.RawAmount)
	}
	return v, nil
}

// RecordSummary is the listing projection of a Record.
type RecordSummary struct {
	Seq            int64           `json:"seq"`
	ID             string          `json:"id"`
	UploadID       string          `json:"upload_id"`
	EntityID       string          `json:"entity_id,omitempty"`
	RecordType     string          `json:"record_type,omitempty"`
	ProcessingDate string          `json:"processing_date"`
	Amount         decimal.Decimal `json:"amount"`
}
