// Package models provides the data structures for daily futures OHLCV quality
// assessment: records, flags, severities, annotations, and the structured
// error types shared by the rule engine and the enrichment pipeline.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-date format used for record keys and
// all serialized output.
const DateLayout = "2006-01-02"

// Record represents a single (Date, Symbol) daily OHLCV observation.
// All numeric fields use decimal arithmetic for financial precision.
// The (Date, Symbol) pair is expected to be unique after cleaning; duplicates
// are a detected defect, not a schema guarantee.
type Record struct {
	Date         time.Time       `json:"date" db:"date"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Open         decimal.Decimal `json:"open" db:"open"`
	High         decimal.Decimal `json:"high" db:"high"`
	Low          decimal.Decimal `json:"low" db:"low"`
	Close        decimal.Decimal `json:"close" db:"close"`
	Volume       decimal.Decimal `json:"volume" db:"volume"`
	OpenInterest decimal.Decimal `json:"open_interest" db:"open_interest"`
}

// Key identifies a record by its (Date, Symbol) primary key.
// Dates are normalized to the DateLayout string so keys are comparable and
// usable as map keys.
type Key struct {
	Date   string `json:"date"`
	Symbol string `json:"symbol"`
}

// Key returns the record's primary key.
func (r *Record) Key() Key {
	return Key{Date: r.Date.Format(DateLayout), Symbol: r.Symbol}
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Symbol, k.Date)
}

// Less orders keys by (Symbol, Date) for deterministic output.
func (k Key) Less(other Key) bool {
	if k.Symbol != other.Symbol {
		return k.Symbol < other.Symbol
	}
	return k.Date < other.Date
}

// String returns a human-readable representation of the record.
func (r *Record) String() string {
	return fmt.Sprintf("Record{Symbol: %s, Date: %s, O: %s, H: %s, L: %s, C: %s, V: %s, OI: %s}",
		r.Symbol, r.Date.Format(DateLayout),
		r.Open, r.High, r.Low, r.Close, r.Volume, r.OpenInterest)
}

// HasValidRange reports whether the OHLC fields satisfy the range invariant
// Low <= {Open, Close} <= High. Violations are what the range rule detects;
// this helper does not treat them as an error.
func (r *Record) HasValidRange() bool {
	if r.High.LessThan(r.Low) {
		return false
	}
	if r.Open.LessThan(r.Low) || r.Open.GreaterThan(r.High) {
		return false
	}
	if r.Close.LessThan(r.Low) || r.Close.GreaterThan(r.High) {
		return false
	}
	return true
}

// IsFlat reports whether Open, High, Low and Close are all equal.
func (r *Record) IsFlat() bool {
	return r.Open.Equal(r.High) && r.Open.Equal(r.Low) && r.Open.Equal(r.Close)
}

// NewRecord creates a record from decimal strings, normalizing the date to
// UTC midnight. Returns a SchemaError naming the offending field if any value
// fails to parse.
func NewRecord(date time.Time, symbol, open, high, low, close, volume, openInterest string) (*Record, error) {
	rec := &Record{
		Date:   time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		Symbol: symbol,
	}

	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"Open", open, &rec.Open},
		{"High", high, &rec.High},
		{"Low", low, &rec.Low},
		{"Close", close, &rec.Close},
		{"Volume", volume, &rec.Volume},
		{"OpenInterest", openInterest, &rec.OpenInterest},
	}

	for _, f := range fields {
		d, err := decimal.NewFromString(f.value)
		if err != nil {
			return nil, &SchemaError{
				Field:   f.name,
				Message: fmt.Sprintf("invalid numeric value %q: %v", f.value, err),
			}
		}
		*f.dst = d
	}

	return rec, nil
}

// ParseDate parses a calendar date in either the canonical 2006-01-02 layout
// or the compact YYYYMMDD form used by legacy exports. The result is UTC
// midnight.
func ParseDate(value string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("20060102", value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected %s or YYYYMMDD", value, DateLayout)
}
