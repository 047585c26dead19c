package models

import (
	"sort"
	"time"
)

// SchemaIssue records one input row that failed schema validation. The row is
// excluded from rule evaluation and reported; the key is zero-valued when the
// row was too malformed to identify.
type SchemaIssue struct {
	Key  Key          `json:"key"`
	Line int          `json:"line"`
	Err  *SchemaError `json:"error"`
}

// Dataset is one batch of records loaded for evaluation, immutable for the
// duration of a pass. Malformed rows are carried as schema issues so the
// schema rule can report them without crashing the pass.
type Dataset struct {
	Records      []Record
	SchemaIssues []SchemaIssue
}

// NewDataset builds a dataset and normalizes record order to (Symbol, Date)
// so evaluation output is deterministic regardless of input order.
func NewDataset(records []Record, issues []SchemaIssue) *Dataset {
	ds := &Dataset{
		Records:      make([]Record, len(records)),
		SchemaIssues: issues,
	}
	copy(ds.Records, records)
	sort.SliceStable(ds.Records, func(i, j int) bool {
		if ds.Records[i].Symbol != ds.Records[j].Symbol {
			return ds.Records[i].Symbol < ds.Records[j].Symbol
		}
		return ds.Records[i].Date.Before(ds.Records[j].Date)
	})
	return ds
}

// BySymbol groups record indices per symbol, preserving date order within
// each symbol. Duplicated (Date, Symbol) keys keep all their copies.
func (ds *Dataset) BySymbol() map[string][]int {
	groups := make(map[string][]int)
	for i, rec := range ds.Records {
		groups[rec.Symbol] = append(groups[rec.Symbol], i)
	}
	return groups
}

// Symbols returns the distinct symbols in sorted order.
func (ds *Dataset) Symbols() []string {
	seen := make(map[string]struct{})
	var symbols []string
	for _, rec := range ds.Records {
		if _, ok := seen[rec.Symbol]; !ok {
			seen[rec.Symbol] = struct{}{}
			symbols = append(symbols, rec.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// DateUnion returns the distinct dates present across all symbols, sorted
// ascending. This is the implied global trading calendar.
func (ds *Dataset) DateUnion() []time.Time {
	seen := make(map[string]time.Time)
	for _, rec := range ds.Records {
		seen[rec.Date.Format(DateLayout)] = rec.Date
	}
	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// Len returns the number of valid records.
func (ds *Dataset) Len() int {
	return len(ds.Records)
}
