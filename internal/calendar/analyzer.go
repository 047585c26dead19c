// Package calendar derives the implied trading calendar of a dataset and
// detects per-symbol missing dates.
//
// The global calendar is the union of distinct dates present across all
// symbols. A symbol's expected dates are that calendar intersected with the
// symbol's own observed [min, max] span; a missing date is an expected date
// with no record. Symbols whose observations stop materially before the
// global maximum date are classified as discontinued series rather than
// ingestion defects, because the risk profile differs.
package calendar

import (
	"log/slog"
	"sort"
	"time"

	"github.com/johnayoung/go-futures-quality/internal/config"
	"github.com/johnayoung/go-futures-quality/internal/models"
	"github.com/johnayoung/go-futures-quality/internal/rules"
)

// Classification describes the gap profile of a symbol.
type Classification string

const (
	// ClassComplete means the symbol has no missing dates in its span.
	ClassComplete Classification = "complete"
	// ClassSporadicGap means the symbol has isolated missing dates inside an
	// otherwise active span.
	ClassSporadicGap Classification = "sporadic_gap"
	// ClassDiscontinued means the symbol's observations stop materially
	// before the global maximum date (expected termination).
	ClassDiscontinued Classification = "discontinued"
)

// GapRun is a maximal run of consecutive missing calendar dates.
type GapRun struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Length int       `json:"length"`
	// ForwardFillable marks runs short enough for the external forward-fill
	// remediation policy; the analyzer itself never fills anything.
	ForwardFillable bool `json:"forward_fillable"`
}

// SymbolGaps is the gap analysis result for one symbol.
type SymbolGaps struct {
	Symbol          string         `json:"symbol"`
	FirstDate       time.Time      `json:"first_date"`
	LastDate        time.Time      `json:"last_date"`
	MissingDates    []time.Time    `json:"missing_dates"`
	GapRuns         []GapRun       `json:"gap_runs"`
	TrailingGapDays int            `json:"trailing_gap_days"`
	Classification  Classification `json:"classification"`
}

// DateCoverage is the per-date count of distinct symbols with a record.
type DateCoverage struct {
	Date        time.Time `json:"date"`
	SymbolCount int       `json:"symbol_count"`
}

// Report is the full calendar analysis of a dataset.
type Report struct {
	Calendar []time.Time    `json:"calendar"`
	Symbols  []SymbolGaps   `json:"symbols"`
	Coverage []DateCoverage `json:"coverage"`
}

// Analyzer computes calendar gaps for a dataset.
type Analyzer struct {
	logger *slog.Logger
}

// NewAnalyzer creates a gap analyzer.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{logger: logger.With("component", "gap_analyzer")}
}

// Analyze derives the implied calendar and per-symbol gap reports. The
// discontinuation threshold and the forward-fill window come from the
// configuration snapshot, never from hard-coded business logic.
func (a *Analyzer) Analyze(ds *models.Dataset, cfg config.Snapshot) (*Report, error) {
	discontinuedGap, err := cfg.Get(config.KeyDiscontinuedGapDays)
	if err != nil {
		return nil, err
	}
	maxFfill, err := cfg.Get(config.KeyMaxFfillGapDays)
	if err != nil {
		return nil, err
	}

	global := ds.DateUnion()
	report := &Report{Calendar: global}
	if len(global) == 0 {
		return report, nil
	}

	// Coverage: distinct symbols per date.
	coverage := make(map[string]map[string]struct{})
	for i := range ds.Records {
		day := ds.Records[i].Date.Format(models.DateLayout)
		if coverage[day] == nil {
			coverage[day] = make(map[string]struct{})
		}
		coverage[day][ds.Records[i].Symbol] = struct{}{}
	}
	for _, date := range global {
		report.Coverage = append(report.Coverage, DateCoverage{
			Date:        date,
			SymbolCount: len(coverage[date.Format(models.DateLayout)]),
		})
	}

	bySymbol := ds.BySymbol()
	for _, symbol := range ds.Symbols() {
		indices := bySymbol[symbol]
		observed := make(map[string]struct{}, len(indices))
		var first, last time.Time
		for _, i := range indices {
			d := ds.Records[i].Date
			observed[d.Format(models.DateLayout)] = struct{}{}
			if first.IsZero() || d.Before(first) {
				first = d
			}
			if last.IsZero() || d.After(last) {
				last = d
			}
		}

		sg := SymbolGaps{Symbol: symbol, FirstDate: first, LastDate: last}

		for _, date := range global {
			if date.Before(first) || date.After(last) {
				continue
			}
			if _, ok := observed[date.Format(models.DateLayout)]; !ok {
				sg.MissingDates = append(sg.MissingDates, date)
			}
		}
		sg.GapRuns = buildGapRuns(global, sg.MissingDates, int(maxFfill))

		// Trailing gap: global calendar dates strictly after the symbol's
		// last observation.
		for _, date := range global {
			if date.After(last) {
				sg.TrailingGapDays++
			}
		}

		switch {
		case sg.TrailingGapDays > int(discontinuedGap):
			sg.Classification = ClassDiscontinued
		case len(sg.MissingDates) > 0:
			sg.Classification = ClassSporadicGap
		default:
			sg.Classification = ClassComplete
		}

		a.logger.Debug("analyzed symbol calendar",
			"symbol", symbol,
			"missing_dates", len(sg.MissingDates),
			"trailing_gap_days", sg.TrailingGapDays,
			"classification", sg.Classification,
		)

		report.Symbols = append(report.Symbols, sg)
	}

	// Guard against map iteration leaking into output order.
	sort.Slice(report.Symbols, func(i, j int) bool {
		return report.Symbols[i].Symbol < report.Symbols[j].Symbol
	})

	return report, nil
}

// buildGapRuns groups missing dates into maximal runs of consecutive calendar
// positions. Run length counts calendar dates, not wall-clock days, so
// weekends and holidays absent from every symbol never inflate a run.
func buildGapRuns(calendar, missing []time.Time, maxFfill int) []GapRun {
	if len(missing) == 0 {
		return nil
	}

	position := make(map[string]int, len(calendar))
	for i, date := range calendar {
		position[date.Format(models.DateLayout)] = i
	}

	var runs []GapRun
	runStart := 0
	for i := 1; i <= len(missing); i++ {
		endOfRun := i == len(missing)
		if !endOfRun {
			prevPos := position[missing[i-1].Format(models.DateLayout)]
			curPos := position[missing[i].Format(models.DateLayout)]
			if curPos == prevPos+1 {
				continue
			}
		}
		run := GapRun{
			Start:  missing[runStart],
			End:    missing[i-1],
			Length: i - runStart,
		}
		run.ForwardFillable = run.Length <= maxFfill
		runs = append(runs, run)
		runStart = i
	}
	return runs
}

// Flags converts the report into calendar-derived flags. In-span missing
// dates produce missing_date flags; for a discontinued symbol the same dates
// produce the informational discontinued_series flag instead, plus one
// marker flag at the symbol's last observed date so a cleanly ending series
// still surfaces its termination.
func (r *Report) Flags(severities map[string]models.Severity) []models.Flag {
	var flags []models.Flag
	for _, sg := range r.Symbols {
		rule := rules.RuleMissingDate
		if sg.Classification == ClassDiscontinued {
			rule = rules.RuleDiscontinuedSeries
			flags = append(flags, models.Flag{
				Key: models.Key{
					Date:   sg.LastDate.Format(models.DateLayout),
					Symbol: sg.Symbol,
				},
				Rule:     rule,
				Severity: severities[rule],
			})
		}
		for _, date := range sg.MissingDates {
			flags = append(flags, models.Flag{
				Key: models.Key{
					Date:   date.Format(models.DateLayout),
					Symbol: sg.Symbol,
				},
				Rule:     rule,
				Severity: severities[rule],
			})
		}
	}
	return flags
}
