// Package engine orchestrates a quality pass: it freezes the threshold and
// severity configuration, evaluates every registered rule against the
// dataset, folds calendar-derived flags into the result, and resolves the
// effective severity of each flagged record.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johnayoung/go-futures-quality/internal/calendar"
	"github.com/johnayoung/go-futures-quality/internal/config"
	"github.com/johnayoung/go-futures-quality/internal/models"
	"github.com/johnayoung/go-futures-quality/internal/rules"
	"github.com/johnayoung/go-futures-quality/internal/severity"
)

// Result holds everything a single quality pass produced. A pass never
// mutates the dataset; flags and severities are layered on top of it.
type Result struct {
	RunID      string
	StartedAt  time.Time
	Duration   time.Duration
	Flags      *models.FlagSet
	RuleErrors []*models.RuleEvaluationError
	Calendar   *calendar.Report
	// Severities maps each flagged key to its effective severity, the
	// highest-priority severity among the key's flags.
	Severities map[models.Key]models.Severity
	// Counts is the total number of flags per severity level.
	Counts map[models.Severity]int
}

// Engine evaluates rules against datasets.
type Engine struct {
	registry *rules.Registry
	resolver *severity.Resolver
	analyzer *calendar.Analyzer
	cfg      config.EngineConfig
	logger   *slog.Logger
}

// New creates an engine from a rule registry and severity resolver.
func New(registry *rules.Registry, resolver *severity.Resolver, cfg config.EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry: registry,
		resolver: resolver,
		analyzer: calendar.NewAnalyzer(logger),
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
	}
}

type ruleOutcome struct {
	name string
	keys []models.Key
	err  error
}

// Run executes a full quality pass over the dataset. Threshold values and
// the rule-to-severity mapping are frozen at entry, so concurrent
// configuration changes never produce a half-old, half-new pass. Identical
// inputs always yield an identical flag set.
func (e *Engine) Run(ctx context.Context, ds *models.Dataset, thresholds *config.Thresholds) (*Result, error) {
	started := time.Now()
	snapshot := thresholds.Snapshot()
	if err := e.registry.ValidateSnapshot(snapshot); err != nil {
		return nil, err
	}
	severities := e.resolver.Mapping()

	result := &Result{
		RunID:      uuid.New().String(),
		StartedAt:  started,
		Flags:      models.NewFlagSet(),
		Severities: make(map[models.Key]models.Severity),
		Counts:     make(map[models.Severity]int),
	}

	logger := e.logger.With("run_id", result.RunID)
	logger.Info("starting quality pass",
		"records", ds.Len(),
		"symbols", len(ds.Symbols()),
		"rules", len(e.registry.Names()),
	)

	defs := e.registry.Definitions()
	outcomes := make([]ruleOutcome, 0, len(defs))
	if e.cfg.Parallel && e.cfg.WorkerCount > 1 {
		outcomes = e.runParallel(ctx, defs, ds, snapshot)
	} else {
		for _, def := range defs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			outcomes = append(outcomes, evaluate(def, ds, snapshot))
		}
	}

	// Deterministic order regardless of worker scheduling.
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].name < outcomes[j].name })

	for _, out := range outcomes {
		if out.err != nil {
			result.RuleErrors = append(result.RuleErrors, &models.RuleEvaluationError{Rule: out.name, Err: out.err})
			logger.Error("rule evaluation failed", "rule", out.name, "error", out.err)
			continue
		}
		sev := severities[out.name]
		for _, key := range out.keys {
			result.Flags.Add(models.Flag{Key: key, Rule: out.name, Severity: sev})
		}
		logger.Debug("rule evaluated", "rule", out.name, "flagged", len(out.keys))
	}

	report, err := e.analyzer.Analyze(ds, snapshot)
	if err != nil {
		return nil, err
	}
	result.Calendar = report
	for _, flag := range report.Flags(severities) {
		result.Flags.Add(flag)
	}

	for _, key := range result.Flags.Keys() {
		flags := result.Flags.ForKey(key)
		if sev, ok := severity.Resolve(flags); ok {
			result.Severities[key] = sev
		}
		for _, f := range flags {
			result.Counts[f.Severity]++
		}
	}

	result.Duration = time.Since(started)
	logger.Info("quality pass complete",
		"flags", result.Flags.Len(),
		"flagged_keys", len(result.Severities),
		"rule_errors", len(result.RuleErrors),
		"critical", result.Counts[models.SeverityCritical],
		"major", result.Counts[models.SeverityMajor],
		"minor", result.Counts[models.SeverityMinor],
		"duration", result.Duration,
	)
	return result, nil
}

// runParallel fans rule definitions out to a bounded worker pool. Each rule
// reads the shared dataset and the frozen snapshot, both immutable for the
// duration of the pass.
func (e *Engine) runParallel(ctx context.Context, defs []rules.Definition, ds *models.Dataset, snapshot config.Snapshot) []ruleOutcome {
	jobs := make(chan rules.Definition)
	results := make(chan ruleOutcome, len(defs))

	var wg sync.WaitGroup
	workers := e.cfg.WorkerCount
	if workers > len(defs) {
		workers = len(defs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for def := range jobs {
				results <- evaluate(def, ds, snapshot)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, def := range defs {
			select {
			case jobs <- def:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]ruleOutcome, 0, len(defs))
	for out := range results {
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// evaluate runs a single rule with panic isolation. A faulty rule must not
// take down the whole pass; it surfaces as a rule error instead.
func evaluate(def rules.Definition, ds *models.Dataset, snapshot config.Snapshot) (out ruleOutcome) {
	out.name = def.Name
	defer func() {
		if r := recover(); r != nil {
			out.keys = nil
			out.err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	out.keys, out.err = def.Predicate(ds, snapshot)
	return out
}

// Rows materializes the per-record view of a pass: every dataset record in
// (symbol, date) order with its flags and effective severity attached.
// Flags on keys with no backing record (missing dates) are not represented
// here; they remain visible through Result.Flags.
func (r *Result) Rows(ds *models.Dataset) []models.EnrichedRecord {
	rows := make([]models.EnrichedRecord, 0, ds.Len())
	for i := range ds.Records {
		rec := ds.Records[i]
		row := models.EnrichedRecord{Record: rec}
		key := rec.Key()
		if flags := r.Flags.ForKey(key); len(flags) > 0 {
			row.Flags = flags
		}
		if sev, ok := r.Severities[key]; ok {
			s := sev
			row.EffectiveSeverity = &s
		}
		rows = append(rows, row)
	}
	return rows
}
