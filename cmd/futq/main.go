// Futures Quality CLI
// This application runs data-quality passes over daily commodity futures
// OHLCV datasets: rule-based anomaly detection, calendar gap analysis, and
// provider-backed annotation of flagged records.
//
// Usage:
//
//	futq check --input data.csv --output flagged.csv
//	futq gaps --input data.csv --json
//	futq enrich --input data.csv --output enriched.csv
//	futq enrich --input data.csv --merge previous_enriched.csv
//
// For detailed help on any command, use: futq <command> --help
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/johnayoung/go-futures-quality/internal/calendar"
	"github.com/johnayoung/go-futures-quality/internal/config"
	"github.com/johnayoung/go-futures-quality/internal/engine"
	"github.com/johnayoung/go-futures-quality/internal/enrich"
	"github.com/johnayoung/go-futures-quality/internal/models"
	"github.com/johnayoung/go-futures-quality/internal/rules"
	"github.com/johnayoung/go-futures-quality/internal/severity"
	"github.com/johnayoung/go-futures-quality/internal/storage"
)

const (
	Version    = "1.0.0"
	AppName    = "futq"
	ConfigFile = "futq.json"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitDataError   = 4
	ExitInterrupt   = 130
)

// CLI holds the wired application components.
type CLI struct {
	config     *config.AppConfig
	thresholds *config.Thresholds
	logger     *slog.Logger
	registry   *rules.Registry
	resolver   *severity.Resolver
	engine     *engine.Engine
	store      storage.Store
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}
	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer cli.store.Close()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "check":
		if err := cli.handleCheck(ctx, args); err != nil {
			cli.exitOnError("Quality pass failed", err)
		}
	case "gaps":
		if err := cli.handleGaps(ctx, args); err != nil {
			cli.exitOnError("Gap analysis failed", err)
		}
	case "enrich":
		if err := cli.handleEnrich(ctx, args); err != nil {
			cli.exitOnError("Enrichment failed", err)
		}
	case "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}
}

func (cli *CLI) exitOnError(message string, err error) {
	cli.logger.Error(message, "error", err)
	if errors.Is(err, context.Canceled) {
		os.Exit(ExitInterrupt)
	}
	os.Exit(ExitDataError)
}

func (cli *CLI) initialize(ctx context.Context) error {
	cfg, err := config.LoadConfig(ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.config = cfg

	logger, err := setupLogging(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logger = logger

	cli.thresholds = config.NewThresholds()
	if err := cfg.ApplyThresholds(cli.thresholds); err != nil {
		return fmt.Errorf("invalid threshold configuration: %w", err)
	}

	cli.registry = rules.NewRegistry()
	cli.resolver = severity.NewResolver(cli.registry.DefaultSeverities())
	cli.engine = engine.New(cli.registry, cli.resolver, cfg.Engine, logger)

	store, err := createStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return fmt.Errorf("failed to initialize storage schema: %w", err)
	}
	cli.store = store

	return nil
}

// handleCheck runs a full quality pass and writes the flagged dataset.
func (cli *CLI) handleCheck(ctx context.Context, args []string) error {
	flags, err := parseCheckFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("check")
		return nil
	}
	if flags.Input == "" {
		return fmt.Errorf("--input is required")
	}

	if err := cli.applyOverrides(flags.Thresholds, flags.Severities); err != nil {
		return err
	}

	ds, err := storage.LoadCSV(flags.Input, cli.logger)
	if err != nil {
		return err
	}

	result, err := cli.engine.Run(ctx, ds, cli.thresholds)
	if err != nil {
		return err
	}

	if flags.Persist {
		if err := cli.store.StoreRecords(ctx, ds.Records); err != nil {
			return err
		}
		if err := cli.store.StoreFlags(ctx, result.RunID, result.Flags.All()); err != nil {
			return err
		}
	}

	if flags.Output != "" {
		names := cli.registry.Names()
		names = append(names, rules.RuleMissingDate, rules.RuleDiscontinuedSeries)
		if err := storage.WriteFlaggedCSV(flags.Output, result.Rows(ds), names, cli.logger); err != nil {
			return err
		}
	}

	if flags.JSON {
		return outputJSON(checkSummary(result))
	}
	printCheckSummary(result)
	return nil
}

// handleGaps runs only the calendar analysis and reports per-symbol gaps.
func (cli *CLI) handleGaps(ctx context.Context, args []string) error {
	flags, err := parseGapsFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("gaps")
		return nil
	}
	if flags.Input == "" {
		return fmt.Errorf("--input is required")
	}

	if err := cli.applyOverrides(flags.Thresholds, nil); err != nil {
		return err
	}

	ds, err := storage.LoadCSV(flags.Input, cli.logger)
	if err != nil {
		return err
	}

	result, err := cli.engine.Run(ctx, ds, cli.thresholds)
	if err != nil {
		return err
	}

	report := result.Calendar
	if flags.Symbol != "" {
		filtered := *report
		filtered.Symbols = nil
		for _, sg := range report.Symbols {
			if sg.Symbol == flags.Symbol {
				filtered.Symbols = append(filtered.Symbols, sg)
			}
		}
		if len(filtered.Symbols) == 0 {
			return fmt.Errorf("symbol %q not present in %s", flags.Symbol, flags.Input)
		}
		report = &filtered
	}

	if flags.JSON {
		return outputJSON(report)
	}
	printGapReport(report)
	return nil
}

// handleEnrich runs a pass, annotates flagged records through the configured
// provider, merges the annotations, and writes the enriched dataset.
func (cli *CLI) handleEnrich(ctx context.Context, args []string) error {
	flags, err := parseEnrichFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("enrich")
		return nil
	}
	if flags.Input == "" {
		return fmt.Errorf("--input is required")
	}

	ds, err := storage.LoadCSV(flags.Input, cli.logger)
	if err != nil {
		return err
	}

	result, err := cli.engine.Run(ctx, ds, cli.thresholds)
	if err != nil {
		return err
	}
	rows := result.Rows(ds)

	// Merge a previous enrichment first so already-annotated rows are not
	// re-sent to the provider.
	if flags.Merge != "" {
		previous, err := storage.ReadAnnotationsCSV(flags.Merge)
		if err != nil {
			return err
		}
		mergeResult := enrich.Merge(rows, previous, cli.logger)
		printMergeSummary(mergeResult)
	}

	// Outcomes persisted by earlier runs: annotated keys fill their rows,
	// failed keys seed the ledger so they are skipped unless --retry-failed.
	stored, err := cli.store.GetAnnotations(ctx)
	if err != nil {
		return err
	}
	if len(stored) > 0 {
		enrich.Merge(rows, stored, cli.logger)
	}

	if flags.Provider != "" {
		cli.config.Provider.Type = flags.Provider
	}
	provider, err := createProvider(cli.config)
	if err != nil {
		return err
	}
	enricher := enrich.NewEnricher(provider, cli.config.Provider, cli.logger)
	enricher.Ledger().Seed(stored)
	if flags.RetryFailed {
		cleared := enricher.Ledger().ClearFailed()
		cli.logger.Info("cleared failed annotation entries", "count", cleared)
	}

	requests := pendingRequests(ds, result, rows, cli.config.Provider.ContextDays)
	annotations, err := enricher.Run(ctx, requests)
	if err != nil {
		return err
	}

	mergeResult := enrich.Merge(rows, annotations, cli.logger)
	printMergeSummary(mergeResult)

	if err := cli.store.StoreAnnotations(ctx, annotations); err != nil {
		return err
	}

	output := flags.Output
	if output == "" {
		output = strings.TrimSuffix(flags.Input, ".csv") + "_enriched.csv"
	}
	if err := storage.WriteEnrichedCSV(output, rows, cli.logger); err != nil {
		return err
	}

	failed := enricher.Ledger().Failed()
	fmt.Printf("Annotated %d records (%d permanently failed), wrote %s\n",
		mergeResult.Applied, len(failed), output)
	for _, key := range failed {
		fmt.Printf("  failed: %s\n", key)
	}
	return nil
}

// pendingRequests builds provider requests for flagged keys whose rows are
// still unannotated.
func pendingRequests(ds *models.Dataset, result *engine.Result, rows []models.EnrichedRecord, contextDays int) []enrich.Request {
	annotated := make(map[models.Key]bool, len(rows))
	for i := range rows {
		if rows[i].Annotated() || rows[i].Conflicted {
			annotated[rows[i].Key()] = true
		}
	}

	all := enrich.BuildRequests(ds, result.Flags, result.Severities, contextDays)
	pending := all[:0]
	for _, req := range all {
		if !annotated[req.Key] {
			pending = append(pending, req)
		}
	}
	return pending
}

// applyOverrides applies per-invocation threshold and severity overrides.
func (cli *CLI) applyOverrides(thresholds map[string]float64, severities map[string]string) error {
	for name, value := range thresholds {
		if err := cli.thresholds.Set(name, value); err != nil {
			return err
		}
	}
	for rule, level := range severities {
		if err := cli.resolver.Override(rule, models.Severity(level)); err != nil {
			return err
		}
	}
	return nil
}

// Command flag structures

type CheckFlags struct {
	Input      string
	Output     string
	Thresholds map[string]float64
	Severities map[string]string
	Persist    bool
	JSON       bool
	Help       bool
}

type GapsFlags struct {
	Input      string
	Symbol     string
	Thresholds map[string]float64
	JSON       bool
	Help       bool
}

type EnrichFlags struct {
	Input       string
	Output      string
	Merge       string
	Provider    string
	RetryFailed bool
	Help        bool
}

func parseCheckFlags(args []string) (*CheckFlags, error) {
	flags := &CheckFlags{
		Thresholds: make(map[string]float64),
		Severities: make(map[string]string),
	}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--input":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--input requires a value")
			}
			i++
			flags.Input = args[i]
		case "--output", "--out":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--output requires a value")
			}
			i++
			flags.Output = args[i]
		case "--set":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--set requires key=value")
			}
			i++
			name, value, err := parseThresholdOverride(args[i])
			if err != nil {
				return nil, err
			}
			flags.Thresholds[name] = value
		case "--severity":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--severity requires rule=level")
			}
			i++
			rule, level, ok := strings.Cut(args[i], "=")
			if !ok {
				return nil, fmt.Errorf("invalid severity override %q, use rule=level", args[i])
			}
			flags.Severities[rule] = level
		case "--persist":
			flags.Persist = true
		case "--json":
			flags.JSON = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

func parseGapsFlags(args []string) (*GapsFlags, error) {
	flags := &GapsFlags{Thresholds: make(map[string]float64)}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--input":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--input requires a value")
			}
			i++
			flags.Input = args[i]
		case "--symbol":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbol requires a value")
			}
			i++
			flags.Symbol = args[i]
		case "--set":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--set requires key=value")
			}
			i++
			name, value, err := parseThresholdOverride(args[i])
			if err != nil {
				return nil, err
			}
			flags.Thresholds[name] = value
		case "--json":
			flags.JSON = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

func parseEnrichFlags(args []string) (*EnrichFlags, error) {
	flags := &EnrichFlags{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--input":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--input requires a value")
			}
			i++
			flags.Input = args[i]
		case "--output", "--out":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--output requires a value")
			}
			i++
			flags.Output = args[i]
		case "--merge":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--merge requires a value")
			}
			i++
			flags.Merge = args[i]
		case "--provider":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--provider requires a value")
			}
			i++
			flags.Provider = args[i]
		case "--retry-failed":
			flags.RetryFailed = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

func parseThresholdOverride(arg string) (string, float64, error) {
	name, raw, ok := strings.Cut(arg, "=")
	if !ok {
		return "", 0, fmt.Errorf("invalid threshold override %q, use key=value", arg)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid threshold value %q: %w", raw, err)
	}
	return name, value, nil
}

// Component factories

func createStorage(cfg *config.AppConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "duckdb":
		return storage.NewDuckDBStore(cfg.Storage.DatabaseURL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
}

func createProvider(cfg *config.AppConfig) (enrich.Provider, error) {
	switch cfg.Provider.Type {
	case "openai":
		if cfg.Provider.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key (FUTQ_OPENAI_API_KEY)")
		}
		return enrich.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.Model), nil
	case "mock":
		return &enrich.MockProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider.Type)
	}
}

func setupLogging(logLevel, logFormat string) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", logLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", logFormat)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// Output helpers

type summary struct {
	RunID         string         `json:"run_id"`
	Records       int            `json:"records"`
	FlaggedKeys   int            `json:"flagged_keys"`
	TotalFlags    int            `json:"total_flags"`
	CriticalFlags int            `json:"critical_flags"`
	MajorFlags    int            `json:"major_flags"`
	MinorFlags    int            `json:"minor_flags"`
	RuleErrors    []string       `json:"rule_errors,omitempty"`
	FlagsByRule   map[string]int `json:"flags_by_rule"`
}

func checkSummary(result *engine.Result) *summary {
	s := &summary{
		RunID:         result.RunID,
		FlaggedKeys:   len(result.Severities),
		TotalFlags:    result.Flags.Len(),
		CriticalFlags: result.Counts[models.SeverityCritical],
		MajorFlags:    result.Counts[models.SeverityMajor],
		MinorFlags:    result.Counts[models.SeverityMinor],
		FlagsByRule:   make(map[string]int),
	}
	for _, flag := range result.Flags.All() {
		s.FlagsByRule[flag.Rule]++
	}
	for _, err := range result.RuleErrors {
		s.RuleErrors = append(s.RuleErrors, err.Error())
	}
	return s
}

func printCheckSummary(result *engine.Result) {
	s := checkSummary(result)
	fmt.Printf("Run %s\n", s.RunID)
	fmt.Printf("  Flagged keys: %d (flags: %d critical, %d major, %d minor)\n",
		s.FlaggedKeys, s.CriticalFlags, s.MajorFlags, s.MinorFlags)
	for rule, count := range s.FlagsByRule {
		fmt.Printf("  %-22s %d\n", rule, count)
	}
	for _, ruleErr := range s.RuleErrors {
		fmt.Printf("  rule error: %s\n", ruleErr)
	}
}

func printGapReport(report *calendar.Report) {
	fmt.Printf("Calendar: %d dates\n", len(report.Calendar))
	if len(report.Coverage) > 0 {
		min, max := report.Coverage[0].SymbolCount, report.Coverage[0].SymbolCount
		for _, dc := range report.Coverage[1:] {
			if dc.SymbolCount < min {
				min = dc.SymbolCount
			}
			if dc.SymbolCount > max {
				max = dc.SymbolCount
			}
		}
		fmt.Printf("Symbols per date: min=%d max=%d\n", min, max)
	}
	for _, sg := range report.Symbols {
		fmt.Printf("  %-8s %s to %s  missing=%d trailing=%d  %s\n",
			sg.Symbol,
			sg.FirstDate.Format(models.DateLayout),
			sg.LastDate.Format(models.DateLayout),
			len(sg.MissingDates),
			sg.TrailingGapDays,
			sg.Classification,
		)
	}
}

func printMergeSummary(result *enrich.MergeResult) {
	fmt.Printf("Merge: applied=%d unchanged=%d unmatched=%d conflicts=%d\n",
		result.Applied, result.Unchanged, len(result.Unmatched), len(result.Conflicts))
	for _, conflict := range result.Conflicts {
		fmt.Printf("  conflict: %s\n", conflict)
	}
	for _, key := range result.Unmatched {
		fmt.Printf("  unmatched: %s\n", key)
	}
}

func outputJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printUsage() {
	fmt.Printf(`%s - futures data quality engine

Usage:
  %s <command> [flags]

Commands:
  check    Run all quality rules and write the flagged dataset
  gaps     Analyze the trading calendar for missing dates
  enrich   Annotate flagged records through the configured provider

Global:
  --version, -v    Print version
  --help, -h       Show this help

Configuration is read from %s and FUTQ_* environment variables.
`, AppName, AppName, ConfigFile)
}

func printCommandHelp(command string) {
	switch command {
	case "check":
		fmt.Printf(`Usage: %s check --input <file> [flags]

Flags:
  --input <file>        Input CSV dataset (required)
  --output <file>       Write the flagged dataset to this path
  --set key=value       Override a threshold for this run (repeatable)
  --severity rule=level Override a rule's severity for this run (repeatable)
  --persist             Store records and flags in the configured backend
  --json                Print the summary as JSON
`, AppName)
	case "gaps":
		fmt.Printf(`Usage: %s gaps --input <file> [flags]

Flags:
  --input <file>   Input CSV dataset (required)
  --symbol <name>  Restrict the report to one symbol
  --set key=value  Override a threshold for this run (repeatable)
  --json           Print the full calendar report as JSON
`, AppName)
	case "enrich":
		fmt.Printf(`Usage: %s enrich --input <file> [flags]

Flags:
  --input <file>     Input CSV dataset (required)
  --output <file>    Output path (default: <input>_enriched.csv)
  --merge <file>     Merge annotations from a previous enriched CSV first
  --provider <name>  Override the configured provider (openai or mock)
  --retry-failed     Re-attempt keys recorded as permanently failed
`, AppName)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
	}
}
