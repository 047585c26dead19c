package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-futures-quality/internal/config"
	"github.com/johnayoung/go-futures-quality/internal/models"
	"github.com/johnayoung/go-futures-quality/internal/rules"
	"github.com/johnayoung/go-futures-quality/internal/severity"
)

func record(t *testing.T, date, symbol, open, high, low, close, volume string) models.Record {
	t.Helper()
	d, err := models.ParseDate(date)
	require.NoError(t, err)
	r, err := models.NewRecord(d, symbol, open, high, low, close, volume, "0")
	require.NoError(t, err)
	return *r
}

func newEngine(t *testing.T, cfg config.EngineConfig) (*Engine, *rules.Registry) {
	t.Helper()
	registry := rules.NewRegistry()
	resolver := severity.NewResolver(registry.DefaultSeverities())
	return New(registry, resolver, cfg, nil), registry
}

func TestRunFlagsRangeViolation(t *testing.T) {
	eng, _ := newEngine(t, config.EngineConfig{})
	ds := models.NewDataset([]models.Record{
		record(t, "2024-01-02", "CL", "100", "145", "100", "200", "1000"),
		record(t, "2024-01-03", "CL", "100", "145", "100", "120", "1000"),
	}, nil)

	result, err := eng.Run(context.Background(), ds, config.NewThresholds())
	require.NoError(t, err)

	bad := models.Key{Date: "2024-01-02", Symbol: "CL"}
	good := models.Key{Date: "2024-01-03", Symbol: "CL"}

	flags := result.Flags.ForKey(bad)
	ruleNames := make([]string, 0, len(flags))
	for _, f := range flags {
		ruleNames = append(ruleNames, f.Rule)
	}
	assert.Contains(t, ruleNames, rules.RuleOHLCRange)
	assert.Equal(t, models.SeverityCritical, result.Severities[bad])

	for _, f := range result.Flags.ForKey(good) {
		assert.NotEqual(t, rules.RuleOHLCRange, f.Rule)
	}
}

func TestRunFlagsDuplicateKeys(t *testing.T) {
	eng, _ := newEngine(t, config.EngineConfig{})
	ds := models.NewDataset([]models.Record{
		record(t, "2024-01-02", "CL", "100", "110", "90", "105", "1000"),
		record(t, "2024-01-02", "CL", "100", "110", "90", "106", "1200"),
	}, nil)

	result, err := eng.Run(context.Background(), ds, config.NewThresholds())
	require.NoError(t, err)

	key := models.Key{Date: "2024-01-02", Symbol: "CL"}
	var found bool
	for _, f := range result.Flags.ForKey(key) {
		if f.Rule == rules.RuleDuplicateKey {
			found = true
		}
	}
	assert.True(t, found)

	// Both physical rows carry the flag in the materialized view.
	rows := result.Rows(ds)
	require.Len(t, rows, 2)
	for _, row := range rows {
		var dup bool
		for _, f := range row.Flags {
			if f.Rule == rules.RuleDuplicateKey {
				dup = true
			}
		}
		assert.True(t, dup)
	}
}

func TestRunEffectiveSeverityTakesHighestPriority(t *testing.T) {
	eng, _ := newEngine(t, config.EngineConfig{})
	// Flat zero-volume row (minor stagnant_price) that is also a duplicate
	// (critical). Effective severity must be critical.
	ds := models.NewDataset([]models.Record{
		record(t, "2024-01-02", "CL", "100", "100", "100", "100", "0"),
		record(t, "2024-01-02", "CL", "100", "100", "100", "100", "0"),
	}, nil)

	result, err := eng.Run(context.Background(), ds, config.NewThresholds())
	require.NoError(t, err)

	key := models.Key{Date: "2024-01-02", Symbol: "CL"}
	flags := result.Flags.ForKey(key)
	require.NotEmpty(t, flags)
	assert.Equal(t, models.SeverityCritical, result.Severities[key])
	assert.Greater(t, result.Counts[models.SeverityCritical], 0)
	assert.Greater(t, result.Counts[models.SeverityMinor], 0)
}

func TestRunIsolatesFailingRule(t *testing.T) {
	eng, registry := newEngine(t, config.EngineConfig{})
	require.NoError(t, registry.Register(rules.Definition{
		Name:            "explosive",
		Description:     "always panics",
		DefaultSeverity: models.SeverityMinor,
		Predicate: func(ds *models.Dataset, cfg config.Snapshot) ([]models.Key, error) {
			panic("boom")
		},
	}))

	ds := models.NewDataset([]models.Record{
		record(t, "2024-01-02", "CL", "100", "145", "100", "200", "1000"),
	}, nil)

	result, err := eng.Run(context.Background(), ds, config.NewThresholds())
	require.NoError(t, err)

	require.Len(t, result.RuleErrors, 1)
	assert.Equal(t, "explosive", result.RuleErrors[0].Rule)

	// Healthy rules still produce their flags.
	key := models.Key{Date: "2024-01-02", Symbol: "CL"}
	assert.NotEmpty(t, result.Flags.ForKey(key))
}

func TestRunParallelMatchesSerial(t *testing.T) {
	ds := models.NewDataset([]models.Record{
		record(t, "2024-01-02", "CL", "100", "145", "100", "200", "1000"),
		record(t, "2024-01-03", "CL", "100", "110", "90", "105", "0"),
		record(t, "2024-01-03", "CL", "100", "110", "90", "105", "0"),
		record(t, "2024-01-02", "GC", "-5", "110", "90", "105", "1000"),
	}, nil)

	serial, _ := newEngine(t, config.EngineConfig{})
	parallel, _ := newEngine(t, config.EngineConfig{Parallel: true, WorkerCount: 4})

	a, err := serial.Run(context.Background(), ds, config.NewThresholds())
	require.NoError(t, err)
	b, err := parallel.Run(context.Background(), ds, config.NewThresholds())
	require.NoError(t, err)

	assert.Equal(t, a.Flags.All(), b.Flags.All())
	assert.Equal(t, a.Severities, b.Severities)
	assert.Equal(t, a.Counts, b.Counts)
}

func TestRunIsDeterministic(t *testing.T) {
	ds := models.NewDataset([]models.Record{
		record(t, "2024-01-02", "CL", "100", "145", "100", "200", "1000"),
		record(t, "2024-01-03", "GC", "100", "110", "90", "105", "0"),
	}, nil)

	eng, _ := newEngine(t, config.EngineConfig{})
	first, err := eng.Run(context.Background(), ds, config.NewThresholds())
	require.NoError(t, err)
	second, err := eng.Run(context.Background(), ds, config.NewThresholds())
	require.NoError(t, err)

	assert.Equal(t, first.Flags.All(), second.Flags.All())
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunRespectsContextCancellation(t *testing.T) {
	eng, _ := newEngine(t, config.EngineConfig{})
	ds := models.NewDataset([]models.Record{
		record(t, "2024-01-02", "CL", "100", "110", "90", "105", "1000"),
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.Run(ctx, ds, config.NewThresholds())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunIncludesCalendarFlags(t *testing.T) {
	eng, _ := newEngine(t, config.EngineConfig{})
	ds := models.NewDataset([]models.Record{
		record(t, "2024-01-02", "CL", "100", "110", "90", "105", "1000"),
		record(t, "2024-01-03", "CL", "100", "110", "90", "106", "1000"),
		record(t, "2024-01-04", "CL", "100", "110", "90", "107", "1000"),
		record(t, "2024-01-02", "GC", "100", "110", "90", "105", "1000"),
		record(t, "2024-01-04", "GC", "100", "110", "90", "107", "1000"),
	}, nil)

	result, err := eng.Run(context.Background(), ds, config.NewThresholds())
	require.NoError(t, err)
	require.NotNil(t, result.Calendar)

	missing := models.Key{Date: "2024-01-03", Symbol: "GC"}
	var found bool
	for _, f := range result.Flags.ForKey(missing) {
		if f.Rule == rules.RuleMissingDate {
			found = true
			assert.Equal(t, models.SeverityMinor, f.Severity)
		}
	}
	assert.True(t, found)

	// Missing-date keys have no backing record, so they never appear in the
	// row view.
	rows := result.Rows(ds)
	for _, row := range rows {
		assert.NotEqual(t, missing, row.Key())
	}
}