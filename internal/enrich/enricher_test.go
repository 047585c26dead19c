package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-futures-quality/internal/config"
	"github.com/johnayoung/go-futures-quality/internal/models"
)

func providerConfig() config.ProviderConfig {
	return config.ProviderConfig{
		Type:          "mock",
		BatchSize:     10,
		MaxRetries:    3,
		RatePerSecond: 1000,
		ContextDays:   7,
	}
}

func request(symbol, date string, ruleNames ...string) Request {
	return Request{
		Key:      models.Key{Symbol: symbol, Date: date},
		Rules:    ruleNames,
		Severity: models.SeverityMajor,
	}
}

func TestRunAnnotatesAllRequests(t *testing.T) {
	provider := &MockProvider{}
	enricher := NewEnricher(provider, providerConfig(), nil)

	rows, err := enricher.Run(context.Background(), []Request{
		request("CL", "2024-01-02", "price_jump"),
		request("GC", "2024-01-03", "extreme_volume"),
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "flagged by price_jump", rows[0].Explanation)
	assert.Equal(t, "sideways", rows[0].Trend)
	assert.Equal(t, 0, len(enricher.Ledger().Failed()))
}

func TestRunRetriesTransientFailures(t *testing.T) {
	attempts := 0
	provider := &MockProvider{
		Fail: func(reqs []Request) error {
			attempts++
			if attempts < 3 {
				return &models.ProviderFailure{
					Key: reqs[0].Key,
					Err: models.ErrProviderRateLimited,
				}
			}
			return nil
		},
	}
	enricher := NewEnricher(provider, providerConfig(), nil)

	rows, err := enricher.Run(context.Background(), []Request{
		request("CL", "2024-01-02", "price_jump"),
	})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 3, attempts)
}

func TestRunMarksPermanentFailures(t *testing.T) {
	provider := &MockProvider{
		Fail: func(reqs []Request) error {
			return errors.New("invalid api key")
		},
	}
	enricher := NewEnricher(provider, providerConfig(), nil)

	key := models.Key{Symbol: "CL", Date: "2024-01-02"}
	rows, err := enricher.Run(context.Background(), []Request{
		request("CL", "2024-01-02", "price_jump"),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.AnnotationFailed, rows[0].Status)
	assert.True(t, rows[0].IsEmpty())
	assert.Equal(t, 1, provider.Calls())

	entry, ok := enricher.Ledger().Get(key)
	require.True(t, ok)
	assert.Equal(t, models.AnnotationFailed, entry.Status)
	assert.Contains(t, entry.Reason, "invalid api key")
}

func TestRunFailsOnlyAttributedKey(t *testing.T) {
	bad := models.Key{Symbol: "CL", Date: "2024-01-03"}
	provider := &MockProvider{
		Fail: func(reqs []Request) error {
			for _, req := range reqs {
				if req.Key == bad {
					return &models.ProviderFailure{Key: bad, Err: errors.New("unparseable row")}
				}
			}
			return nil
		},
	}
	enricher := NewEnricher(provider, providerConfig(), nil)

	rows, err := enricher.Run(context.Background(), []Request{
		request("CL", "2024-01-02", "price_jump"),
		request("CL", "2024-01-03", "price_jump"),
		request("CL", "2024-01-04", "price_jump"),
	})
	require.NoError(t, err)

	// Siblings of the failing item keep their annotations.
	var annotated, failed int
	for _, row := range rows {
		switch row.Status {
		case models.AnnotationDone:
			annotated++
			assert.False(t, row.IsEmpty())
		case models.AnnotationFailed:
			failed++
			assert.Equal(t, bad, row.Key)
		}
	}
	assert.Equal(t, 2, annotated)
	assert.Equal(t, 1, failed)
	require.Equal(t, []models.Key{bad}, enricher.Ledger().Failed())
}

func TestRunUnattributedFailureFallsBackPerItem(t *testing.T) {
	bad := models.Key{Symbol: "CL", Date: "2024-01-03"}
	provider := &MockProvider{
		Fail: func(reqs []Request) error {
			if len(reqs) > 1 {
				return errors.New("batch rejected")
			}
			if reqs[0].Key == bad {
				return errors.New("unparseable row")
			}
			return nil
		},
	}
	enricher := NewEnricher(provider, providerConfig(), nil)

	rows, err := enricher.Run(context.Background(), []Request{
		request("CL", "2024-01-02", "price_jump"),
		request("CL", "2024-01-03", "price_jump"),
		request("CL", "2024-01-04", "price_jump"),
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []models.Key{bad}, enricher.Ledger().Failed())
	// One batch call plus one call per item.
	assert.Equal(t, 4, provider.Calls())
}

func TestLedgerStatusDefaultsToPending(t *testing.T) {
	ledger := NewLedger()
	assert.Equal(t, models.AnnotationPending, ledger.Status(models.Key{Symbol: "CL", Date: "2024-01-02"}))
}

func TestLedgerSeedSkipsFailedKeysFromEarlierRuns(t *testing.T) {
	key := models.Key{Symbol: "CL", Date: "2024-01-02"}
	provider := &MockProvider{}
	enricher := NewEnricher(provider, providerConfig(), nil)
	enricher.Ledger().Seed([]models.AnnotationRow{
		{Key: key, Status: models.AnnotationFailed},
		{Key: models.Key{Symbol: "GC", Date: "2024-01-02"}, Explanation: "volume spike", Trend: "up", Status: models.AnnotationDone},
	})

	reqs := []Request{request("CL", "2024-01-02", "price_jump")}
	rows, err := enricher.Run(context.Background(), reqs)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 0, provider.Calls())

	// --retry-failed clears seeded failures and re-attempts them.
	assert.Equal(t, 1, enricher.Ledger().ClearFailed())
	rows, err = enricher.Run(context.Background(), reqs)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRunSkipsFailedKeysUntilCleared(t *testing.T) {
	var fail bool
	provider := &MockProvider{
		Fail: func(reqs []Request) error {
			if fail {
				return errors.New("boom")
			}
			return nil
		},
	}
	enricher := NewEnricher(provider, providerConfig(), nil)
	reqs := []Request{request("CL", "2024-01-02", "price_jump")}

	fail = true
	_, err := enricher.Run(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, enricher.Ledger().Failed(), 1)

	// Failed keys are not re-attempted on the next run.
	fail = false
	rows, err := enricher.Run(context.Background(), reqs)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 1, provider.Calls())

	// Clearing the ledger re-opens them.
	assert.Equal(t, 1, enricher.Ledger().ClearFailed())
	rows, err = enricher.Run(context.Background(), reqs)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRunHonorsBatchSize(t *testing.T) {
	provider := &MockProvider{}
	cfg := providerConfig()
	cfg.BatchSize = 2
	enricher := NewEnricher(provider, cfg, nil)

	rows, err := enricher.Run(context.Background(), []Request{
		request("CL", "2024-01-02", "price_jump"),
		request("CL", "2024-01-03", "price_jump"),
		request("CL", "2024-01-04", "price_jump"),
	})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, 2, provider.Calls())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	provider := &MockProvider{
		Fail: func(reqs []Request) error {
			return &models.ProviderFailure{Key: reqs[0].Key, Err: models.ErrProviderTimeout}
		},
	}
	cfg := providerConfig()
	cfg.MaxRetries = 10
	enricher := NewEnricher(provider, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := enricher.Run(ctx, []Request{request("CL", "2024-01-02", "price_jump")})
	assert.Error(t, err)
}

func TestBuildRequestsContextWindow(t *testing.T) {
	var records []models.Record
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		records = append(records, models.Record{
			Date:   base.AddDate(0, 0, i),
			Symbol: "CL",
		})
	}
	records = append(records, models.Record{Date: base, Symbol: "GC"})
	ds := models.NewDataset(records, nil)

	flags := models.NewFlagSet()
	key := models.Key{Symbol: "CL", Date: "2024-01-10"}
	flags.Add(models.Flag{Key: key, Rule: "price_jump", Severity: models.SeverityMajor})

	severities := map[models.Key]models.Severity{key: models.SeverityMajor}
	reqs := BuildRequests(ds, flags, severities, 7)
	require.Len(t, reqs, 1)

	req := reqs[0]
	assert.Equal(t, key, req.Key)
	require.NotNil(t, req.Record)
	assert.Equal(t, []string{"price_jump"}, req.Rules)
	assert.Equal(t, models.SeverityMajor, req.Severity)

	// Seven days either side of Jan 10, clipped to the symbol's own span.
	require.Len(t, req.Context, 15)
	for _, rec := range req.Context {
		assert.Equal(t, "CL", rec.Symbol)
	}
	assert.Equal(t, "2024-01-03", req.Context[0].Date.Format(models.DateLayout))
	assert.Equal(t, "2024-01-17", req.Context[len(req.Context)-1].Date.Format(models.DateLayout))
}

func TestBuildRequestsMissingDateHasNoRecord(t *testing.T) {
	ds := models.NewDataset([]models.Record{
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Symbol: "CL"},
	}, nil)

	flags := models.NewFlagSet()
	key := models.Key{Symbol: "CL", Date: "2024-01-03"}
	flags.Add(models.Flag{Key: key, Rule: "missing_date", Severity: models.SeverityMinor})

	reqs := BuildRequests(ds, flags, map[models.Key]models.Severity{key: models.SeverityMinor}, 7)
	require.Len(t, reqs, 1)
	assert.Nil(t, reqs[0].Record)
	assert.Len(t, reqs[0].Context, 1)
}