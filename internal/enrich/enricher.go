package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johnayoung/go-futures-quality/internal/config"
	"github.com/johnayoung/go-futures-quality/internal/models"
)

// LedgerEntry records the annotation outcome for one key. A key absent from
// the ledger has never been attempted, which is distinct from a key that
// failed permanently.
type LedgerEntry struct {
	Status    models.AnnotationStatus
	Reason    string
	Attempts  int
	UpdatedAt time.Time
}

// Ledger tracks per-key annotation outcomes across enrichment runs.
type Ledger struct {
	mu      sync.RWMutex
	entries map[models.Key]LedgerEntry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[models.Key]LedgerEntry)}
}

// Get returns the entry for a key, if any.
func (l *Ledger) Get(key models.Key) (LedgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[key]
	return entry, ok
}

// Status reports the recorded outcome for a key. Keys never attempted report
// AnnotationPending.
func (l *Ledger) Status(key models.Key) models.AnnotationStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[key]
	if !ok {
		return models.AnnotationPending
	}
	return entry.Status
}

// Seed loads outcomes persisted by earlier runs. Only failed statuses are
// kept; a seeded failure is skipped by Run until ClearFailed re-opens it.
func (l *Ledger) Seed(rows []models.AnnotationRow) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range rows {
		if row.Status != models.AnnotationFailed {
			continue
		}
		if _, ok := l.entries[row.Key]; ok {
			continue
		}
		l.entries[row.Key] = LedgerEntry{
			Status:    models.AnnotationFailed,
			Reason:    "failed in an earlier run",
			UpdatedAt: time.Now().UTC(),
		}
	}
}

func (l *Ledger) record(key models.Key, status models.AnnotationStatus, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.entries[key]
	entry.Status = status
	entry.Reason = reason
	entry.Attempts++
	entry.UpdatedAt = time.Now().UTC()
	l.entries[key] = entry
}

// Failed returns the keys with a permanent failure, sorted.
func (l *Ledger) Failed() []models.Key {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var keys []models.Key
	for key, entry := range l.entries {
		if entry.Status == models.AnnotationFailed {
			keys = append(keys, key)
		}
	}
	sortKeys(keys)
	return keys
}

// ClearFailed removes permanent-failure entries so the next run re-attempts
// those keys.
func (l *Ledger) ClearFailed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var cleared int
	for key, entry := range l.entries {
		if entry.Status == models.AnnotationFailed {
			delete(l.entries, key)
			cleared++
		}
	}
	return cleared
}

// Len returns the number of ledger entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func sortKeys(keys []models.Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// Enricher drives a provider over batches of requests with rate limiting and
// bounded retry. Transient provider failures (timeouts, rate limits) are
// retried with exponential backoff; anything else marks the batch's keys as
// permanently failed in the ledger and the run continues.
type Enricher struct {
	provider Provider
	ledger   *Ledger
	limiter  *rate.Limiter
	cfg      config.ProviderConfig
	logger   *slog.Logger
}

// NewEnricher creates an enricher around a provider.
func NewEnricher(provider Provider, cfg config.ProviderConfig, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Enricher{
		provider: provider,
		ledger:   NewLedger(),
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		cfg:      cfg,
		logger:   logger.With("component", "enricher", "provider", provider.Name()),
	}
}

// Ledger exposes the enricher's outcome ledger.
func (e *Enricher) Ledger() *Ledger {
	return e.ledger
}

// Run annotates the given requests and returns the collected annotation
// rows, including content-free failed-status rows so per-item outcomes can be
// persisted. Keys already marked as permanently failed are skipped; call
// Ledger().ClearFailed() first to re-attempt them. Run returns an error only
// for context cancellation; provider failures are recorded per key.
func (e *Enricher) Run(ctx context.Context, reqs []Request) ([]models.AnnotationRow, error) {
	pending := make([]Request, 0, len(reqs))
	for _, req := range reqs {
		if e.ledger.Status(req.Key) == models.AnnotationFailed {
			continue
		}
		pending = append(pending, req)
	}

	batchSize := e.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(pending)
	}

	runID := uuid.New().String()
	logger := e.logger.With("run_id", runID)
	logger.Info("starting enrichment",
		"requests", len(reqs),
		"pending", len(pending),
		"batch_size", batchSize,
	)

	var rows []models.AnnotationRow
	var failedCount int
	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}

		annotations, failed := e.annotate(ctx, logger, pending[start:end])
		for _, ann := range annotations {
			e.ledger.record(ann.Key, models.AnnotationDone, "")
			rows = append(rows, models.AnnotationRow{
				Key:         ann.Key,
				Explanation: ann.Explanation,
				Trend:       ann.Trend,
				Status:      models.AnnotationDone,
			})
		}
		for _, key := range failed {
			rows = append(rows, models.AnnotationRow{Key: key, Status: models.AnnotationFailed})
			failedCount++
		}

		if ctx.Err() != nil {
			return rows, ctx.Err()
		}
	}

	logger.Info("enrichment complete",
		"annotated", len(rows)-failedCount,
		"failed", failedCount,
	)
	return rows, nil
}

// annotate runs one batch through the provider, isolating failures per item.
// A permanent failure attributed to a key fails only that key and the rest of
// the batch is re-attempted; an unattributed failure over several items falls
// back to one call per item, recording each outcome separately.
func (e *Enricher) annotate(ctx context.Context, logger *slog.Logger, batch []Request) ([]Annotation, []models.Key) {
	var done []Annotation
	var failed []models.Key

	fail := func(key models.Key, err error) {
		e.ledger.record(key, models.AnnotationFailed, err.Error())
		failed = append(failed, key)
		logger.Error("annotation failed permanently", "key", key, "error", err)
	}

	remaining := batch
	for len(remaining) > 0 {
		annotations, err := e.annotateBatch(ctx, remaining)
		if err == nil {
			done = append(done, annotations...)
			break
		}
		if ctx.Err() != nil {
			break
		}

		var pf *models.ProviderFailure
		if errors.As(err, &pf) {
			if idx := indexOfKey(remaining, pf.Key); idx >= 0 {
				fail(pf.Key, err)
				remaining = append(remaining[:idx:idx], remaining[idx+1:]...)
				continue
			}
		}
		if len(remaining) == 1 {
			fail(remaining[0].Key, err)
			break
		}

		for _, req := range remaining {
			sub, subErr := e.annotateBatch(ctx, []Request{req})
			if subErr != nil {
				if ctx.Err() != nil {
					return done, failed
				}
				fail(req.Key, subErr)
				continue
			}
			done = append(done, sub...)
		}
		break
	}
	return done, failed
}

func indexOfKey(reqs []Request, key models.Key) int {
	for i := range reqs {
		if reqs[i].Key == key {
			return i
		}
	}
	return -1
}

// annotateBatch calls the provider once per attempt, retrying transient
// failures with exponential backoff up to MaxRetries.
func (e *Enricher) annotateBatch(ctx context.Context, batch []Request) ([]Annotation, error) {
	var annotations []Annotation

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxInterval = 30 * time.Second

	maxRetries := e.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(maxRetries)), ctx)

	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		result, err := e.provider.Annotate(ctx, batch)
		if err != nil {
			if transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		annotations = result
		return nil
	}

	notify := func(err error, wait time.Duration) {
		e.logger.Warn("transient provider failure, retrying",
			"error", err,
			"wait", wait,
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return annotations, nil
}

func transient(err error) bool {
	var pf *models.ProviderFailure
	if errors.As(err, &pf) {
		return pf.Transient()
	}
	return errors.Is(err, models.ErrProviderTimeout) || errors.Is(err, models.ErrProviderRateLimited)
}
