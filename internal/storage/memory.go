package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/johnayoung/go-futures-quality/internal/models"
)

// MemoryStore is an in-memory Store for tests and single-shot CLI runs.
type MemoryStore struct {
	mu          sync.RWMutex
	records     []models.Record
	flags       map[string][]models.Flag
	annotations map[models.Key]models.AnnotationRow
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags:       make(map[string][]models.Flag),
		annotations: make(map[models.Key]models.AnnotationRow),
	}
}

// StoreRecords implements RecordStorer.
func (m *MemoryStore) StoreRecords(ctx context.Context, records []models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewStorageError("store", "records", errClosed)
	}
	m.records = append(m.records, records...)
	return nil
}

// QueryRecords implements RecordReader.
func (m *MemoryStore) QueryRecords(ctx context.Context, symbol string) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, NewStorageError("query", "records", errClosed)
	}
	var out []models.Record
	for _, rec := range m.records {
		if symbol == "" || rec.Symbol == symbol {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out, nil
}

// StoreFlags implements FlagStore.
func (m *MemoryStore) StoreFlags(ctx context.Context, runID string, flags []models.Flag) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewStorageError("store", "flags", errClosed)
	}
	copied := make([]models.Flag, len(flags))
	copy(copied, flags)
	m.flags[runID] = copied
	return nil
}

// GetFlags implements FlagStore.
func (m *MemoryStore) GetFlags(ctx context.Context, runID string) ([]models.Flag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, NewStorageError("query", "flags", errClosed)
	}
	flags := make([]models.Flag, len(m.flags[runID]))
	copy(flags, m.flags[runID])
	sort.Slice(flags, func(i, j int) bool {
		if flags[i].Key != flags[j].Key {
			return flags[i].Key.Less(flags[j].Key)
		}
		return flags[i].Rule < flags[j].Rule
	})
	return flags, nil
}

// StoreAnnotations implements AnnotationStore.
func (m *MemoryStore) StoreAnnotations(ctx context.Context, rows []models.AnnotationRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewStorageError("store", "annotations", errClosed)
	}
	for _, row := range rows {
		if row.Status == "" {
			row.Status = models.AnnotationDone
		}
		m.annotations[row.Key] = row
	}
	return nil
}

// GetAnnotations implements AnnotationStore.
func (m *MemoryStore) GetAnnotations(ctx context.Context) ([]models.AnnotationRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, NewStorageError("query", "annotations", errClosed)
	}
	rows := make([]models.AnnotationRow, 0, len(m.annotations))
	for _, row := range m.annotations {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key.Less(rows[j].Key) })
	return rows, nil
}

// Initialize implements Manager.
func (m *MemoryStore) Initialize(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Manager.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// HealthCheck implements Manager.
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return NewStorageError("health", "", errClosed)
	}
	return nil
}
