// Package storage defines the persistence layer for quality-pass artifacts:
// raw records, the flags a pass produced, and provider annotations. Backends
// implement these interfaces so the engine and CLI stay storage-agnostic.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/johnayoung/go-futures-quality/internal/models"
)

var errClosed = errors.New("store is closed")

// RecordStorer persists daily records.
type RecordStorer interface {
	// StoreRecords persists a slice of records. Rows are stored as given;
	// physical duplicates are kept so duplicate detection still sees them.
	StoreRecords(ctx context.Context, records []models.Record) error
}

// RecordReader retrieves persisted records.
type RecordReader interface {
	// QueryRecords returns records for a symbol in date order, or all
	// records in (symbol, date) order when symbol is empty.
	QueryRecords(ctx context.Context, symbol string) ([]models.Record, error)
}

// FlagStore persists the flags of quality passes, keyed by run ID.
type FlagStore interface {
	// StoreFlags persists the flags of one pass. Storing the same run ID
	// twice replaces the previous flags for that run.
	StoreFlags(ctx context.Context, runID string, flags []models.Flag) error

	// GetFlags returns the flags of a pass in (symbol, date, rule) order.
	// Returns an empty slice for an unknown run ID.
	GetFlags(ctx context.Context, runID string) ([]models.Flag, error)
}

// AnnotationStore persists provider annotations and their outcome status.
type AnnotationStore interface {
	// StoreAnnotations upserts annotation rows by (symbol, date).
	StoreAnnotations(ctx context.Context, rows []models.AnnotationRow) error

	// GetAnnotations returns all stored annotations in (symbol, date) order.
	GetAnnotations(ctx context.Context) ([]models.AnnotationRow, error)
}

// Manager handles backend lifecycle.
type Manager interface {
	// Initialize prepares the backend (schema creation for SQL backends).
	// Safe to call more than once.
	Initialize(ctx context.Context) error

	// Close releases backend resources. The store must not be used after.
	Close() error

	// HealthCheck verifies the backend is reachable and writable.
	HealthCheck(ctx context.Context) error
}

// Store is the full persistence contract used by the CLI.
type Store interface {
	RecordStorer
	RecordReader
	FlagStore
	AnnotationStore
	Manager
}

// StorageError wraps a backend failure with the operation and table that
// produced it.
type StorageError struct {
	Operation string
	Table     string
	Err       error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage %s on %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a StorageError.
func NewStorageError(operation, table string, err error) *StorageError {
	return &StorageError{Operation: operation, Table: table, Err: err}
}
