// DuckDB-backed Store. DuckDB's analytical engine suits whole-dataset scans
// over daily series, and a single file doubles as the persistence format for
// repeated passes over the same data.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-futures-quality/internal/models"
)

// DuckDBStore implements Store on a DuckDB database file.
type DuckDBStore struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
}

// NewDuckDBStore opens (or creates) a DuckDB database. Use ":memory:" for an
// ephemeral database.
func NewDuckDBStore(dbPath string, logger *slog.Logger) (*DuckDBStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("failed to open database: %w", err))
	}

	// Single writer; DuckDB does not support concurrent writing connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStore{
		db:     db,
		dbPath: dbPath,
		logger: logger.With("component", "duckdb_store"),
	}, nil
}

// Initialize implements Manager. Creates the schema if it does not exist.
func (d *DuckDBStore) Initialize(ctx context.Context) error {
	d.logger.Info("initializing duckdb store", "db_path", d.dbPath)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
			symbol VARCHAR NOT NULL,
			date DATE NOT NULL,
			open DECIMAL(18,6) NOT NULL,
			high DECIMAL(18,6) NOT NULL,
			low DECIMAL(18,6) NOT NULL,
			close DECIMAL(18,6) NOT NULL,
			volume DECIMAL(18,2) NOT NULL,
			open_interest DECIMAL(18,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS flags (
			run_id VARCHAR NOT NULL,
			symbol VARCHAR NOT NULL,
			date VARCHAR NOT NULL,
			rule VARCHAR NOT NULL,
			severity VARCHAR NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS annotations (
			symbol VARCHAR NOT NULL,
			date VARCHAR NOT NULL,
			explanation VARCHAR,
			trend VARCHAR,
			status VARCHAR NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (symbol, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_symbol_date ON records(symbol, date)`,
		`CREATE INDEX IF NOT EXISTS idx_flags_run ON flags(run_id)`,
	}
	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return NewStorageError("initialize", "", err)
		}
	}
	return nil
}

// StoreRecords implements RecordStorer.
func (d *DuckDBStore) StoreRecords(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("store", "records", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (symbol, date, open, high, low, close, volume, open_interest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return NewStorageError("store", "records", err)
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		_, err := stmt.ExecContext(ctx,
			r.Symbol, r.Date,
			r.Open.String(), r.High.String(), r.Low.String(), r.Close.String(),
			r.Volume.String(), r.OpenInterest.String(),
		)
		if err != nil {
			return NewStorageError("store", "records", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return NewStorageError("store", "records", err)
	}
	d.logger.Debug("stored records", "count", len(records))
	return nil
}

// QueryRecords implements RecordReader.
func (d *DuckDBStore) QueryRecords(ctx context.Context, symbol string) ([]models.Record, error) {
	// The driver returns DECIMAL columns as duckdb.Decimal; casting to
	// VARCHAR keeps the scan on the same string-decimal path as the insert.
	const columns = `symbol, date,
		CAST(open AS VARCHAR), CAST(high AS VARCHAR),
		CAST(low AS VARCHAR), CAST(close AS VARCHAR),
		CAST(volume AS VARCHAR), CAST(open_interest AS VARCHAR)`
	query := `SELECT ` + columns + ` FROM records ORDER BY symbol, date`
	args := []any{}
	if symbol != "" {
		query = `SELECT ` + columns + ` FROM records WHERE symbol = ? ORDER BY date`
		args = append(args, symbol)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError("query", "records", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		var rec models.Record
		var open, high, low, closePrice, volume, openInterest string
		if err := rows.Scan(&rec.Symbol, &rec.Date, &open, &high, &low, &closePrice, &volume, &openInterest); err != nil {
			return nil, NewStorageError("scan", "records", err)
		}
		rec.Date = rec.Date.UTC()
		if rec.Open, err = decimal.NewFromString(open); err != nil {
			return nil, NewStorageError("scan", "records", err)
		}
		if rec.High, err = decimal.NewFromString(high); err != nil {
			return nil, NewStorageError("scan", "records", err)
		}
		if rec.Low, err = decimal.NewFromString(low); err != nil {
			return nil, NewStorageError("scan", "records", err)
		}
		if rec.Close, err = decimal.NewFromString(closePrice); err != nil {
			return nil, NewStorageError("scan", "records", err)
		}
		if rec.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, NewStorageError("scan", "records", err)
		}
		if rec.OpenInterest, err = decimal.NewFromString(openInterest); err != nil {
			return nil, NewStorageError("scan", "records", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("query", "records", err)
	}
	return records, nil
}

// StoreFlags implements FlagStore. Flags of a re-run replace the previous
// flags under the same run ID.
func (d *DuckDBStore) StoreFlags(ctx context.Context, runID string, flags []models.Flag) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("store", "flags", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM flags WHERE run_id = ?`, runID); err != nil {
		return NewStorageError("store", "flags", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO flags (run_id, symbol, date, rule, severity) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return NewStorageError("store", "flags", err)
	}
	defer stmt.Close()

	for _, f := range flags {
		if _, err := stmt.ExecContext(ctx, runID, f.Key.Symbol, f.Key.Date, f.Rule, string(f.Severity)); err != nil {
			return NewStorageError("store", "flags", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return NewStorageError("store", "flags", err)
	}
	d.logger.Debug("stored flags", "run_id", runID, "count", len(flags))
	return nil
}

// GetFlags implements FlagStore.
func (d *DuckDBStore) GetFlags(ctx context.Context, runID string) ([]models.Flag, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT symbol, date, rule, severity FROM flags WHERE run_id = ? ORDER BY symbol, date, rule`, runID)
	if err != nil {
		return nil, NewStorageError("query", "flags", err)
	}
	defer rows.Close()

	flags := []models.Flag{}
	for rows.Next() {
		var f models.Flag
		var severity string
		if err := rows.Scan(&f.Key.Symbol, &f.Key.Date, &f.Rule, &severity); err != nil {
			return nil, NewStorageError("scan", "flags", err)
		}
		f.Severity = models.Severity(severity)
		flags = append(flags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("query", "flags", err)
	}
	return flags, nil
}

// StoreAnnotations implements AnnotationStore.
func (d *DuckDBStore) StoreAnnotations(ctx context.Context, annotations []models.AnnotationRow) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("store", "annotations", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO annotations (symbol, date, explanation, trend, status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return NewStorageError("store", "annotations", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, row := range annotations {
		status := row.Status
		if status == "" {
			status = models.AnnotationDone
		}
		if _, err := stmt.ExecContext(ctx, row.Key.Symbol, row.Key.Date, row.Explanation, row.Trend, string(status), now); err != nil {
			return NewStorageError("store", "annotations", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return NewStorageError("store", "annotations", err)
	}
	return nil
}

// GetAnnotations implements AnnotationStore.
func (d *DuckDBStore) GetAnnotations(ctx context.Context) ([]models.AnnotationRow, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT symbol, date, explanation, trend, status FROM annotations ORDER BY symbol, date`)
	if err != nil {
		return nil, NewStorageError("query", "annotations", err)
	}
	defer rows.Close()

	var annotations []models.AnnotationRow
	for rows.Next() {
		var row models.AnnotationRow
		var explanation, trend sql.NullString
		var status string
		if err := rows.Scan(&row.Key.Symbol, &row.Key.Date, &explanation, &trend, &status); err != nil {
			return nil, NewStorageError("scan", "annotations", err)
		}
		row.Explanation = explanation.String
		row.Trend = trend.String
		row.Status = models.AnnotationStatus(status)
		annotations = append(annotations, row)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("query", "annotations", err)
	}
	return annotations, nil
}

// Close implements Manager.
func (d *DuckDBStore) Close() error {
	d.logger.Info("closing duckdb store")
	return d.db.Close()
}

// HealthCheck implements Manager.
func (d *DuckDBStore) HealthCheck(ctx context.Context) error {
	var one int
	if err := d.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return NewStorageError("health", "", err)
	}
	return nil
}
