package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"github.com/johnayoung/go-futures-quality/internal/models"
)

// Canonical input columns. OpenInterest is optional; historical exports
// predate it.
var requiredColumns = []string{"Date", "Symbol", "Open", "High", "Low", "Close", "Volume"}

const (
	columnOpenInterest = "OpenInterest"
	columnExplanation  = "AI_Explanation"
	columnTrend        = "AI_Trend"
)

// LoadCSV reads a daily dataset from CSV. Dates are accepted as YYYY-MM-DD
// or YYYYMMDD. Rows that fail schema validation are captured as schema
// issues on the dataset rather than aborting the load; only a missing or
// malformed header is fatal.
func LoadCSV(path string, logger *slog.Logger) (*models.Dataset, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "csv_loader")

	f, err := os.Open(path)
	if err != nil {
		return nil, NewStorageError("open", "", err)
	}
	defer f.Close()

	ds, err := readCSV(f)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded dataset",
		"path", path,
		"records", ds.Len(),
		"symbols", len(ds.Symbols()),
		"schema_issues", len(ds.SchemaIssues),
	)
	return ds, nil
}

func readCSV(r io.Reader) (*models.Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, NewStorageError("read", "header", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := index[name]; !ok {
			return nil, NewStorageError("read", "header", fmt.Errorf("missing required column %q", name))
		}
	}
	oiIdx, hasOI := index[columnOpenInterest]

	var records []models.Record
	var issues []models.SchemaIssue

	line := 1
	for {
		line++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			issues = append(issues, models.SchemaIssue{
				Line: line,
				Err:  &models.SchemaError{Line: line, Field: "", Message: err.Error()},
			})
			continue
		}
		if len(row) < len(requiredColumns) {
			issues = append(issues, models.SchemaIssue{
				Line: line,
				Err:  &models.SchemaError{Line: line, Field: "", Message: "too few columns"},
			})
			continue
		}

		symbol := row[index["Symbol"]]
		date, err := models.ParseDate(row[index["Date"]])
		if err != nil {
			issues = append(issues, models.SchemaIssue{
				Key:  models.Key{Symbol: symbol, Date: row[index["Date"]]},
				Line: line,
				Err:  &models.SchemaError{Line: line, Field: "Date", Message: err.Error()},
			})
			continue
		}

		openInterest := "0"
		if hasOI && oiIdx < len(row) && row[oiIdx] != "" {
			openInterest = row[oiIdx]
		}
		rec, err := models.NewRecord(date, symbol,
			row[index["Open"]], row[index["High"]], row[index["Low"]],
			row[index["Close"]], row[index["Volume"]], openInterest)
		if err != nil {
			issue := models.SchemaIssue{
				Key:  models.Key{Symbol: symbol, Date: date.Format(models.DateLayout)},
				Line: line,
			}
			if schemaErr, ok := err.(*models.SchemaError); ok {
				schemaErr.Line = line
				issue.Err = schemaErr
			} else {
				issue.Err = &models.SchemaError{Line: line, Message: err.Error()}
			}
			issues = append(issues, issue)
			continue
		}
		records = append(records, *rec)
	}

	return models.NewDataset(records, issues), nil
}

// WriteFlaggedCSV writes the per-record pass result: the base columns, one
// boolean column per rule in the given order, per-severity flag counts, and
// the effective severity.
func WriteFlaggedCSV(path string, rows []models.EnrichedRecord, ruleNames []string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Create(path)
	if err != nil {
		return NewStorageError("create", "", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	names := make([]string, len(ruleNames))
	copy(names, ruleNames)
	sort.Strings(names)

	header := append(baseHeader(), names...)
	header = append(header, "critical_flags", "major_flags", "minor_flags", "effective_severity")
	if err := w.Write(header); err != nil {
		return NewStorageError("write", "header", err)
	}

	for i := range rows {
		row := &rows[i]
		fields := baseFields(&row.Record)

		flagged := make(map[string]bool, len(row.Flags))
		counts := map[models.Severity]int{}
		for _, flag := range row.Flags {
			flagged[flag.Rule] = true
			counts[flag.Severity]++
		}
		for _, name := range names {
			fields = append(fields, strconv.FormatBool(flagged[name]))
		}
		fields = append(fields,
			strconv.Itoa(counts[models.SeverityCritical]),
			strconv.Itoa(counts[models.SeverityMajor]),
			strconv.Itoa(counts[models.SeverityMinor]),
		)
		severity := ""
		if row.EffectiveSeverity != nil {
			severity = string(*row.EffectiveSeverity)
		}
		fields = append(fields, severity)

		if err := w.Write(fields); err != nil {
			return NewStorageError("write", "row", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return NewStorageError("write", "", err)
	}
	logger.Info("wrote flagged dataset", "path", path, "rows", len(rows))
	return nil
}

// WriteEnrichedCSV writes the dataset with annotation columns. Rows without
// an annotation keep empty cells; the row count always matches the input.
func WriteEnrichedCSV(path string, rows []models.EnrichedRecord, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Create(path)
	if err != nil {
		return NewStorageError("create", "", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := append(baseHeader(), columnExplanation, columnTrend)
	if err := w.Write(header); err != nil {
		return NewStorageError("write", "header", err)
	}

	for i := range rows {
		row := &rows[i]
		fields := baseFields(&row.Record)
		explanation, trend := "", ""
		if row.Explanation != nil {
			explanation = *row.Explanation
		}
		if row.Trend != nil {
			trend = *row.Trend
		}
		fields = append(fields, explanation, trend)
		if err := w.Write(fields); err != nil {
			return NewStorageError("write", "row", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return NewStorageError("write", "", err)
	}
	logger.Info("wrote enriched dataset", "path", path, "rows", len(rows))
	return nil
}

// ReadAnnotationsCSV loads annotation rows from an enriched CSV, typically
// the output of a previous enrichment run being merged into a fresh base.
func ReadAnnotationsCSV(path string) ([]models.AnnotationRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewStorageError("open", "", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, NewStorageError("read", "header", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, name := range []string{"Date", "Symbol", columnExplanation, columnTrend} {
		if _, ok := index[name]; !ok {
			return nil, NewStorageError("read", "header", fmt.Errorf("missing required column %q", name))
		}
	}

	var rows []models.AnnotationRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewStorageError("read", "row", err)
		}
		date, err := models.ParseDate(record[index["Date"]])
		if err != nil {
			return nil, NewStorageError("read", "row", err)
		}
		rows = append(rows, models.AnnotationRow{
			Key: models.Key{
				Symbol: record[index["Symbol"]],
				Date:   date.Format(models.DateLayout),
			},
			Explanation: record[index[columnExplanation]],
			Trend:       record[index[columnTrend]],
		})
	}
	return rows, nil
}

func baseHeader() []string {
	return []string{"Date", "Symbol", "Open", "High", "Low", "Close", "Volume", columnOpenInterest}
}

func baseFields(r *models.Record) []string {
	return []string{
		r.Date.Format(models.DateLayout),
		r.Symbol,
		r.Open.String(),
		r.High.String(),
		r.Low.String(),
		r.Close.String(),
		r.Volume.String(),
		r.OpenInterest.String(),
	}
}
