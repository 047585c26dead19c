package enrich

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-futures-quality/internal/models"
)

func baseRows(dates ...string) []models.EnrichedRecord {
	rows := make([]models.EnrichedRecord, 0, len(dates))
	for _, d := range dates {
		date, _ := time.Parse(models.DateLayout, d)
		rows = append(rows, models.EnrichedRecord{
			Record: models.Record{Date: date, Symbol: "CL"},
		})
	}
	return rows
}

func annotation(date, explanation, trend string) models.AnnotationRow {
	return models.AnnotationRow{
		Key:         models.Key{Symbol: "CL", Date: date},
		Explanation: explanation,
		Trend:       trend,
	}
}

func TestMergeFillsNullRows(t *testing.T) {
	rows := baseRows("2024-01-02", "2024-01-03")
	result := Merge(rows, []models.AnnotationRow{
		annotation("2024-01-02", "volume spike on contract roll", "up"),
	}, nil)

	assert.Equal(t, 1, result.Applied)
	assert.Empty(t, result.Conflicts)
	assert.Empty(t, result.Unmatched)
	assert.Len(t, rows, 2)

	require.NotNil(t, rows[0].Explanation)
	assert.Equal(t, "volume spike on contract roll", *rows[0].Explanation)
	require.NotNil(t, rows[0].Trend)
	assert.Equal(t, "up", *rows[0].Trend)
	assert.Nil(t, rows[1].Explanation)
}

func TestMergeIsIdempotent(t *testing.T) {
	rows := baseRows("2024-01-02")
	incoming := []models.AnnotationRow{
		annotation("2024-01-02", "volume spike", "up"),
	}

	first := Merge(rows, incoming, nil)
	assert.Equal(t, 1, first.Applied)

	second := Merge(rows, incoming, nil)
	assert.Equal(t, 0, second.Applied)
	assert.Equal(t, 1, second.Unchanged)
	assert.Empty(t, second.Conflicts)
	assert.Equal(t, "volume spike", *rows[0].Explanation)
}

func TestMergeReportsConflictWithExistingAnnotation(t *testing.T) {
	rows := baseRows("2024-01-02")
	Merge(rows, []models.AnnotationRow{annotation("2024-01-02", "first cause", "up")}, nil)

	result := Merge(rows, []models.AnnotationRow{annotation("2024-01-02", "second cause", "down")}, nil)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "first cause", result.Conflicts[0].First)
	assert.Equal(t, "second cause", result.Conflicts[0].Second)

	// The stored annotation is never overwritten.
	assert.Equal(t, "first cause", *rows[0].Explanation)
	assert.True(t, rows[0].Conflicted)
}

func TestMergeConflictingIncomingLeavesRowNull(t *testing.T) {
	rows := baseRows("2024-01-02")
	result := Merge(rows, []models.AnnotationRow{
		annotation("2024-01-02", "one story", "up"),
		annotation("2024-01-02", "another story", "down"),
	}, nil)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, 0, result.Applied)
	assert.Nil(t, rows[0].Explanation)
	assert.True(t, rows[0].Conflicted)
}

func TestMergeUnmatchedKeysIgnored(t *testing.T) {
	rows := baseRows("2024-01-02")
	result := Merge(rows, []models.AnnotationRow{
		annotation("2024-01-09", "no such row", "up"),
	}, nil)

	assert.Equal(t, 0, result.Applied)
	require.Len(t, result.Unmatched, 1)
	assert.Equal(t, "2024-01-09", result.Unmatched[0].Date)
	assert.Len(t, rows, 1)
	assert.Nil(t, rows[0].Explanation)
}

func TestMergeAnnotatesAllDuplicateRows(t *testing.T) {
	rows := baseRows("2024-01-02", "2024-01-02")
	result := Merge(rows, []models.AnnotationRow{
		annotation("2024-01-02", "duplicate delivery", "sideways"),
	}, nil)

	assert.Equal(t, 2, result.Applied)
	assert.Len(t, rows, 2)
	for i := range rows {
		require.NotNil(t, rows[i].Explanation)
		assert.Equal(t, "duplicate delivery", *rows[i].Explanation)
	}
}

func TestMergeSkipsEmptyAnnotations(t *testing.T) {
	rows := baseRows("2024-01-02")
	result := Merge(rows, []models.AnnotationRow{
		{Key: models.Key{Symbol: "CL", Date: "2024-01-02"}},
	}, nil)

	assert.Equal(t, 0, result.Applied)
	assert.Nil(t, rows[0].Explanation)
}