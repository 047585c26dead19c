package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-futures-quality/internal/config"
	"github.com/johnayoung/go-futures-quality/internal/models"
)

func record(t *testing.T, date, symbol, open, high, low, close, volume, oi string) models.Record {
	t.Helper()
	d, err := models.ParseDate(date)
	require.NoError(t, err)
	rec, err := models.NewRecord(d, symbol, open, high, low, close, volume, oi)
	require.NoError(t, err)
	return *rec
}

func dataset(records ...models.Record) *models.Dataset {
	return models.NewDataset(records, nil)
}

func defaultSnapshot() config.Snapshot {
	return config.NewThresholds().Snapshot()
}

func keyOf(date, symbol string) models.Key {
	return models.Key{Date: date, Symbol: symbol}
}

func TestCheckDuplicateKeys(t *testing.T) {
	ds := dataset(
		record(t, "2024-01-02", "CL", "100", "110", "90", "105", "1000", "500"),
		record(t, "2024-01-02", "CL", "100", "110", "90", "106", "1100", "500"),
		record(t, "2024-01-03", "CL", "100", "110", "90", "105", "1000", "500"),
	)
	keys, err := checkDuplicateKeys(ds, defaultSnapshot())
	require.NoError(t, err)
	assert.Equal(t, []models.Key{keyOf("2024-01-02", "CL")}, keys)
}

func TestCheckOHLCRange(t *testing.T) {
	tests := []struct {
		name    string
		rec     models.Record
		flagged bool
	}{
		{
			name:    "close above high",
			rec:     record(t, "2024-01-02", "CL", "100", "145", "100", "200", "1000", "0"),
			flagged: true,
		},
		{
			name:    "close within range",
			rec:     record(t, "2024-01-02", "CL", "100", "145", "100", "120", "1000", "0"),
			flagged: false,
		},
		{
			name:    "open below low",
			rec:     record(t, "2024-01-02", "CL", "80", "145", "100", "120", "1000", "0"),
			flagged: true,
		},
		{
			name:    "low above high",
			rec:     record(t, "2024-01-02", "CL", "120", "110", "115", "118", "1000", "0"),
			flagged: true,
		},
		{
			name:    "boundary values allowed",
			rec:     record(t, "2024-01-02", "CL", "100", "145", "100", "145", "1000", "0"),
			flagged: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := checkOHLCRange(dataset(tt.rec), defaultSnapshot())
			require.NoError(t, err)
			if tt.flagged {
				assert.Len(t, keys, 1)
			} else {
				assert.Empty(t, keys)
			}
		})
	}
}

func TestCheckStagnantVsFlatVolume(t *testing.T) {
	stagnant := record(t, "2024-01-02", "CL", "100", "100", "100", "100", "0", "0")
	flatTraded := record(t, "2024-01-03", "CL", "100", "100", "100", "100", "500", "0")
	normal := record(t, "2024-01-04", "CL", "100", "110", "90", "105", "500", "0")
	ds := dataset(stagnant, flatTraded, normal)

	keys, err := checkStagnantPrice(ds, defaultSnapshot())
	require.NoError(t, err)
	assert.Equal(t, []models.Key{keyOf("2024-01-02", "CL")}, keys)

	keys, err = checkFlatPriceVolume(ds, defaultSnapshot())
	require.NoError(t, err)
	assert.Equal(t, []models.Key{keyOf("2024-01-03", "CL")}, keys)
}

func TestCheckZeroVolumeMove(t *testing.T) {
	ds := dataset(
		record(t, "2024-01-02", "CL", "100", "110", "90", "105", "1000", "0"),
		record(t, "2024-01-03", "CL", "100", "110", "90", "107", "0", "0"),
		record(t, "2024-01-04", "CL", "100", "110", "90", "107", "0", "0"),
	)
	keys, err := checkZeroVolumeMove(ds, defaultSnapshot())
	require.NoError(t, err)
	// Jan 3 moved on zero volume; Jan 4 held the same close.
	assert.Equal(t, []models.Key{keyOf("2024-01-03", "CL")}, keys)
}

func TestCheckExtremeVolume(t *testing.T) {
	records := []models.Record{
		record(t, "2024-01-02", "CL", "100", "110", "90", "105", "1000", "0"),
		record(t, "2024-01-03", "CL", "100", "110", "90", "105", "1100", "0"),
		record(t, "2024-01-04", "CL", "100", "110", "90", "105", "900", "0"),
		record(t, "2024-01-05", "CL", "100", "110", "90", "105", "50000", "0"),
	}
	keys, err := checkExtremeVolume(dataset(records...), defaultSnapshot())
	require.NoError(t, err)
	assert.Equal(t, []models.Key{keyOf("2024-01-05", "CL")}, keys)
}

func TestCheckPriceJump(t *testing.T) {
	ds := dataset(
		record(t, "2024-01-02", "CL", "100", "110", "90", "100", "1000", "0"),
		record(t, "2024-01-03", "CL", "100", "200", "90", "160", "1000", "0"), // +60%
		record(t, "2024-01-04", "CL", "100", "200", "90", "170", "1000", "0"), // +6.25%
	)
	keys, err := checkPriceJump(ds, defaultSnapshot())
	require.NoError(t, err)
	assert.Equal(t, []models.Key{keyOf("2024-01-03", "CL")}, keys)
}

func TestCheckPriceJumpSkipsZeroPriorClose(t *testing.T) {
	ds := dataset(
		record(t, "2024-01-02", "CL", "0", "0", "0", "0", "0", "0"),
		record(t, "2024-01-03", "CL", "100", "110", "90", "105", "1000", "0"),
	)
	keys, err := checkPriceJump(ds, defaultSnapshot())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCheckIQROutlier(t *testing.T) {
	records := []models.Record{
		record(t, "2024-01-02", "CL", "100", "110", "90", "100", "1000", "0"),
		record(t, "2024-01-03", "CL", "100", "110", "90", "101", "1000", "0"),
		record(t, "2024-01-04", "CL", "100", "110", "90", "99", "1000", "0"),
		record(t, "2024-01-05", "CL", "100", "110", "90", "102", "1000", "0"),
		record(t, "2024-01-06", "CL", "100", "110", "90", "98", "1000", "0"),
		record(t, "2024-01-07", "CL", "100", "1100", "90", "1000", "1000", "0"),
	}
	keys, err := checkIQROutlier(dataset(records...), defaultSnapshot())
	require.NoError(t, err)
	assert.Equal(t, []models.Key{keyOf("2024-01-07", "CL")}, keys)
}

func TestCheckNegativeValues(t *testing.T) {
	ds := dataset(
		record(t, "2024-01-02", "CL", "-1", "110", "90", "105", "1000", "0"),
		record(t, "2024-01-03", "CL", "100", "110", "90", "105", "-10", "0"),
		record(t, "2024-01-04", "CL", "100", "110", "90", "105", "1000", "0"),
	)
	keys, err := checkNegativeValues(ds, defaultSnapshot())
	require.NoError(t, err)
	assert.Equal(t, []models.Key{
		keyOf("2024-01-02", "CL"),
		keyOf("2024-01-03", "CL"),
	}, keys)
}

func TestCheckOpenInterest(t *testing.T) {
	ds := dataset(
		record(t, "2024-01-02", "CL", "100", "110", "90", "105", "1000", "500"),
		record(t, "2024-01-03", "CL", "100", "110", "90", "105", "1000", "510"),
		record(t, "2024-01-04", "CL", "100", "110", "90", "105", "1000", "490"),
		record(t, "2024-01-05", "CL", "100", "110", "90", "105", "1000", "-5"),
		record(t, "2024-01-06", "CL", "100", "110", "90", "105", "1000", "50000"),
	)
	keys, err := checkOpenInterest(ds, defaultSnapshot())
	require.NoError(t, err)
	assert.Equal(t, []models.Key{
		keyOf("2024-01-05", "CL"),
		keyOf("2024-01-06", "CL"),
	}, keys)
}

func TestCheckSchema(t *testing.T) {
	ds := models.NewDataset(nil, []models.SchemaIssue{
		{
			Key:  keyOf("2024-01-02", "CL"),
			Line: 2,
			Err:  &models.SchemaError{Line: 2, Field: "Open", Message: "not a number"},
		},
		{
			Line: 3,
			Err:  &models.SchemaError{Line: 3, Message: "too few columns"},
		},
	})
	keys, err := checkSchema(ds, defaultSnapshot())
	require.NoError(t, err)
	// Issues with no recoverable key are reported through the dataset only.
	assert.Equal(t, []models.Key{keyOf("2024-01-02", "CL")}, keys)
}