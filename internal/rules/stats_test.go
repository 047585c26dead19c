package rules

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func decimals(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name     string
		values   []decimal.Decimal
		expected string
	}{
		{name: "empty", values: nil, expected: "0"},
		{name: "single", values: decimals("7"), expected: "7"},
		{name: "odd count", values: decimals("3", "1", "2"), expected: "2"},
		{name: "even count averages middle pair", values: decimals("1", "2", "3", "4"), expected: "2.5"},
		{name: "unsorted input", values: decimals("100", "1", "50"), expected: "50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := median(tt.values)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.expected)),
				"median = %s, want %s", got, tt.expected)
		})
	}
}

func TestQuantile(t *testing.T) {
	values := decimals("10", "20", "30", "40", "50")

	tests := []struct {
		name     string
		q        float64
		expected string
	}{
		{name: "minimum", q: 0, expected: "10"},
		{name: "maximum", q: 1, expected: "50"},
		{name: "median", q: 0.5, expected: "30"},
		{name: "first quartile interpolates", q: 0.25, expected: "20"},
		{name: "interpolated position", q: 0.1, expected: "14"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := quantile(values, tt.q)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.expected)),
				"quantile(%v) = %s, want %s", tt.q, got, tt.expected)
		})
	}
}

func TestQuantileDoesNotMutateInput(t *testing.T) {
	values := decimals("30", "10", "20")
	quantile(values, 0.5)
	assert.True(t, values[0].Equal(decimal.RequireFromString("30")))
}