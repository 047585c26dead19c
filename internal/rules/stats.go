package rules

import (
	"sort"

	"github.com/shopspring/decimal"
)

// median returns the middle value of the samples, averaging the two middle
// values for even counts. Returns zero for an empty slice.
func median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

// quantile returns the q-th quantile (0 <= q <= 1) using linear interpolation
// between closest ranks, matching the convention the historical diagnostics
// were calibrated against.
func quantile(values []decimal.Decimal, q float64) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	if len(sorted) == 1 {
		return sorted[0]
	}

	pos := q * float64(len(sorted)-1)
	lower := int(pos)
	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}

	frac := decimal.NewFromFloat(pos - float64(lower))
	return sorted[lower].Add(sorted[lower+1].Sub(sorted[lower]).Mul(frac))
}
