package rules

import (
	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-futures-quality/internal/config"
	"github.com/johnayoung/go-futures-quality/internal/models"
)

// checkDuplicateKeys flags every record whose (Date, Symbol) key appears more
// than once. All copies share the key, so the consumer decides which to keep.
func checkDuplicateKeys(ds *models.Dataset, _ config.Snapshot) ([]models.Key, error) {
	counts := make(map[models.Key]int, ds.Len())
	for i := range ds.Records {
		counts[ds.Records[i].Key()]++
	}

	var offending []models.Key
	for key, count := range counts {
		if count > 1 {
			offending = append(offending, key)
		}
	}
	return offending, nil
}

// checkOHLCRange flags records violating Low <= {Open, Close} <= High.
func checkOHLCRange(ds *models.Dataset, _ config.Snapshot) ([]models.Key, error) {
	var offending []models.Key
	for i := range ds.Records {
		if !ds.Records[i].HasValidRange() {
			offending = append(offending, ds.Records[i].Key())
		}
	}
	return offending, nil
}

// checkStagnantPrice flags records where all four prices are identical and no
// volume traded. These are typically carried-forward placeholder rows.
func checkStagnantPrice(ds *models.Dataset, _ config.Snapshot) ([]models.Key, error) {
	var offending []models.Key
	for i := range ds.Records {
		rec := &ds.Records[i]
		if rec.IsFlat() && rec.Volume.IsZero() {
			offending = append(offending, rec.Key())
		}
	}
	return offending, nil
}

// checkFlatPriceVolume flags records where all four prices are identical yet
// meaningful volume traded, which a real market should not produce.
func checkFlatPriceVolume(ds *models.Dataset, cfg config.Snapshot) ([]models.Key, error) {
	minVolume := decimal.NewFromFloat(cfg.MustGet(config.KeyFlatPriceMinVolume))

	var offending []models.Key
	for i := range ds.Records {
		rec := &ds.Records[i]
		if rec.IsFlat() && rec.Volume.GreaterThanOrEqual(minVolume) {
			offending = append(offending, rec.Key())
		}
	}
	return offending, nil
}

// checkZeroVolumeMove flags records whose close moved from the symbol's most
// recent prior close while reporting zero volume.
func checkZeroVolumeMove(ds *models.Dataset, _ config.Snapshot) ([]models.Key, error) {
	var offending []models.Key
	for _, indices := range ds.BySymbol() {
		for pos := 1; pos < len(indices); pos++ {
			rec := &ds.Records[indices[pos]]
			prev := &ds.Records[indices[pos-1]]
			if rec.Volume.IsZero() && !rec.Close.Equal(prev.Close) {
				offending = append(offending, rec.Key())
			}
		}
	}
	return offending, nil
}

// checkExtremeVolume flags records whose volume exceeds the configured factor
// times the symbol's median volume over its full available history.
func checkExtremeVolume(ds *models.Dataset, cfg config.Snapshot) ([]models.Key, error) {
	factor := decimal.NewFromFloat(cfg.MustGet(config.KeyVolumeFactor))

	var offending []models.Key
	for _, indices := range ds.BySymbol() {
		volumes := make([]decimal.Decimal, len(indices))
		for pos, i := range indices {
			volumes[pos] = ds.Records[i].Volume
		}
		threshold := median(volumes).Mul(factor)

		for _, i := range indices {
			if ds.Records[i].Volume.GreaterThan(threshold) {
				offending = append(offending, ds.Records[i].Key())
			}
		}
	}
	return offending, nil
}

// checkPriceJump flags day-over-day close changes beyond the percent-change
// threshold. Each record is compared against the symbol's most recent prior
// record wherever it falls; calendar gaps do not reset the comparison.
func checkPriceJump(ds *models.Dataset, cfg config.Snapshot) ([]models.Key, error) {
	threshold := decimal.NewFromFloat(cfg.MustGet(config.KeyPctChangeThreshold))

	var offending []models.Key
	for _, indices := range ds.BySymbol() {
		for pos := 1; pos < len(indices); pos++ {
			rec := &ds.Records[indices[pos]]
			prev := &ds.Records[indices[pos-1]]
			if prev.Close.IsZero() {
				continue
			}
			change := rec.Close.Div(prev.Close).Sub(decimal.NewFromInt(1)).Abs()
			if change.GreaterThan(threshold) {
				offending = append(offending, rec.Key())
			}
		}
	}
	return offending, nil
}

// checkIQROutlier flags closes outside [Q1 - m*IQR, Q3 + m*IQR], computed per
// symbol over the symbol's full close history.
func checkIQROutlier(ds *models.Dataset, cfg config.Snapshot) ([]models.Key, error) {
	multiplier := decimal.NewFromFloat(cfg.MustGet(config.KeyIQRMultiplier))

	var offending []models.Key
	for _, indices := range ds.BySymbol() {
		closes := make([]decimal.Decimal, len(indices))
		for pos, i := range indices {
			closes[pos] = ds.Records[i].Close
		}

		q1 := quantile(closes, 0.25)
		q3 := quantile(closes, 0.75)
		iqr := q3.Sub(q1)
		lower := q1.Sub(multiplier.Mul(iqr))
		upper := q3.Add(multiplier.Mul(iqr))

		for _, i := range indices {
			close := ds.Records[i].Close
			if close.LessThan(lower) || close.GreaterThan(upper) {
				offending = append(offending, ds.Records[i].Key())
			}
		}
	}
	return offending, nil
}

// checkNegativeValues flags records with any negative numeric field.
func checkNegativeValues(ds *models.Dataset, _ config.Snapshot) ([]models.Key, error) {
	var offending []models.Key
	for i := range ds.Records {
		rec := &ds.Records[i]
		if rec.Open.IsNegative() || rec.High.IsNegative() || rec.Low.IsNegative() ||
			rec.Close.IsNegative() || rec.Volume.IsNegative() || rec.OpenInterest.IsNegative() {
			offending = append(offending, rec.Key())
		}
	}
	return offending, nil
}

// checkOpenInterest flags negative open interest and open-interest spikes
// beyond the configured factor times the symbol's median.
func checkOpenInterest(ds *models.Dataset, cfg config.Snapshot) ([]models.Key, error) {
	factor := decimal.NewFromFloat(cfg.MustGet(config.KeySpikeFactor))

	var offending []models.Key
	for _, indices := range ds.BySymbol() {
		values := make([]decimal.Decimal, len(indices))
		for pos, i := range indices {
			values[pos] = ds.Records[i].OpenInterest
		}
		threshold := median(values).Mul(factor)

		for _, i := range indices {
			oi := ds.Records[i].OpenInterest
			if oi.IsNegative() || oi.GreaterThan(threshold) {
				offending = append(offending, ds.Records[i].Key())
			}
		}
	}
	return offending, nil
}

// checkSchema reports the rows that failed schema validation at load time.
// Those rows are already excluded from every other rule; this surfaces them
// in the flag output instead of losing them.
func checkSchema(ds *models.Dataset, _ config.Snapshot) ([]models.Key, error) {
	var offending []models.Key
	for _, issue := range ds.SchemaIssues {
		if issue.Key != (models.Key{}) {
			offending = append(offending, issue.Key)
		}
	}
	return offending, nil
}
