// Package enrich annotates flagged records with natural-language
// explanations and trend assessments from an external provider, then merges
// the annotations back into the dataset without ever mutating price data.
package enrich

import (
	"context"
	"sort"

	"github.com/johnayoung/go-futures-quality/internal/models"
)

// Request asks the provider to explain one flagged record. The surrounding
// context records give the provider enough series history to describe the
// local trend.
type Request struct {
	Key      models.Key
	Record   *models.Record // nil for keys with no physical row (missing dates)
	Rules    []string       // rule names that flagged this key, sorted
	Severity models.Severity
	Context  []models.Record // same-symbol records around the key, date order
}

// Annotation is the provider's answer for one key.
type Annotation struct {
	Key         models.Key
	Explanation string
	Trend       string
}

// Provider produces annotations for a batch of flagged records. A provider
// error aborts the batch; transient failures are signalled with
// models.ErrProviderTimeout or models.ErrProviderRateLimited so the caller
// can retry.
type Provider interface {
	Name() string
	Annotate(ctx context.Context, reqs []Request) ([]Annotation, error)
}

// BuildRequests turns the flagged keys of a pass into provider requests in
// deterministic (symbol, date) order. contextDays bounds how many
// neighbouring records each request carries on either side of its date.
func BuildRequests(ds *models.Dataset, flags *models.FlagSet, severities map[models.Key]models.Severity, contextDays int) []Request {
	byKey := make(map[models.Key]*models.Record, ds.Len())
	for i := range ds.Records {
		rec := &ds.Records[i]
		byKey[rec.Key()] = rec
	}
	bySymbol := ds.BySymbol()

	keys := flags.Keys()
	reqs := make([]Request, 0, len(keys))
	for _, key := range keys {
		keyFlags := flags.ForKey(key)
		rules := make([]string, 0, len(keyFlags))
		for _, f := range keyFlags {
			rules = append(rules, f.Rule)
		}
		sort.Strings(rules)

		req := Request{
			Key:      key,
			Record:   byKey[key],
			Rules:    rules,
			Severity: severities[key],
		}

		if date, err := models.ParseDate(key.Date); err == nil {
			lo := date.AddDate(0, 0, -contextDays)
			hi := date.AddDate(0, 0, contextDays)
			for _, i := range bySymbol[key.Symbol] {
				d := ds.Records[i].Date
				if !d.Before(lo) && !d.After(hi) {
					req.Context = append(req.Context, ds.Records[i])
				}
			}
		}
		reqs = append(reqs, req)
	}
	return reqs
}
