package enrich

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider produces deterministic canned annotations without any network
// access. It backs the default configuration and the test suite.
type MockProvider struct {
	// Fail, when set, is consulted per batch; a non-nil return aborts the
	// batch with that error.
	Fail func(reqs []Request) error

	calls int
}

// Name implements Provider.
func (p *MockProvider) Name() string {
	return "mock"
}

// Annotate implements Provider.
func (p *MockProvider) Annotate(ctx context.Context, reqs []Request) ([]Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.calls++
	if p.Fail != nil {
		if err := p.Fail(reqs); err != nil {
			return nil, err
		}
	}

	annotations := make([]Annotation, 0, len(reqs))
	for _, req := range reqs {
		annotations = append(annotations, Annotation{
			Key:         req.Key,
			Explanation: fmt.Sprintf("flagged by %s", strings.Join(req.Rules, ", ")),
			Trend:       "sideways",
		})
	}
	return annotations, nil
}

// Calls returns how many batches the provider has served.
func (p *MockProvider) Calls() int {
	return p.calls
}
