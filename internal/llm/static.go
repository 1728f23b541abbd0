package llm

import (
	"context"

	"github.com/MeKo-Tech/vinoscan/internal/textnorm"
)

// StaticEstimator answers from a fixed table keyed by normalized name. It
// backs fixture-driven runs and tests.
type StaticEstimator struct {
	provider  string
	estimates map[string]Estimate
}

// NewStaticEstimator builds a table-driven estimator.
func NewStaticEstimator(provider string, estimates map[string]Estimate) *StaticEstimator {
	table := make(map[string]Estimate, len(estimates))
	for name, e := range estimates {
		table[textnorm.Key(name)] = e
	}
	return &StaticEstimator{provider: provider, estimates: table}
}

// Estimate returns the stored estimate for name.
func (s *StaticEstimator) Estimate(ctx context.Context, name string) (*Estimate, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Provider: s.provider, Err: err}
	}
	e, ok := s.estimates[textnorm.Key(name)]
	if !ok {
		return nil, ErrNoEstimate
	}
	e.ReviewSnippets = append([]string(nil), e.ReviewSnippets...)
	e.sanitize()
	if e.Provider == "" {
		e.Provider = s.provider
	}
	if e.Rating == nil {
		return nil, ErrNoEstimate
	}
	return &e, nil
}
