// Package llm asks a language model to estimate ratings for wines the catalog
// does not know.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrNoEstimate is returned when the model has no opinion on a name. It is a
// normal absent result, not a transport failure.
var ErrNoEstimate = errors.New("no estimate available")

// Estimate is the model's view of one wine.
type Estimate struct {
	CanonicalName  string   `json:"canonical_name"`
	Rating         *float64 `json:"rating,omitempty"`
	Confidence     float64  `json:"confidence"`
	Provider       string   `json:"provider"`
	WineType       string   `json:"wine_type,omitempty"`
	Region         string   `json:"region,omitempty"`
	Varietal       string   `json:"varietal,omitempty"`
	Brand          string   `json:"brand,omitempty"`
	Blurb          string   `json:"blurb,omitempty"`
	ReviewSnippets []string `json:"review_snippets,omitempty"`
}

// HasEnrichment reports whether the estimate carries text worth syncing.
func (e *Estimate) HasEnrichment() bool {
	if e == nil {
		return false
	}
	return strings.TrimSpace(e.Blurb) != "" || len(e.ReviewSnippets) > 0
}

// Estimator produces rating estimates. Implementations fail per call.
type Estimator interface {
	Estimate(ctx context.Context, name string) (*Estimate, error)
}

// EstimatorFunc adapts a function to Estimator.
type EstimatorFunc func(ctx context.Context, name string) (*Estimate, error)

// Estimate calls f.
func (f EstimatorFunc) Estimate(ctx context.Context, name string) (*Estimate, error) {
	return f(ctx, name)
}

// TransportError reports a failed call to the language model.
type TransportError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm %s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// sanitize clamps values into their documented ranges. Ratings outside
// 1.0-5.0 are treated as unknown.
func (e *Estimate) sanitize() {
	if e.Rating != nil {
		r := *e.Rating
		if math.IsNaN(r) || r < 1 || r > 5 {
			e.Rating = nil
		} else {
			r = math.Round(r*10) / 10
			e.Rating = &r
		}
	}
	switch {
	case math.IsNaN(e.Confidence) || e.Confidence < 0:
		e.Confidence = 0
	case e.Confidence > 1:
		e.Confidence = 1
	}
	e.CanonicalName = strings.TrimSpace(e.CanonicalName)
	e.Blurb = strings.TrimSpace(e.Blurb)

	snippets := e.ReviewSnippets[:0]
	for _, s := range e.ReviewSnippets {
		if s = strings.TrimSpace(s); s != "" {
			snippets = append(snippets, s)
		}
	}
	e.ReviewSnippets = snippets
}
