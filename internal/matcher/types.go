// Package matcher resolves noisy wine names to canonical catalog identities.
package matcher

// Source identifies where a match came from.
type Source string

const (
	SourceCatalog Source = "catalog"
	SourceLLM     Source = "llm"
)

// MatchType records which lookup stage produced a catalog match.
type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchAlias MatchType = "alias"
	MatchFuzzy MatchType = "fuzzy"
	// MatchEstimate marks identities supplied by the language model.
	MatchEstimate MatchType = "estimate"
)

// Wine is one canonical catalog record as the matcher sees it.
type Wine struct {
	ID          uint
	Name        string
	Rating      *float64
	WineType    string
	Region      string
	Varietal    string
	Brand       string
	Description string
}

// WineMatch is a resolved identity for a name.
type WineMatch struct {
	CanonicalName  string    `json:"canonical_name"`
	WineID         uint      `json:"wine_id,omitempty"`
	Confidence     float64   `json:"confidence"`
	Rating         *float64  `json:"rating,omitempty"`
	Source         Source    `json:"source"`
	MatchType      MatchType `json:"match_type"`
	MatchedKey     string    `json:"matched_key,omitempty"`
	WineType       string    `json:"wine_type,omitempty"`
	Region         string    `json:"region,omitempty"`
	Varietal       string    `json:"varietal,omitempty"`
	Brand          string    `json:"brand,omitempty"`
	Blurb          string    `json:"blurb,omitempty"`
	ReviewSnippets []string  `json:"review_snippets,omitempty"`
}

// HasRating reports whether a rating is known.
func (m WineMatch) HasRating() bool { return m.Rating != nil }

// RatingValue returns the rating or zero when absent.
func (m WineMatch) RatingValue() float64 {
	if m.Rating == nil {
		return 0
	}
	return *m.Rating
}

// Float returns a pointer to v, for building ratings.
func Float(v float64) *float64 { return &v }
