package pipeline

import (
	"slices"

	"github.com/MeKo-Tech/vinoscan/internal/matcher"
	"github.com/MeKo-Tech/vinoscan/internal/textnorm"
)

// BandFor returns the first band whose floor conf reaches. bands must be
// ordered by descending floor. ok is false below every floor.
func BandFor(conf float64, bands []Band) (Band, bool) {
	for _, b := range bands {
		if conf >= b.Min {
			return b, true
		}
	}
	return Band{}, false
}

// TopRated returns up to n rated results at or above floor, highest rating
// first. Equal ratings keep detection order.
func TopRated(results []WineResult, n int, floor float64) []WineResult {
	eligible := make([]WineResult, 0, len(results))
	for _, r := range results {
		if r.Rating != nil && r.Confidence >= floor {
			eligible = append(eligible, r)
		}
	}
	slices.SortStableFunc(eligible, func(a, b WineResult) int {
		switch {
		case *a.Rating > *b.Rating:
			return -1
		case *a.Rating < *b.Rating:
			return 1
		}
		return a.BottleIndex - b.BottleIndex
	})
	if len(eligible) > n {
		eligible = eligible[:n]
	}
	return eligible
}

// sortFallback orders fallback wines by rating, highest first. The sort is
// stable so equal ratings keep insertion order.
func sortFallback(f []FallbackWine) {
	slices.SortStableFunc(f, func(a, b FallbackWine) int {
		ra, rb := ratingOf(a.Rating), ratingOf(b.Rating)
		switch {
		case ra > rb:
			return -1
		case ra < rb:
			return 1
		}
		return 0
	})
}

func ratingOf(r *float64) float64 {
	if r == nil {
		return 0
	}
	return *r
}

// merged is the resolved identity and rating of one bottle.
type merged struct {
	identity     *matcher.WineMatch
	rating       *float64
	ratingSource matcher.Source
}

// merge picks the catalog match unless the estimate beats it by more than
// margin. The rating comes from the chosen identity, falling back to the
// other source when the chosen one has none.
func merge(catalog, estimate *matcher.WineMatch, margin float64) merged {
	switch {
	case catalog == nil && estimate == nil:
		return merged{}
	case estimate == nil:
		return merged{identity: catalog, rating: catalog.Rating, ratingSource: sourceIf(catalog)}
	case catalog == nil:
		return merged{identity: estimate, rating: estimate.Rating, ratingSource: sourceIf(estimate)}
	}

	chosen, other := catalog, estimate
	if estimate.Confidence > catalog.Confidence+margin {
		chosen, other = estimate, catalog
	}
	m := merged{identity: chosen, rating: chosen.Rating, ratingSource: sourceIf(chosen)}
	if m.rating == nil && other.Rating != nil {
		m.rating = other.Rating
		m.ratingSource = other.Source
	}
	return m
}

func sourceIf(m *matcher.WineMatch) matcher.Source {
	if m.Rating == nil {
		return ""
	}
	return m.Source
}

// reportedNames tracks canonical names already reported in a scan.
type reportedNames map[string]struct{}

func (r reportedNames) add(name string) bool {
	key := textnorm.Key(name)
	if _, ok := r[key]; ok {
		return false
	}
	r[key] = struct{}{}
	return true
}
