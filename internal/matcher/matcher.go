package matcher

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/MeKo-Tech/vinoscan/internal/textnorm"
	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// Config tunes fuzzy matching.
type Config struct {
	// Threshold is the minimum fuzzy score accepted as a match.
	Threshold float64
	// MaxFuzzyConfidence caps fuzzy confidences below the exact/alias 1.0.
	MaxFuzzyConfidence float64
	// JaroWinklerWeight scales the Jaro-Winkler score, which rewards shared
	// prefixes and so favors partial names.
	JaroWinklerWeight float64
	// TokenFloor is the per-token similarity below which a token counts as missing.
	TokenFloor float64
	// DistinctiveFloor is the similarity a query token needs to a key's
	// distinctive token before a fuzzy candidate is considered at all.
	DistinctiveFloor float64
	// GenericTokenMinWines marks tokens appearing in at least this many
	// canonical names as generic. Zero keeps only the built-in vocabulary.
	GenericTokenMinWines int
	// MaxCandidates bounds how many shortlisted entries are fully scored.
	MaxCandidates int
}

// DefaultConfig returns matcher defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:            0.72,
		MaxFuzzyConfidence:   0.99,
		JaroWinklerWeight:    0.9,
		TokenFloor:           0.6,
		DistinctiveFloor:     0.75,
		GenericTokenMinWines: 50,
		MaxCandidates:        250,
	}
}

const scoreEpsilon = 1e-12

// entry is one searchable key (canonical name or alias) pointing at a wine.
type entry struct {
	key    string
	tokens []string
	wine   int
	alias  bool

	// distinct are the tokens that are not generic label words.
	distinct []string
}

// Matcher is an immutable index over the catalog. It is safe for concurrent use.
type Matcher struct {
	cfg     Config
	wines   []Wine
	byName  map[string]int
	byAlias map[string]int
	entries []entry
	grams   map[string][]int32

	// frequent holds tokens too common in the catalog to identify a wine.
	frequent map[string]struct{}
}

// New builds a matcher over wines. aliases maps alias text to a canonical
// wine name; aliases whose target is unknown are skipped.
func New(wines []Wine, aliases map[string]string, cfg Config) *Matcher {
	if cfg.Threshold <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.DistinctiveFloor <= 0 {
		cfg.DistinctiveFloor = DefaultConfig().DistinctiveFloor
	}
	m := &Matcher{
		cfg:     cfg,
		wines:   make([]Wine, 0, len(wines)),
		byName:  make(map[string]int, len(wines)),
		byAlias: make(map[string]int, len(aliases)),
		grams:   make(map[string][]int32),
	}

	for _, w := range wines {
		key := textnorm.Key(w.Name)
		if key == "" {
			continue
		}
		if _, dup := m.byName[key]; dup {
			continue
		}
		idx := len(m.wines)
		m.wines = append(m.wines, w)
		m.byName[key] = idx
		m.addEntry(key, idx, false)
	}

	// Sorted so duplicate alias resolution does not depend on map order.
	aliasKeys := make([]string, 0, len(aliases))
	for a := range aliases {
		aliasKeys = append(aliasKeys, a)
	}
	sort.Strings(aliasKeys)
	skipped := 0
	for _, a := range aliasKeys {
		key := textnorm.Key(a)
		target, ok := m.byName[textnorm.Key(aliases[a])]
		if key == "" || !ok {
			skipped++
			continue
		}
		if _, isName := m.byName[key]; isName {
			continue
		}
		if _, dup := m.byAlias[key]; dup {
			continue
		}
		m.byAlias[key] = target
		m.addEntry(key, target, true)
	}
	if skipped > 0 {
		slog.Warn("Skipped aliases with unknown canonical names", "count", skipped)
	}
	m.markDistinct()
	return m
}

// markDistinct fills each entry's distinctive tokens once the catalog-wide
// token frequencies are known.
func (m *Matcher) markDistinct() {
	frequent := make(map[string]struct{})
	if limit := m.cfg.GenericTokenMinWines; limit > 0 {
		df := make(map[string]int)
		for _, e := range m.entries {
			if e.alias {
				continue
			}
			seen := make(map[string]struct{}, len(e.tokens))
			for _, t := range e.tokens {
				if _, dup := seen[t]; dup {
					continue
				}
				seen[t] = struct{}{}
				df[t]++
			}
		}
		for t, n := range df {
			if n >= limit {
				frequent[t] = struct{}{}
			}
		}
	}
	for i := range m.entries {
		e := &m.entries[i]
		for _, t := range e.tokens {
			if _, ok := frequent[t]; ok || isGenericToken(t) {
				continue
			}
			e.distinct = append(e.distinct, t)
		}
	}
	m.frequent = frequent
}

func (m *Matcher) generic(tok string) bool {
	if _, ok := m.frequent[tok]; ok {
		return true
	}
	return isGenericToken(tok)
}

func (m *Matcher) addEntry(key string, wine int, alias bool) {
	id := int32(len(m.entries)) //nolint:gosec // G115: catalog size is far below int32 range
	m.entries = append(m.entries, entry{key: key, tokens: strings.Fields(key), wine: wine, alias: alias})
	for _, g := range trigrams(key) {
		m.grams[g] = append(m.grams[g], id)
	}
}

// Len returns the number of canonical wines indexed.
func (m *Matcher) Len() int { return len(m.wines) }

// AliasCount returns the number of aliases indexed.
func (m *Matcher) AliasCount() int { return len(m.byAlias) }

// Lookup returns the canonical wine for an exact (normalized) name.
func (m *Matcher) Lookup(name string) (Wine, bool) {
	idx, ok := m.byName[textnorm.Key(name)]
	if !ok {
		return Wine{}, false
	}
	return m.wines[idx], true
}

// Match resolves name through exact, alias, then fuzzy lookup. Empty or
// unrelated names return false; it never panics on malformed input.
func (m *Matcher) Match(name string) (WineMatch, bool) {
	if m == nil {
		return WineMatch{}, false
	}
	q := textnorm.Normalize(name)
	if q == "" {
		return WineMatch{}, false
	}
	if idx, ok := m.byName[q]; ok {
		return m.result(idx, 1.0, MatchExact, q), true
	}
	if idx, ok := m.byAlias[q]; ok {
		return m.result(idx, 1.0, MatchAlias, q), true
	}
	return m.fuzzy(q)
}

// MatchMany applies Match to each name independently. The result has the
// same length and order as names; nil marks an absent match.
func (m *Matcher) MatchMany(names []string) []*WineMatch {
	out := make([]*WineMatch, len(names))
	for i, n := range names {
		if wm, ok := m.Match(n); ok {
			out[i] = &wm
		}
	}
	return out
}

func (m *Matcher) result(idx int, conf float64, mt MatchType, key string) WineMatch {
	w := m.wines[idx]
	return WineMatch{
		CanonicalName: w.Name,
		WineID:        w.ID,
		Confidence:    conf,
		Rating:        w.Rating,
		Source:        SourceCatalog,
		MatchType:     mt,
		MatchedKey:    key,
		WineType:      w.WineType,
		Region:        w.Region,
		Varietal:      w.Varietal,
		Brand:         w.Brand,
		Blurb:         w.Description,
	}
}

func (m *Matcher) fuzzy(q string) (WineMatch, bool) {
	candidates := m.shortlist(q)
	if len(candidates) == 0 {
		return WineMatch{}, false
	}
	qTokens := strings.Fields(q)
	lev := metrics.NewLevenshtein()

	best := -1
	bestScore := 0.0
	for _, id := range candidates {
		e := m.entries[id]
		if !m.identifies(qTokens, e, lev) {
			continue
		}
		s := m.score(q, qTokens, e)
		switch {
		case best < 0 || s > bestScore+scoreEpsilon:
			best, bestScore = int(id), s
		case s > bestScore-scoreEpsilon && int(id) < best:
			// Equal scores resolve to the earliest loaded entry.
			best = int(id)
		}
	}
	if best < 0 || bestScore < m.cfg.Threshold {
		return WineMatch{}, false
	}
	e := m.entries[best]
	conf := min(bestScore, m.cfg.MaxFuzzyConfidence)
	return m.result(e.wine, conf, MatchFuzzy, e.key), true
}

// identifies reports whether the query names this entry rather than only
// its grape, style, region or label boilerplate. Entries made entirely of
// generic words need nearly every token present.
func (m *Matcher) identifies(qTokens []string, e entry, lev *metrics.Levenshtein) bool {
	if len(e.distinct) == 0 {
		return coverage(e.tokens, qTokens, m.cfg.TokenFloor) >= m.cfg.DistinctiveFloor
	}
	for _, q := range qTokens {
		if m.generic(q) {
			continue
		}
		for _, d := range e.distinct {
			if q == d || strutil.Similarity(q, d, lev) >= m.cfg.DistinctiveFloor {
				return true
			}
		}
	}
	return false
}

// score combines character-level and token-level similarity. The token term
// weights coverage of the catalog key above coverage of the query, so extra
// OCR words (region, varietal) cost less than missing name words.
func (m *Matcher) score(q string, qTokens []string, e entry) float64 {
	dice := strutil.Similarity(q, e.key, metrics.NewSorensenDice())
	jw := strutil.Similarity(q, e.key, metrics.NewJaroWinkler()) * m.cfg.JaroWinklerWeight
	keyCov := coverage(e.tokens, qTokens, m.cfg.TokenFloor)
	qCov := coverage(qTokens, e.tokens, m.cfg.TokenFloor)
	tokens := 0.7*keyCov + 0.3*qCov
	return max(dice, jw, tokens)
}

// coverage averages, over want, the best similarity found among have.
func coverage(want, have []string, floor float64) float64 {
	if len(want) == 0 || len(have) == 0 {
		return 0
	}
	lev := metrics.NewLevenshtein()
	total := 0.0
	for _, w := range want {
		best := 0.0
		for _, h := range have {
			if w == h {
				best = 1
				break
			}
			if s := strutil.Similarity(w, h, lev); s > best {
				best = s
			}
		}
		if best >= floor {
			total += best
		}
	}
	return total / float64(len(want))
}

// shortlist returns the entries sharing the most trigrams with q.
func (m *Matcher) shortlist(q string) []int32 {
	counts := make(map[int32]int)
	for _, g := range trigrams(q) {
		for _, id := range m.grams[g] {
			counts[id]++
		}
	}
	ids := make([]int32, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if limit := m.cfg.MaxCandidates; limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

// trigrams returns the distinct padded character trigrams of each token.
func trigrams(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range strings.Fields(s) {
		r := []rune("$" + tok + "$")
		for i := 0; i+3 <= len(r); i++ {
			g := string(r[i : i+3])
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	return out
}
