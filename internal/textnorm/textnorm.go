// Package textnorm holds the single name normalization shared by OCR grouping,
// the wine matcher and the LLM rating cache, so keys never diverge in form.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize case-folds s, strips diacritics and punctuation and collapses
// whitespace. Apostrophes are dropped rather than split so "Ravenswood's"
// stays one token.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = cases.Fold().String(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case r == '\'' || r == '’':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens returns the whitespace-separated tokens of the normalized form.
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}

// Key normalizes a name for use as a cache or index key. It is Normalize
// under a name that documents intent at call sites.
func Key(name string) string {
	return Normalize(name)
}
