// Package ocrgroup associates OCR text blocks with detected bottle regions.
package ocrgroup

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/vinoscan/internal/geometry"
	"github.com/MeKo-Tech/vinoscan/internal/textnorm"
	"github.com/MeKo-Tech/vinoscan/internal/vision"
)

// Config tunes spatial association.
type Config struct {
	// ContainmentThreshold is the fraction of a text box that must lie inside
	// an object for the text to count as contained.
	ContainmentThreshold float64
	// MaxProximity is the largest center distance (normalized units) at which
	// a non-overlapping text is still assigned to an object.
	MaxProximity float64
	// MinTextConfidence drops text blocks below this confidence before grouping.
	MinTextConfidence float64
}

// DefaultConfig returns the grouping defaults.
func DefaultConfig() Config {
	return Config{
		ContainmentThreshold: 0.6,
		MaxProximity:         0.15,
		MinTextConfidence:    0,
	}
}

// BottleText is the merged, normalized text for one detected object.
// Name is empty when no text was associated; that means no evidence,
// not an empty match.
type BottleText struct {
	ObjectIndex         int                  `json:"object_index"`
	Box                 geometry.BoundingBox `json:"box"`
	Label               string               `json:"label,omitempty"`
	RawText             string               `json:"raw_text"`
	Name                string               `json:"name"`
	Vintage             int                  `json:"vintage,omitempty"`
	Fragments           int                  `json:"fragments"`
	DetectionConfidence float64              `json:"detection_confidence"`
	TextConfidence      float64              `json:"text_confidence"`
	Confidence          float64              `json:"confidence"`
}

// HasEvidence reports whether any usable text was associated.
func (b BottleText) HasEvidence() bool { return b.Name != "" }

// OrphanedText is a text block not associated with any object.
type OrphanedText struct {
	Text       string                `json:"text"`
	Name       string                `json:"name"`
	Vintage    int                   `json:"vintage,omitempty"`
	Box        *geometry.BoundingBox `json:"box,omitempty"`
	Confidence float64               `json:"confidence"`
}

type tier int

const (
	tierNone tier = iota
	tierProximity
	tierOverlap
	tierContained
)

type affinity struct {
	tier        tier
	containment float64
	overlap     float64
	distance    float64
}

const eps = 1e-9

// better reports whether a beats b. Equal affinities fall through to
// first-seen order, which the caller preserves by scanning in index order.
func (a affinity) better(b affinity) bool {
	if a.tier != b.tier {
		return a.tier > b.tier
	}
	if a.tier == tierOverlap && math.Abs(a.overlap-b.overlap) > eps {
		return a.overlap > b.overlap
	}
	if math.Abs(a.containment-b.containment) > eps {
		return a.containment > b.containment
	}
	if math.Abs(a.distance-b.distance) > eps {
		return a.distance < b.distance
	}
	return false
}

func (c Config) affinity(text, obj geometry.BoundingBox) affinity {
	a := affinity{
		containment: geometry.ContainmentRatio(text, obj),
		overlap:     geometry.OverlapRatio(text, obj),
		distance:    geometry.CenterDistance(text, obj),
	}
	switch {
	case a.containment >= c.ContainmentThreshold:
		a.tier = tierContained
	case a.containment > 0:
		a.tier = tierOverlap
	case a.distance <= c.MaxProximity:
		a.tier = tierProximity
	}
	return a
}

type assigned struct {
	block vision.TextBlock
	order int
}

// Group assigns each located text block to its best-affinity object and
// merges each object's fragments in reading order. Blocks without a
// location, or with no eligible object, become orphans. Output order follows
// object order and then text order, so the result is deterministic.
func Group(objects []vision.DetectedObject, texts []vision.TextBlock, cfg Config) ([]BottleText, []OrphanedText) {
	perObject := make([][]assigned, len(objects))
	var orphans []OrphanedText

	for ti, tb := range texts {
		if strings.TrimSpace(tb.Text) == "" || tb.Confidence < cfg.MinTextConfidence {
			continue
		}
		if tb.Box == nil || !tb.Box.Valid() {
			orphans = append(orphans, newOrphan(tb))
			continue
		}

		best := -1
		var bestAff affinity
		for oi, obj := range objects {
			aff := cfg.affinity(*tb.Box, obj.Box)
			if aff.tier == tierNone {
				continue
			}
			if best < 0 || aff.better(bestAff) {
				best, bestAff = oi, aff
			}
		}
		if best < 0 {
			orphans = append(orphans, newOrphan(tb))
			continue
		}
		perObject[best] = append(perObject[best], assigned{block: tb, order: ti})
	}

	bottles := make([]BottleText, len(objects))
	for oi, obj := range objects {
		bottles[oi] = merge(oi, obj, perObject[oi])
	}
	return bottles, orphans
}

func merge(index int, obj vision.DetectedObject, frags []assigned) BottleText {
	bt := BottleText{
		ObjectIndex:         index,
		Box:                 obj.Box,
		Label:               obj.Label,
		DetectionConfidence: obj.Confidence,
		Confidence:          obj.Confidence,
		Fragments:           len(frags),
	}
	if len(frags) == 0 {
		return bt
	}

	sort.SliceStable(frags, func(i, j int) bool {
		a, b := *frags[i].block.Box, *frags[j].block.Box
		if geometry.ReadingLess(a, b) {
			return true
		}
		if geometry.ReadingLess(b, a) {
			return false
		}
		return frags[i].order < frags[j].order
	})

	parts := make([]string, 0, len(frags))
	var weighted, weight float64
	for _, f := range frags {
		parts = append(parts, strings.TrimSpace(f.block.Text))
		w := float64(len([]rune(f.block.Text)))
		weighted += f.block.Confidence * w
		weight += w
	}
	bt.RawText = strings.Join(parts, " ")
	bt.Name, bt.Vintage = Clean(bt.RawText)
	if weight > 0 {
		bt.TextConfidence = weighted / weight
	}
	if bt.Name != "" {
		bt.Confidence = combine(obj.Confidence, bt.TextConfidence)
	}
	return bt
}

// combine blends detection and text confidence with equal weight.
func combine(det, text float64) float64 {
	return (det + text) / 2
}

func newOrphan(tb vision.TextBlock) OrphanedText {
	name, vintage := Clean(tb.Text)
	return OrphanedText{Text: tb.Text, Name: name, Vintage: vintage, Box: tb.Box, Confidence: tb.Confidence}
}

var (
	measureRe = regexp.MustCompile(`(?i)\b\d+(?:[.,]\d+)?\s*(?:ml|cl|ltr|l|%\s*vol|%|vol)(?:\b|$|\s)`)
	vintageRe = regexp.MustCompile(`\b(19[5-9]\d|20[0-4]\d)\b`)
)

// Clean strips label noise (volumes, alcohol content) from raw OCR text,
// extracts a vintage year if present and returns the normalized name.
func Clean(raw string) (string, int) {
	s := measureRe.ReplaceAllString(raw, " ")
	vintage := 0
	if m := vintageRe.FindString(s); m != "" {
		vintage, _ = strconv.Atoi(m)
		s = vintageRe.ReplaceAllString(s, " ")
	}
	name := textnorm.Normalize(s)
	tokens := strings.Fields(name)
	kept := tokens[:0]
	for _, tok := range tokens {
		// Lone letters are almost always OCR speckle on labels.
		if len([]rune(tok)) == 1 && !isDigit(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " "), vintage
}

func isDigit(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
