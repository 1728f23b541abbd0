package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/geometry"
	"github.com/MeKo-Tech/vinoscan/internal/matcher"
	"github.com/MeKo-Tech/vinoscan/internal/ocrgroup"
)

// Mode selects which optional stages a scan uses.
type Mode string

const (
	// ModeFull uses the vision cache, the LLM cache and the language model.
	ModeFull Mode = "full"
	// ModeCatalogOnly resolves names against the catalog only.
	ModeCatalogOnly Mode = "catalog_only"
	// ModeNoCache bypasses both caches but still asks the language model.
	ModeNoCache Mode = "no_cache"
)

// Modes lists the supported modes.
func Modes() []Mode { return []Mode{ModeFull, ModeCatalogOnly, ModeNoCache} }

// ParseMode parses a mode name. The empty string yields ModeFull.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeCatalogOnly:
		return ModeCatalogOnly, nil
	case ModeNoCache:
		return ModeNoCache, nil
	}
	return "", fmt.Errorf("unknown pipeline mode %q (want one of full, catalog_only, no_cache)", s)
}

// Options controls one Recognize call.
type Options struct {
	Mode           Mode
	UseVisionCache bool
	UseLLM         bool
	UseLLMCache    bool
	// Debug attaches intermediate stage data to the result.
	Debug bool
	// Deadline bounds rating resolution; zero uses the pipeline default.
	Deadline time.Duration
	// SkipSync disables the catalog write-back for this scan.
	SkipSync bool
	// OnStage is called as the scan passes each stage.
	OnStage StageFunc
}

// OptionsFor returns the options a mode implies.
func OptionsFor(m Mode) Options {
	switch m {
	case ModeCatalogOnly:
		return Options{Mode: m, UseVisionCache: true}
	case ModeNoCache:
		return Options{Mode: m, UseLLM: true}
	default:
		return Options{Mode: ModeFull, UseVisionCache: true, UseLLM: true, UseLLMCache: true}
	}
}

// Stage names a step of a scan.
type Stage string

const (
	StageReceived        Stage = "received"
	StageVisionResolved  Stage = "vision_resolved"
	StageGrouped         Stage = "grouped"
	StageMatched         Stage = "matched"
	StageRatingsResolved Stage = "ratings_resolved"
	StageAssembled       Stage = "assembled"
	StageSynced          Stage = "synced"
)

// StageFunc observes stage transitions. elapsed is the time spent in the stage.
type StageFunc func(stage Stage, elapsed time.Duration)

// WineResult is one overlay-eligible wine.
type WineResult struct {
	BottleIndex    int                  `json:"bottle_index"`
	Name           string               `json:"name"`
	DetectedText   string               `json:"detected_text"`
	Vintage        int                  `json:"vintage,omitempty"`
	Box            geometry.BoundingBox `json:"box"`
	Confidence     float64              `json:"confidence"`
	Rating         *float64             `json:"rating,omitempty"`
	Source         matcher.Source       `json:"source"`
	MatchType      matcher.MatchType    `json:"match_type"`
	RatingSource   matcher.Source       `json:"rating_source,omitempty"`
	Opacity        float64              `json:"opacity"`
	Tappable       bool                 `json:"tappable"`
	WineType       string               `json:"wine_type,omitempty"`
	Region         string               `json:"region,omitempty"`
	Varietal       string               `json:"varietal,omitempty"`
	Blurb          string               `json:"blurb,omitempty"`
	ReviewSnippets []string             `json:"review_snippets,omitempty"`
}

// FallbackReason explains why a wine is not on the overlay.
type FallbackReason string

const (
	ReasonNoBox         FallbackReason = "no_box"
	ReasonLowConfidence FallbackReason = "low_confidence"
	ReasonOrphan        FallbackReason = "orphan"
)

// FallbackWine is a named, rated wine that cannot be placed on the image.
type FallbackWine struct {
	BottleIndex  int               `json:"bottle_index"`
	Name         string            `json:"name"`
	DetectedText string            `json:"detected_text"`
	Vintage      int               `json:"vintage,omitempty"`
	Confidence   float64           `json:"confidence"`
	Rating       *float64          `json:"rating"`
	Source       matcher.Source    `json:"source"`
	MatchType    matcher.MatchType `json:"match_type"`
	Reason       FallbackReason    `json:"reason"`
	Blurb        string            `json:"blurb,omitempty"`
}

// ScanResult is the output of Recognize.
type ScanResult struct {
	ScanID    string          `json:"scan_id"`
	ImageHash string          `json:"image_hash"`
	Mode      Mode            `json:"mode"`
	Results   []WineResult    `json:"results"`
	TopThree  []WineResult    `json:"top_three"`
	Fallback  []FallbackWine  `json:"fallback"`
	CacheHit  bool            `json:"cache_hit"`
	Degraded  bool            `json:"degraded"`
	Warnings  []string        `json:"warnings,omitempty"`
	TimingsMS map[Stage]int64 `json:"timings_ms"`
	Debug     *DebugInfo      `json:"debug,omitempty"`
}

// WineCount returns the number of wines reported in either list.
func (r *ScanResult) WineCount() int { return len(r.Results) + len(r.Fallback) }

// DebugInfo carries intermediate data for diagnostics.
type DebugInfo struct {
	ImageHash      string                  `json:"image_hash"`
	ImageWidth     int                     `json:"image_width"`
	ImageHeight    int                     `json:"image_height"`
	Provider       string                  `json:"provider"`
	VisionCacheHit bool                    `json:"vision_cache_hit"`
	ObjectCount    int                     `json:"object_count"`
	TextBlockCount int                     `json:"text_block_count"`
	Bottles        []ocrgroup.BottleText   `json:"bottles"`
	Orphans        []ocrgroup.OrphanedText `json:"orphans"`
	Candidates     []CandidateDebug        `json:"candidates"`
}

// CandidateDebug records how one bottle was resolved.
type CandidateDebug struct {
	BottleIndex int                `json:"bottle_index"`
	Query       string             `json:"query"`
	Catalog     *matcher.WineMatch `json:"catalog,omitempty"`
	Estimate    *matcher.WineMatch `json:"estimate,omitempty"`
	LLMStatus   string             `json:"llm_status,omitempty"`
	Chosen      matcher.Source     `json:"chosen,omitempty"`
}
