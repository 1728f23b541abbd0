// Package vision describes the results of the external detection/OCR service
// and provides adapters that produce them.
package vision

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/vinoscan/internal/geometry"
)

// DetectedObject is one object region reported by the vision service.
type DetectedObject struct {
	Box        geometry.BoundingBox `json:"box"`
	Label      string               `json:"label"`
	Confidence float64              `json:"confidence"`
}

// TextBlock is one recognized run of text. Box is nil when the service
// reported no location for it.
type TextBlock struct {
	Text       string                `json:"text"`
	Box        *geometry.BoundingBox `json:"box,omitempty"`
	Confidence float64               `json:"confidence"`
}

// Analysis is the full result of one vision call.
type Analysis struct {
	Objects    []DetectedObject `json:"objects"`
	TextBlocks []TextBlock      `json:"text_blocks"`
	Width      int              `json:"width,omitempty"`
	Height     int              `json:"height,omitempty"`
	Provider   string           `json:"provider,omitempty"`
}

// Adapter wraps a remote detection/OCR service.
type Adapter interface {
	Analyze(ctx context.Context, image []byte) (*Analysis, error)
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(ctx context.Context, image []byte) (*Analysis, error)

// Analyze calls f.
func (f AdapterFunc) Analyze(ctx context.Context, image []byte) (*Analysis, error) {
	return f(ctx, image)
}

// Encode serializes an analysis for caching.
func Encode(a *Analysis) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("nil analysis")
	}
	return json.Marshal(a)
}

// Decode restores an analysis previously produced by Encode.
func Decode(data []byte) (*Analysis, error) {
	var a Analysis
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode cached analysis: %w", err)
	}
	return &a, nil
}

// Sanitize clamps every box to the unit square and drops objects whose boxes
// are degenerate. Text blocks with degenerate boxes lose their location.
func (a *Analysis) Sanitize() {
	objs := a.Objects[:0]
	for _, o := range a.Objects {
		o.Box = o.Box.Clamp()
		if o.Box.Area() == 0 {
			continue
		}
		o.Confidence = clampConfidence(o.Confidence)
		objs = append(objs, o)
	}
	a.Objects = objs

	for i := range a.TextBlocks {
		tb := &a.TextBlocks[i]
		tb.Confidence = clampConfidence(tb.Confidence)
		if tb.Box == nil {
			continue
		}
		c := tb.Box.Clamp()
		if c.Area() == 0 {
			tb.Box = nil
			continue
		}
		tb.Box = &c
	}
}

func clampConfidence(c float64) float64 {
	if c != c || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
