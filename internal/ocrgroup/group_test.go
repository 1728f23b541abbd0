package ocrgroup

import (
	"testing"

	"github.com/MeKo-Tech/vinoscan/internal/geometry"
	"github.com/MeKo-Tech/vinoscan/internal/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(x, y, w, h float64) *geometry.BoundingBox {
	return &geometry.BoundingBox{X: x, Y: y, Width: w, Height: h}
}

func obj(x, y, w, h, conf float64) vision.DetectedObject {
	return vision.DetectedObject{Box: *box(x, y, w, h), Label: "Bottle", Confidence: conf}
}

func TestGroupMergesInReadingOrder(t *testing.T) {
	objects := []vision.DetectedObject{obj(0.0, 0.0, 0.3, 1.0, 0.9)}
	texts := []vision.TextBlock{
		{Text: "Cabernet Sauvignon", Box: box(0.05, 0.60, 0.2, 0.05), Confidence: 0.8},
		{Text: "CAYMUS", Box: box(0.05, 0.40, 0.2, 0.05), Confidence: 1.0},
		{Text: "Napa Valley", Box: box(0.05, 0.50, 0.2, 0.05), Confidence: 0.9},
	}

	bottles, orphans := Group(objects, texts, DefaultConfig())
	require.Len(t, bottles, 1)
	assert.Empty(t, orphans)

	b := bottles[0]
	assert.Equal(t, "CAYMUS Napa Valley Cabernet Sauvignon", b.RawText)
	assert.Equal(t, "caymus napa valley cabernet sauvignon", b.Name)
	assert.Equal(t, 3, b.Fragments)
	assert.True(t, b.HasEvidence())
	assert.Greater(t, b.TextConfidence, 0.8)
	assert.InDelta(t, (0.9+b.TextConfidence)/2, b.Confidence, 1e-9)
}

func TestGroupObjectWithoutTextHasNoEvidence(t *testing.T) {
	objects := []vision.DetectedObject{obj(0.0, 0.0, 0.2, 1.0, 0.8), obj(0.5, 0.0, 0.2, 1.0, 0.7)}
	texts := []vision.TextBlock{{Text: "Opus One", Box: box(0.05, 0.4, 0.1, 0.05), Confidence: 0.9}}

	bottles, _ := Group(objects, texts, DefaultConfig())
	require.Len(t, bottles, 2)
	assert.Equal(t, "opus one", bottles[0].Name)
	assert.Empty(t, bottles[1].Name)
	assert.False(t, bottles[1].HasEvidence())
	assert.InDelta(t, 0.7, bottles[1].Confidence, 1e-9)
	assert.Equal(t, 1, bottles[1].ObjectIndex)
}

func TestGroupOrphans(t *testing.T) {
	objects := []vision.DetectedObject{obj(0.0, 0.0, 0.2, 0.5, 0.9)}
	texts := []vision.TextBlock{
		{Text: "Silver Oak", Confidence: 0.9},
		{Text: "Far Niente", Box: box(0.8, 0.8, 0.1, 0.05), Confidence: 0.9},
		{Text: "   ", Box: box(0.05, 0.1, 0.1, 0.05), Confidence: 0.9},
	}

	bottles, orphans := Group(objects, texts, DefaultConfig())
	require.Len(t, orphans, 2)
	assert.Equal(t, "silver oak", orphans[0].Name)
	assert.Nil(t, orphans[0].Box)
	assert.Equal(t, "far niente", orphans[1].Name)
	assert.NotNil(t, orphans[1].Box)
	assert.Empty(t, bottles[0].Name)
}

func TestGroupContainmentBeatsOverlap(t *testing.T) {
	objects := []vision.DetectedObject{
		obj(0.30, 0.0, 0.4, 1.0, 0.9),  // overlaps the text partially
		obj(0.10, 0.3, 0.25, 0.4, 0.9), // fully contains the text
	}
	texts := []vision.TextBlock{{Text: "Stags Leap", Box: box(0.15, 0.4, 0.18, 0.05), Confidence: 0.9}}

	bottles, orphans := Group(objects, texts, DefaultConfig())
	assert.Empty(t, orphans)
	assert.Empty(t, bottles[0].Name)
	assert.Equal(t, "stags leap", bottles[1].Name)
}

func TestGroupProximity(t *testing.T) {
	objects := []vision.DetectedObject{obj(0.1, 0.1, 0.2, 0.6, 0.9), obj(0.6, 0.1, 0.2, 0.6, 0.9)}
	// Below the first bottle, not overlapping either.
	texts := []vision.TextBlock{{Text: "Duckhorn", Box: box(0.12, 0.72, 0.15, 0.04), Confidence: 0.8}}

	cfg := DefaultConfig()
	cfg.MaxProximity = 0.4
	bottles, orphans := Group(objects, texts, cfg)
	assert.Empty(t, orphans)
	assert.Equal(t, "duckhorn", bottles[0].Name)

	cfg.MaxProximity = 0.05
	_, orphans = Group(objects, texts, cfg)
	require.Len(t, orphans, 1)
}

func TestGroupTieBreaksToFirstSeen(t *testing.T) {
	objects := []vision.DetectedObject{obj(0.1, 0.1, 0.4, 0.4, 0.9), obj(0.1, 0.1, 0.4, 0.4, 0.8)}
	texts := []vision.TextBlock{{Text: "Shafer", Box: box(0.2, 0.2, 0.1, 0.05), Confidence: 0.9}}

	bottles, _ := Group(objects, texts, DefaultConfig())
	assert.Equal(t, "shafer", bottles[0].Name)
	assert.Empty(t, bottles[1].Name)
}

func TestGroupMinTextConfidence(t *testing.T) {
	objects := []vision.DetectedObject{obj(0, 0, 0.5, 0.5, 0.9)}
	texts := []vision.TextBlock{{Text: "smudge", Box: box(0.1, 0.1, 0.1, 0.05), Confidence: 0.1}}
	cfg := DefaultConfig()
	cfg.MinTextConfidence = 0.3
	bottles, orphans := Group(objects, texts, cfg)
	assert.Empty(t, bottles[0].Name)
	assert.Empty(t, orphans)
}

func TestClean(t *testing.T) {
	tests := []struct {
		raw     string
		name    string
		vintage int
	}{
		{"CAYMUS 2019 Cabernet 750ml", "caymus cabernet", 2019},
		{"Opus One 14.5% vol", "opus one", 0},
		{"J. Lohr Seven Oaks", "lohr seven oaks", 0},
		{"Château Margaux 1996", "chateau margaux", 1996},
		{"", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			name, vintage := Clean(tt.raw)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.vintage, vintage)
		})
	}
}
