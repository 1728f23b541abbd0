package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/geometry"
	"github.com/MeKo-Tech/vinoscan/internal/llm"
	"github.com/MeKo-Tech/vinoscan/internal/matcher"
	"github.com/MeKo-Tech/vinoscan/internal/textnorm"
	"github.com/MeKo-Tech/vinoscan/internal/vision"
	"github.com/stretchr/testify/require"
)

// shelfPNG returns a small PNG whose bytes differ per seed.
func shelfPNG(t testing.TB, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := range 24 {
		for x := range 32 {
			img.Set(x, y, color.RGBA{R: seed, G: uint8(x * 7), B: uint8(y * 9), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testWines() []matcher.Wine {
	return []matcher.Wine{
		{ID: 1, Name: "Caymus Cabernet Sauvignon", Rating: matcher.Float(4.5), WineType: "red", Region: "Napa Valley"},
		{ID: 2, Name: "Opus One", Rating: matcher.Float(4.8), WineType: "red"},
		{ID: 3, Name: "Silver Oak Alexander Valley", Rating: matcher.Float(4.2)},
		{ID: 4, Name: "Quiet Hollow Reserve"},
	}
}

func testMatcher() *matcher.Matcher {
	return matcher.New(testWines(), map[string]string{"Caymus Cab": "Caymus Cabernet Sauvignon"}, matcher.DefaultConfig())
}

// bottle describes one detected object and the label text inside it.
type bottle struct {
	text string
	det  float64
}

// shelf lays bottles out left to right, each with its label text inside.
// orphans are text blocks without a location.
func shelf(bottles []bottle, orphans ...string) *vision.Analysis {
	a := &vision.Analysis{Provider: "test", Width: 32, Height: 24}
	for i, b := range bottles {
		x := 0.02 + 0.12*float64(i)
		a.Objects = append(a.Objects, vision.DetectedObject{
			Box: geometry.NewBox(x, 0.1, x+0.1, 0.9), Label: "Bottle", Confidence: b.det,
		})
		if b.text == "" {
			continue
		}
		tb := geometry.NewBox(x+0.01, 0.3, x+0.09, 0.4)
		a.TextBlocks = append(a.TextBlocks, vision.TextBlock{Text: b.text, Box: &tb, Confidence: 0.9})
	}
	for _, o := range orphans {
		a.TextBlocks = append(a.TextBlocks, vision.TextBlock{Text: o, Confidence: 0.9})
	}
	return a
}

// fakeVision replays a fixed analysis and counts calls.
type fakeVision struct {
	analysis *vision.Analysis
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeVision) Analyze(_ context.Context, _ []byte) (*vision.Analysis, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	data, err := vision.Encode(f.analysis)
	if err != nil {
		return nil, err
	}
	return vision.Decode(data)
}

// countingEstimator wraps an estimator and counts calls per name.
type countingEstimator struct {
	next   llm.Estimator
	calls  atomic.Int32
	mu     sync.Mutex
	byName map[string]int
}

func (c *countingEstimator) Estimate(ctx context.Context, name string) (*llm.Estimate, error) {
	c.calls.Add(1)
	c.mu.Lock()
	if c.byName == nil {
		c.byName = map[string]int{}
	}
	c.byName[textnorm.Key(name)]++
	c.mu.Unlock()
	return c.next.Estimate(ctx, name)
}

func (c *countingEstimator) callsFor(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byName[textnorm.Key(name)]
}

func staticEstimator() *countingEstimator {
	return &countingEstimator{next: llm.NewStaticEstimator("static", map[string]llm.Estimate{
		"Chateau Mystery Red": {
			CanonicalName:  "Chateau Mystery Red",
			Rating:         matcher.Float(4.1),
			Confidence:     0.8,
			WineType:       "red",
			Blurb:          "Dark fruit and cedar.",
			ReviewSnippets: []string{"Plush and long."},
		},
		"Quiet Hollow Reserve": {
			CanonicalName: "Quiet Hollow Reserve",
			Rating:        matcher.Float(3.9),
			Confidence:    0.7,
		},
	})}
}

func names(results []WineResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Name
	}
	return out
}
