package cmd

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/vinoscan/internal/config"
	"github.com/MeKo-Tech/vinoscan/internal/geometry"
	"github.com/MeKo-Tech/vinoscan/internal/vision"
	"github.com/stretchr/testify/require"
)

const seedYAML = `wines:
  - name: Caymus Cabernet Sauvignon
    rating: 4.5
    type: red
    region: Napa Valley
    aliases: [Caymus Cab]
  - name: Opus One
    rating: 4.8
`

const estimatesYAML = `provider: static
estimates:
  - name: Chateau Mystery Red
    rating: 4.1
    confidence: 0.8
    wine_type: red
    blurb: Dark fruit and cedar.
    review_snippets: ["Plush and long."]
`

// shelfImage renders a small PNG; its content does not matter to the fixture adapter.
func shelfImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// shelfAnalysis places one labelled bottle per name, left to right.
func shelfAnalysis(names ...string) *vision.Analysis {
	a := &vision.Analysis{Provider: "fixture", Width: 64, Height: 48}
	for i, name := range names {
		x := 0.05 + 0.3*float64(i)
		a.Objects = append(a.Objects, vision.DetectedObject{
			Box: geometry.NewBox(x, 0.1, x+0.25, 0.9), Label: "Bottle", Confidence: 0.95,
		})
		tb := geometry.NewBox(x+0.02, 0.4, x+0.23, 0.5)
		a.TextBlocks = append(a.TextBlocks, vision.TextBlock{Text: name, Box: &tb, Confidence: 0.95})
	}
	return a
}

// testConfig writes a seed catalog, a recorded analysis and a static
// estimate table under a temp dir and returns a config that uses them.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	seed := filepath.Join(dir, "wines.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(seedYAML), 0o600))

	estimates := filepath.Join(dir, "estimates.yaml")
	require.NoError(t, os.WriteFile(estimates, []byte(estimatesYAML), 0o600))

	data, err := json.Marshal(shelfAnalysis("Caymus Cabernet Sauvignon", "Chateau Mystery Red"))
	require.NoError(t, err)
	fixture := filepath.Join(dir, "analysis.json")
	require.NoError(t, os.WriteFile(fixture, data, 0o600))

	cfg := config.DefaultConfig()
	cfg.Catalog.DSN = filepath.Join(dir, "catalog.db")
	cfg.Catalog.SeedFile = seed
	cfg.Vision.Provider = config.VisionFixture
	cfg.Vision.FixturePath = fixture
	cfg.LLM.Provider = config.LLMStatic
	cfg.LLM.StaticFile = estimates
	require.NoError(t, cfg.Validate())
	return &cfg
}
