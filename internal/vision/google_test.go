package vision

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const annotateFixture = `{
  "responses": [{
    "localizedObjectAnnotations": [
      {"name": "Bottle", "score": 0.91, "boundingPoly": {"normalizedVertices": [
        {"x": 0.1, "y": 0.1}, {"x": 0.3, "y": 0.1}, {"x": 0.3, "y": 0.9}, {"x": 0.1, "y": 0.9}]}},
      {"name": "Person", "score": 0.88, "boundingPoly": {"normalizedVertices": [
        {"x": 0.5, "y": 0.1}, {"x": 0.9, "y": 0.1}, {"x": 0.9, "y": 0.9}, {"x": 0.5, "y": 0.9}]}}
    ],
    "fullTextAnnotation": {"pages": [{"width": 1000, "height": 2000, "blocks": [
      {"confidence": 0.93, "boundingBox": {"vertices": [{"x": 150, "y": 400}, {"x": 250, "y": 400}, {"x": 250, "y": 500}, {"x": 150, "y": 500}]},
       "paragraphs": [{"words": [
         {"symbols": [{"text": "O"}, {"text": "P"}, {"text": "U"}, {"text": "S"}]},
         {"symbols": [{"text": "O"}, {"text": "N"}, {"text": "E"}]}]}]}
    ]}]}
  }]
}`

func TestGoogleAdapterAnalyze(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(annotateFixture))
	}))
	defer srv.Close()

	cfg := DefaultGoogleConfig()
	cfg.Endpoint = srv.URL
	cfg.APIKey = "test-key"
	g, err := NewGoogleAdapter(cfg, srv.Client())
	require.NoError(t, err)

	a, err := g.Analyze(context.Background(), []byte("raw-image"))
	require.NoError(t, err)

	require.NotNil(t, gotBody["requests"])
	require.Len(t, a.Objects, 1, "non-bottle labels are filtered")
	assert.Equal(t, "Bottle", a.Objects[0].Label)
	assert.InDelta(t, 0.2, a.Objects[0].Box.Width, 1e-9)

	require.Len(t, a.TextBlocks, 1)
	assert.Equal(t, "OPUS ONE", a.TextBlocks[0].Text)
	require.NotNil(t, a.TextBlocks[0].Box)
	assert.InDelta(t, 0.15, a.TextBlocks[0].Box.X, 1e-9)
	assert.InDelta(t, 0.2, a.TextBlocks[0].Box.Y, 1e-9)
	assert.InDelta(t, 0.93, a.TextBlocks[0].Confidence, 1e-9)
	assert.Equal(t, 1000, a.Width)
}

func TestGoogleAdapterErrors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		g, err := NewGoogleAdapter(GoogleConfig{Endpoint: srv.URL, APIKey: "k"}, srv.Client())
		require.NoError(t, err)
		_, err = g.Analyze(context.Background(), []byte("x"))
		require.Error(t, err)
		assert.True(t, IsQuota(err))
	})

	t.Run("per-image error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"responses":[{"error":{"code":3,"message":"bad image"}}]}`))
		}))
		defer srv.Close()

		g, err := NewGoogleAdapter(GoogleConfig{Endpoint: srv.URL, APIKey: "k"}, srv.Client())
		require.NoError(t, err)
		_, err = g.Analyze(context.Background(), []byte("x"))
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusBadRequest, te.StatusCode)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := NewGoogleAdapter(GoogleConfig{}, nil)
		assert.Error(t, err)
	})
}
