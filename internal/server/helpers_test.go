package server

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MeKo-Tech/vinoscan/internal/llmcache"
	"github.com/MeKo-Tech/vinoscan/internal/pipeline"
	"github.com/MeKo-Tech/vinoscan/internal/visioncache"
	"github.com/stretchr/testify/require"
)

// mockScanner records calls and delegates to recognize.
type mockScanner struct {
	mu        sync.Mutex
	recognize func(ctx context.Context, image []byte, opts pipeline.Options) (*pipeline.ScanResult, error)
	lastOpts  pipeline.Options
	calls     int
	vcache    *visioncache.Cache
	lcache    *llmcache.Cache
	closed    bool
}

func (m *mockScanner) Recognize(ctx context.Context, image []byte, opts pipeline.Options) (*pipeline.ScanResult, error) {
	m.mu.Lock()
	m.lastOpts = opts
	m.calls++
	fn := m.recognize
	m.mu.Unlock()

	if fn == nil {
		return sampleResult(), nil
	}
	return fn(ctx, image, opts)
}

func (m *mockScanner) RecognizeBatch(ctx context.Context, images [][]byte, opts pipeline.Options, cfg pipeline.BatchConfig) ([]*pipeline.ScanResult, error) {
	out := make([]*pipeline.ScanResult, len(images))
	var firstErr error
	for i, img := range images {
		res, err := m.Recognize(ctx, img, opts)
		if err != nil {
			if cfg.ErrorHandler != nil {
				cfg.ErrorHandler(i, err)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("image %d: %w", i, err)
			}
			continue
		}
		out[i] = res
	}
	return out, firstErr
}

func (m *mockScanner) DefaultOptions() pipeline.Options {
	return pipeline.OptionsFor(pipeline.ModeFull)
}

func (m *mockScanner) VisionCache() *visioncache.Cache { return m.vcache }
func (m *mockScanner) LLMCache() *llmcache.Cache       { return m.lcache }

func (m *mockScanner) Close() error {
	m.closed = true
	return nil
}

func (m *mockScanner) options() pipeline.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpts
}

func sampleResult() *pipeline.ScanResult {
	rating := 4.5
	return &pipeline.ScanResult{
		ScanID: "scan-1",
		Mode:   pipeline.ModeFull,
		Results: []pipeline.WineResult{{
			Name:       "Caymus Cabernet Sauvignon",
			Confidence: 0.95,
			Rating:     &rating,
			Opacity:    1.0,
			Tappable:   true,
		}},
		TopThree: []pipeline.WineResult{},
		Fallback: []pipeline.FallbackWine{},
	}
}

func newTestServer(t *testing.T, sc *mockScanner) *Server {
	t.Helper()
	s, err := NewServer(Config{CORSOrigin: "*", MaxUploadMB: 1, TimeoutSec: 5}, sc)
	require.NoError(t, err)
	return s
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for y := range 12 {
		for x := range 16 {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: 80, B: uint8(y * 10), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type upload struct {
	field, filename string
	data            []byte
}

// multipartRequest builds a POST with the given files and form values.
func multipartRequest(t *testing.T, target string, files []upload, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.filename)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
