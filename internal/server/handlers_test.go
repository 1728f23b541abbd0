package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/llmcache"
	"github.com/MeKo-Tech/vinoscan/internal/pipeline"
	"github.com/MeKo-Tech/vinoscan/internal/vision"
	"github.com/MeKo-Tech/vinoscan/internal/visioncache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	_, err := NewServer(Config{}, nil)
	require.Error(t, err)

	sc := &mockScanner{}
	s, err := NewServer(Config{RateLimit: &RateLimitConfig{RequestsPerMinute: 5}}, sc)
	require.NoError(t, err)
	assert.Equal(t, int64(20), s.maxUploadMB)
	assert.Equal(t, 30, s.timeoutSec)
	assert.Equal(t, 10, s.maxBatchImages)
	assert.Positive(t, s.batchWorkers)
	assert.NotNil(t, s.RateLimiter())

	require.NoError(t, s.Close())
	assert.True(t, sc.closed)
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, &mockScanner{})

	w := httptest.NewRecorder()
	s.healthHandler(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Version.Version)
	assert.Positive(t, resp.Runtime.Goroutines)

	w = httptest.NewRecorder()
	s.healthHandler(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestScanHandler_Success(t *testing.T) {
	sc := &mockScanner{}
	s := newTestServer(t, sc)

	req := multipartRequest(t, "/scan?debug=true", []upload{{"image", "shelf.png", testPNG(t)}}, map[string]string{"mode": "catalog_only"})
	w := httptest.NewRecorder()
	s.scanHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp ScanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Result)
	require.Len(t, resp.Result.Results, 1)
	assert.Equal(t, "Caymus Cabernet Sauvignon", resp.Result.Results[0].Name)

	opts := sc.options()
	assert.Equal(t, pipeline.ModeCatalogOnly, opts.Mode)
	assert.False(t, opts.UseLLM)
	assert.True(t, opts.Debug)
}

func TestScanHandler_DefaultOptions(t *testing.T) {
	sc := &mockScanner{}
	s := newTestServer(t, sc)

	req := multipartRequest(t, "/scan", []upload{{"image", "shelf.png", testPNG(t)}}, map[string]string{"deadline": "2s"})
	w := httptest.NewRecorder()
	s.scanHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	opts := sc.options()
	assert.Equal(t, pipeline.ModeFull, opts.Mode)
	assert.True(t, opts.UseLLM)
	assert.Equal(t, 2*time.Second, opts.Deadline)
}

func TestScanHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
	}{
		{
			name:   "wrong method",
			req:    func(t *testing.T) *http.Request { return httptest.NewRequest(http.MethodGet, "/scan", nil) },
			status: http.StatusMethodNotAllowed,
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/scan", nil)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "missing image field",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/scan", []upload{{"photo", "a.png", testPNG(t)}}, nil)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "unknown mode",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/scan?mode=turbo", []upload{{"image", "a.png", testPNG(t)}}, nil)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "bad debug flag",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/scan?debug=maybe", []upload{{"image", "a.png", testPNG(t)}}, nil)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/scan", []upload{{"image", "big.png", make([]byte, 2<<20)}}, nil)
			},
			status: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := &mockScanner{}
			s := newTestServer(t, sc)
			w := httptest.NewRecorder()
			s.scanHandler(w, tt.req(t))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Zero(t, sc.calls)
		})
	}
}

func TestScanHandler_ErrorMapping(t *testing.T) {
	quota := &vision.TransportError{Op: "annotate", StatusCode: http.StatusTooManyRequests, Err: errors.New("quota")}
	tests := []struct {
		name    string
		err     error
		status  int
		errType string
	}{
		{"unprocessable", fmt.Errorf("%w: bad header", vision.ErrUnprocessableInput), http.StatusBadRequest, errTypeUnprocessable},
		{"vision down", fmt.Errorf("%w: %w", pipeline.ErrVisionUnavailable, errors.New("dial tcp")), http.StatusServiceUnavailable, errTypeVisionUnavailable},
		{"vision quota", fmt.Errorf("%w: %w", pipeline.ErrVisionUnavailable, quota), http.StatusServiceUnavailable, errTypeVisionQuota},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, errTypeTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError, errTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := &mockScanner{recognize: func(context.Context, []byte, pipeline.Options) (*pipeline.ScanResult, error) {
				return nil, tt.err
			}}
			s := newTestServer(t, sc)

			w := httptest.NewRecorder()
			s.scanHandler(w, multipartRequest(t, "/scan", []upload{{"image", "a.png", testPNG(t)}}, nil))

			assert.Equal(t, tt.status, w.Code)
			var resp ScanResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.errType, resp.ErrorType)
			if tt.errType == errTypeVisionQuota {
				assert.NotEmpty(t, w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestBatchScanHandler(t *testing.T) {
	bad := []byte("not an image")
	sc := &mockScanner{recognize: func(_ context.Context, img []byte, _ pipeline.Options) (*pipeline.ScanResult, error) {
		if string(img) == string(bad) {
			return nil, fmt.Errorf("%w: unknown format", vision.ErrUnprocessableInput)
		}
		return sampleResult(), nil
	}}
	s := newTestServer(t, sc)

	req := multipartRequest(t, "/scan/batch", []upload{
		{"images", "a.png", testPNG(t)},
		{"images", "b.txt", bad},
		{"images", "c.png", testPNG(t)},
	}, nil)
	w := httptest.NewRecorder()
	s.batchScanHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp BatchScanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.False(t, resp.Success)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, []string{"a.png", "b.txt", "c.png"},
		[]string{resp.Results[0].Filename, resp.Results[1].Filename, resp.Results[2].Filename})
	assert.True(t, resp.Results[0].Success)
	assert.False(t, resp.Results[1].Success)
	assert.Equal(t, errTypeUnprocessable, resp.Results[1].ErrorType)
	assert.True(t, resp.Results[2].Success)

	assert.Equal(t, 3, resp.Summary.TotalItems)
	assert.Equal(t, 2, resp.Summary.Successful)
	assert.Equal(t, 1, resp.Summary.Failed)
	assert.Equal(t, 2, resp.Summary.TotalWines)
}

func TestBatchScanHandler_Limits(t *testing.T) {
	s := newTestServer(t, &mockScanner{})
	s.maxBatchImages = 1

	w := httptest.NewRecorder()
	s.batchScanHandler(w, multipartRequest(t, "/scan/batch", nil, map[string]string{"mode": "full"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	s.batchScanHandler(w, multipartRequest(t, "/scan/batch", []upload{
		{"images", "a.png", testPNG(t)},
		{"images", "b.png", testPNG(t)},
	}, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "too large")
}

func TestCacheStatsHandler(t *testing.T) {
	t.Run("caches disabled", func(t *testing.T) {
		s := newTestServer(t, &mockScanner{})
		w := httptest.NewRecorder()
		s.cacheStatsHandler(w, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"vision":null,"llm":null}`, w.Body.String())
	})

	t.Run("caches enabled", func(t *testing.T) {
		vc, err := visioncache.New(visioncache.DefaultConfig())
		require.NoError(t, err)
		require.NoError(t, vc.Put("abc", &vision.Analysis{Provider: "fixture"}))
		_, ok := vc.Get("abc")
		require.True(t, ok)

		lc := llmcache.New()
		_, err = lc.Set("Opus One", llmcache.Entry{Rating: 4.6, Confidence: 0.8})
		require.NoError(t, err)

		s := newTestServer(t, &mockScanner{vcache: vc, lcache: lc})
		w := httptest.NewRecorder()
		s.cacheStatsHandler(w, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))

		var resp CacheStatsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Vision)
		require.NotNil(t, resp.LLM)
		assert.Equal(t, 1, resp.Vision.Entries)
		assert.Equal(t, int64(1), resp.Vision.Hits)
		assert.Equal(t, 1, resp.LLM.TotalEntries)
	})
}

func TestPromotionsHandler(t *testing.T) {
	lc := llmcache.New(llmcache.WithPromotionThreshold(3))
	for _, name := range []string{"Opus One", "Quiet Hollow Reserve"} {
		_, err := lc.Set(name, llmcache.Entry{Rating: 4.0, Confidence: 0.8})
		require.NoError(t, err)
	}
	for range 3 {
		lc.Get("Opus One")
	}
	lc.Get("Quiet Hollow Reserve")

	s := newTestServer(t, &mockScanner{lcache: lc})

	w := httptest.NewRecorder()
	s.promotionsHandler(w, httptest.NewRequest(http.MethodGet, "/cache/promotions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp PromotionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Threshold)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "Opus One", resp.Candidates[0].DisplayName)
	assert.Equal(t, int64(3), resp.Candidates[0].HitCount)

	w = httptest.NewRecorder()
	s.promotionsHandler(w, httptest.NewRequest(http.MethodGet, "/cache/promotions?min_hits=1", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	w = httptest.NewRecorder()
	s.promotionsHandler(w, httptest.NewRequest(http.MethodGet, "/cache/promotions?min_hits=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	empty := newTestServer(t, &mockScanner{})
	w = httptest.NewRecorder()
	empty.promotionsHandler(w, httptest.NewRequest(http.MethodGet, "/cache/promotions", nil))
	assert.JSONEq(t, `{"threshold":0,"count":0,"candidates":[]}`, w.Body.String())
}

func TestSetupRoutes(t *testing.T) {
	s := newTestServer(t, &mockScanner{})
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	ts := httptest.NewServer(mux)
	defer ts.Close()

	for _, path := range []string{"/health", "/cache/stats", "/cache/promotions", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(ts.URL + "/scan")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
