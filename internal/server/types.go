package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/common"
	"github.com/MeKo-Tech/vinoscan/internal/llmcache"
	"github.com/MeKo-Tech/vinoscan/internal/pipeline"
	"github.com/MeKo-Tech/vinoscan/internal/version"
	"github.com/MeKo-Tech/vinoscan/internal/visioncache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scanner defines the methods needed by the server from a pipeline.
type Scanner interface {
	Recognize(ctx context.Context, image []byte, opts pipeline.Options) (*pipeline.ScanResult, error)
	RecognizeBatch(ctx context.Context, images [][]byte, opts pipeline.Options, cfg pipeline.BatchConfig) ([]*pipeline.ScanResult, error)
	DefaultOptions() pipeline.Options
	VisionCache() *visioncache.Cache
	LLMCache() *llmcache.Cache
	Close() error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	scanner        Scanner
	corsOrigin     string
	maxUploadMB    int64
	timeoutSec     int
	batchWorkers   int
	maxBatchImages int
	rateLimiter    *RateLimiter
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	// BatchWorkers bounds concurrent scans within one batch request.
	BatchWorkers   int
	MaxBatchImages int
	// RateLimit is nil when rate limiting is disabled.
	RateLimit *RateLimitConfig
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string              `json:"status"`
	Version version.BuildInfo   `json:"version"`
	Time    string              `json:"time"`
	Runtime common.RuntimeStats `json:"runtime"`
}

// ScanResponse wraps one scan result.
type ScanResponse struct {
	Success   bool                 `json:"success"`
	Result    *pipeline.ScanResult `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
	ErrorType string               `json:"error_type,omitempty"`
}

// CacheStatsResponse is returned by /cache/stats. A nil section means the
// cache is disabled.
type CacheStatsResponse struct {
	Vision *visioncache.Stats `json:"vision"`
	LLM    *llmcache.Stats    `json:"llm"`
}

// PromotionsResponse is returned by /cache/promotions.
type PromotionsResponse struct {
	Threshold  int64            `json:"threshold"`
	Count      int              `json:"count"`
	Candidates []llmcache.Entry `json:"candidates"`
}

// NewServer creates a server around an already built scanner.
func NewServer(config Config, scanner Scanner) (*Server, error) {
	if scanner == nil {
		return nil, errors.New("scanner is required")
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 20
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 30
	}
	if config.BatchWorkers <= 0 {
		config.BatchWorkers = pipeline.DefaultBatchConfig().MaxWorkers
	}
	if config.MaxBatchImages <= 0 {
		config.MaxBatchImages = 10
	}

	s := &Server{
		scanner:        scanner,
		corsOrigin:     config.CORSOrigin,
		maxUploadMB:    config.MaxUploadMB,
		timeoutSec:     config.TimeoutSec,
		batchWorkers:   config.BatchWorkers,
		maxBatchImages: config.MaxBatchImages,
	}
	if config.RateLimit != nil {
		s.rateLimiter = NewRateLimiter(*config.RateLimit)
	}
	return s, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.scanner != nil {
		return s.scanner.Close()
	}
	return nil
}

// RateLimiter returns the limiter, or nil when rate limiting is disabled.
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/scan", s.corsMiddleware(s.rateLimitMiddleware(s.scanHandler)))
	mux.HandleFunc("/scan/batch", s.corsMiddleware(s.rateLimitMiddleware(s.batchScanHandler)))
	mux.HandleFunc("/cache/stats", s.corsMiddleware(s.cacheStatsHandler))
	mux.HandleFunc("/cache/promotions", s.corsMiddleware(s.promotionsHandler))
	mux.HandleFunc("/ws/scan", s.rateLimitMiddleware(s.scanWebSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) requestTimeout() time.Duration {
	return time.Duration(s.timeoutSec) * time.Second
}
