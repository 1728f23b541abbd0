package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/common"
	"github.com/MeKo-Tech/vinoscan/internal/llmcache"
	"github.com/MeKo-Tech/vinoscan/internal/pipeline"
	"github.com/MeKo-Tech/vinoscan/internal/version"
	"github.com/MeKo-Tech/vinoscan/internal/vision"
)

// Error types reported in scan responses.
const (
	errTypeInvalidRequest    = "invalid_request"
	errTypeUnprocessable     = "unprocessable_input"
	errTypeVisionUnavailable = "vision_unavailable"
	errTypeVisionQuota       = "vision_quota"
	errTypeTimeout           = "timeout"
	errTypeInternal          = "internal_error"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Info(),
		Time:    time.Now().UTC().Format(time.RFC3339),
		Runtime: common.ReadRuntimeStats(),
	})
}

// scanHandler runs one scan over an uploaded shelf photo.
func (s *Server) scanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	maxBytes := s.maxUploadMB * 1024 * 1024
	if r.ContentLength > maxBytes {
		s.writeErrorResponse(w, "File too large", errTypeInvalidRequest, http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.writeFormError(w, err)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", errTypeInvalidRequest, http.StatusBadRequest)
		return
	}
	imageData, err := readUpload(file, header, maxBytes)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), errTypeInvalidRequest, http.StatusRequestEntityTooLarge)
		return
	}

	opts, err := s.parseScanOptions(r)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), errTypeInvalidRequest, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()

	start := time.Now()
	res, err := s.scanner.Recognize(ctx, imageData, opts)
	scanRequestDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
	if err != nil {
		scanRequestsTotal.WithLabelValues("http", "error").Inc()
		status, errType := scanErrorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Warn("Scan failed", "filename", header.Filename, "error", err)
		}
		if errType == errTypeVisionQuota {
			w.Header().Set("Retry-After", "30")
		}
		s.writeErrorResponse(w, err.Error(), errType, status)
		return
	}

	scanRequestsTotal.WithLabelValues("http", scanStatus(res)).Inc()
	writeJSON(w, http.StatusOK, ScanResponse{Success: true, Result: res})
}

// cacheStatsHandler reports both caches.
func (s *Server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var resp CacheStatsResponse
	if vc := s.scanner.VisionCache(); vc != nil {
		st := vc.Stats()
		resp.Vision = &st
	}
	if lc := s.scanner.LLMCache(); lc != nil {
		st := lc.Stats()
		resp.LLM = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// promotionsHandler lists LLM cache entries worth adding to the catalog.
// The optional min_hits query overrides the configured threshold.
func (s *Server) promotionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	lc := s.scanner.LLMCache()
	if lc == nil {
		writeJSON(w, http.StatusOK, PromotionsResponse{Candidates: []llmcache.Entry{}})
		return
	}

	threshold := lc.PromotionThreshold()
	if v := r.URL.Query().Get("min_hits"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			s.writeErrorResponse(w, "min_hits must be a positive integer", errTypeInvalidRequest, http.StatusBadRequest)
			return
		}
		threshold = n
	}

	candidates := lc.PromotionCandidates(threshold)
	if candidates == nil {
		candidates = []llmcache.Entry{}
	}
	writeJSON(w, http.StatusOK, PromotionsResponse{
		Threshold:  threshold,
		Count:      len(candidates),
		Candidates: candidates,
	})
}

// parseScanOptions reads mode, debug and deadline from the form or query.
func (s *Server) parseScanOptions(r *http.Request) (pipeline.Options, error) {
	opts := s.scanner.DefaultOptions()
	if m := r.FormValue("mode"); m != "" {
		mode, err := pipeline.ParseMode(m)
		if err != nil {
			return pipeline.Options{}, err
		}
		opts = pipeline.OptionsFor(mode)
	}
	if d := r.FormValue("debug"); d != "" {
		debug, err := strconv.ParseBool(d)
		if err != nil {
			return pipeline.Options{}, fmt.Errorf("invalid debug flag %q", d)
		}
		opts.Debug = debug
	}
	if d := r.FormValue("deadline"); d != "" {
		deadline, err := time.ParseDuration(d)
		if err != nil || deadline <= 0 {
			return pipeline.Options{}, fmt.Errorf("invalid deadline %q", d)
		}
		opts.Deadline = deadline
	}
	return opts, nil
}

// scanErrorStatus maps a Recognize error to an HTTP status and error type.
func scanErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, vision.ErrUnprocessableInput):
		return http.StatusBadRequest, errTypeUnprocessable
	case errors.Is(err, pipeline.ErrVisionUnavailable) && vision.IsQuota(err):
		return http.StatusServiceUnavailable, errTypeVisionQuota
	case errors.Is(err, pipeline.ErrVisionUnavailable):
		return http.StatusServiceUnavailable, errTypeVisionUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errTypeTimeout
	default:
		return http.StatusInternalServerError, errTypeInternal
	}
}

func scanStatus(res *pipeline.ScanResult) string {
	if res.Degraded {
		return "degraded"
	}
	return "success"
}

// readUpload reads one multipart file, enforcing the size limit.
func readUpload(file multipart.File, header *multipart.FileHeader, maxBytes int64) ([]byte, error) {
	defer func() { _ = file.Close() }()

	if header.Size > maxBytes {
		return nil, fmt.Errorf("file %q too large", header.Filename)
	}
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", header.Filename, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("file %q too large", header.Filename)
	}
	uploadSizeBytes.Observe(float64(len(data)))
	return data, nil
}

// writeFormError reports a multipart parse failure.
func (s *Server) writeFormError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeErrorResponse(w, "File too large", errTypeInvalidRequest, http.StatusRequestEntityTooLarge)
		return
	}
	s.writeErrorResponse(w, "Failed to parse form data", errTypeInvalidRequest, http.StatusBadRequest)
}

// writeErrorResponse writes an error response in JSON format.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message, errType string, statusCode int) {
	writeJSON(w, statusCode, ScanResponse{
		Success:   false,
		Error:     message,
		ErrorType: errType,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
