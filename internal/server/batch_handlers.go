package server

import (
	"context"
	"net/http"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/pipeline"
)

// BatchScanResponse represents the response for a batch scan.
type BatchScanResponse struct {
	Success bool                `json:"success"`
	Results []BatchScanItem     `json:"results"`
	Summary BatchProcessSummary `json:"summary"`
}

// BatchScanItem is one image of a batch, in upload order.
type BatchScanItem struct {
	Index     int                  `json:"index"`
	Filename  string               `json:"filename"`
	Success   bool                 `json:"success"`
	Result    *pipeline.ScanResult `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
	ErrorType string               `json:"error_type,omitempty"`
}

// BatchProcessSummary provides summary statistics for a batch.
type BatchProcessSummary struct {
	TotalItems    int     `json:"total_items"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	TotalWines    int     `json:"total_wines"`
	TotalDuration float64 `json:"total_duration_seconds"`
	AvgItemTime   float64 `json:"avg_item_time_seconds"`
}

// batchScanHandler scans every "images" file of a multipart upload.
func (s *Server) batchScanHandler(w http.ResponseWriter, r *http.Request) {
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

	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		s.writeErrorResponse(w, "No images provided in batch request", errTypeInvalidRequest, http.StatusBadRequest)
		return
	}
	if len(headers) > s.maxBatchImages {
		s.writeErrorResponse(w, "Batch size too large", errTypeInvalidRequest, http.StatusBadRequest)
		return
	}

	images := make([][]byte, len(headers))
	for i, h := range headers {
		f, err := h.Open()
		if err != nil {
			s.writeErrorResponse(w, "Failed to open "+h.Filename, errTypeInvalidRequest, http.StatusBadRequest)
			return
		}
		data, err := readUpload(f, h, maxBytes)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), errTypeInvalidRequest, http.StatusRequestEntityTooLarge)
			return
		}
		images[i] = data
	}

	opts, err := s.parseScanOptions(r)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), errTypeInvalidRequest, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()

	items := make([]BatchScanItem, len(headers))
	for i, h := range headers {
		items[i] = BatchScanItem{Index: i, Filename: h.Filename}
	}

	start := time.Now()
	results, batchErr := s.scanner.RecognizeBatch(ctx, images, opts, pipeline.BatchConfig{
		MaxWorkers: s.batchWorkers,
		ErrorHandler: func(i int, err error) {
			_, errType := scanErrorStatus(err)
			items[i].Error = err.Error()
			items[i].ErrorType = errType
		},
	})
	total := time.Since(start)
	scanRequestDuration.WithLabelValues("batch").Observe(total.Seconds())

	summary := BatchProcessSummary{TotalItems: len(items), TotalDuration: total.Seconds()}
	for i := range items {
		if i < len(results) && results[i] != nil {
			items[i].Success = true
			items[i].Result = results[i]
			summary.Successful++
			summary.TotalWines += results[i].WineCount()
			continue
		}
		if items[i].Error == "" && batchErr != nil {
			// Cancelled before this image finished.
			_, errType := scanErrorStatus(batchErr)
			items[i].Error = batchErr.Error()
			items[i].ErrorType = errType
		}
		summary.Failed++
	}
	summary.AvgItemTime = summary.TotalDuration / float64(summary.TotalItems)

	status := "success"
	if summary.Failed > 0 {
		status = "partial"
	}
	scanRequestsTotal.WithLabelValues("batch", status).Inc()

	writeJSON(w, http.StatusOK, BatchScanResponse{
		Success: summary.Failed == 0,
		Results: items,
		Summary: summary,
	})
}
