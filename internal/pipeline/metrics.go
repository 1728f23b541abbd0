package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinoscan_scans_total",
			Help: "Total number of scans by mode and status",
		},
		[]string{"mode", "status"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vinoscan_stage_duration_seconds",
			Help:    "Time spent in each scan stage",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"stage"},
	)

	visionCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinoscan_vision_cache_requests_total",
			Help: "Vision cache lookups by result (hit, miss, bypass)",
		},
		[]string{"result"},
	)

	llmCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinoscan_llm_cache_requests_total",
			Help: "LLM rating cache lookups by result (hit, miss, bypass)",
		},
		[]string{"result"},
	)

	llmCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinoscan_llm_calls_total",
			Help: "Language model calls by outcome",
		},
		[]string{"outcome"},
	)

	scanWines = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vinoscan_scan_wines",
			Help:    "Wines reported per scan by list",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"list"},
	)

	syncWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinoscan_sync_writes_total",
			Help: "Catalog writes made by post-scan sync",
		},
		[]string{"kind"},
	)
)
