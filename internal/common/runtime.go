package common

import (
	"runtime"
	"time"
)

// RuntimeStats is a snapshot of process health figures.
type RuntimeStats struct {
	Goroutines int     `json:"goroutines"`
	HeapAlloc  uint64  `json:"heap_alloc_bytes"`
	HeapInuse  uint64  `json:"heap_inuse_bytes"`
	Sys        uint64  `json:"sys_bytes"`
	NumGC      uint32  `json:"num_gc"`
	GCPauseMS  float64 `json:"last_gc_pause_ms"`
	Uptime     string  `json:"uptime"`
}

var processStart = time.Now()

// ReadRuntimeStats samples the Go runtime.
func ReadRuntimeStats() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	var pause float64
	if m.NumGC > 0 {
		pause = float64(m.PauseNs[(m.NumGC+255)%256]) / 1e6
	}
	return RuntimeStats{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  m.HeapAlloc,
		HeapInuse:  m.HeapInuse,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
		GCPauseMS:  pause,
		Uptime:     time.Since(processStart).Round(time.Second).String(),
	}
}
