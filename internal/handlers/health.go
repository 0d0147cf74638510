package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/secscorehq/secscore/internal/cache"
	"github.com/secscorehq/secscore/internal/scoring"
)

// healthResponse is the /api/health payload.
type healthResponse struct {
	Status        string       `json:"status"`
	UptimeSeconds float64      `json:"uptimeSeconds"`
	Goroutines    int          `json:"goroutines"`
	Memory        memoryStats  `json:"memory"`
	KEV           kevStatus    `json:"kev"`
	Cache         *cache.Stats `json:"cache"`
	ModelVersion  string       `json:"modelVersion"`
	Version       string       `json:"version"`
}

type memoryStats struct {
	HeapAllocBytes uint64 `json:"heapAllocBytes"`
	SysBytes       uint64 `json:"sysBytes"`
}

type kevStatus struct {
	Count     int        `json:"count"`
	UpdatedAt *time.Time `json:"updatedAt"`
	Stale     bool       `json:"stale"`
}

// Health reports process health, KEV freshness, and cache statistics.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	updatedAt := h.svc.KEVUpdatedAt()
	kev := kevStatus{Count: h.svc.KEVCount()}
	if !updatedAt.IsZero() {
		t := updatedAt.UTC()
		kev.UpdatedAt = &t
		// Stale when the dataset missed two refresh cycles.
		kev.Stale = time.Since(updatedAt) > 2*h.refreshInterval
	} else {
		kev.Stale = true
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		Memory: memoryStats{
			HeapAllocBytes: mem.HeapAlloc,
			SysBytes:       mem.Sys,
		},
		KEV:          kev,
		Cache:        h.svc.CacheStats(),
		ModelVersion: scoring.ModelVersion,
		Version:      h.version,
	})
}

// Healthz is the liveness probe.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz is the readiness probe.
// GET /readyz
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Version reports the build version and model version.
// GET /version
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":      h.version,
		"modelVersion": scoring.ModelVersion,
	})
}
