package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/secscorehq/secscore/internal/upstream"
)

// GetCVE serves the normalized NVD metadata for a CVE.
// GET /api/v1/cve/{cveId}
func (h *Handler) GetCVE(w http.ResponseWriter, r *http.Request) {
	cveID, ok := validateCVEID(chi.URLParam(r, "cveId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_cve_id",
			"identifier must match CVE-YYYY-NNNN")
		return
	}

	payload, hit, err := h.svc.Metadata(r.Context(), cveID)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cve_not_found",
				"NVD has no record for "+cveID)
			return
		}
		h.log.WithContext(r.Context()).Error("metadata lookup failed",
			"cve_id", cveID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error",
			"an unexpected error occurred")
		return
	}

	setCacheHeaders(w, hit)
	writeRaw(w, http.StatusOK, payload)
}

// setCacheHeaders emits the X-Cache marker and cache policy.
func setCacheHeaders(w http.ResponseWriter, hit bool) {
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("Cache-Control", CacheControlValue)
}
