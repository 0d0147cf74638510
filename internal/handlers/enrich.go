package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/secscorehq/secscore/internal/upstream"
)

// KEVUpdatedAtHeader reports the KEV dataset freshness on enrichment
// responses.
const KEVUpdatedAtHeader = "X-KEV-Updated-At"

// EnrichCVE serves the full SecScore response for a CVE.
// GET /api/v1/enrich/cve/{cveId}
func (h *Handler) EnrichCVE(w http.ResponseWriter, r *http.Request) {
	cveID, ok := validateCVEID(chi.URLParam(r, "cveId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_cve_id",
			"identifier must match CVE-YYYY-NNNN")
		return
	}

	payload, hit, err := h.svc.Enrich(r.Context(), cveID)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cve_not_found",
				"NVD has no record for "+cveID)
			return
		}
		h.log.WithContext(r.Context()).Error("enrichment failed",
			"cve_id", cveID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error",
			"an unexpected error occurred")
		return
	}

	if updatedAt := h.svc.KEVUpdatedAt(); !updatedAt.IsZero() {
		w.Header().Set(KEVUpdatedAtHeader, updatedAt.UTC().Format(time.RFC3339))
	}
	setCacheHeaders(w, hit)
	writeRaw(w, http.StatusOK, payload)
}
