// Package handlers implements the HTTP handlers for the SecScore API.
package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/secscorehq/secscore/internal/enrich"
	"github.com/secscorehq/secscore/pkg/logger"
	"github.com/secscorehq/secscore/pkg/models"
)

// CacheControlValue is emitted on cacheable API responses.
const CacheControlValue = "public, max-age=3600, stale-while-revalidate=86400"

// cveIDPattern validates uppercased CVE identifiers.
var cveIDPattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// Handler carries the handler dependencies.
type Handler struct {
	log             *logger.Logger
	svc             *enrich.Service
	cronSecret      string
	version         string
	refreshInterval time.Duration
	startTime       time.Time
}

// New creates the handler set.
func New(log *logger.Logger, svc *enrich.Service, cronSecret, version string, refreshInterval time.Duration) *Handler {
	return &Handler{
		log:             log.WithComponent("handlers"),
		svc:             svc,
		cronSecret:      cronSecret,
		version:         version,
		refreshInterval: refreshInterval,
		startTime:       time.Now(),
	}
}

// validateCVEID uppercases and validates a CVE identifier.
func validateCVEID(raw string) (string, bool) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	return id, cveIDPattern.MatchString(id)
}

// RequireValidCVE rejects requests whose cveId parameter is malformed
// before any downstream gate (such as the CAPTCHA check) runs.
func RequireValidCVE(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := validateCVEID(chi.URLParam(r, "cveId")); !ok {
			writeError(w, http.StatusBadRequest, "invalid_cve_id",
				"identifier must match CVE-YYYY-NNNN")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRaw writes a pre-marshaled JSON payload.
func writeRaw(w http.ResponseWriter, status int, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}

// writeError writes the sanitized error body.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: code, Message: message})
}
