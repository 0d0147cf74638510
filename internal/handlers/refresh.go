package handlers

import (
	"crypto/subtle"
	"net/http"
)

// CronSecretHeader authenticates the internal refresh trigger.
const CronSecretHeader = "x-cron-secret"

// RefreshKEV triggers a manual KEV catalog refresh.
// GET|POST /api/internal/refresh-kev
func (h *Handler) RefreshKEV(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(CronSecretHeader)
	if h.cronSecret == "" ||
		subtle.ConstantTimeCompare([]byte(secret), []byte(h.cronSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized",
			"missing or invalid "+CronSecretHeader+" header")
		return
	}

	result, err := h.svc.RefreshKEV(r.Context())
	if err != nil {
		h.log.WithContext(r.Context()).Error("manual KEV refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, "refresh_failed",
			"KEV feed could not be refreshed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
