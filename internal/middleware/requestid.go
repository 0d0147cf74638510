// Package middleware provides the HTTP middleware stack for the API.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/secscorehq/secscore/pkg/logger"
)

// RequestIDHeader is the response header carrying the request ID.
const RequestIDHeader = "X-Request-Id"

// ModelVersionHeader tags every response with the scoring model version.
const ModelVersionHeader = "SecScore-Model-Version"

// RequestID assigns a UUID to each request, echoes it in the response,
// and attaches it to the request context for log correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := logger.SetContextValue(r.Context(), logger.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ModelVersion stamps every response with the current model version.
func ModelVersion(version string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(ModelVersionHeader, version)
			next.ServeHTTP(w, r)
		})
	}
}
