package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/secscorehq/secscore/pkg/logger"
)

// Recoverer returns a middleware that recovers from panics and returns
// a sanitized 500 body.
func Recoverer(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					log.Error("panic recovered",
						"error", rvr,
						"stack", string(debug.Stack()),
						"method", r.Method,
						"path", r.URL.Path,
						"request_id", logger.GetRequestID(r.Context()),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"internal_error","message":"an unexpected error occurred"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
