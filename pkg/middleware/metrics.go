package middleware

import (
	"net/http"
	"time"

	"github.com/trialmatch/protocol-engine/pkg/metrics"
)

// RequestMetrics records request counts and latency per ServeMux route.
// It must wrap the mux directly so the matched pattern is visible.
func RequestMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			m.ObserveHTTPRequest(r.Method, routeLabel(r), wrapped.statusCode, time.Since(start))
		})
	}
}
