package middleware

import (
	"net/http"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// RequestLog логирует запрос (method, маршрут, статус, время) и считает его в метриках.
// Медленные запросы пишутся на info, остальные только на debug.
func RequestLog(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}
			logger.LogDuration("http "+r.Method+" "+route, start)
			if rw.status >= http.StatusInternalServerError {
				logger.Warnf("http %s %s -> %d", r.Method, r.URL.Path, rw.status)
			}
			m.HTTPRequest(r.Method, rw.status)
		})
	}
}
