package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vsanmetrics/vsan-exporter/internal/metrics"
)

// PrometheusMiddleware records HTTP request metrics for Prometheus
func PrometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		metrics.RecordHTTPRequest(r.Method, sanitizePath(r.URL.Path), ww.Status(), time.Since(start))
	})
}

// RequestIDResponseMiddleware adds the request ID to response headers
func RequestIDResponseMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request. The Authorization header is
// never logged.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

// sanitizePath normalizes URL paths for metrics to prevent cardinality explosion
func sanitizePath(path string) string {
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	switch path {
	case "/", "/healthz", "/readyz", "/version", "/metrics",
		"/vsan/metrics", "/vsan/metrics/serviceDiscovery":
		return path
	}

	// /vsan/metrics/{host} -> /vsan/metrics/:host
	if rest, ok := strings.CutPrefix(path, "/vsan/metrics/"); ok && !strings.Contains(rest, "/") {
		return "/vsan/metrics/:host"
	}

	return "other"
}
