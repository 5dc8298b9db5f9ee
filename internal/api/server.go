package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vsanmetrics/vsan-exporter/internal/collector"
	mw "github.com/vsanmetrics/vsan-exporter/internal/middleware"
	"github.com/vsanmetrics/vsan-exporter/internal/version"
)

// Collector is the read side of the host collector used by the handlers.
type Collector interface {
	Connected() bool
	IsAuthorized(token string) bool
	StatsForAllHosts(ctx context.Context) (collector.Result, error)
	StatsForHost(ctx context.Context, hostID string) (collector.Result, error)
	ServiceDiscovery(ctx context.Context, serverHost string) ([]collector.Target, error)
}

// Server represents the API server
type Server struct {
	logger    *zap.Logger
	router    chi.Router
	collector Collector
	now       func() time.Time
	timeout   time.Duration
}

// NewServer creates a new API server. A zero timeout disables the request
// timeout.
func NewServer(logger *zap.Logger, c Collector, timeout time.Duration) *Server {
	s := &Server{
		logger:    logger,
		router:    chi.NewRouter(),
		collector: c,
		now:       time.Now,
		timeout:   timeout,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.RequestIDResponseMiddleware)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.PrometheusMiddleware)
	if s.timeout > 0 {
		s.router.Use(middleware.Timeout(s.timeout))
	}
}

func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	// Version endpoint
	s.router.Get("/version", s.handleVersion)

	// Self metrics
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, message("Hello"))
	})

	s.router.Route("/vsan/metrics", func(r chi.Router) {
		r.Get("/", s.handleAllHosts)
		r.Get("/serviceDiscovery", s.handleServiceDiscovery)
		r.Get("/{host}", s.handleHost)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.collector.Connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not connected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func message(msg string) map[string]string {
	return map[string]string{"msg": msg}
}
