package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vsanmetrics/vsan-exporter/internal/collector"
	"github.com/vsanmetrics/vsan-exporter/internal/exposition"
)

// vSAN metrics handlers

func (s *Server) handleAllHosts(w http.ResponseWriter, r *http.Request) {
	s.serveStats(w, r, func(ctx context.Context) (collector.Result, error) {
		return s.collector.StatsForAllHosts(ctx)
	})
}

func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	s.serveStats(w, r, func(ctx context.Context) (collector.Result, error) {
		return s.collector.StatsForHost(ctx, host)
	})
}

func (s *Server) handleServiceDiscovery(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Requesting service discovery", zap.String("path", r.URL.Path))

	targets := []collector.Target{}
	if !s.authorized(r) {
		s.logger.Warn("Not authorized for service discovery")
		writeJSON(w, http.StatusOK, targets)
		return
	}

	result, err := s.collector.ServiceDiscovery(r.Context(), r.Host)
	if err != nil {
		s.logger.Error("Service discovery failed", zap.Error(err))
	} else {
		targets = result
	}
	writeJSON(w, http.StatusOK, targets)
}

func (s *Server) serveStats(w http.ResponseWriter, r *http.Request, fetch func(context.Context) (collector.Result, error)) {
	s.logger.Info("Requesting metrics", zap.String("path", r.URL.Path))

	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, message("Not authorized"))
		return
	}

	format, err := exposition.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, message(err.Error()))
		return
	}
	query := exposition.DecodeWavefrontQuery(r.URL.Query().Get("query"))

	// a client disconnect must not abort the fan-out half way through
	result, err := fetch(context.WithoutCancel(r.Context()))
	if errors.Is(err, collector.ErrLookupThrottled) {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, message("Too many host lookups"))
		return
	}
	if err != nil {
		if !errors.Is(err, collector.ErrNotConnected) && !errors.Is(err, collector.ErrHostNotFound) {
			s.logger.Error("Failed to collect metrics", zap.Error(err))
		}
		writeJSON(w, http.StatusNotFound, message("Metrics not found"))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	s.stream(w, result, exposition.NewRenderer(format, query, s.now))
}

// stream renders host by host, flushing after each so large clusters
// start producing output before the last host is rendered.
func (s *Server) stream(w http.ResponseWriter, result collector.Result, renderer exposition.Renderer) {
	flusher, _ := w.(http.Flusher)
	for _, host := range result {
		if err := renderer.Render(w, host.Stats); err != nil {
			s.logger.Warn("Failed to write metrics", zap.String("host", host.HostID), zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) authorized(r *http.Request) bool {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	return ok && s.collector.IsAuthorized(token)
}

// bearerToken extracts the credentials of an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
