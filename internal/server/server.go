// Package server provides the serve-mode HTTP surface: health checks,
// last-run status, and the Prometheus metrics endpoint.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/registryops/harvester/internal/checkpoint"
	"github.com/registryops/harvester/internal/scanner"
	"github.com/registryops/harvester/internal/versions"
)

// Option configures the HTTP server
type Option func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// StatusResponse is the body served by GET /status
type StatusResponse struct {
	// Marker is the current persisted checkpoint, when one exists
	Marker *checkpoint.Marker `json:"marker,omitempty"`

	// LastRun is the most recent run report, when one exists
	LastRun *scanner.Report `json:"lastRun,omitempty"`
}

// ErrorResponse is a standardized error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer creates and configures the HTTP router
func NewServer(
	reports scanner.ReportStore,
	checkpoints checkpoint.Store,
	registry *prometheus.Registry,
	opts ...Option,
) *chi.Mux {
	cfg := &serverConfig{
		middlewares: []func(http.Handler) http.Handler{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler)
	r.Get("/version", versionHandler)
	r.Get("/status", statusHandler(reports, checkpoints))
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(versions.GetVersionInfo()); err != nil {
		slog.Error("Failed to encode version info", "error", err)
	}
}

func statusHandler(reports scanner.ReportStore, checkpoints checkpoint.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var status StatusResponse

		marker, ok, err := checkpoints.Load(r.Context())
		if err != nil {
			writeError(w, "Failed to load checkpoint", err)
			return
		}
		if ok {
			status.Marker = &marker
		}

		report, ok, err := reports.Load(r.Context())
		if err != nil {
			writeError(w, "Failed to load run report", err)
			return
		}
		if ok {
			status.LastRun = report
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			slog.Error("Failed to encode status response", "error", err)
		}
	}
}

func writeError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
