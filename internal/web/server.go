// Package web provides the HTTP API for board spreadsheet import and export.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/boardsheet/internal/config"
	"github.com/JonMunkholm/boardsheet/internal/core"
	"github.com/JonMunkholm/boardsheet/internal/events"
	mw "github.com/JonMunkholm/boardsheet/internal/web/middleware"
)

// HealthCheck is a named dependency check reported by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server is the HTTP server.
type Server struct {
	service  *core.Service
	hub      *events.Hub
	cfg      *config.Config
	checks   []HealthCheck
	router   *chi.Mux
	server   *http.Server
	upgrader websocket.Upgrader
	limiters []*rateLimiter
}

// NewServer creates a Server. hub is the subscription side of the
// publisher the service was built with.
func NewServer(service *core.Service, hub *events.Hub, cfg *config.Config, checks ...HealthCheck) *Server {
	s := &Server{
		service: service,
		hub:     hub,
		cfg:     cfg,
		checks:  checks,
		router:  chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		if s.cfg.Rate.Enabled {
			r.Use(s.newRateLimiter("default", s.cfg.Rate.RequestsPerMinute).middleware)
		}
		r.Use(mw.APIKeyAuth(&s.cfg.Security))
		r.Use(mw.Actor)

		r.Get("/imports/{jobID}", s.handleGetJob)
		r.With(middleware.Compress(5)).Get("/boards/{boardID}/imports", s.handleListJobs)
		r.Get("/boards/{boardID}/imports/{jobID}/events", s.handleImportEvents)
		r.Get("/boards/{boardID}/imports/{jobID}/ws", s.handleImportSocket)

		// Uploads and exports are heavy; they get a tighter per-IP budget.
		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled {
				r.Use(s.newRateLimiter("upload", s.cfg.Rate.UploadLimit).middleware)
			}
			r.Post("/boards/{boardID}/imports", s.handleStartImport)
			r.Get("/boards/{boardID}/export", s.handleExport)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps SSE and WebSocket streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server and its background goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}
