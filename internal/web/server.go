// Package web provides the HTTP API for feed ingestion and deduplication.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/feedpipe/internal/admin"
	"github.com/JonMunkholm/feedpipe/internal/config"
	"github.com/JonMunkholm/feedpipe/internal/core"
	"github.com/JonMunkholm/feedpipe/internal/feedsource"
	"github.com/JonMunkholm/feedpipe/internal/metrics"
	appmw "github.com/JonMunkholm/feedpipe/internal/web/middleware"
)

// Server is the HTTP server of the pipeline.
type Server struct {
	service  *core.Service
	opener   *feedsource.Opener
	resetter *admin.Resetter
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a Server. opener resolves feed URLs posted to the
// ingest endpoint.
func NewServer(service *core.Service, opener *feedsource.Opener, cfg *config.Config) *Server {
	s := &Server{
		service:  service,
		opener:   opener,
		resetter: admin.NewResetter(service.Store()),
		cfg:      cfg,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(appmw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(appmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(appmw.Metrics)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(appmw.APIKeyAuth(&s.cfg.Security))
		if s.cfg.Rate.Enabled {
			r.Use(appmw.NewRateLimiter(s.cfg.Rate.RequestsPerMinute).Handler)
		}

		// Ingest and dedup hold a run slot or a workspace lock and may
		// block for the whole run, so they get their own budget and no
		// request timeout.
		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled {
				r.Use(appmw.NewRateLimiter(s.cfg.Rate.IngestLimit).Handler)
			}
			r.Post("/workspaces/{ws}/suppliers/{sup}/ingest", s.handleIngest)
			r.Post("/workspaces/{ws}/dedup", s.handleDedup)
		})

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
			}

			// Runs
			r.Get("/runs/{runID}", s.handleGetRun)
			r.Get("/runs/{runID}/errors", s.handleRunErrors)
			r.Post("/runs/{runID}/cancel", s.handleCancelRun)

			// Workspace definitions
			r.Get("/workspaces/{ws}/fields", s.handleListFields)
			r.Put("/workspaces/{ws}/fields/{key}", s.handlePutField)
			r.Get("/workspaces/{ws}/suppliers/{sup}/mappings", s.handleListMappings)
			r.Put("/workspaces/{ws}/suppliers/{sup}/mappings", s.handlePutMappings)
			r.Get("/workspaces/{ws}/dedup-rules", s.handleListDedupRules)
			r.Put("/workspaces/{ws}/dedup-rules/{id}", s.handlePutDedupRule)

			// Products
			r.Get("/workspaces/{ws}/final-products", s.handleFinalProducts)
			r.Delete("/workspaces/{ws}/suppliers/{sup}/products/{uid}", s.handleDeactivateProduct)

			// Admin
			r.Post("/admin/workspaces/{ws}/uid-counter/reset", s.handleResetUIDCounter)
		})
	})
}

// Start begins listening for HTTP requests on the configured address.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// handleHealth reports whether the store is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		slog.Warn("health check failed", "error", err)
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, map[string]any{
		"status":      "ok",
		"active_runs": s.service.ActiveRunCount(),
		"run_slots":   s.service.LimiterStatus(),
	})
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

// writeJSON encodes v as JSON with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v as JSON and writes it with status.
// Encoding errors are only logged since headers are already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
