package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clearsignal/kite/internal/alerts"
	"github.com/clearsignal/kite/internal/domain"
	"github.com/clearsignal/kite/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, processor *alerts.Processor, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, processor, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(Recover)                // Recover from panics
	router.Use(Instrument)             // Span, request/trace IDs, access log
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(RequireTenant)

		// Transaction ingestion and retrieval
		r.Post("/transactions", handler.IngestTransaction)
		r.Get("/transactions/{id}", handler.GetTransaction)

		// Signal battery evaluation
		r.Post("/evaluate", handler.Evaluate)
		r.Get("/evaluations/{id}", handler.GetEvaluation)

		// Per-rule cutoff management
		r.Get("/cutoffs/{userId}", handler.GetCutoffs)
		r.Put("/cutoffs/{userId}", handler.PutCutoffs)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
