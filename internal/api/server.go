package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/refundguard/internal/assess"
	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/validation"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, svc *assess.Service, validator *validation.Validator, engineCfg domain.EngineConfig, workerCfg domain.WorkerConfig, version string) *Server {
	handler := NewHandler(repo, cache, bus, svc, validator, engineCfg, workerCfg, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Merchant routes
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/assess", handler.Assess)
		r.Post("/assess/async", handler.AssessAsync)

		r.Get("/assessments", handler.ListAssessments)
		r.Delete("/assessments", handler.ClearAssessments)
		r.Get("/assessments/{id}", handler.GetAssessment)
		r.Get("/assessments/{id}/email", handler.AssessmentEmail)

		r.Get("/policy", handler.GetPolicy)
		r.Put("/policy", handler.PutPolicy)
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
