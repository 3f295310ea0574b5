// Package api serves the evaluation engine, batch runs and contract
// management over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opensource-finance/tern/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	requestTimeout := time.Duration(cfg.WriteTimeout) * time.Second
	if requestTimeout <= 0 {
		requestTimeout = time.Minute
	}

	router.Use(CORSMiddleware())
	router.Use(RecoverMiddleware(handler.Logger))
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(handler.Logger, handler.Metrics))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", handler.Metrics.Handler())

	router.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Post("/evaluate", handler.Evaluate)
		r.Post("/evaluate/remote", handler.EvaluateRemote)

		r.Post("/batches", handler.RunBatch)
		r.Post("/batches/async", handler.SubmitBatch)
		r.Get("/batches/{id}", handler.GetBatch)
		r.Get("/batches/{id}/records", handler.ListBatchRecords)

		r.Get("/contracts", handler.ListContracts)
		r.Post("/contracts", handler.CreateContract)
		r.Post("/contracts/reload", handler.ReloadContracts)
		r.Get("/contracts/report", handler.ContractsReport)
		r.Get("/contracts/{id}", handler.GetContract)
		r.Delete("/contracts/{id}", handler.DeleteContract)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(s.router, "tern-http"),
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
