// Package server exposes the engine's thin HTTP surface: a health check
// and the signal approve/reject endpoints a human reviewer needs. Every
// other operation (thesis authoring, risk tuning, backtesting) is a CLI
// or direct-engine concern, out of scope for this API per SPEC_FULL.md.
// Grounded on the teacher's chi-based Server, trimmed to this surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/approval"
	"github.com/moneymoves/engine/internal/orchestrator"
	"github.com/moneymoves/engine/internal/signal"
	"github.com/moneymoves/engine/internal/store"
	"github.com/moneymoves/engine/internal/whatif"
)

// Config holds server configuration.
type Config struct {
	Port         int
	Log          zerolog.Logger
	Store        *store.Store
	Signal       *signal.Engine
	Approval     *approval.Workflow
	Orchestrator *orchestrator.Engine
	WhatIf       *whatif.Engine
	DevMode      bool
}

// Server is the engine's HTTP front door.
type Server struct {
	router       *chi.Mux
	server       *http.Server
	log          zerolog.Logger
	store        *store.Store
	signal       *signal.Engine
	approval     *approval.Workflow
	orchestrator *orchestrator.Engine
	whatif       *whatif.Engine
}

func New(cfg Config) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		log:          cfg.Log.With().Str("component", "server").Logger(),
		store:        cfg.Store,
		signal:       cfg.Signal,
		approval:     cfg.Approval,
		orchestrator: cfg.Orchestrator,
		whatif:       cfg.WhatIf,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/signals", func(r chi.Router) {
		r.Get("/pending", s.handleListPending)
		r.Post("/{id}/approve", s.handleApprove)
		r.Post("/{id}/reject", s.handleReject)
		r.Post("/{id}/modify", s.handleModify)
	})
}

func (s *Server) Start() error {
	s.log.Info().Int("addr_port", 0).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
