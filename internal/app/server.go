package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/analysedoc/analysedoc/internal/api/handlers"
	"github.com/analysedoc/analysedoc/internal/config"
	"github.com/analysedoc/analysedoc/internal/core/session"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, manager *session.Manager, logger *zap.Logger) *Server {
	sessionHandler := handlers.NewSessionHandler(manager, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(cfg.AllowedOrigins, ","),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(api chi.Router) {
		api.Group(func(timed chi.Router) {
			timed.Use(middleware.Timeout(60 * time.Second))
			timed.Post("/sessions", sessionHandler.CreateSession)
			timed.Post("/sessions/{id}/cancel", sessionHandler.Cancel)
			timed.Get("/sessions/{id}/summary", sessionHandler.Summary)
			timed.Get("/sessions/{id}/history", sessionHandler.History)
			timed.Delete("/sessions/{id}", sessionHandler.Delete)
		})

		// The ask stream stays open as long as the model generates, so
		// it lives outside the timeout group.
		api.Post("/sessions/{id}/ask", sessionHandler.Ask)
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
