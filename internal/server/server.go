// Package server exposes the SSH client core over HTTP: remote command
// execution, SFTP file operations, queued transfers, and a WebSocket
// terminal bridge.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/server/handlers"
	"github.com/skiffhq/skiff/internal/server/middleware"
	"github.com/skiffhq/skiff/internal/worker"
)

type Server struct {
	cfg        *config.Config
	router     chi.Router
	httpServer *http.Server
	worker     *worker.Worker
}

func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		worker: worker.New(cfg.RedisAddr),
	}
	s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health checks
	r.Get("/health", handlers.Health)
	r.Get("/ready", handlers.Ready)

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(s.cfg))
		// Remote ops dial per request; a slow handshake plus a transfer
		// must fit in the window.
		r.Use(chimiddleware.Timeout(120 * time.Second))

		r.Post("/exec", handlers.Exec(s.cfg))

		r.Route("/files", func(r chi.Router) {
			r.Post("/list", handlers.ListFiles(s.cfg))
			r.Post("/stat", handlers.StatFile(s.cfg))
			r.Post("/download", handlers.DownloadFile(s.cfg))
			r.Post("/upload", handlers.UploadFile(s.cfg))
			r.Post("/rename", handlers.RenameFile(s.cfg))
			r.Post("/mkdir", handlers.MkdirFile(s.cfg))
			r.Post("/delete", handlers.DeleteFile(s.cfg))
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", handlers.EnqueueTransfer(s.worker.Client()))
			r.Get("/{id}", handlers.GetTaskStatus(s.worker.Inspector()))
		})
	})

	// Terminal WebSocket. Long-lived, so it sits outside the timeout
	// middleware; the token check still applies.
	r.With(middleware.Auth(s.cfg)).Get("/terminal", handlers.Terminal(s.cfg))

	s.router = r
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	log.Info().Msg("Starting transfer worker")
	s.worker.Start()

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	log.Info().Msg("Shutting down transfer worker")
	s.worker.Shutdown()

	return nil
}
