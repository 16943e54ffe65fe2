// Package server exposes the insider-trading sentinel's HTTP API: ingest
// triggers, anomaly and profile lookups, composite signals, and alerts.
//
// Collaborators are threaded explicitly through Config rather than held
// as package-level globals.
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

	"github.com/aristath/form4sentinel/internal/alertsvc"
	"github.com/aristath/form4sentinel/internal/anomaly"
	"github.com/aristath/form4sentinel/internal/composite"
	"github.com/aristath/form4sentinel/internal/filingsource"
	"github.com/aristath/form4sentinel/internal/store"
)

// Config wires every collaborator the HTTP surface needs. Any of them may
// be nil, in which case the routes that need them answer 503; a nil
// Composite is the exception, and GET /signal then returns the signal
// without composite enrichment.
type Config struct {
	Port int
	Log  zerolog.Logger

	Store     store.TransactionStore
	Source    filingsource.Source
	Anomaly   *anomaly.Engine
	Composite *composite.Engine
	Alerts    *alertsvc.Service

	DefaultDaysBack int // used by POST /ingest when days_back is omitted
	DevMode         bool
}

// Server is the HTTP front door.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

// New builds a Server with routes and middleware installed.
func New(cfg Config) *Server {
	if cfg.DefaultDaysBack <= 0 {
		cfg.DefaultDaysBack = 90
	}

	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	s.setupMiddleware()
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

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
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
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Route("/insider", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Get("/anomalies", s.handleListAnomalies)
		r.Get("/anomalies/{ticker}", s.handleTickerAnomalies)
		r.Get("/profile/{ticker}/{insiderName}", s.handleProfile)
		r.Get("/signal/{ticker}", s.handleSignal)
		r.Get("/alerts", s.handleAlerts)
	})
}

// Start begins serving and blocks until the listener fails.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting http server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
