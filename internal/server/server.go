// Package server exposes ingested sessions and process metrics over HTTP.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/internal/server/handlers"
	"github.com/3leaps/gcodeml/internal/server/middleware"
)

// Server is the gcodeml HTTP API.
type Server struct {
	host string
	port int

	db             *sql.DB
	metrics        middleware.HTTPRecorder
	metricsHandler http.Handler
	logger         *zap.Logger
	version        string

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	router     chi.Router
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithTaskDB serves sessions from db. Without it the session routes reply 503.
func WithTaskDB(db *sql.DB) Option {
	return func(s *Server) { s.db = db }
}

// WithMetrics records request metrics into rec and mounts h at /metrics.
func WithMetrics(rec middleware.HTTPRecorder, h http.Handler) Option {
	return func(s *Server) {
		s.metrics = rec
		s.metricsHandler = h
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithTimeouts overrides the http.Server timeouts; zero keeps the default.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// New builds the router. Nothing listens until Start.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		logger:       zap.NewNop(),
		version:      "dev",
		readTimeout:  15 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Metrics(s.metrics))
	r.Use(middleware.Logging(s.logger))
	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	health := handlers.NewHealthManager(s.version)
	if s.db != nil {
		db := s.db
		health.RegisterChecker("taskdb", handlers.CheckerFunc(func(ctx context.Context) error {
			return db.PingContext(ctx)
		}))
	}
	r.Get("/health", health.HealthHandler)
	r.Get("/health/live", health.LivenessHandler)
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, "{\"version\":%q}\n", s.version)
	})

	sessions := handlers.NewSessions(s.db)
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Get("/", sessions.List)
		r.Get("/{name}", sessions.Get)
		r.Get("/{name}/clusters", sessions.Clusters)
	})

	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}
	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
