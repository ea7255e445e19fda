// Package server exposes the run queue over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/caevv/skillq/internal/launch"
	"github.com/caevv/skillq/internal/run"
	"github.com/caevv/skillq/internal/scheduler"
)

// Queue is the part of the run queue the API drives.
type Queue interface {
	Cancel(id string)
	SetConcurrency(n int)
	Get(id string) (*run.Run, bool)
	Snapshot() *run.Snapshot
}

// Launcher starts runs from API requests.
type Launcher interface {
	Launch(req launch.Request) (string, error)
}

// Schedules reports recurring run activity.
type Schedules interface {
	AllStats() []scheduler.Stats
}

// Server represents the HTTP API and dashboard.
type Server struct {
	addr      string
	queue     Queue
	launcher  Launcher
	schedules Schedules
	notifier  *Notifier
	logger    *slog.Logger

	srv       *http.Server
	router    chi.Router
	startTime time.Time
	heartbeat time.Duration

	mu      sync.RWMutex
	started bool
}

// Option configures a Server.
type Option func(*Server)

// WithSchedules exposes recurring schedules on /api/schedules.
func WithSchedules(s Schedules) Option {
	return func(srv *Server) { srv.schedules = s }
}

// WithHeartbeat sets the keep-alive interval of event streams.
func WithHeartbeat(d time.Duration) Option {
	return func(srv *Server) {
		if d > 0 {
			srv.heartbeat = d
		}
	}
}

// New creates a new Server instance. notifier may be nil, in which case
// event streams only receive the initial snapshot.
func New(addr string, queue Queue, launcher Launcher, notifier *Notifier, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewNotifier()
	}

	s := &Server{
		addr:      addr,
		queue:     queue,
		launcher:  launcher,
		notifier:  notifier,
		logger:    logger,
		startTime: time.Now(),
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.routes()
	return s
}

// routes sets up all HTTP routes
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, s.loggingMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/events", s.handleEvents)
		r.Get("/schedules", s.handleSchedules)
		r.Put("/concurrency", s.handleSetConcurrency)

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleCreateRun)
			r.Get("/{id}", s.handleGetRun)
			r.Post("/{id}/cancel", s.handleCancelRun)
		})
	})

	r.Get("/", s.handleDashboard)
	return r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.started = true
	// Event streams are long-lived, so there is no WriteTimeout.
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	srv := s.srv
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server", "reason", ctx.Err())
		return s.Stop(context.Background())
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Wake event streams so they notice the shutdown.
	s.notifier.Close()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error during shutdown", "error", err)
		return fmt.Errorf("shutdown failed: %w", err)
	}

	s.started = false
	s.logger.Info("HTTP server stopped")
	return nil
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		status := wrapped.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// Uptime returns the server uptime as a string
func (s *Server) Uptime() string {
	duration := time.Since(s.startTime)
	hours := int(duration.Hours())
	minutes := int(duration.Minutes()) % 60
	seconds := int(duration.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
