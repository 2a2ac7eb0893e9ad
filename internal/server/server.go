// Package server exposes the local HTTP API the CLI, in-job reporting,
// and listing UIs talk to. It is a thin layer over the command
// interface; no job state lives here.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/minderhq/minder/internal/command"
)

// Sentinel errors for server lifecycle.
var (
	ErrAlreadyStarted = errors.New("server: already started")
	ErrNotStarted     = errors.New("server: not started")
)

// Config holds server construction parameters.
type Config struct {
	// Bind is the listen address. Default 127.0.0.1:7639.
	Bind string

	// BearerToken protects the API when non-empty. Health and metrics
	// stay public.
	BearerToken string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	API     *command.API
	Metrics *Metrics
	Logger  *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:7639"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Server is the local HTTP API.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

// New creates a server.
func New(cfg Config) (*Server, error) {
	if cfg.API == nil {
		return nil, errors.New("server: nil command API")
	}
	cfg = cfg.withDefaults()
	return &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "server"),
	}, nil
}

// Start begins listening. Returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return ErrAlreadyStarted
	}

	srv := &http.Server{
		Addr:         s.cfg.Bind,
		Handler:      s.buildRouter(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Bind)
	if err != nil {
		return errors.New("server: listen failed: " + err.Error())
	}

	// The goroutine must not read s.server: Stop nils the field and a
	// racing read would dereference nil.
	s.server = srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("api listening", "bind", s.cfg.Bind)
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return ErrNotStarted
	}
	return srv.Shutdown(ctx)
}

// buildRouter constructs the chi mux with all routes wired.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public.
	r.Get("/health", s.handleHealth())
	if s.cfg.Metrics != nil {
		r.Handle("/metrics", s.cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if s.cfg.BearerToken != "" {
			r.Use(authMiddleware(s.cfg.BearerToken))
		}
		r.Get("/status", s.handleStatus())
		r.Post("/api/stop", s.handleStop())
		r.Route("/api/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmit())
			r.Get("/", s.handleList())
			r.Get("/{identifier}", s.handleGet())
			r.Delete("/{identifier}", s.handleCancel())
			r.Get("/{identifier}/logs", s.handleLogs())
			r.Get("/{identifier}/notifications", s.handleNotifications())
			r.Get("/{identifier}/report", s.handleReport())
			r.Post("/{identifier}/scalars", s.handleReportScalar())
			r.Post("/{identifier}/conditions", s.handleAddCondition())
		})
	})

	return r
}
