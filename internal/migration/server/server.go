package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"

	"github.com/linkflow-ai/dbmigrate/internal/migration/adapters/http/handlers"
	"github.com/linkflow-ai/dbmigrate/internal/migration/app/service"
	"github.com/linkflow-ai/dbmigrate/internal/platform/cache"
	"github.com/linkflow-ai/dbmigrate/internal/platform/config"
	"github.com/linkflow-ai/dbmigrate/internal/platform/health"
	"github.com/linkflow-ai/dbmigrate/internal/platform/logger"
	"github.com/linkflow-ai/dbmigrate/internal/platform/metrics"
	"github.com/linkflow-ai/dbmigrate/internal/platform/middleware"
)

type Server struct {
	config     *config.Config
	logger     logger.Logger
	svc        handlers.MigrationService
	metrics    *metrics.Metrics
	health     *health.Handler
	httpServer *http.Server
	cron       *cron.Cron
}

type Option func(*Server)

func WithConfig(cfg *config.Config) Option {
	return func(s *Server) { s.config = cfg }
}

func WithLogger(logger logger.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithMigrationService(svc handlers.MigrationService) Option {
	return func(s *Server) { s.svc = svc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth uses h for the readiness probe so callers can register
// dependency checks on it.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

func New(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return s, nil
}

func (s *Server) initialize() error {
	if s.config == nil {
		return errors.New("config is required")
	}
	if s.svc == nil {
		return errors.New("migration service is required")
	}
	if s.logger == nil {
		s.logger = logger.NewNop()
	}
	if s.health == nil {
		s.health = health.NewHandler(s.config.Service.Name, s.config.Version)
	}
	s.health.AddCheck("migrations", s.checkMigrations)

	if err := s.setupScheduler(); err != nil {
		return err
	}
	s.setupHTTPServer()
	return nil
}

const maxRequestBytes = 1 << 20

func (s *Server) setupHTTPServer() {
	router := mux.NewRouter()
	router.Use(logger.HTTPMiddleware(s.logger))
	router.Use(middleware.SecurityHeaders())
	if s.metrics != nil {
		router.Use(s.metrics.HTTPMetricsMiddleware())
		router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	// Health checks
	router.HandleFunc("/health/live", s.health.LivenessHandler()).Methods("GET")
	router.HandleFunc("/health/ready", s.health.ReadinessHandler()).Methods("GET")

	// Migration endpoints
	h := handlers.NewMigrationHandler(s.svc, s.logger)
	api := router.PathPrefix("/api/v1/migrations").Subrouter()
	api.HandleFunc("/status", h.HandleStatus).Methods("GET")
	api.HandleFunc("/pending", h.HandlePending).Methods("GET")
	api.Handle("/run", s.protect(http.HandlerFunc(h.HandleRun))).Methods("POST")
	api.Handle("/init", s.protect(http.HandlerFunc(h.HandleInit))).Methods("POST")

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTP.Port),
		Handler:      router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}
}

// protect wraps endpoints that write to the database
func (s *Server) protect(h http.Handler) http.Handler {
	h = middleware.AuditLogging(s.logger)(h)
	h = middleware.APIKeyAuth(s.config.HTTP.APIKeys...)(h)
	return middleware.RequestSizeLimit(maxRequestBytes)(h)
}

// setupScheduler registers the periodic run when migration.schedule is set
func (s *Server) setupScheduler() error {
	spec := s.config.Migration.Schedule
	if spec == "" {
		return nil
	}

	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
			cron.Recover(cron.DefaultLogger),
		),
	)
	if _, err := s.cron.AddFunc(spec, func() { s.scheduledRun(context.Background()) }); err != nil {
		return fmt.Errorf("invalid migration schedule %q: %w", spec, err)
	}
	return nil
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	if s.cron != nil {
		s.cron.Start()
		s.logger.Info("Migration schedule started", "schedule", s.config.Migration.Schedule)
	}
	s.logger.Info("Starting HTTP server", "port", s.config.HTTP.Port)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.cron != nil {
		// wait for a scheduled run in progress
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
		}
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) scheduledRun(ctx context.Context) {
	result, err := s.svc.Run(ctx, service.RunOptions{})
	switch {
	case errors.Is(err, cache.ErrLockHeld):
		s.logger.Info("Scheduled run skipped, another run holds the lock")
	case err != nil:
		s.logger.Error("Scheduled migration run failed", "error", err)
	default:
		s.logger.Info("Scheduled migration run completed", "run_id", result.RunID, "applied", len(result.Applied))
	}
}

// checkMigrations reports degraded readiness while migrations are pending
// or a source has no watermark yet.
func (s *Server) checkMigrations(ctx context.Context) error {
	status, err := s.svc.Status(ctx)
	if err != nil {
		return err
	}
	if !status.Initialized {
		return health.Degraded("watermarks not initialized")
	}
	if status.Pending > 0 {
		return health.Degraded("%d migrations pending", status.Pending)
	}
	return nil
}
