package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/config"
	"github.com/JakeFAU/crawl-console/internal/jobs"
	"github.com/JakeFAU/crawl-console/internal/metrics"
	"github.com/JakeFAU/crawl-console/internal/monitor"
	"github.com/JakeFAU/crawl-console/internal/store"
)

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Option customizes a Server.
type Option func(*Server)

// WithRunRepository enables the run history endpoints.
func WithRunRepository(repo store.RunRepository) Option {
	return func(s *Server) {
		s.runs = NewRunHandler(repo, s.logger)
	}
}

// WithReadinessCheck adds a dependency to /readyz.
func WithReadinessCheck(name string, check func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.checks = append(s.checks, ReadinessCheck{Name: name, Check: check})
	}
}

// Server wires HTTP handlers to the monitor registry and stores.
type Server struct {
	router   chi.Router
	monitors *MonitorHandler
	runs     *RunHandler
	configs  *ConfigHandler
	stream   *ActivationStream
	checks   []ReadinessCheck
	cfg      config.Config
	logger   *zap.Logger
}

const readyTimeout = 2 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(
	registry *monitor.Registry,
	configs jobs.ConfigStore,
	notifier *monitor.Notifier,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		monitors: NewMonitorHandler(registry, configs, logger),
		configs:  NewConfigHandler(configs, notifier, logger),
		stream:   NewActivationStream(notifier, logger),
		cfg:      cfg,
		logger:   logger,
	}
	s.runs = NewRunHandler(nil, logger)
	for _, opt := range opts {
		opt(s)
	}

	timeout := time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	// The websocket outlives any request timeout.
	r.Get("/v1/activations/ws", s.stream.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		r.Route("/v1/monitors", func(r chi.Router) {
			r.Get("/", s.monitors.List)
			r.Post("/", s.monitors.Create)
			r.Route("/{monitor_id}", func(r chi.Router) {
				r.Get("/", s.monitors.Get)
				r.Delete("/", s.monitors.Remove)
				r.Post("/open", s.monitors.Open)
				r.Post("/close", s.monitors.Close)
				r.Post("/activate", s.monitors.Activate)
			})
		})
		r.Route("/v1/configs/{code}", func(r chi.Router) {
			r.Get("/", s.configs.Get)
			r.Patch("/", s.configs.Patch)
		})
		r.Route("/api/runs", func(r chi.Router) {
			r.Get("/", s.runs.ListRuns)
			r.Get("/{session_id}", s.runs.GetRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", c.Name), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"check":  c.Name,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
