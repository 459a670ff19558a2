// Package server exposes the report API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/deeres/config"
	"github.com/mohammad-safakhou/deeres/internal/jobs"
	"go.uber.org/zap"
)

// Jobs is the scheduler surface used by the handlers.
type Jobs interface {
	Submit(ctx context.Context, req jobs.Request) (jobs.Job, error)
	Status(id string) (jobs.Job, error)
	Load() int
	Capacity() int
}

// Server wires the echo router to a job scheduler.
type Server struct {
	echo   *echo.Echo
	cfg    config.ServerConfig
	logger *zap.Logger

	metrics      http.Handler
	pollInterval time.Duration
	now          func() time.Time
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithPollInterval sets how often the status stream checks for changes.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) { s.pollInterval = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New builds the router. The warm-up window starts now.
func New(cfg config.ServerConfig, js Jobs, opts ...Option) *Server {
	s := &Server{
		echo:         echo.New(),
		cfg:          cfg,
		logger:       zap.NewNop(),
		pollInterval: time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, apiKeyHeader},
	}))

	auth := NewAuthenticator(cfg)
	health := &HealthHandler{jobs: js, started: s.now(), warmup: cfg.WarmupPeriod, now: s.now}
	health.Register(e.Group(""))

	reports := &ReportsHandler{jobs: js, logger: s.logger.Named("reports")}
	reports.Register(e.Group("", auth.Middleware(false)))

	stream := &StreamHandler{
		jobs:     js,
		interval: s.pollInterval,
		origins:  cfg.AllowedOrigins,
		logger:   s.logger.Named("stream"),
	}
	stream.Register(e.Group("", auth.Middleware(true)))

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}
	return s
}

// Handler returns the router for use with httptest or a custom listener.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("address", s.cfg.Address))
	if err := s.echo.Start(s.cfg.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleError writes every error as {"error": msg}.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	log := s.logger.With(
		zap.Int("status", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("remote", c.RealIP()),
	)
	if code >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Error(err))
	}
	if !c.Response().Committed {
		if req.Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, HTTPError{Error: msg})
	}
}
