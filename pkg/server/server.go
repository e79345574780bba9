// Package server exposes the collector over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"probehub/pkg/ingest"
	"probehub/pkg/log"
	"probehub/pkg/metrics"
	"probehub/pkg/query"
	"probehub/pkg/statuscache"
	"probehub/pkg/store"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	healthCheckTimeout     = 2 * time.Second

	// apiPrefix is the versioned mount point; every API route is also served
	// at the root.
	apiPrefix = "/v1"
)

// Options configures the HTTP layer.
type Options struct {
	Version         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Metrics may be nil to disable instrumentation and the scrape endpoint.
	Metrics     *metrics.Metrics
	MetricsPath string
}

// Server wires the ingestion and query services to HTTP routes.
type Server struct {
	echo    *echo.Echo
	opts    Options
	ingest  *ingest.Service
	query   *query.Service
	store   store.Store
	cache   statuscache.Cache
	metrics *metrics.Metrics
}

// New creates a server with all routes registered.
func New(opts Options, ingestService *ingest.Service, queryService *query.Service, metricStore store.Store, cache statuscache.Cache) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	s := &Server{
		echo:    echo.New(),
		opts:    opts,
		ingest:  ingestService,
		query:   queryService,
		store:   metricStore,
		cache:   cache,
		metrics: opts.Metrics,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start(addr string) error {
	s.echo.Server.ReadTimeout = s.opts.ReadTimeout
	s.echo.Server.WriteTimeout = s.opts.WriteTimeout

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", addr).
			Str("version", s.opts.Version).
			Msg("Starting probehub server")

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("Server startup failed")
		return err
	case <-quit:
	}

	return s.Shutdown()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown() error {
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
		return err
	}

	log.Info().Msg("Server gracefully stopped")
	return nil
}

func (s *Server) setupRoutes() {
	// Echo configuration
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError

	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogURI:       true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Int("status", v.Status).
				Str("method", v.Method).
				Str("uri", v.URI).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Dur("latency", v.Latency).
				Msg("Request")
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	s.echo.GET("/", s.serveRoot)
	s.echo.GET("/healthz", s.healthz)
	s.echo.GET("/openapi.yml", s.serveOpenAPISpec)
	if s.metrics != nil {
		s.echo.GET(s.opts.MetricsPath, echo.WrapHandler(s.metrics.Handler()))
	}

	for _, prefix := range []string{"", apiPrefix} {
		s.echo.POST(prefix+"/ingest", s.handleIngest)
		s.echo.GET(prefix+"/nodes", s.listNodes)
		s.echo.GET(prefix+"/nodes/:id", s.getNode)
		s.echo.GET(prefix+"/nodes/:id/metrics", s.getNodeMetrics)
	}
}

// handleError renders framework errors and recovered panics as JSON.
func (s *Server) handleError(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Code {
		case http.StatusNotFound:
			status, code = http.StatusNotFound, "not_found"
		case http.StatusMethodNotAllowed:
			status, code = http.StatusMethodNotAllowed, "method_not_allowed"
		}
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("uri", ctx.Request().RequestURI).Msg("Unhandled request error")
	}

	var writeErr error
	if ctx.Request().Method == http.MethodHead {
		writeErr = ctx.NoContent(status)
	} else {
		writeErr = ctx.JSON(status, map[string]string{"error": code})
	}
	if writeErr != nil {
		log.Warn().Err(writeErr).Msg("Failed to write error response")
	}
}
