package server

import (
	"context"
	_ "embed"
	"net/http"

	"github.com/labstack/echo/v4"

	"probehub/pkg/log"
)

//go:embed openapi.yml
var openAPISpec []byte

func (s *Server) serveRoot(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{
		"service": "probehub",
		"status":  "ok",
		"version": s.opts.Version,
	})
}

func (s *Server) serveOpenAPISpec(ctx echo.Context) error {
	return ctx.Blob(http.StatusOK, "application/yaml", openAPISpec)
}

// healthz reports whether both stores are reachable.
func (s *Server) healthz(ctx echo.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx.Request().Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.Ping(checkCtx); err != nil {
		log.Warn().Err(err).Msg("Health check: durable store unreachable")
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "db_error",
		})
	}

	if err := s.cache.Ping(checkCtx); err != nil {
		log.Warn().Err(err).Msg("Health check: status cache unreachable")
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "kv_error",
		})
	}

	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
