package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"probehub/pkg/query"
)

func queryStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, query.ErrInvalidID), errors.Is(err, query.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func queryCode(err error) string {
	for _, sentinel := range []error{query.ErrInvalidID, query.ErrInvalidRange, query.ErrNotFound, query.ErrCache, query.ErrDatabase} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal_error"
}

// nodeID returns the :id parameter as the client sent it. Echo routes on the
// decoded path unless the request carries a RawPath, so only then is the
// parameter still escaped. Undecodable values come back unchanged and fail
// identity validation downstream.
func nodeID(ctx echo.Context) string {
	id := ctx.Param("id")
	if ctx.Request().URL.RawPath == "" {
		return id
	}
	if decoded, err := url.PathUnescape(id); err == nil {
		return decoded
	}
	return id
}

func (s *Server) respondQuery(ctx echo.Context, endpoint string, body interface{}, err error) error {
	status := queryStatus(err)
	s.metrics.ObserveQuery(endpoint, strconv.Itoa(status))

	if err != nil {
		return ctx.JSON(status, map[string]string{"error": queryCode(err)})
	}
	return ctx.JSON(status, body)
}

// listNodes handles GET /nodes.
func (s *Server) listNodes(ctx echo.Context) error {
	statuses, err := s.query.ListNodes(ctx.Request().Context())
	return s.respondQuery(ctx, "nodes", statuses, err)
}

// getNode handles GET /nodes/:id.
func (s *Server) getNode(ctx echo.Context) error {
	status, err := s.query.GetNode(ctx.Request().Context(), nodeID(ctx))
	return s.respondQuery(ctx, "node", status, err)
}

// getNodeMetrics handles GET /nodes/:id/metrics.
func (s *Server) getNodeMetrics(ctx echo.Context) error {
	points, err := s.query.Metrics(ctx.Request().Context(), nodeID(ctx), ctx.QueryParam("range"))
	return s.respondQuery(ctx, "metrics", points, err)
}
