package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"probehub/pkg/ingest"
	"probehub/pkg/log"
)

const (
	headerTimestamp = "X-Probe-Timestamp"
	headerSignature = "X-Probe-Signature"
)

func ingestStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ingest.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrMissingTimestamp),
		errors.Is(err, ingest.ErrStaleTimestamp),
		errors.Is(err, ingest.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ingest.ErrInvalidJSON),
		errors.Is(err, ingest.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleIngest handles POST /ingest.
func (s *Server) handleIngest(ctx echo.Context) error {
	started := time.Now()
	req := ctx.Request()

	request := ingest.Request{
		ContentLength: req.ContentLength,
		Timestamp:     req.Header.Get(headerTimestamp),
		Signature:     req.Header.Get(headerSignature),
	}

	// Only read the body when the declared length is acceptable; one byte
	// past the cap is enough to detect an oversize body.
	var err error
	if request.ContentLength <= s.ingest.MaxBodyBytes() {
		request.Body, err = io.ReadAll(io.LimitReader(req.Body, s.ingest.MaxBodyBytes()+1))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read ingestion body")
			err = ingest.ErrInvalidJSON
		}
	}

	if err == nil {
		_, err = s.ingest.Ingest(req.Context(), request)
	}

	outcome := ingest.Outcome(err)
	s.metrics.ObserveIngest(outcome, started)

	if err != nil {
		status := ingestStatus(err)
		if status < http.StatusInternalServerError {
			log.Warn().
				Str("outcome", outcome).
				Str("remote_ip", ctx.RealIP()).
				Err(err).
				Msg("Ingestion rejected")
		}
		return ctx.JSON(status, map[string]interface{}{
			"ok":    false,
			"error": outcome,
		})
	}

	return ctx.JSON(http.StatusOK, map[string]bool{"ok": true})
}
