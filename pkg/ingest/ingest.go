// Package ingest accepts signed telemetry reports. Each request passes the
// size, timestamp, signature and payload checks in that order, then is written
// to the durable store and the status cache.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"probehub/pkg/auth"
	"probehub/pkg/log"
	"probehub/pkg/models"
	"probehub/pkg/payload"
	"probehub/pkg/statuscache"
	"probehub/pkg/store"
)

const (
	DefaultMaxBodyBytes = 64 * 1024
	DefaultMaxClockSkew = 300 * time.Second
	DefaultStatusTTL    = 120 * time.Second
)

// Config holds the ingestion limits and the shared secret.
type Config struct {
	Secret       string
	MaxBodyBytes int64
	MaxClockSkew time.Duration
	StatusTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.MaxClockSkew <= 0 {
		c.MaxClockSkew = DefaultMaxClockSkew
	}
	if c.StatusTTL == 0 {
		c.StatusTTL = DefaultStatusTTL
	}
	c.StatusTTL = statuscache.ClampTTL(c.StatusTTL)
	return c
}

// Request is one ingestion as received. ContentLength is the declared length
// or -1 when unknown. Body must hold at most MaxBodyBytes+1 bytes so oversize
// bodies are detectable without reading them fully.
type Request struct {
	ContentLength int64
	Body          []byte
	Timestamp     string
	Signature     string
}

// Service runs the ingestion pipeline.
type Service struct {
	cfg      Config
	verifier *auth.Verifier
	store    store.Store
	cache    statuscache.Cache
	now      func() time.Time
}

// NewService creates an ingestion service.
func NewService(cfg Config, verifier *auth.Verifier, metricStore store.Store, cache statuscache.Cache) *Service {
	if verifier == nil {
		verifier = auth.NewVerifier(nil)
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		verifier: verifier,
		store:    metricStore,
		cache:    cache,
		now:      time.Now,
	}
}

// MaxBodyBytes is the effective body cap.
func (s *Service) MaxBodyBytes() int64 {
	return s.cfg.MaxBodyBytes
}

// StatusTTL is the effective, clamped snapshot lifetime.
func (s *Service) StatusTTL() time.Duration {
	return s.cfg.StatusTTL
}

// Ingest validates and persists req. On success it returns the snapshot
// written to the cache.
func (s *Service) Ingest(ctx context.Context, req Request) (models.NodeStatus, error) {
	if req.ContentLength > s.cfg.MaxBodyBytes || int64(len(req.Body)) > s.cfg.MaxBodyBytes {
		return models.NodeStatus{}, ErrPayloadTooLarge
	}

	timestamp, ok := auth.ExtractTimestamp(req.Timestamp)
	if !ok {
		return models.NodeStatus{}, ErrMissingTimestamp
	}

	now := s.now()
	if !s.fresh(timestamp, now) {
		return models.NodeStatus{}, ErrStaleTimestamp
	}

	if !s.verifier.Verify(s.cfg.Secret, req.Body, req.Signature, timestamp) {
		return models.NodeStatus{}, ErrInvalidSignature
	}

	parsed, err := payload.Parse(req.Body)
	if err != nil {
		if errors.Is(err, payload.ErrInvalidJSON) {
			return models.NodeStatus{}, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
		return models.NodeStatus{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	return s.persist(ctx, parsed, now)
}

// fresh reports whether the Unix-seconds timestamp is within the allowed skew
// of now. Values too large for int64 are never fresh.
func (s *Service) fresh(timestamp string, now time.Time) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}

	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	return skew <= int64(s.cfg.MaxClockSkew/time.Second)
}

func (s *Service) persist(ctx context.Context, parsed payload.Payload, now time.Time) (models.NodeStatus, error) {
	ingestion := store.Ingestion{
		Hostname: parsed.Hostname,
		Sample: models.MetricSample{
			NodeID:        parsed.NodeID,
			Timestamp:     now,
			CPUPercent:    parsed.Snapshot.CPUPercent,
			MemoryPercent: parsed.Snapshot.MemUsedPercent,
			DiskPercent:   parsed.Snapshot.DiskUsedPercent,
			NetRxDelta:    parsed.Bandwidth.DeltaRxBytes,
			NetTxDelta:    parsed.Bandwidth.DeltaTxBytes,
			NetRxTotal:    parsed.Bandwidth.TotalRxBytes,
			NetTxTotal:    parsed.Bandwidth.TotalTxBytes,
			UptimeSeconds: parsed.Snapshot.UptimeSeconds,
		},
	}

	if err := s.store.RecordIngestion(ctx, ingestion); err != nil {
		log.Error().Err(err).Str("node_id", parsed.NodeID).Msg("Failed to record ingestion")
		return models.NodeStatus{}, fmt.Errorf("%w: %w", ErrDatabase, err)
	}

	status := models.NodeStatus{
		ID:         parsed.NodeID,
		Name:       parsed.DisplayName(),
		Status:     models.StatusOnline,
		CPU:        parsed.Snapshot.CPUPercent,
		Memory:     parsed.Snapshot.MemUsedPercent,
		Disk:       parsed.Snapshot.DiskUsedPercent,
		NetRxTotal: parsed.Bandwidth.TotalRxBytes,
		NetTxTotal: parsed.Bandwidth.TotalTxBytes,
		NetRxSpeed: parsed.Bandwidth.RxSpeed,
		NetTxSpeed: parsed.Bandwidth.TxSpeed,
		Uptime:     parsed.Snapshot.UptimeSeconds,
		LastSeen:   now.UnixMilli(),
	}

	if err := s.cache.Put(ctx, status, s.cfg.StatusTTL); err != nil {
		log.Error().Err(err).Str("node_id", parsed.NodeID).Msg("Failed to update status snapshot")
		return models.NodeStatus{}, fmt.Errorf("%w: %w", ErrCache, err)
	}

	return status, nil
}
