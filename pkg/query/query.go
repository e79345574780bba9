// Package query serves the dashboard read path: the recent node list, a
// single node's snapshot and a node's metric history.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"probehub/pkg/log"
	"probehub/pkg/models"
	"probehub/pkg/statuscache"
	"probehub/pkg/store"
)

const (
	DefaultNodeListLimit     = 100
	DefaultMetricRowLimit    = 10000
	DefaultLookupConcurrency = 16

	// DefaultRange applies when the range parameter is empty.
	DefaultRange = "24h"
)

var ranges = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
}

// ParseRange maps a range parameter to its window.
func ParseRange(value string) (time.Duration, error) {
	if value == "" {
		value = DefaultRange
	}
	window, ok := ranges[value]
	if !ok {
		return 0, ErrInvalidRange
	}
	return window, nil
}

// Config holds the read path limits.
type Config struct {
	OfflineThreshold  time.Duration
	NodeListLimit     int
	MetricRowLimit    int
	LookupConcurrency int
}

func (c Config) withDefaults() Config {
	if c.OfflineThreshold <= 0 {
		c.OfflineThreshold = models.DefaultOfflineThreshold
	}
	if c.NodeListLimit <= 0 {
		c.NodeListLimit = DefaultNodeListLimit
	}
	if c.MetricRowLimit <= 0 {
		c.MetricRowLimit = DefaultMetricRowLimit
	}
	if c.LookupConcurrency <= 0 {
		c.LookupConcurrency = DefaultLookupConcurrency
	}
	return c
}

// Service answers dashboard queries.
type Service struct {
	cfg   Config
	store store.Store
	cache statuscache.Cache
	now   func() time.Time
}

// NewService creates a query service.
func NewService(cfg Config, metricStore store.Store, cache statuscache.Cache) *Service {
	return &Service{
		cfg:   cfg.withDefaults(),
		store: metricStore,
		cache: cache,
		now:   time.Now,
	}
}

// ListNodes returns the most recently seen nodes joined with their
// snapshots. A node whose snapshot is missing, corrupt or unreadable is
// listed as an offline placeholder.
func (s *Service) ListNodes(ctx context.Context) ([]models.NodeStatus, error) {
	nodes, err := s.store.ListRecentNodes(ctx, s.cfg.NodeListLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabase, err)
	}

	now := s.now()
	statuses := make([]models.NodeStatus, len(nodes))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.LookupConcurrency)

	for i, node := range nodes {
		i, node := i, node
		group.Go(func() error {
			statuses[i] = s.lookup(groupCtx, node.ID, now)
			return nil
		})
	}
	_ = group.Wait()

	return statuses, nil
}

func (s *Service) lookup(ctx context.Context, nodeID string, now time.Time) models.NodeStatus {
	status, found, err := s.cache.Get(ctx, nodeID)
	if err != nil {
		log.Warn().Err(err).Str("node_id", nodeID).Msg("Status lookup failed, listing node as offline")
		return models.OfflinePlaceholder(nodeID)
	}
	if !found || status.ID != nodeID {
		return models.OfflinePlaceholder(nodeID)
	}
	return status.WithLiveness(now, s.cfg.OfflineThreshold)
}

// GetNode returns one node's snapshot with derived liveness.
func (s *Service) GetNode(ctx context.Context, nodeID string) (models.NodeStatus, error) {
	if !models.ValidNodeID(nodeID) {
		return models.NodeStatus{}, ErrInvalidID
	}

	status, found, err := s.cache.Get(ctx, nodeID)
	if err != nil {
		if errors.Is(err, statuscache.ErrCorruptEntry) {
			return models.NodeStatus{}, ErrNotFound
		}
		log.Error().Err(err).Str("node_id", nodeID).Msg("Status lookup failed")
		return models.NodeStatus{}, fmt.Errorf("%w: %w", ErrCache, err)
	}
	if !found || status.ID != nodeID {
		return models.NodeStatus{}, ErrNotFound
	}

	return status.WithLiveness(s.now(), s.cfg.OfflineThreshold), nil
}

// Metrics returns the node's points within the named range, oldest first.
func (s *Service) Metrics(ctx context.Context, nodeID, rangeParam string) ([]models.MetricPoint, error) {
	if !models.ValidNodeID(nodeID) {
		return nil, ErrInvalidID
	}

	window, err := ParseRange(rangeParam)
	if err != nil {
		return nil, err
	}

	points, err := s.store.MetricsSince(ctx, nodeID, s.now().Add(-window), s.cfg.MetricRowLimit)
	if err != nil {
		log.Error().Err(err).Str("node_id", nodeID).Msg("Metric range query failed")
		return nil, fmt.Errorf("%w: %w", ErrDatabase, err)
	}
	return points, nil
}
