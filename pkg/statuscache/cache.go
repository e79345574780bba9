// Package statuscache holds the latest status snapshot of every node with a
// time-to-live. Entries are overwritten on every accepted ingestion.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"probehub/pkg/models"
)

const (
	// MinTTL and MaxTTL bound the snapshot lifetime.
	MinTTL = time.Second
	MaxTTL = 24 * time.Hour

	keyPrefix = "status:"
)

var (
	// ErrCacheError is returned when the cache backend cannot be reached or
	// rejects an operation.
	ErrCacheError = errors.New("cache error")

	// ErrCorruptEntry is returned when a stored snapshot cannot be decoded.
	ErrCorruptEntry = errors.New("corrupt cache entry")
)

// Cache stores one snapshot per node. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Put overwrites the node's snapshot and resets its TTL.
	Put(ctx context.Context, status models.NodeStatus, ttl time.Duration) error

	// Get returns the snapshot and whether one exists. A missing or expired
	// entry is (zero, false, nil).
	Get(ctx context.Context, nodeID string) (models.NodeStatus, bool, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Key returns the cache key for a node.
func Key(nodeID string) string {
	return keyPrefix + nodeID
}

// ClampTTL keeps ttl inside [MinTTL, MaxTTL] at whole-second precision.
func ClampTTL(ttl time.Duration) time.Duration {
	ttl = ttl.Truncate(time.Second)
	if ttl < MinTTL {
		return MinTTL
	}
	if ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}

func encode(status models.NodeStatus) ([]byte, error) {
	raw, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheError, err)
	}
	return raw, nil
}

func decode(raw []byte) (models.NodeStatus, error) {
	var status models.NodeStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return models.NodeStatus{}, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	if !status.Valid() {
		return models.NodeStatus{}, ErrCorruptEntry
	}
	return status, nil
}
