// Package store defines the durable metric log and node identity table.
package store

import (
	"context"
	"time"

	"probehub/pkg/models"
)

// Ingestion is everything one accepted report writes to the durable store.
type Ingestion struct {
	// Sample.Timestamp is the server processing time, also used as last_seen.
	Sample models.MetricSample

	// Hostname replaces the stored display name when non-empty. A new node
	// without a hostname is named after its id.
	Hostname string
}

// DisplayName is the name a first-time node is created with.
func (i Ingestion) DisplayName() string {
	if i.Hostname != "" {
		return i.Hostname
	}
	return i.Sample.NodeID
}

// Store is the durable, ordered-write side of the collector.
// Implementations must be safe for concurrent use.
type Store interface {
	// RecordIngestion upserts the node identity and appends one metric row.
	// Both writes commit together or not at all.
	RecordIngestion(ctx context.Context, ingestion Ingestion) error

	// ListRecentNodes returns up to limit nodes, most recently seen first.
	ListRecentNodes(ctx context.Context, limit int) ([]models.Node, error)

	// MetricsSince returns up to limit points with ts >= since, oldest first.
	// An unknown node yields an empty, non-nil slice.
	MetricsSince(ctx context.Context, nodeID string, since time.Time, limit int) ([]models.MetricPoint, error)

	// Ping checks the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases database resources.
	Close() error
}
