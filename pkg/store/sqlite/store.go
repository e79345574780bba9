// Package sqlite implements the durable store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"probehub/pkg/models"
	"probehub/pkg/store"

	_ "modernc.org/sqlite"
)

const busyTimeoutMillis = 5000

// Store keeps nodes and metrics in SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens (creating if needed) the database at dbPath.
func New(dbPath string) (*Store, error) {
	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", store.ErrDatabaseError, err)
	}

	// A single connection keeps the pragmas below in effect and serializes writers.
	database.SetMaxOpenConns(1)

	ctx := context.Background()

	if _, err := database.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis)); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to set busy timeout: %w", store.ErrDatabaseError, err)
	}

	// Enable WAL mode for better concurrency
	if _, err := database.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %w", store.ErrDatabaseError, err)
	}

	s := &Store{db: database}
	if err := s.Initialize(ctx); err != nil {
		_ = database.Close()
		return nil, err
	}

	return s, nil
}

// Initialize creates the database schema.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("%w: failed to initialize schema: %w", store.ErrDatabaseError, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrDatabaseError, err)
	}
	return nil
}

// RecordIngestion upserts the node and appends the sample in one transaction.
func (s *Store) RecordIngestion(ctx context.Context, ingestion store.Ingestion) error {
	sample := ingestion.Sample
	ts := sample.Timestamp.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", store.ErrDatabaseError, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertNodeSQL,
		sample.NodeID, ingestion.DisplayName(), ts, ts, ingestion.Hostname,
	); err != nil {
		return fmt.Errorf("%w: failed to upsert node: %w", store.ErrDatabaseError, err)
	}

	if _, err := tx.ExecContext(ctx, insertMetricSQL,
		sample.NodeID, ts,
		sample.CPUPercent, sample.MemoryPercent, sample.DiskPercent,
		int64(sample.NetRxDelta), int64(sample.NetTxDelta),
		int64(sample.NetRxTotal), int64(sample.NetTxTotal),
		int64(sample.UptimeSeconds),
	); err != nil {
		return fmt.Errorf("%w: failed to insert metric: %w", store.ErrDatabaseError, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %w", store.ErrDatabaseError, err)
	}
	return nil
}

// ListRecentNodes returns up to limit nodes ordered by last_seen descending.
func (s *Store) ListRecentNodes(ctx context.Context, limit int) ([]models.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, created_at, last_seen FROM nodes ORDER BY last_seen DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrDatabaseError, err)
	}
	defer func() { _ = rows.Close() }()

	nodes := make([]models.Node, 0)
	for rows.Next() {
		var (
			node      models.Node
			createdAt int64
			lastSeen  int64
		)
		if err := rows.Scan(&node.ID, &node.DisplayName, &createdAt, &lastSeen); err != nil {
			return nil, fmt.Errorf("%w: %w", store.ErrDatabaseError, err)
		}
		node.CreatedAt = time.UnixMilli(createdAt)
		node.LastSeen = time.UnixMilli(lastSeen)
		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrDatabaseError, err)
	}

	return nodes, nil
}

// MetricsSince returns the node's points at or after since, oldest first.
func (s *Store) MetricsSince(ctx context.Context, nodeID string, since time.Time, limit int) ([]models.MetricPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, cpu, memory FROM metrics
		 WHERE node_id = ? AND ts >= ?
		 ORDER BY ts ASC
		 LIMIT ?`,
		nodeID, since.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrDatabaseError, err)
	}
	defer func() { _ = rows.Close() }()

	points := make([]models.MetricPoint, 0)
	for rows.Next() {
		var point models.MetricPoint
		if err := rows.Scan(&point.TS, &point.CPU, &point.Memory); err != nil {
			return nil, fmt.Errorf("%w: %w", store.ErrDatabaseError, err)
		}
		points = append(points, point)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrDatabaseError, err)
	}

	return points, nil
}
