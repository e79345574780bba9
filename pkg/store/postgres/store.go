// Package postgres implements the durable store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"probehub/pkg/models"
	"probehub/pkg/store"
)

// Store keeps nodes and metrics in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New connects to dsn, verifies the connection and creates the schema.
// maxConns <= 0 keeps the pgxpool default.
func New(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse connection string: %w", store.ErrDatabaseError, err)
	}
	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create connection pool: %w", store.ErrDatabaseError, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", store.ErrDatabaseError, err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %w", store.ErrDatabaseError, err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrDatabaseError, err)
	}
	return nil
}

// RecordIngestion upserts the node and appends the sample in one transaction.
func (s *Store) RecordIngestion(ctx context.Context, ingestion store.Ingestion) error {
	sample := ingestion.Sample
	ts := sample.Timestamp.UnixMilli()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertNodeSQL,
			sample.NodeID, ingestion.DisplayName(), ts, ingestion.Hostname,
		); err != nil {
			return fmt.Errorf("failed to upsert node: %w", err)
		}

		if _, err := tx.Exec(ctx, insertMetricSQL,
			sample.NodeID, ts,
			sample.CPUPercent, sample.MemoryPercent, sample.DiskPercent,
			int64(sample.NetRxDelta), int64(sample.NetTxDelta),
			int64(sample.NetRxTotal), int64(sample.NetTxTotal),
			int64(sample.UptimeSeconds),
		); err != nil {
			return fmt.Errorf("failed to insert metric: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrDatabaseError, err)
	}
	return nil
}

// ListRecentNodes returns up to limit nodes ordered by last_seen descending.
func (s *Store) ListRecentNodes(ctx context.Context, limit int) ([]models.Node, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, display_name, created_at, last_seen FROM nodes ORDER BY last_seen DESC, id LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrDatabaseError, err)
	}
	defer rows.Close()

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
	rows, err := s.pool.Query(ctx,
		`SELECT ts, cpu, memory FROM metrics
		 WHERE node_id = $1 AND ts >= $2
		 ORDER BY ts ASC
		 LIMIT $3`,
		nodeID, since.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrDatabaseError, err)
	}
	defer rows.Close()

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
