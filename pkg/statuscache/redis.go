package statuscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"probehub/pkg/models"
)

// RedisConfig selects the Redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis keeps snapshots in Redis so several collectors can share them.
type Redis struct {
	client *redis.Client
}

var _ Cache = (*Redis)(nil)

// NewRedis creates a Redis-backed cache. The connection is established lazily;
// call Ping to verify it.
func NewRedis(cfg RedisConfig) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Put writes the snapshot with SET ... EX ttl.
func (r *Redis) Put(ctx context.Context, status models.NodeStatus, ttl time.Duration) error {
	raw, err := encode(status)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, Key(status.ID), raw, ClampTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheError, err)
	}
	return nil
}

// Get reads the snapshot; redis.Nil maps to not found.
func (r *Redis) Get(ctx context.Context, nodeID string) (models.NodeStatus, bool, error) {
	raw, err := r.client.Get(ctx, Key(nodeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.NodeStatus{}, false, nil
	}
	if err != nil {
		return models.NodeStatus{}, false, fmt.Errorf("%w: %w", ErrCacheError, err)
	}

	status, err := decode(raw)
	if err != nil {
		return models.NodeStatus{}, false, err
	}
	return status, true, nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheError, err)
	}
	return nil
}

// Close closes the client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
