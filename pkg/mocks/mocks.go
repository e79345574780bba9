// Package mocks provides testify mocks of the storage interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"probehub/pkg/models"
	"probehub/pkg/statuscache"
	"probehub/pkg/store"
)

// MockStore is a mock implementation of store.Store.
type MockStore struct {
	mock.Mock
}

var _ store.Store = (*MockStore)(nil)

func (m *MockStore) RecordIngestion(ctx context.Context, ingestion store.Ingestion) error {
	args := m.Called(ctx, ingestion)
	return args.Error(0)
}

func (m *MockStore) ListRecentNodes(ctx context.Context, limit int) ([]models.Node, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Node), args.Error(1)
}

func (m *MockStore) MetricsSince(ctx context.Context, nodeID string, since time.Time, limit int) ([]models.MetricPoint, error) {
	args := m.Called(ctx, nodeID, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MetricPoint), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockCache is a mock implementation of statuscache.Cache.
type MockCache struct {
	mock.Mock
}

var _ statuscache.Cache = (*MockCache)(nil)

func (m *MockCache) Put(ctx context.Context, status models.NodeStatus, ttl time.Duration) error {
	args := m.Called(ctx, status, ttl)
	return args.Error(0)
}

func (m *MockCache) Get(ctx context.Context, nodeID string) (models.NodeStatus, bool, error) {
	args := m.Called(ctx, nodeID)
	return args.Get(0).(models.NodeStatus), args.Bool(1), args.Error(2)
}

func (m *MockCache) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCache) Close() error {
	args := m.Called()
	return args.Error(0)
}
