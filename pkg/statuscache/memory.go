package statuscache

import (
	"context"
	"sync"
	"time"

	"probehub/pkg/log"
	"probehub/pkg/models"
)

const defaultJanitorInterval = 30 * time.Second

type memoryEntry struct {
	raw       []byte
	expiresAt time.Time
}

// Memory is an in-process cache for single-instance deployments. Entries are
// stored encoded, so reads behave like a remote backend.
type Memory struct {
	entries         map[string]memoryEntry
	mu              sync.RWMutex
	now             func() time.Time
	janitorInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
	closeOnce       sync.Once
}

var _ Cache = (*Memory)(nil)

// NewMemory creates a memory cache and starts its expiry janitor.
func NewMemory(janitorInterval time.Duration) *Memory {
	return newMemory(janitorInterval, time.Now)
}

func newMemory(janitorInterval time.Duration, now func() time.Time) *Memory {
	if janitorInterval <= 0 {
		janitorInterval = defaultJanitorInterval
	}

	m := &Memory{
		entries:         make(map[string]memoryEntry),
		now:             now,
		janitorInterval: janitorInterval,
		stopCh:          make(chan struct{}),
	}

	m.wg.Add(1)
	go m.janitorLoop()

	return m
}

// Put stores the snapshot until now + ttl.
func (m *Memory) Put(_ context.Context, status models.NodeStatus, ttl time.Duration) error {
	raw, err := encode(status)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[Key(status.ID)] = memoryEntry{
		raw:       raw,
		expiresAt: m.now().Add(ClampTTL(ttl)),
	}
	return nil
}

// Get returns the live snapshot for nodeID, if any.
func (m *Memory) Get(_ context.Context, nodeID string) (models.NodeStatus, bool, error) {
	m.mu.RLock()
	entry, exists := m.entries[Key(nodeID)]
	m.mu.RUnlock()

	if !exists || !m.now().Before(entry.expiresAt) {
		return models.NodeStatus{}, false, nil
	}

	status, err := decode(entry.raw)
	if err != nil {
		return models.NodeStatus{}, false, err
	}
	return status, true, nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the janitor. It is safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
	return nil
}

func (m *Memory) janitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Memory) evictExpired() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for key, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, key)
			evicted++
		}
	}

	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Int("remaining", len(m.entries)).Msg("Expired status entries removed")
	}
}
