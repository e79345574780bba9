package statuscache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"probehub/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MemoryTestSuite tests the in-process cache
type MemoryTestSuite struct {
	suite.Suite
	clock *fakeClock
	cache *Memory
	ctx   context.Context
}

func (s *MemoryTestSuite) SetupTest() {
	s.clock = &fakeClock{now: time.UnixMilli(1760529600000)}
	s.cache = newMemory(time.Hour, s.clock.Now)
	s.ctx = context.Background()
}

func (s *MemoryTestSuite) TearDownTest() {
	s.NoError(s.cache.Close())
}

func (s *MemoryTestSuite) status(id string, cpu float64) models.NodeStatus {
	return models.NodeStatus{
		ID:       id,
		Name:     "web-01",
		CPU:      cpu,
		Memory:   50,
		LastSeen: s.clock.Now().UnixMilli(),
	}
}

// TestPutGet tests a stored snapshot is returned unchanged
func (s *MemoryTestSuite) TestPutGet() {
	want := s.status("vm-1", 42.5)
	s.Require().NoError(s.cache.Put(s.ctx, want, 2*time.Minute))

	got, found, err := s.cache.Get(s.ctx, "vm-1")
	s.Require().NoError(err)
	s.True(found)
	s.Equal(want, got)
}

// TestMissing tests an unknown node is not found without error
func (s *MemoryTestSuite) TestMissing() {
	_, found, err := s.cache.Get(s.ctx, "ghost")
	s.NoError(err)
	s.False(found)
}

// TestLastWriteWins tests overwrites replace the snapshot
func (s *MemoryTestSuite) TestLastWriteWins() {
	s.Require().NoError(s.cache.Put(s.ctx, s.status("vm-1", 1), time.Minute))
	s.Require().NoError(s.cache.Put(s.ctx, s.status("vm-1", 2), time.Minute))

	got, found, err := s.cache.Get(s.ctx, "vm-1")
	s.Require().NoError(err)
	s.True(found)
	s.Equal(float64(2), got.CPU)
}

// TestExpiry tests entries disappear once their TTL elapses
func (s *MemoryTestSuite) TestExpiry() {
	s.Require().NoError(s.cache.Put(s.ctx, s.status("vm-1", 1), 2*time.Minute))

	s.clock.Advance(2*time.Minute - time.Millisecond)
	_, found, err := s.cache.Get(s.ctx, "vm-1")
	s.Require().NoError(err)
	s.True(found)

	s.clock.Advance(time.Millisecond)
	_, found, err = s.cache.Get(s.ctx, "vm-1")
	s.Require().NoError(err)
	s.False(found)
}

// TestPutResetsTTL tests a fresh write extends the lifetime
func (s *MemoryTestSuite) TestPutResetsTTL() {
	s.Require().NoError(s.cache.Put(s.ctx, s.status("vm-1", 1), time.Minute))
	s.clock.Advance(50 * time.Second)
	s.Require().NoError(s.cache.Put(s.ctx, s.status("vm-1", 2), time.Minute))
	s.clock.Advance(50 * time.Second)

	_, found, err := s.cache.Get(s.ctx, "vm-1")
	s.Require().NoError(err)
	s.True(found)
}

// TestTTLClamped tests out-of-range TTLs are clamped on write
func (s *MemoryTestSuite) TestTTLClamped() {
	s.Require().NoError(s.cache.Put(s.ctx, s.status("short", 1), 0))
	s.clock.Advance(999 * time.Millisecond)
	_, found, _ := s.cache.Get(s.ctx, "short")
	s.True(found)

	s.Require().NoError(s.cache.Put(s.ctx, s.status("long", 1), 48*time.Hour))
	s.clock.Advance(24 * time.Hour)
	_, found, _ = s.cache.Get(s.ctx, "long")
	s.False(found)
}

// TestEvictExpired tests the janitor sweep
func (s *MemoryTestSuite) TestEvictExpired() {
	s.Require().NoError(s.cache.Put(s.ctx, s.status("a", 1), time.Minute))
	s.Require().NoError(s.cache.Put(s.ctx, s.status("b", 1), time.Hour))
	s.Equal(2, s.cache.Len())

	s.clock.Advance(2 * time.Minute)
	s.cache.evictExpired()
	s.Equal(1, s.cache.Len())

	_, found, _ := s.cache.Get(s.ctx, "b")
	s.True(found)
}

// TestCorruptEntry tests undecodable entries surface as ErrCorruptEntry
func (s *MemoryTestSuite) TestCorruptEntry() {
	s.cache.mu.Lock()
	s.cache.entries[Key("vm-1")] = memoryEntry{raw: []byte("{not json"), expiresAt: s.clock.Now().Add(time.Minute)}
	s.cache.entries[Key("vm-2")] = memoryEntry{raw: []byte(`{"cpu":1}`), expiresAt: s.clock.Now().Add(time.Minute)}
	s.cache.mu.Unlock()

	_, found, err := s.cache.Get(s.ctx, "vm-1")
	s.False(found)
	s.ErrorIs(err, ErrCorruptEntry)

	_, found, err = s.cache.Get(s.ctx, "vm-2")
	s.False(found)
	s.ErrorIs(err, ErrCorruptEntry)
}

// TestConcurrentAccess tests parallel readers and writers
func (s *MemoryTestSuite) TestConcurrentAccess() {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.NoError(s.cache.Put(s.ctx, s.status("vm-1", float64(i)), time.Minute))
		}(i)
		go func() {
			defer wg.Done()
			_, _, err := s.cache.Get(s.ctx, "vm-1")
			s.NoError(err)
		}()
	}
	wg.Wait()
}

// TestCloseIdempotent tests Close can be called twice
func (s *MemoryTestSuite) TestCloseIdempotent() {
	s.NoError(s.cache.Close())
	s.NoError(s.cache.Close())
}

// TestJanitorRuns tests the background loop evicts on its own
func TestJanitorRuns(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1760529600000)}
	cache := newMemory(10*time.Millisecond, clock.Now)
	defer cache.Close()

	if err := cache.Put(context.Background(), models.NodeStatus{ID: "vm-1", Name: "vm-1", LastSeen: 1}, time.Second); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for cache.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("janitor did not evict expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemorySuite(t *testing.T) {
	suite.Run(t, new(MemoryTestSuite))
}
