package settings

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/concierge/store"
)

type fakeLoader struct {
	calls    atomic.Int32
	settings *store.AISettings
	err      error
	block    chan struct{}
}

func (f *fakeLoader) GetAISettings(context.Context) (*store.AISettings, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.settings, f.err
}

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

func newTestCache(loader Loader) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := NewCache(loader, 0)
	c.now = clock.Now
	return c, clock
}

func TestCacheTTL(t *testing.T) {
	loader := &fakeLoader{settings: &store.AISettings{ID: "s1", RealtimeEnabled: true}}
	c, clock := newTestCache(loader)
	ctx := context.Background()

	require.Equal(t, "s1", c.Get(ctx).ID)
	require.Equal(t, "s1", c.Get(ctx).ID)
	assert.Equal(t, int32(1), loader.calls.Load())

	clock.Advance(59 * time.Second)
	c.Get(ctx)
	assert.Equal(t, int32(1), loader.calls.Load())

	clock.Advance(time.Second)
	c.Get(ctx)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestCacheNegativeCaching(t *testing.T) {
	loader := &fakeLoader{err: errors.New("db down")}
	c, clock := newTestCache(loader)
	ctx := context.Background()

	assert.Nil(t, c.Get(ctx))
	assert.Nil(t, c.Get(ctx))
	assert.Equal(t, int32(1), loader.calls.Load(), "failure is cached for the ttl")

	loader.err = nil
	loader.settings = &store.AISettings{ID: "s1"}
	clock.Advance(DefaultTTL)
	require.NotNil(t, c.Get(ctx))
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestCacheCollapsesConcurrentLoads(t *testing.T) {
	loader := &fakeLoader{settings: &store.AISettings{ID: "s1"}, block: make(chan struct{})}
	c, _ := newTestCache(loader)

	var wg sync.WaitGroup
	results := make([]*store.AISettings, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Get(context.Background())
		}(i)
	}
	require.Eventually(t, func() bool { return loader.calls.Load() == 1 }, time.Second, time.Millisecond)
	// Give the remaining callers time to join the in-flight load.
	time.Sleep(20 * time.Millisecond)
	close(loader.block)
	wg.Wait()

	assert.Equal(t, int32(1), loader.calls.Load())
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "s1", r.ID)
	}
}

func TestCacheInvalidate(t *testing.T) {
	loader := &fakeLoader{settings: &store.AISettings{ID: "s1"}}
	c, _ := newTestCache(loader)
	ctx := context.Background()

	c.Get(ctx)
	loader.settings = &store.AISettings{ID: "s2"}
	assert.Equal(t, "s1", c.Get(ctx).ID)

	c.Invalidate()
	assert.Equal(t, "s2", c.Get(ctx).ID)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestRealtimeEnabled(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		loader   *fakeLoader
		expected bool
	}{
		{"no settings", &fakeLoader{}, true},
		{"load failure", &fakeLoader{err: errors.New("boom")}, true},
		{"enabled", &fakeLoader{settings: &store.AISettings{RealtimeEnabled: true}}, true},
		{"disabled", &fakeLoader{settings: &store.AISettings{RealtimeEnabled: false}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(tt.loader)
			assert.Equal(t, tt.expected, c.RealtimeEnabled(ctx))
		})
	}
}
