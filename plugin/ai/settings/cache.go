// Package settings caches the logical AI settings row for the process.
package settings

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hrygo/concierge/store"
)

const (
	// DefaultTTL is measured from the previous load, successful or not.
	DefaultTTL = 60 * time.Second

	loadTimeout = 5 * time.Second
	loadKey     = "ai_settings"
)

// Loader reads the settings row. A nil row means no settings exist.
type Loader interface {
	GetAISettings(ctx context.Context) (*store.AISettings, error)
}

// Cache is a lazily populated, TTL-bound view of the AI settings. Writes made
// by other processes become visible after the TTL; Invalidate forces a reload
// for writes made by this one.
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
	group  singleflight.Group

	mu         sync.Mutex
	value      *store.AISettings
	loadedAt   time.Time
	loaded     bool
	generation uint64
}

func NewCache(loader Loader, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		loader: loader,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default().With("component", "ai-settings"),
	}
}

// Get returns the cached settings, loading them when the TTL has elapsed.
// Concurrent loads collapse into one backend call. A failed load is cached
// as nil for the same TTL.
func (c *Cache) Get(ctx context.Context) *store.AISettings {
	c.mu.Lock()
	if c.loaded && c.now().Sub(c.loadedAt) < c.ttl {
		value := c.value
		c.mu.Unlock()
		return value
	}
	generation := c.generation
	c.mu.Unlock()

	v, _, _ := c.group.Do(loadKey, func() (any, error) {
		return c.load(ctx, generation), nil
	})
	settings, _ := v.(*store.AISettings)
	return settings
}

func (c *Cache) load(ctx context.Context, generation uint64) *store.AISettings {
	// Shared by every waiter, so one caller's cancellation must not fail the rest.
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
	defer cancel()

	settings, err := c.loader.GetAISettings(loadCtx)
	if err != nil {
		c.logger.Warn("failed to load ai settings", "error", err)
		settings = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == generation {
		c.value = settings
		c.loadedAt = c.now()
		c.loaded = true
	}
	return settings
}

// Invalidate drops the cached value. A load already in flight is not stored.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.loaded = false
	c.value = nil
	c.group.Forget(loadKey)
}

// RealtimeEnabled reports the administrative realtime switch. Missing
// settings leave realtime on.
func (c *Cache) RealtimeEnabled(ctx context.Context) bool {
	settings := c.Get(ctx)
	if settings == nil {
		return true
	}
	return settings.RealtimeEnabled
}
