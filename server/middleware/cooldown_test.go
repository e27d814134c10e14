package middleware

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func newTestCooldown() (*MemoryCooldown, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := NewMemoryCooldown(3 * time.Second)
	c.now = clock.Now
	return c, clock
}

func TestMemoryCooldown(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCooldown()
	key := UserKey("u1")

	ok, err := c.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(time.Second)
	ok, _ = c.Allow(ctx, key)
	assert.False(t, ok, "second send within the interval")

	ok, _ = c.Allow(ctx, UserKey("u2"))
	assert.True(t, ok, "keys are independent")

	clock.Advance(2 * time.Second)
	ok, _ = c.Allow(ctx, key)
	assert.True(t, ok, "third send after the interval")
}

func TestCooldownKeys(t *testing.T) {
	assert.Equal(t, "guest:abc123:10.0.0.1", GuestKey("abc123", "10.0.0.1"))
	assert.Equal(t, "user:u1", UserKey("u1"))
	assert.NotEqual(t, GuestKey("abc123", "10.0.0.1"), GuestKey("abc123", "10.0.0.2"))
}

func TestMemoryCooldownSweep(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCooldown()

	_, _ = c.Allow(ctx, "a")
	clock.Advance(2 * time.Second)
	_, _ = c.Allow(ctx, "b")
	assert.Equal(t, 2, c.Sweep())

	clock.Advance(time.Second)
	assert.Equal(t, 1, c.Sweep(), "a has cooled down")

	clock.Advance(2 * time.Second)
	assert.Equal(t, 0, c.Sweep())
}

func TestRedisCooldown(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR is not set")
	}
	ctx := context.Background()
	config := DefaultRedisConfig()
	config.Addr = addr
	config.KeyPrefix = "concierge:test:" + uuid.NewString() + ":"

	c, err := NewRedisCooldown(ctx, config, 200*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	ok, err := c.Allow(ctx, UserKey("u1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Allow(ctx, UserKey("u1"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		ok, err := c.Allow(ctx, UserKey("u1"))
		return err == nil && ok
	}, 2*time.Second, 50*time.Millisecond)
}
