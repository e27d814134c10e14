package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCooldown is the minimum interval between two sends of one caller.
const DefaultCooldown = 3 * time.Second

// Cooldown admits one action per key per interval.
type Cooldown interface {
	// Allow reports whether the action keyed by key may proceed and, if so,
	// starts the key's interval.
	Allow(ctx context.Context, key string) (bool, error)
}

// GuestKey is the cooldown key of a guest, scoped to the client address.
func GuestKey(guestID, ip string) string {
	return "guest:" + guestID + ":" + ip
}

// UserKey is the cooldown key of an authenticated user.
func UserKey(userID string) string {
	return "user:" + userID
}

// MemoryCooldown keeps one limiter per key in process memory. It is only a
// local guard when several instances serve the endpoint.
type MemoryCooldown struct {
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	limits map[string]*rate.Limiter
}

// NewMemoryCooldown creates a cooldown admitting one action per interval.
func NewMemoryCooldown(interval time.Duration) *MemoryCooldown {
	if interval <= 0 {
		interval = DefaultCooldown
	}
	return &MemoryCooldown{
		interval: interval,
		now:      time.Now,
		limits:   make(map[string]*rate.Limiter),
	}
}

// getLimiter gets or creates a limiter for the given key.
func (c *MemoryCooldown) getLimiter(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limiter, ok := c.limits[key]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(rate.Every(c.interval), 1)
	c.limits[key] = limiter
	return limiter
}

func (c *MemoryCooldown) Allow(_ context.Context, key string) (bool, error) {
	return c.getLimiter(key).AllowN(c.now(), 1), nil
}

// Sweep drops limiters whose interval has elapsed. It returns the number of
// keys still tracked.
func (c *MemoryCooldown) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, limiter := range c.limits {
		if limiter.TokensAt(now) >= 1 {
			delete(c.limits, key)
		}
	}
	return len(c.limits)
}

// Run sweeps every period until ctx is done.
func (c *MemoryCooldown) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Sweep()
		}
	}
}
