package middleware

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the Redis connection configuration.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "concierge:cooldown:",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisCooldown shares the cooldown between instances with SET NX PX, so
// the first caller in an interval wins regardless of the instance it hits.
type RedisCooldown struct {
	client    *redis.Client
	keyPrefix string
	interval  time.Duration
}

// NewRedisCooldown connects to Redis and verifies the connection.
func NewRedisCooldown(ctx context.Context, config *RedisConfig, interval time.Duration) (*RedisCooldown, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if interval <= 0 {
		interval = DefaultCooldown
	}
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", config.Addr)
	}

	return &RedisCooldown{
		client:    client,
		keyPrefix: config.KeyPrefix,
		interval:  interval,
	}, nil
}

func (c *RedisCooldown) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.keyPrefix+key, 1, c.interval).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to check cooldown")
	}
	return ok, nil
}

func (c *RedisCooldown) Close() error {
	return c.client.Close()
}
