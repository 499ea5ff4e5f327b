package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clearsignal/kite/internal/domain"
)

// RedisCache stores evaluation results in Redis as JSON, keyed
// kite:<tenant>:eval:<id>. It is the Pro tier cache and the L2 layer of the
// two-phase cache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// GetSignalSet returns the cached result for an evaluation ID, or nil on a
// miss.
func (c *RedisCache) GetSignalSet(ctx context.Context, tenantID string, id string) (*domain.SignalSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	data, err := c.client.Get(ctx, redisKey(tenantID, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var set domain.SignalSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to decode cached signal set: %w", err)
	}
	return &set, nil
}

// SetSignalSet caches an evaluation result with the given TTL.
func (c *RedisCache) SetSignalSet(ctx context.Context, tenantID string, set *domain.SignalSet, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	data, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKey(tenantID, set.ID), data, ttl).Err()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(tenantID, id string) string {
	return "kite:" + tenantID + ":eval:" + id
}
