package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/clearsignal/kite/internal/domain"
)

// New creates a cache from configuration.
// Community tier gets the in-memory LRU; Pro tier gets Redis, optionally
// layered behind a local LRU when two-phase caching is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache layers a short-lived local LRU over Redis: reads hit the
// local copy first and repopulate it from Redis on a miss, writes go to
// both.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates the layered LRU + Redis cache.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  NewLRUCache(cfg.LocalMaxSize),
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// GetSignalSet reads from the local layer first, falling back to Redis and
// repopulating the local layer on a remote hit.
func (c *TwoPhaseCache) GetSignalSet(ctx context.Context, tenantID string, id string) (*domain.SignalSet, error) {
	set, err := c.local.GetSignalSet(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if set != nil {
		return set, nil
	}

	set, err = c.remote.GetSignalSet(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if set != nil {
		_ = c.local.SetSignalSet(ctx, tenantID, set, c.l1TTL)
	}
	return set, nil
}

// SetSignalSet writes to both layers. The local copy never outlives the
// remote one.
func (c *TwoPhaseCache) SetSignalSet(ctx context.Context, tenantID string, set *domain.SignalSet, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.SetSignalSet(ctx, tenantID, set, l1TTL); err != nil {
		return err
	}
	return c.remote.SetSignalSet(ctx, tenantID, set, ttl)
}

// Ping checks both layers.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both layers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns the local layer's statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
