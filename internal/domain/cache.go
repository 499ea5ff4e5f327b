package domain

import (
	"context"
	"time"
)

// Cache is a read-through cache for evaluation results, keyed by signal set
// ID within a tenant. Backed by a local LRU (Community), Redis, or both
// layered (Pro two-phase).
type Cache interface {
	// GetSignalSet retrieves a cached evaluation result by ID.
	// Returns nil, nil on a miss.
	GetSignalSet(ctx context.Context, tenantID string, id string) (*SignalSet, error)

	// SetSignalSet caches an evaluation result for fast retrieval.
	SetSignalSet(ctx context.Context, tenantID string, set *SignalSet, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
