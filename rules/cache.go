package rules

import (
	"context"
	"time"
)

// RulesCache caches the active rules list read by the sweep and the dispatcher.
// This allows swapping between in-memory and Redis implementations.
type RulesCache interface {
	// Get returns the cached rules and false on a miss or expiry
	Get(ctx context.Context) ([]*Rule, bool)

	// Set stores rules in cache
	Set(ctx context.Context, rules []*Rule) error

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate(ctx context.Context) error
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 5 * time.Minute,
	}
}
