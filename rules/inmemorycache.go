package rules

import (
	"context"
	"sync"
	"time"
)

// InMemoryRulesCache is a simple in-memory implementation of RulesCache
// Thread-safe for concurrent access
type InMemoryRulesCache struct {
	rules    []*Rule
	cachedAt time.Time
	config   CacheConfig
	mu       sync.RWMutex
	isValid  bool
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		config: config,
	}
}

// Get retrieves cached rules
func (c *InMemoryRulesCache) Get(_ context.Context) ([]*Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return nil, false
	}

	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil, false
	}

	// Return copies to prevent external modifications
	return cloneRules(c.rules), true
}

// Set stores rules in cache
func (c *InMemoryRulesCache) Set(_ context.Context, rules []*Rule) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = cloneRules(rules)
	c.cachedAt = time.Now()
	c.isValid = true
	return nil
}

// Invalidate clears the cache
func (c *InMemoryRulesCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.rules = nil
	return nil
}

func cloneRules(rules []*Rule) []*Rule {
	out := make([]*Rule, len(rules))
	for i, r := range rules {
		out[i] = r.Clone()
	}
	return out
}
