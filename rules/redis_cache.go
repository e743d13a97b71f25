package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRulesCacheKey is the Redis key holding the active rules list
const DefaultRulesCacheKey = "dietrules:active-rules"

// RedisRulesCache shares the active rules list between service instances.
// Entries are JSON encoded and expire after the configured TTL.
type RedisRulesCache struct {
	client redis.Cmdable
	key    string
	config CacheConfig
}

// NewRedisRulesCache creates a Redis-backed RulesCache. An empty key uses DefaultRulesCacheKey.
func NewRedisRulesCache(client redis.Cmdable, key string, config CacheConfig) *RedisRulesCache {
	if key == "" {
		key = DefaultRulesCacheKey
	}
	return &RedisRulesCache{client: client, key: key, config: config}
}

// Get returns the cached rules. Redis errors and undecodable payloads count as a miss.
func (c *RedisRulesCache) Get(ctx context.Context) ([]*Rule, bool) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		return nil, false
	}

	var rules []*Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, false
	}
	return rules, true
}

// Set stores rules with the configured TTL
func (c *RedisRulesCache) Set(ctx context.Context, rules []*Rule) error {
	if rules == nil {
		rules = []*Rule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to cache rules: %w", err)
	}
	return nil
}

// Invalidate deletes the cached list
func (c *RedisRulesCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate rules cache: %w", err)
	}
	return nil
}
