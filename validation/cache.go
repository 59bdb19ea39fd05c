package validation

import (
	"sync"
	"time"
)

// RuleCache caches the enabled-rules list between runs so a postgres-backed
// registry is not queried on every ValidateAll. Implementations must be safe
// for concurrent use.
type RuleCache interface {
	// Get returns the cached rules, or nil on a miss or expiry.
	Get() []*Rule

	// Set stores the rules.
	Set(rules []*Rule)

	// Invalidate clears the cache; the next Get misses.
	Invalidate()
}

// memoryRuleCache is the default RuleCache: a mutex-guarded slice with an
// optional TTL (zero means invalidation only happens on mutation). Rules are
// cloned on the way in and out, so callers never hold cache-internal state.
type memoryRuleCache struct {
	rules    []*Rule
	cachedAt time.Time
	ttl      time.Duration
	valid    bool
	mu       sync.RWMutex
}

// NewMemoryRuleCache creates a RuleCache holding entries for ttl; pass zero
// for manual invalidation only.
func NewMemoryRuleCache(ttl time.Duration) RuleCache {
	return &memoryRuleCache{ttl: ttl}
}

func (c *memoryRuleCache) Get() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid {
		return nil
	}
	if c.ttl > 0 && time.Since(c.cachedAt) > c.ttl {
		return nil
	}

	out := make([]*Rule, len(c.rules))
	for i, rule := range c.rules {
		out[i] = rule.Clone()
	}
	return out
}

func (c *memoryRuleCache) Set(rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make([]*Rule, len(rules))
	for i, rule := range rules {
		c.rules[i] = rule.Clone()
	}
	c.cachedAt = time.Now()
	c.valid = true
}

func (c *memoryRuleCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	c.rules = nil
}
