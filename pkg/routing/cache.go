package routing

import (
	"sync"
	"time"
)

type cacheEntry struct {
	agentID string
	expires time.Time
}

// decisionCache maps message fingerprints to routing decisions with a
// wall-clock TTL. Reads dominate; expiry is enforced lazily on Get and in
// bulk by Sweep, so a stale entry may be served briefly around its
// deadline.
type decisionCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[uint64]cacheEntry
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	return &decisionCache{
		ttl:     ttl,
		entries: make(map[uint64]cacheEntry),
	}
}

func (c *decisionCache) get(key uint64) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return "", false
	}
	return entry.agentID, true
}

func (c *decisionCache) put(key uint64, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{agentID: agentID, expires: time.Now().Add(c.ttl)}
}

// invalidate drops every decision pointing at the agent. Called when an
// agent is removed so stale routes cannot outlive it.
func (c *decisionCache) invalidate(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if entry.agentID == agentID {
			delete(c.entries, key)
		}
	}
}

// sweep evicts expired entries and reports how many went.
func (c *decisionCache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evicted int
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

func (c *decisionCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
