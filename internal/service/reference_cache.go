package service

import (
	"sync"
	"time"

	"github.com/set-night/skylog/internal/tools"
)

// ReferenceCache holds parsed message docs for a fixed TTL.
type ReferenceCache struct {
	mu       sync.RWMutex
	docs     map[string]tools.MessageDoc
	cachedAt time.Time
	ttl      time.Duration
}

func NewReferenceCache(ttl time.Duration) *ReferenceCache {
	return &ReferenceCache{ttl: ttl}
}

// Get returns nil when the cache is empty or stale.
func (c *ReferenceCache) Get() map[string]tools.MessageDoc {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.docs == nil || time.Since(c.cachedAt) > c.ttl {
		return nil
	}
	return c.docs
}

// Stale returns whatever was cached last, fresh or not.
func (c *ReferenceCache) Stale() map[string]tools.MessageDoc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docs
}

func (c *ReferenceCache) Set(docs map[string]tools.MessageDoc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = docs
	c.cachedAt = time.Now()
}
