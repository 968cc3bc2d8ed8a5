package conversation

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// contextCache is a TTL cache of assembled Context values keyed by session
// id. singleflight ensures a cache miss under concurrent readers fills the
// entry exactly once rather than once per waiting goroutine.
type contextCache struct {
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]cacheEntry
	group singleflight.Group
}

type cacheEntry struct {
	value     *Context
	expiresAt time.Time
}

func newContextCache(ttl time.Duration) *contextCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &contextCache{ttl: ttl, items: map[string]cacheEntry{}}
}

func (c *contextCache) get(ctx context.Context, sessionID string, fill func(context.Context) (*Context, error)) (*Context, error) {
	if v, ok := c.lookup(sessionID); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(sessionID, func() (any, error) {
		if v, ok := c.lookup(sessionID); ok {
			return v, nil
		}
		fresh, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		c.store(sessionID, fresh)
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Context), nil
}

func (c *contextCache) lookup(sessionID string) (*Context, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.items[sessionID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (c *contextCache) store(sessionID string, value *Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[sessionID] = cacheEntry{value: value, expiresAt: time.Now().Add(c.ttl)}
}

func (c *contextCache) invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, sessionID)
}

func (c *contextCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = map[string]cacheEntry{}
}
