package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hanwool-dev/wakebattle/internal/domain"
	"github.com/hanwool-dev/wakebattle/internal/store"
)

// Cache is a read-through cache in front of the persistence layer,
// keyed by battle id with a fixed TTL. Mutating callers must replace or
// invalidate the entry before returning so readers never observe stale
// post-mutation state.
type Cache struct {
	store store.Store
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	battle  *domain.Battle
	expires time.Time
}

func New(s store.Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{store: s, ttl: ttl, entries: make(map[string]entry)}
}

// Get returns the cached battle or consults the store and populates the
// cache on a miss. Returns (nil, nil) when the battle does not exist.
func (c *Cache) Get(ctx context.Context, id string) (*domain.Battle, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		if time.Now().Before(e.expires) {
			return e.battle, nil
		}
		// lazy expiry
		c.Invalidate(id)
	}
	b, err := c.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b != nil {
		c.Put(b)
	}
	return b, nil
}

// Put replaces the cache entry for b.
func (c *Cache) Put(b *domain.Battle) {
	if b == nil || b.ID == "" {
		return
	}
	c.mu.Lock()
	c.entries[b.ID] = entry{battle: b, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Resident returns the battles currently cached and unexpired. The sync
// job uses this as the in-memory-resident set to flush.
func (c *Cache) Resident() []*domain.Battle {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Battle, 0, len(c.entries))
	for _, e := range c.entries {
		if now.Before(e.expires) {
			out = append(out, e.battle)
		}
	}
	return out
}

// Sweep drops expired entries. Called from the housekeeping tick.
func (c *Cache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
