package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process Cache for tests and single-node development.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
	done chan struct{}
	once sync.Once
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		data: make(map[string]memoryEntry),
		now:  time.Now,
		done: make(chan struct{}),
	}
	go c.cleanupRoutine()
	return c
}

func (c *MemoryCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.data[key] = entry
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookup(key)
	if !ok {
		return "", ErrMiss
	}
	return entry.value, nil
}

func (c *MemoryCache) GetDel(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookup(key)
	if !ok {
		return "", ErrMiss
	}
	delete(c.data, key)
	return entry.value, nil
}

func (c *MemoryCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Close stops the background cleanup goroutine.
func (c *MemoryCache) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// lookup must be called with c.mu held.
func (c *MemoryCache) lookup(key string) (memoryEntry, bool) {
	entry, ok := c.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if c.expired(entry, c.now()) {
		delete(c.data, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (c *MemoryCache) expired(entry memoryEntry, now time.Time) bool {
	return !entry.expiresAt.IsZero() && now.After(entry.expiresAt)
}

func (c *MemoryCache) cleanupRoutine() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.data {
		if c.expired(entry, now) {
			delete(c.data, key)
		}
	}
}
