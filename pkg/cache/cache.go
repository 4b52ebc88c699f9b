package cache

import (
	"context"
	"sync"
	"time"
)

// Store is a byte-valued key/value cache with per-entry expiry.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Item represents a cached item with expiration
type Item struct {
	Value      []byte
	Expiration int64
}

// Expired checks if the cache item has expired
func (item Item) Expired(now int64) bool {
	return item.Expiration > 0 && now > item.Expiration
}

// Options configures a Memory cache
type Options struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	MaxItems        int
}

// Memory is a thread-safe in-memory Store
type Memory struct {
	items     map[string]Item
	mu        sync.RWMutex
	opts      Options
	onEvicted func(string, []byte)
	stop      chan struct{}
	stopOnce  sync.Once
}

var _ Store = (*Memory)(nil)

// NewMemory creates a cache and starts its janitor when a cleanup interval is set
func NewMemory(opts Options) *Memory {
	c := &Memory{
		items: make(map[string]Item),
		opts:  opts,
		stop:  make(chan struct{}),
	}

	if opts.CleanupInterval > 0 {
		go c.startCleanupTimer()
	}

	return c
}

// Get retrieves an item from the cache
func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found || item.Expired(time.Now().UnixNano()) {
		return nil, false, nil
	}

	return item.Value, true, nil
}

// Set adds an item; a zero ttl falls back to the default expiration
func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.opts.DefaultTTL
	}
	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.opts.MaxItems > 0 && len(c.items) >= c.opts.MaxItems {
		c.evictOldest()
	}

	c.items[key] = Item{Value: value, Expiration: exp}
	return nil
}

// Delete removes an item from the cache
func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.items[key]; found && c.onEvicted != nil {
		c.onEvicted(key, item.Value)
	}
	delete(c.items, key)
	return nil
}

// Count returns the number of items in the cache (including expired items)
func (c *Memory) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// SetOnEvicted sets the callback to be called when an item is evicted
func (c *Memory) SetOnEvicted(f func(string, []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvicted = f
}

// Close stops the janitor
func (c *Memory) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Memory) startCleanupTimer() {
	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Memory) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	for k, v := range c.items {
		if v.Expired(now) {
			if c.onEvicted != nil {
				c.onEvicted(k, v.Value)
			}
			delete(c.items, k)
		}
	}
}

// evictOldest drops the entry closest to expiry. Caller holds the lock.
func (c *Memory) evictOldest() {
	var oldestKey string
	var oldestTime int64
	first := true

	for k, v := range c.items {
		if v.Expiration == 0 {
			continue
		}
		if first || v.Expiration < oldestTime {
			oldestKey, oldestTime, first = k, v.Expiration, false
		}
	}
	if first {
		// nothing expires, drop an arbitrary entry
		for k := range c.items {
			oldestKey = k
			break
		}
	}

	if oldestKey == "" {
		return
	}
	if c.onEvicted != nil {
		c.onEvicted(oldestKey, c.items[oldestKey].Value)
	}
	delete(c.items, oldestKey)
}
