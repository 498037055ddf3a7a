// ABOUTME: TTL cache that tracks already-processed update keys
// ABOUTME: Guards the bot poll loop against redelivered updates

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	seenAt time.Time
	elem   *list.Element
}

// Cache remembers which update keys have already been handled. Entries
// expire after the TTL, and the oldest entry is evicted once the cache
// reaches its size limit. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest key at the front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and size limit. A background
// goroutine sweeps expired entries until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen atomically checks whether key was already handled and records it
// if not. Returns true for a duplicate, false for a first sighting.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && time.Since(e.seenAt) < c.ttl {
		return true
	}

	c.record(key)
	return false
}

// Check reports whether key was already handled, without recording it.
// Pair with Mark when handling can fail and the key must stay retryable.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return ok && time.Since(e.seenAt) < c.ttl
}

// Mark records key as handled.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(key)
}

// record inserts or refreshes key. Must be called with mu held.
func (c *Cache) record(key string) {
	now := time.Now()

	if e, ok := c.entries[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.entries, oldest)
		}
	}

	c.entries[key] = &entry{
		seenAt: now,
		elem:   c.order.PushBack(key),
	}
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.dropExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) dropExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.Sub(e.seenAt) > c.ttl {
			c.order.Remove(e.elem)
			delete(c.entries, key)
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
