// ABOUTME: Thread-safe TTL cache for suppressing duplicate event deliveries
// ABOUTME: Used by session managers because the bus delivers at-least-once

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry holds the mark time and the list element for a cached key.
type entry struct {
	markedAt time.Time
	elem     *list.Element
}

// Cache tracks recently seen keys with a TTL and a size bound. Insertion
// order is kept in a linked list so eviction of the oldest key is O(1).
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest key at the front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size. A background
// goroutine sweeps expired entries until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// CheckAndMark atomically checks whether key was seen within the TTL and
// marks it if not. Returns true for a duplicate, false for a new key.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	if ok && time.Since(e.markedAt) < c.ttl {
		return true
	}

	c.mark(key)
	return false
}

// mark records a key. Must be called with mu held.
func (c *Cache) mark(key string) {
	now := time.Now()

	if e, exists := c.seen[key]; exists {
		e.markedAt = now
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			old, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, old)
		}
	}

	c.seen[key] = &entry{
		markedAt: now,
		elem:     c.order.PushBack(key),
	}
}

// sweep periodically removes expired entries.
func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.done:
			return
		}
	}
}

// expire drops every entry older than the TTL.
func (c *Cache) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.seen {
		if now.Sub(e.markedAt) > c.ttl {
			c.order.Remove(e.elem)
			delete(c.seen, key)
		}
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Close stops the background sweeper. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
