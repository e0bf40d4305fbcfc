// ABOUTME: Thread-safe TTL cache for idempotent request handling.
// ABOUTME: Tracks in-flight keys and remembers completed results so retries replay instead of re-running.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// State reports what Begin found for a key.
type State int

const (
	// Started means the key was unknown and is now marked in flight.
	// The caller owns it and must call Complete or Abandon.
	Started State = iota

	// InFlight means another caller owns the key and has not finished.
	InFlight

	// Completed means the key finished within the TTL; the stored result is
	// returned.
	Completed
)

func (s State) String() string {
	switch s {
	case Started:
		return "started"
	case InFlight:
		return "in_flight"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Claim is a caller's ownership of an in-flight key, returned by Begin.
// Complete and Abandon only act while the claim is still current, so a
// caller whose key expired and was reclaimed cannot disturb the new owner.
type Claim struct {
	key   string
	token uint64
}

// cacheEntry stores the timestamp, result, and list element for a key.
type cacheEntry[V any] struct {
	timestamp time.Time
	done      bool
	claim     uint64 // token of the in-flight owner
	value     V
	element   *list.Element
}

// Cache provides a thread-safe, TTL-based, size-limited record of request
// keys and their results. Uses a doubly-linked list to maintain insertion
// order for O(1) eviction.
type Cache[V any] struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry[V]
	order   *list.List // List of keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	tokens  uint64
	done    chan struct{}
	closed  bool
}

// New creates a new cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	c := &Cache[V]{
		seen:    make(map[string]*cacheEntry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup(cleanupInterval(ttl))
	return c
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Begin atomically looks up key and claims it if absent or expired.
// This prevents TOCTOU races between concurrent duplicates. The returned
// Claim is only meaningful when the state is Started.
func (c *Cache[V]) Begin(key string) (V, State, Claim) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	if entry, ok := c.seen[key]; ok && !c.expiredLocked(entry) {
		if entry.done {
			return entry.value, Completed, Claim{}
		}
		return zero, InFlight, Claim{}
	}

	c.tokens++
	claim := Claim{key: key, token: c.tokens}
	c.putLocked(key, zero, false, claim.token)
	return zero, Started, claim
}

// Complete stores the result for a claim returned by Begin. The TTL restarts
// from completion. A claim superseded by another caller is ignored.
func (c *Cache[V]) Complete(claim Claim, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[claim.key]; ok && (entry.done || entry.claim != claim.token) {
		return
	}
	c.putLocked(claim.key, value, true, 0)
}

// Abandon releases a claim without recording a result, so a retry runs
// again. Completed keys and keys now owned by another claim are left alone.
func (c *Cache[V]) Abandon(claim Claim) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[claim.key]
	if !ok || entry.done || entry.claim != claim.token {
		return
	}
	c.order.Remove(entry.element)
	delete(c.seen, claim.key)
}

// Lookup returns the stored result for a completed, unexpired key.
func (c *Cache[V]) Lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.seen[key]
	if !ok || !entry.done || c.expiredLocked(entry) {
		return zero, false
	}
	return entry.value, true
}

// Len returns the number of tracked keys, including expired ones not yet
// cleaned up.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache[V]) expiredLocked(entry *cacheEntry[V]) bool {
	return c.now().Sub(entry.timestamp) >= c.ttl
}

// putLocked inserts or refreshes key. Must be called with mu held.
func (c *Cache[V]) putLocked(key string, value V, done bool, claim uint64) {
	now := c.now()

	// If key already exists, update it and move to back
	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		entry.value = value
		entry.done = done
		entry.claim = claim
		c.order.MoveToBack(entry.element)
		return
	}

	// Evict oldest if at capacity
	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry[V]{
		timestamp: now,
		done:      done,
		claim:     claim,
		value:     value,
		element:   elem,
	}
}

// evictOldest removes the oldest completed entry from the cache. In-flight
// keys are never evicted; if every entry is in flight the cache grows past
// maxSize until one finishes. Must be called with mu held.
func (c *Cache[V]) evictOldest() {
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		key, _ := elem.Value.(string)
		if entry := c.seen[key]; entry != nil && !entry.done {
			continue
		}
		c.order.Remove(elem)
		delete(c.seen, key)
		return
	}
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache[V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache[V]) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.seen {
		if c.expiredLocked(entry) {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
