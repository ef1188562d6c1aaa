// Package ttlcache implements the sliding-expiration waiter registry owned
// exclusively by the consumer: a concurrent map from correlation id to
// *waiter.Waiter where every access resets the entry's TTL and a background
// sweep evicts entries nobody has touched recently.
package ttlcache

import (
	"sync"
	"time"

	"github.com/korvusdb/korvus-go/internal/waiter"
)

type entry struct {
	value      *waiter.Waiter
	lastAccess time.Time
}

// Cache is a concurrent map[string]*waiter.Waiter with sliding expiration.
// Every removal path — explicit, swept, or bulk Close — deletes the entry
// from the map under the lock before releasing its waiter, so only the path
// that actually removed an entry releases it, and the release hook runs
// exactly once per entry.
type Cache struct {
	slidingExpiration time.Duration
	evictionInterval  time.Duration
	onEvict           func(*waiter.Waiter)

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Cache and starts its background sweep goroutine. Callers
// must call Close to stop the sweep and release every remaining entry.
// onEvict, if non-nil, is called once per waiter the sweep releases for
// having gone stale — not for waiters removed by TryRemove or by Close,
// which are not TTL evictions.
func New(slidingExpiration, evictionInterval time.Duration, onEvict func(*waiter.Waiter)) *Cache {
	if slidingExpiration <= 0 {
		slidingExpiration = 30 * time.Second
	}
	if evictionInterval <= 0 {
		evictionInterval = 5 * time.Second
	}
	c := &Cache{
		slidingExpiration: slidingExpiration,
		evictionInterval:  evictionInterval,
		onEvict:           onEvict,
		entries:           make(map[string]*entry),
		stopCh:            make(chan struct{}),
	}
	c.wg.Add(1)
	go c.sweepLoop()
	return c
}

// TryAdd inserts value under key if absent, atomically with respect to
// TryGet and the sweep. It returns false if key is already present.
func (c *Cache) TryAdd(key string, value *waiter.Waiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		return false
	}
	c.entries[key] = &entry{value: value, lastAccess: time.Now()}
	return true
}

// TryGet returns the value for key and resets its last-access timestamp,
// or reports false if no such key is present.
func (c *Cache) TryGet(key string) (*waiter.Waiter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e.lastAccess = time.Now()
	return e.value, true
}

// TryRemove removes key, releasing its waiter exactly once, and reports
// whether it was present.
func (c *Cache) TryRemove(key string) (*waiter.Waiter, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if !ok {
		return nil, false
	}
	e.value.Release()
	return e.value, true
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()

	var expired []*waiter.Waiter
	c.mu.Lock()
	for key, e := range c.entries {
		if now.Sub(e.lastAccess) > c.slidingExpiration {
			expired = append(expired, e.value)
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	// Release outside the lock: release hooks must never block on the
	// cache's own mutex (a waiter's cancellation signal has no reason to
	// touch the cache).
	for _, v := range expired {
		v.Release()
		if c.onEvict != nil {
			c.onEvict(v)
		}
	}
}

// Close stops the sweep goroutine and releases every remaining entry
// exactly once, matching the connection-close path where every pending
// waiter must be woken with a cancellation signal.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()

	c.mu.Lock()
	remaining := make([]*waiter.Waiter, 0, len(c.entries))
	for key, e := range c.entries {
		remaining = append(remaining, e.value)
		delete(c.entries, key)
	}
	c.mu.Unlock()

	for _, v := range remaining {
		v.Release()
	}
}

// Len reports the current entry count; used by tests and metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
