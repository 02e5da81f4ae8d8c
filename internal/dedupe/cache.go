// ABOUTME: Bounded TTL cache of inbound request IDs, keyed per connection
// ABOUTME: Lets the dispatcher drop client retries of a request it already applied

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type requestKey struct {
	connID    string
	requestID string
}

type entry struct {
	key    requestKey
	seenAt time.Time
}

// Cache remembers (connection, request id) pairs for ttl. The list holds
// entries in first-seen order, so expired entries are always at the front.
type Cache struct {
	mu      sync.Mutex
	entries map[requestKey]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its background sweep. Close stops it.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[requestKey]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Seen reports whether requestID was already seen on connID within the TTL,
// and records it if not. An empty requestID is never deduplicated.
func (c *Cache) Seen(connID, requestID string) bool {
	if requestID == "" {
		return false
	}
	key := requestKey{connID: connID, requestID: requestID}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		if now.Sub(elem.Value.(*entry).seenAt) < c.ttl {
			return true
		}
		c.remove(elem)
	}

	for len(c.entries) >= c.maxSize {
		c.remove(c.order.Front())
	}
	c.entries[key] = c.order.PushBack(&entry{key: key, seenAt: now})
	return false
}

// Len returns the number of remembered requests, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// remove must be called with mu held.
func (c *Cache) remove(elem *list.Element) {
	e := c.order.Remove(elem).(*entry)
	delete(c.entries, e.key)
}

func (c *Cache) sweepLoop() {
	interval := c.ttl
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired entries from the front of the list.
func (c *Cache) sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Sub(front.Value.(*entry).seenAt) < c.ttl {
			break
		}
		c.remove(front)
		removed++
	}
	return removed
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
