package upstream

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// responseCache holds the last good response for a short TTL. A zero TTL
// disables it.
type responseCache struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.RWMutex
	value   Response
	expires time.Time
	valid   bool
}

func newResponseCache(clock clockwork.Clock, ttl time.Duration) *responseCache {
	return &responseCache{clock: clock, ttl: ttl}
}

func (c *responseCache) get() (Response, bool) {
	if c.ttl <= 0 {
		return Response{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid || !c.clock.Now().Before(c.expires) {
		return Response{}, false
	}
	return c.value, true
}

func (c *responseCache) set(r Response) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = r
	c.expires = c.clock.Now().Add(c.ttl)
	c.valid = true
}
