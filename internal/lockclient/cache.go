package lockclient

import (
	"sync"
	"time"

	"github.com/jbacus/auxin/internal/lockapi"
)

// Cache holds the last lock record the client observed. Only the Client
// writes it; everyone else reads snapshots for display.
type Cache struct {
	mu        sync.RWMutex
	lock      *lockapi.Lock
	checkedAt time.Time
}

// Snapshot returns a copy of the cached record and when it was observed.
func (c *Cache) Snapshot() (*lockapi.Lock, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lock == nil {
		return nil, c.checkedAt
	}
	cp := *c.lock
	return &cp, c.checkedAt
}

// Believed reports whether the cache thinks a lock is held at now. It is
// advisory only.
func (c *Cache) Believed(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lock.Live(now)
}

func (c *Cache) set(l *lockapi.Lock, at time.Time) {
	cp := *l
	c.mu.Lock()
	c.lock = &cp
	c.checkedAt = at
	c.mu.Unlock()
}

func (c *Cache) clear(at time.Time) {
	c.mu.Lock()
	c.lock = nil
	c.checkedAt = at
	c.mu.Unlock()
}
