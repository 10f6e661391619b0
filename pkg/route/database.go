package route

import (
	"sync"
	"time"
)

// Database is a synchronized route-failure blacklist: a route that
// failed is demoted for RouteBlacklistTTL so it is tried only after
// every other candidate (the "postponed" list), then falls out of the
// blacklist once the TTL elapses.
type Database struct {
	mu       sync.Mutex
	failedAt map[string]time.Time
	ttl      time.Duration
}

// NewDatabase returns an empty Database with the given blacklist TTL.
func NewDatabase(ttl time.Duration) *Database {
	return &Database{failedAt: make(map[string]time.Time), ttl: ttl}
}

// Failed marks route as having failed just now.
func (d *Database) Failed(r Route) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failedAt[r.Key()] = time.Now()
}

// IsBlacklisted reports whether route failed within the TTL window.
func (d *Database) IsBlacklisted(r Route) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.failedAt[r.Key()]
	if !ok {
		return false
	}
	if time.Since(t) > d.ttl {
		delete(d.failedAt, r.Key())
		return false
	}
	return true
}
