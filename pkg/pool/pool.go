// Package pool implements a connection pool: a route.Address-keyed cache
// of live sockets with liveness checks and idle eviction, extended to hand
// out a shared reference for HTTP/2 (multiplexed, checked out concurrently
// by many callers) alongside exclusive HTTP/1 ownership.
package pool

import (
	"net"
	"sync"
	"time"

	"github.com/relaywire/httpcore/pkg/route"
)

// Connection owns one socket, its negotiated protocol, and is the unit
// the pool manages.
type Connection struct {
	Conn        net.Conn
	Route       route.Route
	Protocol    string // "http/1.1" or "h2"
	Multiplexed bool
	CreatedAt   time.Time

	mu        sync.Mutex
	idleSince time.Time
	streams   int
	owner     interface{} // the engine currently holding this HTTP/1 connection
	evicted   bool
	handle    interface{} // protocol-specific state (e.g. the HTTP/2 *http2.Conn)
}

// SetHandle attaches protocol-specific connection state (the HTTP/2 driver
// needs the shared *http2.Conn, not just the raw net.Conn, to reuse HPACK
// and framer state across streams).
func (c *Connection) SetHandle(h interface{}) {
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
}

// Handle returns the protocol-specific state attached by SetHandle.
func (c *Connection) Handle() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// MarkIdle records that the connection has no in-flight owner.
func (c *Connection) MarkIdle() {
	c.mu.Lock()
	c.idleSince = time.Now()
	c.owner = nil
	c.mu.Unlock()
}

// SetOwner assigns exclusive HTTP/1 ownership.
func (c *Connection) SetOwner(engine interface{}) {
	c.mu.Lock()
	c.owner = engine
	c.mu.Unlock()
}

// Owner returns the current HTTP/1 owner, or nil if idle.
func (c *Connection) Owner() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// AcquireStream increments the multiplexed stream count (HTTP/2 only).
func (c *Connection) AcquireStream() {
	c.mu.Lock()
	c.streams++
	c.mu.Unlock()
}

// ReleaseStream decrements the multiplexed stream count.
func (c *Connection) ReleaseStream() {
	c.mu.Lock()
	if c.streams > 0 {
		c.streams--
	}
	c.mu.Unlock()
}

// StreamCount reports the number of in-flight streams.
func (c *Connection) StreamCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams
}

func (c *Connection) idleDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleSince.IsZero() {
		return 0
	}
	return time.Since(c.idleSince)
}

// isAlive performs a cheap liveness probe: a short read deadline that
// should see nothing but would observe EOF/RST on a dead socket.
func (c *Connection) isAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted {
		return false
	}
	if err := c.Conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false
	}
	defer c.Conn.SetReadDeadline(time.Time{})

	one := make([]byte, 1)
	n, err := c.Conn.Read(one)
	if n > 0 {
		// Unexpected leading byte: treat conservatively as dead rather
		// than silently consuming response bytes.
		return false
	}
	if err == nil {
		return true
	}
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (c *Connection) Close() error {
	c.mu.Lock()
	c.evicted = true
	c.mu.Unlock()
	return c.Conn.Close()
}

// Config bounds pool behavior.
type Config struct {
	MaxIdlePerHost int
	MaxIdleTime    time.Duration
	SweepInterval  time.Duration
}

// DefaultConfig returns conservative idle-pooling defaults.
func DefaultConfig() Config {
	return Config{
		MaxIdlePerHost: 2,
		MaxIdleTime:    90 * time.Second,
		SweepInterval:  30 * time.Second,
	}
}

type bucket struct {
	mu      sync.Mutex
	idle    []*Connection // HTTP/1, LIFO
	shared  []*Connection // HTTP/2, possibly several if the peer capped streams
}

// Pool is a route.Address-keyed connection pool.
type Pool struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New starts a Pool and its background sweep goroutine.
func New(cfg Config) *Pool {
	p := &Pool{cfg: cfg, buckets: make(map[string]*bucket), stopCh: make(chan struct{})}
	p.wg.Add(1)
	go p.sweepLoop()
	return p
}

func (p *Pool) bucketFor(addr route.Address) *bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := addr.Key()
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{}
		p.buckets[key] = b
	}
	return b
}

// GetIdle returns an idle HTTP/1 connection for addr, skipping (and
// closing) dead ones. allowStale permits reuse of a connection whose
// liveness probe fails, for idempotent requests willing to race a stale
// socket instead of paying for a fresh probe.
func (p *Pool) GetIdle(addr route.Address, allowStale bool) *Connection {
	b := p.bucketFor(addr)
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.idle) > 0 {
		c := b.idle[len(b.idle)-1]
		b.idle = b.idle[:len(b.idle)-1]
		if allowStale || c.isAlive() {
			c.SetOwner(struct{}{})
			return c
		}
		c.Close()
	}
	return nil
}

// GetShared returns a live, non-evicted HTTP/2 connection for addr if one
// exists, for the caller to check out another stream on.
func (p *Pool) GetShared(addr route.Address) *Connection {
	b := p.bucketFor(addr)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.shared {
		if c.isAlive() {
			return c
		}
	}
	return nil
}

// PutIdle returns an HTTP/1 connection to the pool, evicting the oldest
// idle connection if MaxIdlePerHost would be exceeded.
func (p *Pool) PutIdle(addr route.Address, c *Connection) {
	c.MarkIdle()
	b := p.bucketFor(addr)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.idle = append(b.idle, c)
	for len(b.idle) > p.cfg.MaxIdlePerHost {
		stale := b.idle[0]
		b.idle = b.idle[1:]
		stale.Close()
	}
}

// PutShared registers a new HTTP/2 connection for future stream checkouts.
func (p *Pool) PutShared(addr route.Address, c *Connection) {
	b := p.bucketFor(addr)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shared = append(b.shared, c)
}

// Stats summarizes pool occupancy for observability.
type Stats struct {
	IdleConnections   int
	SharedConnections int
}

// Stats returns aggregate pool occupancy across all addresses.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	keys := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		keys = append(keys, b)
	}
	p.mu.Unlock()

	var s Stats
	for _, b := range keys {
		b.mu.Lock()
		s.IdleConnections += len(b.idle)
		s.SharedConnections += len(b.shared)
		b.mu.Unlock()
	}
	return s
}

func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	p.mu.Lock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	for _, b := range buckets {
		b.mu.Lock()
		kept := b.idle[:0]
		for _, c := range b.idle {
			if c.idleDuration() > p.cfg.MaxIdleTime || !c.isAlive() {
				c.Close()
				continue
			}
			kept = append(kept, c)
		}
		b.idle = kept

		liveShared := b.shared[:0]
		for _, c := range b.shared {
			if c.isAlive() {
				liveShared = append(liveShared, c)
			} else {
				c.Close()
			}
		}
		b.shared = liveShared
		b.mu.Unlock()
	}
}

// Close stops the sweep goroutine and closes every pooled connection. It
// is a one-shot shutdown: a second call panics closing the already-closed
// stop channel.
func (p *Pool) Close() error {
	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.buckets {
		b.mu.Lock()
		for _, c := range b.idle {
			c.Close()
		}
		for _, c := range b.shared {
			c.Close()
		}
		b.mu.Unlock()
	}
	return nil
}
