package engine

import (
	"context"

	http1driver "github.com/relaywire/httpcore/pkg/transport/http1"
	http2driver "github.com/relaywire/httpcore/pkg/transport/http2"

	"github.com/relaywire/httpcore/pkg/errors"
	"github.com/relaywire/httpcore/pkg/pool"
	"github.com/relaywire/httpcore/pkg/route"
	"github.com/relaywire/httpcore/pkg/timing"
	"github.com/relaywire/httpcore/pkg/transport"
)

// connection bundles a Transport with the pooled Connection backing it,
// so callers can return it to the pool (or evict it) once the exchange
// finishes.
type connection struct {
	transport transport.Transport
	pooled    *pool.Connection
	addr      route.Address
	isHTTP2   bool
}

// connect prefers a pooled connection (HTTP/1 idle or HTTP/2 shared),
// else pulls the next candidate from the Route Selector and opens a
// fresh one. Failures to dial are reported to the selector (demoting the
// route) and the loop tries the next candidate; the loop itself
// terminates when the selector is exhausted.
func (e *Engine) connect(ctx context.Context, addr route.Address, sel *route.Selector, allowStaleGET bool) (*connection, error) {
	if c := e.Pool.GetShared(addr); c != nil {
		if conn, ok := c.Handle().(*http2driver.Conn); ok {
			c.AcquireStream()
			return &connection{transport: http2driver.New(conn, routeOf(c)), pooled: c, addr: addr, isHTTP2: true}, nil
		}
	}
	if c := e.Pool.GetIdle(addr, allowStaleGET); c != nil {
		return &connection{transport: http1driver.New(c.Conn, c.Route), pooled: c, addr: addr}, nil
	}

	for {
		rt, err := sel.Next(ctx)
		if err != nil {
			return nil, errors.NewRoute("route selector exhausted", addr.Host, addr.Port, err)
		}

		conn, dialErr := e.Dialer.Dial(ctx, rt, timing.NewTimer())
		if dialErr != nil {
			sel.ConnectFailed(rt, dialErr)
			continue
		}

		protocol := "http/1.1"
		if addr.Scheme == "https" {
			protocol = transport.NegotiatedProtocol(conn)
			if protocol == "" {
				protocol = "http/1.1"
			}
		}

		if protocol == "h2" {
			h2conn, err := http2driver.NewConn(conn, rt)
			if err != nil {
				conn.Close()
				sel.ConnectFailed(rt, err)
				continue
			}
			pc := &pool.Connection{Conn: conn, Route: rt, Protocol: "h2", Multiplexed: true}
			pc.SetHandle(h2conn)
			pc.AcquireStream()
			e.Pool.PutShared(addr, pc)
			return &connection{transport: http2driver.New(h2conn, rt), pooled: pc, addr: addr, isHTTP2: true}, nil
		}

		pc := &pool.Connection{Conn: conn, Route: rt, Protocol: "http/1.1"}
		pc.SetOwner(struct{}{})
		return &connection{transport: http1driver.New(conn, rt), pooled: pc, addr: addr}, nil
	}
}

func routeOf(c *pool.Connection) route.Route { return c.Route }

// newSelector lazily creates the Route Selector for addr.
func newSelector(e *Engine, addr route.Address) *route.Selector {
	return route.NewSelector(addr, e.RouteDB, e.Resolver, e.ProxySel)
}

// release returns a connection to the pool (HTTP/1) or decrements its
// stream count (HTTP/2), per CanReuseConnection()'s verdict. A
// non-reusable connection is evicted instead.
func (e *Engine) release(c *connection) {
	if c.isHTTP2 {
		c.pooled.ReleaseStream()
		if !c.transport.CanReuseConnection() {
			c.pooled.Close()
		}
		return
	}

	if c.transport.CanReuseConnection() {
		e.Pool.PutIdle(c.addr, c.pooled)
	} else {
		c.pooled.Close()
	}
}
