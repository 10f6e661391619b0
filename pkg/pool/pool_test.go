package pool

import (
	"net"
	"testing"
	"time"

	"github.com/relaywire/httpcore/pkg/route"
)

func newPipeConnection(t *testing.T, addr route.Address) (*Connection, net.Conn) {
	t.Helper()
	client, peer := net.Pipe()
	t.Cleanup(func() { peer.Close() })
	return &Connection{Conn: client, Route: route.Route{Address: addr}, Protocol: "http/1.1", CreatedAt: time.Now()}, peer
}

func TestPutIdleThenGetIdleReturnsSameConnection(t *testing.T) {
	p := New(Config{MaxIdlePerHost: 2, MaxIdleTime: time.Minute, SweepInterval: time.Hour})
	t.Cleanup(func() { p.Close() })

	addr := route.Address{Scheme: "http", Host: "example.com", Port: 80}
	conn, peer := newPipeConnection(t, addr)
	defer peer.Close()

	p.PutIdle(addr, conn)
	got := p.GetIdle(addr, true)
	if got != conn {
		t.Fatalf("expected GetIdle to return the connection just put back")
	}
	if p.GetIdle(addr, true) != nil {
		t.Errorf("expected the idle bucket to be empty after checkout")
	}
}

func TestPutIdleEvictsOldestBeyondMaxIdlePerHost(t *testing.T) {
	p := New(Config{MaxIdlePerHost: 1, MaxIdleTime: time.Minute, SweepInterval: time.Hour})
	t.Cleanup(func() { p.Close() })

	addr := route.Address{Scheme: "http", Host: "example.com", Port: 80}
	first, firstPeer := newPipeConnection(t, addr)
	defer firstPeer.Close()
	second, secondPeer := newPipeConnection(t, addr)
	defer secondPeer.Close()

	p.PutIdle(addr, first)
	p.PutIdle(addr, second)

	if got := p.GetIdle(addr, true); got != second {
		t.Fatalf("expected the most recently idled connection to survive eviction")
	}
	if p.GetIdle(addr, true) != nil {
		t.Errorf("expected only one surviving idle connection")
	}
}

func TestGetIdleSkipsDeadConnectionsUnlessAllowStale(t *testing.T) {
	p := New(Config{MaxIdlePerHost: 2, MaxIdleTime: time.Minute, SweepInterval: time.Hour})
	t.Cleanup(func() { p.Close() })

	addr := route.Address{Scheme: "http", Host: "example.com", Port: 80}
	conn, peer := newPipeConnection(t, addr)
	peer.Close() // close the peer side so isAlive's probe observes EOF

	p.PutIdle(addr, conn)
	if got := p.GetIdle(addr, false); got != nil {
		t.Errorf("expected a dead connection to be skipped when allowStale is false")
	}
}

func TestSharedConnectionsAreNotRemovedByGetIdle(t *testing.T) {
	p := New(Config{MaxIdlePerHost: 2, MaxIdleTime: time.Minute, SweepInterval: time.Hour})
	t.Cleanup(func() { p.Close() })

	addr := route.Address{Scheme: "https", Host: "example.com", Port: 443}
	conn, peer := newPipeConnection(t, addr)
	defer peer.Close()
	conn.Multiplexed = true

	p.PutShared(addr, conn)
	if got := p.GetShared(addr); got != conn {
		t.Fatalf("expected GetShared to return the registered shared connection")
	}
	if got := p.GetShared(addr); got != conn {
		t.Errorf("expected GetShared to be repeatable for a still-live shared connection")
	}

	stats := p.Stats()
	if stats.SharedConnections != 1 {
		t.Errorf("Stats().SharedConnections = %d, want 1", stats.SharedConnections)
	}
}

func TestConnectionStreamCounting(t *testing.T) {
	addr := route.Address{Scheme: "https", Host: "example.com", Port: 443}
	conn, peer := newPipeConnection(t, addr)
	defer peer.Close()

	conn.AcquireStream()
	conn.AcquireStream()
	if got := conn.StreamCount(); got != 2 {
		t.Fatalf("StreamCount() = %d, want 2", got)
	}
	conn.ReleaseStream()
	if got := conn.StreamCount(); got != 1 {
		t.Errorf("StreamCount() = %d, want 1", got)
	}
	conn.ReleaseStream()
	conn.ReleaseStream() // releasing past zero must not underflow
	if got := conn.StreamCount(); got != 0 {
		t.Errorf("StreamCount() = %d, want 0 after over-release", got)
	}
}

func TestOwnerRoundTrip(t *testing.T) {
	addr := route.Address{Scheme: "http", Host: "example.com", Port: 80}
	conn, peer := newPipeConnection(t, addr)
	defer peer.Close()

	if conn.Owner() != nil {
		t.Fatalf("expected a fresh connection to have no owner")
	}
	owner := struct{ id int }{id: 1}
	conn.SetOwner(owner)
	if conn.Owner() != owner {
		t.Errorf("Owner() did not return the value passed to SetOwner")
	}
	conn.MarkIdle()
	if conn.Owner() != nil {
		t.Errorf("expected MarkIdle to clear the owner")
	}
}

func TestCloseStopsSweepAndClosesPooledConnections(t *testing.T) {
	p := New(Config{MaxIdlePerHost: 2, MaxIdleTime: time.Minute, SweepInterval: time.Hour})
	addr := route.Address{Scheme: "http", Host: "example.com", Port: 80}
	conn, peer := newPipeConnection(t, addr)
	defer peer.Close()
	p.PutIdle(addr, conn)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// net.Pipe reports io.ErrClosedPipe from SetReadDeadline once closed.
	if err := conn.Conn.SetReadDeadline(time.Now()); err == nil {
		t.Errorf("expected Close to close the pooled connection")
	}
	// A second Close would panic on the already-closed stopCh; Pool.Close
	// is documented as a one-shot shutdown, so this is not re-tested here.
}
