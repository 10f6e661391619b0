// Package transport provides the Dialer (TCP/proxy/TLS connection
// establishment, dialer.go) and the Transport interface that the HTTP/1
// and HTTP/2 wire drivers (pkg/transport/http1, pkg/transport/http2)
// implement against a dialed connection. This package only opens sockets
// and speaks the wire protocol over them; pkg/pool owns idle-connection
// reuse.
package transport

import (
	"context"
	"io"
	"time"

	"github.com/relaywire/httpcore/pkg/constants"
	"github.com/relaywire/httpcore/pkg/headers"
	"github.com/relaywire/httpcore/pkg/route"
)

// DiscardStreamTimeout bounds how long draining a residual response body
// for pool reuse may take; past it, the connection is closed instead of
// drained.
const DiscardStreamTimeout = constants.DiscardStreamTimeout

// Request is the network-level request a Transport writes to the wire:
// the user request after the Request Engine has applied defaults (Host,
// Connection, Accept-Encoding, User-Agent, Cookie).
type Request struct {
	Method  string
	URL     string // absolute URL; the drivers write Path and Host, not URL
	Path    string
	Host    string
	Headers *headers.Headers
	Body    io.Reader // nil for bodyless requests
	BodyLen int64     // -1 if unknown (forces chunked on HTTP/1)
}

// Response is the network-level response a Transport produces: headers
// are available as soon as ReadResponseHeaders returns, the body is a
// one-shot stream opened separately so the Request Engine can interleave
// cache-teeing and gzip decoding.
type Response struct {
	Proto      string // "HTTP/1.1" or "HTTP/2"
	StatusCode int
	Status     string
	Headers    *headers.Headers
	SentAt     time.Time
	ReceivedAt time.Time
}

// Transport is the wire-protocol contract implemented separately by the
// HTTP/1 and HTTP/2 drivers.
type Transport interface {
	// WriteRequestHeaders emits the request start-line + headers.
	WriteRequestHeaders(ctx context.Context, req *Request) error

	// CreateRequestBody returns a sink that frames written bytes onto the
	// wire appropriately (chunked, fixed-length, or HTTP/2 DATA frames).
	CreateRequestBody(req *Request) (io.WriteCloser, error)

	// FinishRequest completes request framing (the HTTP/2 END_STREAM DATA
	// frame; over HTTP/1 the terminating chunk is written by closing the
	// body sink, and FinishRequest does nothing).
	FinishRequest() error

	// ReadResponseHeaders blocks until the status line and headers are
	// available.
	ReadResponseHeaders(ctx context.Context) (*Response, error)

	// OpenResponseBody returns a stream framed by Content-Length, chunked
	// encoding, or HTTP/2 end-of-stream.
	OpenResponseBody(resp *Response) (io.ReadCloser, error)

	// ReleaseConnectionOnIdle is a hook for returning the underlying
	// socket to the pool once the body is consumed; both the HTTP/1 and
	// HTTP/2 drivers implement it as a no-op.
	ReleaseConnectionOnIdle()

	// CanReuseConnection reports whether the connection survived without
	// a protocol error or a "Connection: close" from the peer.
	CanReuseConnection() bool

	// Disconnect forcibly drops the socket, used by cancellation.
	Disconnect() error

	// Route reports which Route this transport is bound to, for
	// recovery bookkeeping.
	Route() route.Route
}
