package http2

import (
	"context"
	"io"

	"github.com/relaywire/httpcore/pkg/errors"
	"github.com/relaywire/httpcore/pkg/headers"
	"github.com/relaywire/httpcore/pkg/route"
	"github.com/relaywire/httpcore/pkg/transport"
)

// Driver is a transport.Transport bound to one stream of a shared Conn.
// Unlike http1.Driver, many Drivers share the same underlying socket —
// this is what lets pkg/pool track an HTTP/2 Connection's StreamCount
// instead of treating it as single-owner.
type Driver struct {
	conn     *Conn
	streamID uint32
	stream   *streamState
	route    route.Route
}

// New opens a fresh stream on an already-established shared connection.
func New(conn *Conn, r route.Route) *Driver {
	id, st := conn.openStream()
	return &Driver{conn: conn, streamID: id, stream: st, route: r}
}

func (d *Driver) Route() route.Route { return d.route }

// WriteRequestHeaders translates the request line into HTTP/2
// pseudo-headers (:method, :path, :scheme, :authority) ahead of the
// regular header fields, per RFC 7540 §8.1.2.3.
func (d *Driver) WriteRequestHeaders(ctx context.Context, req *transport.Request) error {
	h := headers.New()
	h.AddLenient(":method", req.Method)
	h.AddLenient(":path", req.Path)
	h.AddLenient(":scheme", "https")
	h.AddLenient(":authority", req.Host)
	for i := 0; i < req.Headers.Len(); i++ {
		name := req.Headers.NameAt(i)
		if name == "Host" || name == "Connection" {
			continue // HTTP/2 forbids connection-specific headers (RFC 7540 §8.1.2.2)
		}
		h.AddLenient(name, req.Headers.ValueAt(i))
	}

	endStream := req.Body == nil
	if err := d.conn.writeHeaders(d.streamID, h, endStream); err != nil {
		return errors.NewProtocol("writing HEADERS frame", err)
	}
	return nil
}

type dataWriter struct {
	conn     *Conn
	streamID uint32
}

func (w dataWriter) Write(p []byte) (int, error) {
	if err := w.conn.writeData(w.streamID, p, false); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w dataWriter) Close() error { return nil }

func (d *Driver) CreateRequestBody(req *transport.Request) (io.WriteCloser, error) {
	return dataWriter{conn: d.conn, streamID: d.streamID}, nil
}

func (d *Driver) FinishRequest() error {
	return d.conn.finish(d.streamID)
}

func (d *Driver) ReadResponseHeaders(ctx context.Context) (*transport.Response, error) {
	select {
	case h := <-d.stream.headers:
		return &transport.Response{
			Proto:      "HTTP/2",
			StatusCode: h.status,
			Headers:    h.headers,
		}, nil
	case err := <-d.stream.errc:
		return nil, err
	case <-ctx.Done():
		return nil, errors.NewTimeout("reading HTTP/2 response headers", 0)
	}
}

// streamBodyReader drains a stream's DATA channel until the connection's
// read loop closes it (end-of-stream) or reports an error.
type streamBodyReader struct {
	stream *streamState
	conn   *Conn
	id     uint32
	pend   []byte
}

func (r *streamBodyReader) Read(p []byte) (int, error) {
	for len(r.pend) == 0 {
		select {
		case chunk, ok := <-r.stream.data:
			if !ok {
				return 0, io.EOF
			}
			r.pend = chunk
		case err := <-r.stream.errc:
			return 0, err
		}
	}
	n := copy(p, r.pend)
	r.pend = r.pend[n:]
	return n, nil
}

func (r *streamBodyReader) Close() error {
	r.conn.closeStream(r.id)
	return nil
}

func (d *Driver) OpenResponseBody(resp *transport.Response) (io.ReadCloser, error) {
	return &streamBodyReader{stream: d.stream, conn: d.conn, id: d.streamID}, nil
}

// ReleaseConnectionOnIdle is a no-op: HTTP/2 streams release themselves to
// the shared connection's available-stream-slot count as soon as the
// response body is closed (see pkg/pool's StreamCount bookkeeping).
func (d *Driver) ReleaseConnectionOnIdle() {}

// CanReuseConnection is always true: a single failed stream (RST_STREAM)
// does not invalidate the shared connection for other streams.
func (d *Driver) CanReuseConnection() bool { return true }

// Disconnect closes the whole shared connection, not just this stream —
// used when the Request Engine decides the connection itself is broken
// (e.g. a GOAWAY was observed).
func (d *Driver) Disconnect() error {
	return d.conn.Close()
}
