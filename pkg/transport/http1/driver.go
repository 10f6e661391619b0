// Package http1 implements transport.Transport over a single HTTP/1.1
// connection: request-line/header writing, chunked/fixed/until-close body
// framing, and response parsing.
package http1

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/relaywire/httpcore/pkg/errors"
	"github.com/relaywire/httpcore/pkg/headers"
	"github.com/relaywire/httpcore/pkg/route"
	"github.com/relaywire/httpcore/pkg/transport"
)

const maxHeaderBytes = 64 * 1024

// Driver is a transport.Transport bound to one HTTP/1.1 net.Conn.
type Driver struct {
	conn   net.Conn
	r      *bufio.Reader
	route  route.Route
	closer bool // Connection: close seen, either way

	bodyReader io.Reader
	chunked    bool
	reuse      bool
}

// New wraps conn, already connected and (if applicable) TLS-upgraded, for
// a single request/response exchange. HTTP/1.1 connections are
// single-owner: a fresh Driver is created per reuse.
func New(conn net.Conn, r route.Route) *Driver {
	return &Driver{conn: conn, r: bufio.NewReader(conn), route: r, reuse: true}
}

func (d *Driver) Route() route.Route { return d.route }

func (d *Driver) WriteRequestHeaders(ctx context.Context, req *transport.Request) error {
	if deadline, ok := ctx.Deadline(); ok {
		d.conn.SetWriteDeadline(deadline)
		defer d.conn.SetWriteDeadline(time.Time{})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method, req.Path)
	for i := 0; i < req.Headers.Len(); i++ {
		fmt.Fprintf(&b, "%s: %s\r\n", req.Headers.NameAt(i), req.Headers.ValueAt(i))
	}
	b.WriteString("\r\n")

	if _, err := io.WriteString(d.conn, b.String()); err != nil {
		return errors.NewIO("writing request headers", err)
	}
	return nil
}

// chunkWriter frames writes as HTTP/1.1 chunked-encoding segments.
type chunkWriter struct{ w io.Writer }

func (c chunkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(c.w, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if _, err := c.w.Write(p); err != nil {
		return 0, err
	}
	if _, err := c.w.Write([]byte("\r\n")); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c chunkWriter) Close() error {
	_, err := io.WriteString(c.w, "0\r\n\r\n")
	return err
}

type fixedWriter struct{ w io.Writer }

func (f fixedWriter) Write(p []byte) (int, error) { return f.w.Write(p) }
func (f fixedWriter) Close() error                { return nil }

// CreateRequestBody picks chunked framing when BodyLen is unknown (-1),
// fixed-length framing otherwise.
func (d *Driver) CreateRequestBody(req *transport.Request) (io.WriteCloser, error) {
	if req.BodyLen < 0 {
		d.chunked = true
		return chunkWriter{w: d.conn}, nil
	}
	return fixedWriter{w: d.conn}, nil
}

func (d *Driver) FinishRequest() error { return nil }

func (d *Driver) ReadResponseHeaders(ctx context.Context) (*transport.Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		d.conn.SetReadDeadline(deadline)
		defer d.conn.SetReadDeadline(time.Time{})
	}

	sentAt := time.Now()
	statusLine, err := readLine(d.r)
	if err != nil {
		return nil, errors.NewProtocol("reading status line", err)
	}

	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return nil, errors.NewProtocol("invalid status line", nil)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, errors.NewProtocol("invalid status code", err)
	}
	status := ""
	if len(parts) == 3 {
		status = parts[2]
	}

	h, err := readHeaders(d.r)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(h.Get("Connection"), "close") {
		d.closer = true
	}

	resp := &transport.Response{
		Proto:      parts[0],
		StatusCode: code,
		Status:     status,
		Headers:    h,
		SentAt:     sentAt,
		ReceivedAt: time.Now(),
	}
	return resp, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readHeaders(r *bufio.Reader) (*headers.Headers, error) {
	h := headers.New()
	total := 0
	lastName := ""
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, errors.NewProtocol("reading headers", err)
		}
		total += len(line)
		if total > maxHeaderBytes {
			return nil, errors.NewProtocol("headers exceed maximum size", nil)
		}
		if line == "\r\n" || line == "\n" {
			break
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if (strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t")) && lastName != "" {
			h.Set(lastName, h.Get(lastName)+" "+strings.TrimSpace(trimmed))
			continue
		}

		kv := strings.SplitN(trimmed, ":", 2)
		if len(kv) != 2 {
			continue
		}
		name := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(kv[0]))
		value := strings.TrimSpace(kv[1])
		h.AddLenient(name, value)
		lastName = name
	}
	return h, nil
}

// OpenResponseBody picks chunked, fixed-length, or read-until-close
// framing per RFC 9110 §6.4.1's no-body statuses and Transfer-Encoding/
// Content-Length precedence.
func (d *Driver) OpenResponseBody(resp *transport.Response) (io.ReadCloser, error) {
	if noBody(resp.StatusCode) {
		d.reuse = true
		return io.NopCloser(strings.NewReader("")), nil
	}

	te := resp.Headers.Get("Transfer-Encoding")
	cl := resp.Headers.Get("Content-Length")

	switch {
	case strings.Contains(strings.ToLower(te), "chunked"):
		return &chunkedReader{tp: textproto.NewReader(d.r), driver: d}, nil
	case cl != "":
		length, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || length < 0 {
			return nil, errors.NewProtocol("invalid content-length", err)
		}
		d.reuse = !d.closer
		return &limitedReader{r: io.LimitReader(d.r, length), driver: d}, nil
	default:
		d.closer = true
		d.reuse = false
		return io.NopCloser(d.r), nil
	}
}

func noBody(status int) bool {
	return (status >= 100 && status < 200) || status == 204 || status == 304
}

type limitedReader struct {
	r      io.Reader
	driver *Driver
}

func (l *limitedReader) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReader) Close() error                { return nil }

type chunkedReader struct {
	tp      *textproto.Reader
	driver  *Driver
	current io.Reader
	done    bool
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	for {
		if c.done {
			return 0, io.EOF
		}
		if c.current != nil {
			n, err := c.current.Read(p)
			if err == io.EOF {
				c.current = nil
				crlf := make([]byte, 2)
				io.ReadFull(c.tp.R, crlf)
				continue
			}
			return n, err
		}

		line, err := c.tp.ReadLine()
		if err != nil {
			return 0, errors.NewProtocol("reading chunk size", err)
		}
		size, err := strconv.ParseInt(strings.TrimSpace(strings.SplitN(line, ";", 2)[0]), 16, 64)
		if err != nil {
			return 0, errors.NewProtocol("invalid chunk size", err)
		}
		if size == 0 {
			for {
				trailer, err := c.tp.ReadLine()
				if err != nil {
					return 0, errors.NewProtocol("reading chunk trailer", err)
				}
				if trailer == "" {
					break
				}
			}
			c.done = true
			c.driver.reuse = !c.driver.closer
			return 0, io.EOF
		}
		c.current = io.LimitReader(c.tp.R, size)
	}
}

func (c *chunkedReader) Close() error { return nil }

func (d *Driver) ReleaseConnectionOnIdle() {}

func (d *Driver) CanReuseConnection() bool { return d.reuse && !d.closer }

func (d *Driver) Disconnect() error { return d.conn.Close() }
