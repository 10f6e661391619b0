package http1

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/relaywire/httpcore/pkg/headers"
	"github.com/relaywire/httpcore/pkg/route"
	"github.com/relaywire/httpcore/pkg/transport"
)

func pipeDriver(t *testing.T) (*Driver, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return New(client, route.Route{}), server
}

func TestWriteRequestHeadersWritesRequestLineAndHeaders(t *testing.T) {
	d, server := pipeDriver(t)

	h := headers.New()
	h.Add("Host", "example.com")
	h.Add("Accept", "*/*")
	req := &transport.Request{Method: "GET", Path: "/foo", Headers: h, BodyLen: 0}

	done := make(chan error, 1)
	go func() { done <- d.WriteRequestHeaders(context.Background(), req) }()

	buf := make([]byte, 4096)
	n, err := server.Read(buf)
	if err != nil {
		t.Fatalf("reading from pipe: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteRequestHeaders: %v", err)
	}

	raw := string(buf[:n])
	if !strings.HasPrefix(raw, "GET /foo HTTP/1.1\r\n") {
		t.Fatalf("unexpected request line: %q", raw)
	}
	if !strings.Contains(raw, "Host: example.com\r\n") {
		t.Errorf("missing Host header: %q", raw)
	}
	if !strings.HasSuffix(raw, "\r\n\r\n") {
		t.Errorf("missing terminating blank line: %q", raw)
	}
}

func TestReadResponseHeadersParsesStatusLineAndHeaders(t *testing.T) {
	d, server := pipeDriver(t)

	go func() {
		io.WriteString(server, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Type: text/plain\r\n\r\nhello")
	}()

	resp, err := d.ReadResponseHeaders(context.Background())
	if err != nil {
		t.Fatalf("ReadResponseHeaders: %v", err)
	}
	if resp.StatusCode != 200 || resp.Status != "OK" || resp.Proto != "HTTP/1.1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Headers.Get("Content-Type") != "text/plain" {
		t.Errorf("Content-Type header not parsed: %+v", resp.Headers)
	}

	body, err := d.OpenResponseBody(resp)
	if err != nil {
		t.Fatalf("OpenResponseBody: %v", err)
	}
	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("body = %q, want %q", got, "hello")
	}
}

func TestOpenResponseBodyHandlesChunkedEncoding(t *testing.T) {
	d, server := pipeDriver(t)

	go func() {
		io.WriteString(server, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n")
	}()

	resp, err := d.ReadResponseHeaders(context.Background())
	if err != nil {
		t.Fatalf("ReadResponseHeaders: %v", err)
	}
	body, err := d.OpenResponseBody(resp)
	if err != nil {
		t.Fatalf("OpenResponseBody: %v", err)
	}
	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading chunked body: %v", err)
	}
	if string(got) != "Wikipedia" {
		t.Errorf("body = %q, want %q", got, "Wikipedia")
	}
	if !d.CanReuseConnection() {
		t.Errorf("expected connection to be reusable after a clean chunked read")
	}
}

func TestOpenResponseBodyNoBodyStatuses(t *testing.T) {
	d, server := pipeDriver(t)
	go func() { io.WriteString(server, "HTTP/1.1 304 Not Modified\r\nETag: \"abc\"\r\n\r\n") }()

	resp, err := d.ReadResponseHeaders(context.Background())
	if err != nil {
		t.Fatalf("ReadResponseHeaders: %v", err)
	}
	body, err := d.OpenResponseBody(resp)
	if err != nil {
		t.Fatalf("OpenResponseBody: %v", err)
	}
	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading 304 body: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty body for 304, got %q", got)
	}
}

func TestConnectionCloseHeaderMarksNonReusable(t *testing.T) {
	d, server := pipeDriver(t)
	go func() {
		io.WriteString(server, "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\nok")
	}()

	resp, err := d.ReadResponseHeaders(context.Background())
	if err != nil {
		t.Fatalf("ReadResponseHeaders: %v", err)
	}
	body, err := d.OpenResponseBody(resp)
	if err != nil {
		t.Fatalf("OpenResponseBody: %v", err)
	}
	io.ReadAll(body)
	if d.CanReuseConnection() {
		t.Errorf("expected Connection: close to prevent reuse")
	}
}

func TestCreateRequestBodyChunkedFraming(t *testing.T) {
	d, server := pipeDriver(t)
	req := &transport.Request{BodyLen: -1}

	reader := bufio.NewReader(server)
	done := make(chan error, 1)
	go func() {
		w, err := d.CreateRequestBody(req)
		if err != nil {
			done <- err
			return
		}
		if _, err := w.Write([]byte("abc")); err != nil {
			done <- err
			return
		}
		done <- w.Close()
	}()

	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading chunk size line: %v", err)
	}
	if strings.TrimRight(line, "\r\n") != "3" {
		t.Fatalf("chunk size line = %q, want %q", line, "3")
	}
	// net.Pipe writes block until read, so drain the rest of the body.
	go io.Copy(io.Discard, reader)
	if err := <-done; err != nil {
		t.Fatalf("writing chunked body: %v", err)
	}
}
