package http2

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/relaywire/httpcore/pkg/constants"
	"github.com/relaywire/httpcore/pkg/headers"
	"github.com/relaywire/httpcore/pkg/hpack"
	"github.com/relaywire/httpcore/pkg/route"
	"github.com/relaywire/httpcore/pkg/transport"
	"golang.org/x/net/http2"
)

// fakeServer drives the peer side of an HTTP/2 connection: it completes
// the preface/SETTINGS handshake the same way a real server would, then
// lets the test script further frames on fs.framer directly.
type fakeServer struct {
	conn   net.Conn
	framer *http2.Framer
	enc    *hpack.Encoder
	dec    *hpack.Decoder
}

func startFakeServer(t *testing.T, conn net.Conn) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		conn:   conn,
		framer: http2.NewFramer(conn, conn),
		enc:    hpack.NewEncoder(constants.DefaultHpackTableSize),
		dec:    hpack.NewDecoder(constants.DefaultHpackTableSize),
	}

	preface := make([]byte, len(http2.ClientPreface))
	if _, err := io.ReadFull(conn, preface); err != nil {
		t.Fatalf("reading client preface: %v", err)
	}
	if string(preface) != http2.ClientPreface {
		t.Fatalf("unexpected preface: %q", preface)
	}

	for {
		frame, err := fs.framer.ReadFrame()
		if err != nil {
			t.Fatalf("reading client SETTINGS: %v", err)
		}
		sf, ok := frame.(*http2.SettingsFrame)
		if !ok {
			continue
		}
		if sf.IsAck() {
			continue
		}
		if err := fs.framer.WriteSettingsAck(); err != nil {
			t.Fatalf("acking client SETTINGS: %v", err)
		}
		break
	}
	if err := fs.framer.WriteSettings(); err != nil {
		t.Fatalf("writing server SETTINGS: %v", err)
	}
	if err := fs.framer.WriteSettingsAck(); err != nil {
		t.Fatalf("writing server SETTINGS ack: %v", err)
	}
	return fs
}

func (fs *fakeServer) readClientHeaders(t *testing.T) (uint32, *headers.Headers) {
	t.Helper()
	for {
		frame, err := fs.framer.ReadFrame()
		if err != nil {
			t.Fatalf("reading client HEADERS: %v", err)
		}
		hf, ok := frame.(*http2.HeadersFrame)
		if !ok {
			continue
		}
		h, err := fs.dec.Decode(hf.HeaderBlockFragment())
		if err != nil {
			t.Fatalf("decoding client HEADERS: %v", err)
		}
		return hf.StreamID, h
	}
}

func (fs *fakeServer) writeResponse(t *testing.T, streamID uint32, status int, body []byte) {
	t.Helper()
	h := headers.New()
	h.AddLenient(":status", statusString(status))
	block := fs.enc.Encode(h)
	if err := fs.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: block,
		EndHeaders:    true,
	}); err != nil {
		t.Fatalf("writing response HEADERS: %v", err)
	}
	if err := fs.framer.WriteData(streamID, true, body); err != nil {
		t.Fatalf("writing response DATA: %v", err)
	}
}

func statusString(status int) string {
	digits := [3]byte{}
	digits[0] = byte('0' + status/100)
	digits[1] = byte('0' + (status/10)%10)
	digits[2] = byte('0' + status%10)
	return string(digits[:])
}

func TestConnRoundTripsHeadersAndData(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	fsCh := make(chan *fakeServer, 1)
	go func() { fsCh <- startFakeServer(t, server) }()

	conn, err := NewConn(client, route.Route{})
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	fs := <-fsCh

	driver := New(conn, route.Route{})

	h := headers.New()
	h.Add("Accept", "*/*")
	req := &transport.Request{Method: "GET", Path: "/greet", Host: "example.com", Headers: h}
	if err := driver.WriteRequestHeaders(context.Background(), req); err != nil {
		t.Fatalf("WriteRequestHeaders: %v", err)
	}
	if err := driver.FinishRequest(); err != nil {
		t.Fatalf("FinishRequest: %v", err)
	}

	streamID, gotHeaders := fs.readClientHeaders(t)
	if gotHeaders.Get(":method") != "GET" || gotHeaders.Get(":path") != "/greet" {
		t.Fatalf("unexpected request pseudo-headers: %+v", gotHeaders)
	}

	go fs.writeResponse(t, streamID, 200, []byte("hello from server"))

	resp, err := driver.ReadResponseHeaders(context.Background())
	if err != nil {
		t.Fatalf("ReadResponseHeaders: %v", err)
	}
	if resp.StatusCode != 200 || resp.Proto != "HTTP/2" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	body, err := driver.OpenResponseBody(resp)
	if err != nil {
		t.Fatalf("OpenResponseBody: %v", err)
	}
	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	if string(got) != "hello from server" {
		t.Errorf("body = %q, want %q", got, "hello from server")
	}
	if !driver.CanReuseConnection() {
		t.Errorf("HTTP/2 driver should always report reusable")
	}
}

func TestConnDeliversGoAwayToOpenStreams(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	fsCh := make(chan *fakeServer, 1)
	go func() { fsCh <- startFakeServer(t, server) }()

	conn, err := NewConn(client, route.Route{})
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	fs := <-fsCh

	driver := New(conn, route.Route{})
	h := headers.New()
	req := &transport.Request{Method: "GET", Path: "/", Host: "example.com", Headers: h}
	if err := driver.WriteRequestHeaders(context.Background(), req); err != nil {
		t.Fatalf("WriteRequestHeaders: %v", err)
	}
	driver.FinishRequest()
	fs.readClientHeaders(t)

	go fs.framer.WriteGoAway(0, http2.ErrCodeNo, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = driver.ReadResponseHeaders(ctx)
	if err == nil {
		t.Fatalf("expected an error after GOAWAY, got nil")
	}
}
