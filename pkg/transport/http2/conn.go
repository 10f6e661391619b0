// Package http2 implements transport.Transport over a multiplexed HTTP/2
// connection: unlike HTTP/1.1, a Conn is shared across many Drivers (one
// per in-flight stream) rather than single-owner. It uses
// golang.org/x/net/http2's Framer for raw frame I/O and this module's own
// pkg/hpack for header (de)compression.
package http2

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/relaywire/httpcore/pkg/constants"
	"github.com/relaywire/httpcore/pkg/errors"
	"github.com/relaywire/httpcore/pkg/headers"
	"github.com/relaywire/httpcore/pkg/hpack"
	"github.com/relaywire/httpcore/pkg/route"
	"golang.org/x/net/http2"
)

// Conn is one shared HTTP/2 connection, safe for concurrent use by many
// Drivers (one per in-flight stream). It owns the single Framer, the single
// HPACK encoder/decoder pair (HPACK state is connection-scoped, not
// stream-scoped, per RFC 7541), and a background read loop that demuxes
// incoming frames onto per-stream channels.
type Conn struct {
	netConn      io.ReadWriteCloser
	route        route.Route
	framer       *http2.Framer
	enc          *hpack.Encoder
	dec          *hpack.Decoder
	writeMu      sync.Mutex
	nextStreamID uint32

	mu      sync.Mutex
	streams map[uint32]*streamState
	goAway  error
}

type streamState struct {
	headers    chan *streamHeaders
	data       chan []byte
	errc       chan error
	endStream  bool
	rstErr     error
}

type streamHeaders struct {
	status  int
	headers *headers.Headers
}

// Dial-agnostic constructor: netConn must already be connected (and
// TLS-upgraded with ALPN "h2" negotiated, or a prior-knowledge h2c peer).
func NewConn(netConn io.ReadWriteCloser, r route.Route) (*Conn, error) {
	c := &Conn{
		netConn:      netConn,
		route:        r,
		framer:       http2.NewFramer(netConn, netConn),
		enc:          hpack.NewEncoder(constants.DefaultHpackTableSize),
		dec:          hpack.NewDecoder(constants.DefaultHpackTableSize),
		nextStreamID: 1,
		streams:      make(map[uint32]*streamState),
	}
	if err := c.handshake(); err != nil {
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) handshake() error {
	if _, err := io.WriteString(c.netConn, http2.ClientPreface); err != nil {
		return errors.NewProtocol("writing HTTP/2 preface", err)
	}

	settings := []http2.Setting{
		{ID: http2.SettingEnablePush, Val: 0},
		{ID: http2.SettingInitialWindowSize, Val: 4194304},
		{ID: http2.SettingMaxFrameSize, Val: 16384},
		{ID: http2.SettingMaxHeaderListSize, Val: 10485760},
	}
	if err := c.framer.WriteSettings(settings...); err != nil {
		return errors.NewProtocol("writing initial SETTINGS", err)
	}

	if tc, ok := c.netConn.(interface{ SetReadDeadline(time.Time) error }); ok {
		tc.SetReadDeadline(time.Now().Add(constants.SettingsAckTimeout))
		defer tc.SetReadDeadline(time.Time{})
	}

	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			return errors.NewProtocol("reading SETTINGS handshake", err)
		}
		sf, ok := frame.(*http2.SettingsFrame)
		if !ok {
			continue
		}
		if sf.IsAck() {
			return nil
		}
		if err := c.framer.WriteSettingsAck(); err != nil {
			return errors.NewProtocol("acking peer SETTINGS", err)
		}
	}
}

// openStream allocates the next client-initiated (odd) stream ID and
// registers its channel set before any frame referencing it is sent.
func (c *Conn) openStream() (uint32, *streamState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextStreamID
	c.nextStreamID += 2

	st := &streamState{
		headers: make(chan *streamHeaders, 1),
		data:    make(chan []byte, 8),
		errc:    make(chan error, 1),
	}
	c.streams[id] = st
	return id, st
}

func (c *Conn) writeHeaders(streamID uint32, h *headers.Headers, endStream bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	block := c.enc.Encode(h)
	return c.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: block,
		EndStream:     endStream,
		EndHeaders:    true,
	})
}

func (c *Conn) writeData(streamID uint32, data []byte, endStream bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteData(streamID, endStream, data)
}

func (c *Conn) finish(streamID uint32) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteData(streamID, true, nil)
}

// readLoop is the connection's single reader; it owns framer.ReadFrame and
// the HPACK decoder, demuxing HEADERS/DATA to the owning stream's channels.
func (c *Conn) readLoop() {
	var headerBuf bytes.Buffer
	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			c.broadcastError(err)
			return
		}

		switch f := frame.(type) {
		case *http2.HeadersFrame:
			headerBuf.Reset()
			headerBuf.Write(f.HeaderBlockFragment())
			if !f.HeadersEnded() {
				continue // CONTINUATION frames not modeled; rare in practice
			}
			h, err := c.dec.Decode(headerBuf.Bytes())
			st := c.lookup(f.StreamID)
			if st == nil {
				continue
			}
			if err != nil {
				st.errc <- errors.NewProtocol("decoding HPACK block", err)
				continue
			}
			status := 0
			fmt.Sscanf(h.Get(":status"), "%d", &status)
			st.headers <- &streamHeaders{status: status, headers: h}
			if f.StreamEnded() {
				close(st.data)
			}

		case *http2.DataFrame:
			st := c.lookup(f.StreamID)
			if st == nil {
				continue
			}
			data := f.Data()
			if len(data) > 0 {
				cp := make([]byte, len(data))
				copy(cp, data)
				st.data <- cp
				c.writeMu.Lock()
				c.framer.WriteWindowUpdate(f.StreamID, uint32(len(data)))
				c.framer.WriteWindowUpdate(0, uint32(len(data)))
				c.writeMu.Unlock()
			}
			if f.StreamEnded() {
				close(st.data)
			}

		case *http2.SettingsFrame:
			if !f.IsAck() {
				c.writeMu.Lock()
				c.framer.WriteSettingsAck()
				c.writeMu.Unlock()
			}

		case *http2.PingFrame:
			c.writeMu.Lock()
			c.framer.WritePing(true, f.Data)
			c.writeMu.Unlock()

		case *http2.WindowUpdateFrame:
			// Connection/stream flow-control credit; this driver does not
			// throttle writes on peer window, so increments are observed
			// but not acted on.

		case *http2.RSTStreamFrame:
			st := c.lookup(f.StreamID)
			if st != nil {
				st.errc <- errors.NewProtocol("stream reset", fmt.Errorf("error code %v", f.ErrCode))
			}

		case *http2.GoAwayFrame:
			c.mu.Lock()
			c.goAway = errors.NewProtocol("server sent GOAWAY", fmt.Errorf("last stream %d, code %v", f.LastStreamID, f.ErrCode))
			c.mu.Unlock()
			c.broadcastError(c.goAway)
			return
		}
	}
}

func (c *Conn) lookup(streamID uint32) *streamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[streamID]
}

func (c *Conn) broadcastError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.streams {
		select {
		case st.errc <- err:
		default:
		}
	}
}

func (c *Conn) closeStream(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, id)
}

// Close sends GOAWAY and drops the socket.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.framer.WriteGoAway(0, http2.ErrCodeNo, nil)
	c.writeMu.Unlock()
	return c.netConn.Close()
}
