// Package engine implements the request engine: the orchestrator that
// takes a user Request through {created → sent → received →
// (follow-up) → released}, consulting the cache strategy
// (pkg/cachepolicy), the route selector and connection pool (pkg/route,
// pkg/pool), and a wire transport (pkg/transport) to produce a Response.
package engine

import (
	"compress/gzip"
	"context"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relaywire/httpcore/pkg/constants"
	"github.com/relaywire/httpcore/pkg/errors"
	"github.com/relaywire/httpcore/pkg/headers"
	"github.com/relaywire/httpcore/pkg/pool"
	"github.com/relaywire/httpcore/pkg/route"
	"github.com/relaywire/httpcore/pkg/transport"

	"github.com/relaywire/httpcore/internal/cachestore"
)

// Request is the immutable user-facing request. Method and URL are
// fixed for the lifetime of the call; Tag groups this call for
// Dispatcher cancellation.
type Request struct {
	Method  string
	URL     string
	Headers *headers.Headers
	Body    io.Reader
	BodyLen int64 // -1 if unknown
	Tag     interface{}
}

// Response is an immutable skeleton plus a one-shot streaming Body, with
// back-links to the Request that produced it and (for redirect chains)
// the prior Response.
type Response struct {
	Request    *Request
	Proto      string
	StatusCode int
	Status     string
	Headers    *headers.Headers
	Body       io.ReadCloser
	Route      route.Route
	SentAt     time.Time
	ReceivedAt time.Time
	FromCache  bool
	Warning    string
	Prior      *Response
}

// Authenticator supplies credentials for a 401/407 challenge. Returning
// a nil Request means "no credentials available" — the engine gives up
// and surfaces the challenge response.
type Authenticator interface {
	Authenticate(resp *Response) (*Request, error)
}

// Options configures one Engine's redirect, follow-up, and
// authentication behavior.
type Options struct {
	UserAgent          string
	FollowRedirects    bool
	FollowSSLRedirects bool
	MaxFollowUps       int // 0 means constants.MaxFollowUps
	Authenticator      Authenticator
	ProxyAuthenticator Authenticator
	ConnTimeout        time.Duration
}

func (o Options) maxFollowUps() int {
	if o.MaxFollowUps > 0 {
		return o.MaxFollowUps
	}
	return constants.MaxFollowUps
}

// Engine is shared across calls: it owns no per-call state itself but
// holds the collaborators every call consults.
type Engine struct {
	Pool         *pool.Pool
	Dialer       *transport.Dialer
	RouteDB      *route.Database
	ProxySel     route.ProxySelector
	Resolver     route.Resolver
	Cache        cachestore.Store // nil disables caching entirely
	Interceptors []NetworkInterceptor
	Opts         Options
}

// New builds an Engine from its collaborators. cache may be nil to run
// without a Cache Store backend.
func New(p *pool.Pool, dialer *transport.Dialer, db *route.Database, proxySel route.ProxySelector, resolver route.Resolver, cache cachestore.Store, opts Options) *Engine {
	return &Engine{Pool: p, Dialer: dialer, RouteDB: db, ProxySel: proxySel, Resolver: resolver, Cache: cache, Opts: opts}
}

// CallHandle lets a caller interrupt an in-flight DoWithHandle call from
// another goroutine, by disconnecting whichever connection that call is
// currently using.
type CallHandle struct {
	mu        sync.Mutex
	conn      *connection
	cancelled bool
}

// NewCallHandle returns a handle to pass to DoWithHandle.
func NewCallHandle() *CallHandle { return &CallHandle{} }

func (h *CallHandle) attach(c *connection) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.conn = c
	h.mu.Unlock()
}

func (h *CallHandle) detach(c *connection) {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.conn == c {
		h.conn = nil
	}
	h.mu.Unlock()
}

// wasCancelled reports whether Disconnect has ever been called on h,
// distinguishing a deliberately severed connection from an ordinary IO
// failure so the retry loop in sendRequest surfaces the cancellation
// instead of silently redialing.
func (h *CallHandle) wasCancelled() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Disconnect closes the connection currently in use by this call, if
// any, so its blocking read or write observes the close as an IO error.
// Safe to call at any time, including when the call isn't using a
// connection (a no-op) or concurrently with the call finishing. Once
// called, the call's retry loop treats any resulting IO error as fatal
// rather than recoverable.
func (h *CallHandle) Disconnect() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.cancelled = true
	c := h.conn
	h.mu.Unlock()
	if c != nil {
		c.transport.Disconnect()
	}
}

// Do executes one logical call: sendRequest (which writes the request and
// reads the response) and as many followUpRequest hops as the response
// chain demands. Each followUpRequest runs only after sendRequest has
// produced the response it inspects.
func (e *Engine) Do(ctx context.Context, req *Request) (*Response, error) {
	return e.DoWithHandle(ctx, req, nil)
}

// DoWithHandle behaves like Do but registers the connection used for
// each attempt with handle, so handle.Disconnect can interrupt this call
// from another goroutine while it is still running.
func (e *Engine) DoWithHandle(ctx context.Context, req *Request, handle *CallHandle) (*Response, error) {
	if req.Method == "" {
		return nil, errors.NewRequest("method must not be empty")
	}
	if _, err := url.Parse(req.URL); err != nil {
		return nil, errors.NewRequest("malformed URL: " + err.Error())
	}

	current := req
	var prior *Response
	var followUps int

	for {
		resp, err := e.sendRequest(ctx, current, handle)
		if err != nil {
			return nil, err
		}
		resp.Prior = prior
		resp.Request = current

		next, err := e.followUpRequest(current, resp, followUps)
		if err != nil {
			return resp, err
		}
		if next == nil {
			return resp, nil
		}

		followUps++
		if followUps > e.Opts.maxFollowUps() {
			if resp.Body != nil {
				resp.Body.Close()
			}
			return nil, errors.NewRequest("too many follow-up requests")
		}

		if resp.Body != nil {
			resp.Body.Close()
		}
		prior = resp
		current = next
	}
}

// prepareNetworkRequest augments the user Request with default headers:
// Host, Connection, Accept-Encoding, User-Agent. It reports whether it
// injected Accept-Encoding: gzip itself (the transparentGzip flag that
// governs later decode-and-strip behavior).
func (e *Engine) prepareNetworkRequest(req *Request) (*transport.Request, bool) {
	u, _ := url.Parse(req.URL)
	host := u.Hostname()
	port := u.Port()

	h := req.Headers
	if h == nil {
		h = headers.New()
	} else {
		h = h.Clone()
	}

	if h.Get("Host") == "" {
		if port != "" {
			h.Set("Host", host+":"+port)
		} else {
			h.Set("Host", host)
		}
	}
	if h.Get("Connection") == "" {
		h.Set("Connection", "keep-alive")
	}
	transparentGzip := false
	if h.Get("Accept-Encoding") == "" {
		h.Set("Accept-Encoding", "gzip")
		transparentGzip = true
	}
	if h.Get("User-Agent") == "" {
		ua := e.Opts.UserAgent
		if ua == "" {
			ua = "httpcore/1.0"
		}
		h.Set("User-Agent", ua)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return &transport.Request{
		Method:  req.Method,
		URL:     req.URL,
		Path:    path,
		Host:    host,
		Headers: h,
		Body:    req.Body,
		BodyLen: req.BodyLen,
	}, transparentGzip
}

// addressFromRequest builds the connection pool / route selector key
// from a network request: scheme determines the TLS bundle, and the
// port falls back to the scheme's default.
func addressFromRequest(netReq *transport.Request) (route.Address, error) {
	u, err := url.Parse(netReq.URL)
	if err != nil {
		return route.Address{}, errors.NewRequest("malformed URL: " + err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return route.Address{}, errors.NewRequest("unsupported scheme " + u.Scheme)
	}

	port := route.DefaultPort(u.Scheme)
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	return route.Address{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
	}, nil
}

// gzipDecodingBody wraps a response body in transparent gzip decoding,
// closing both the gzip reader and the underlying stream together.
type gzipDecodingBody struct {
	gz   *gzip.Reader
	body io.ReadCloser
}

func (g *gzipDecodingBody) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipDecodingBody) Close() error {
	gzErr := g.gz.Close()
	bodyErr := g.body.Close()
	if gzErr != nil {
		return gzErr
	}
	return bodyErr
}

// applyTransparentGzip handles gzip transparency: if this engine
// injected Accept-Encoding: gzip and the response came back
// Content-Encoding: gzip with a body, decode it and strip both
// Content-Encoding and Content-Length (the decoded length is unknown and
// no longer matches the wire bytes).
func applyTransparentGzip(resp *Response, transparentGzip bool) error {
	if !transparentGzip || resp.Body == nil {
		return nil
	}
	if !strings.EqualFold(resp.Headers.Get("Content-Encoding"), "gzip") {
		return nil
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return errors.NewProtocol("opening gzip response body", err)
	}
	resp.Body = &gzipDecodingBody{gz: gz, body: resp.Body}
	resp.Headers.RemoveAll("Content-Encoding")
	resp.Headers.RemoveAll("Content-Length")
	return nil
}
