package engine

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/relaywire/httpcore/pkg/buffer"
	"github.com/relaywire/httpcore/pkg/cachepolicy"
	"github.com/relaywire/httpcore/pkg/errors"
	"github.com/relaywire/httpcore/pkg/headers"
	"github.com/relaywire/httpcore/pkg/transport"

	"github.com/relaywire/httpcore/internal/cachestore"
)

// sendRequest sends the request and reads the response in one
// uninterrupted step. It consults the cache, connects if network access
// is required, drives the network interceptor chain, and combines a 304
// revalidation with the cached entry. If handle.Disconnect is called
// while this attempt is in flight, the resulting IO error is surfaced as
// an interrupted call instead of triggering a retry on a fresh route.
func (e *Engine) sendRequest(ctx context.Context, req *Request, handle *CallHandle) (*Response, error) {
	netReq, transparentGzip := e.prepareNetworkRequest(req)

	cacheKey := cachestore.Key(netReq.Method, netReq.URL)
	candidate, cachedBody := e.lookupCache(cacheKey, netReq)

	decision := cachepolicy.Compute(time.Now(), &cachepolicy.CacheRequest{
		Method:  netReq.Method,
		URL:     netReq.URL,
		Headers: netReq.Headers,
	}, candidate)

	if decision.IsCacheHit() {
		return e.responseFromCacheEntry(req, decision.CacheResponse, decision.Warning, cachedBody), nil
	}
	if decision.IsUnsatisfiable() {
		return unsatisfiableResponse(req), nil
	}

	// decision.NetworkRequest carries any conditional-revalidation
	// headers (If-None-Match/If-Modified-Since) added by the strategy.
	netReq.Headers = decision.NetworkRequest.Headers

	addr, err := addressFromRequest(netReq)
	if err != nil {
		return nil, err
	}

	sel := newSelector(e, addr)
	allowStale := netReq.Method == "GET"

	for {
		conn, err := e.connect(ctx, addr, sel, allowStale)
		if err != nil {
			return nil, err
		}
		handle.attach(conn)
		resp, err := e.exchangeOnce(ctx, conn, netReq, req)
		handle.detach(conn)
		if err != nil {
			if handle.wasCancelled() {
				conn.pooled.Close()
				return nil, errors.NewInterrupted("exchange", err)
			}
			if e.recoverExchange(sel, conn, err) {
				continue
			}
			return nil, err
		}

		if err := applyTransparentGzip(resp, transparentGzip); err != nil {
			return nil, err
		}

		final := e.combineWithCache(netReq, resp, decision.CacheResponse, cachedBody, cacheKey)
		return final, nil
	}
}

// exchangeOnce drives one Transport through a single write/read cycle:
// network interceptor chain, then ReadResponseHeaders/OpenResponseBody,
// stamping sent/received timestamps for cache revalidation.
func (e *Engine) exchangeOnce(ctx context.Context, conn *connection, netReq *transport.Request, userReq *Request) (*Response, error) {
	netResp, err := e.runInterceptorChain(netReq, func(r *transport.Request) (*transport.Response, error) {
		return e.writeAndRead(ctx, conn.transport, r)
	})
	if err != nil {
		return nil, err
	}

	if netResp.StatusCode == 204 || netResp.StatusCode == 205 {
		if cl := netResp.Headers.Get("Content-Length"); cl != "" && cl != "0" {
			return nil, errors.NewProtocol("204/205 response must carry Content-Length: 0", nil)
		}
	}

	body, err := conn.transport.OpenResponseBody(netResp)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Request:    userReq,
		Proto:      netResp.Proto,
		StatusCode: netResp.StatusCode,
		Status:     netResp.Status,
		Headers:    netResp.Headers,
		Body:       &connReleasingBody{ReadCloser: body, engine: e, conn: conn},
		Route:      conn.transport.Route(),
		SentAt:     netResp.SentAt,
		ReceivedAt: netResp.ReceivedAt,
	}
	return resp, nil
}

func (e *Engine) writeAndRead(ctx context.Context, tr transport.Transport, req *transport.Request) (*transport.Response, error) {
	if err := tr.WriteRequestHeaders(ctx, req); err != nil {
		return nil, err
	}
	if req.Body != nil {
		sink, err := tr.CreateRequestBody(req)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(sink, req.Body); err != nil {
			return nil, errors.NewIO("writing request body", err)
		}
		if err := sink.Close(); err != nil {
			return nil, err
		}
	}
	if err := tr.FinishRequest(); err != nil {
		return nil, err
	}
	return tr.ReadResponseHeaders(ctx)
}

// connReleasingBody returns the connection to the pool (or evicts it)
// as soon as the caller finishes reading the body.
type connReleasingBody struct {
	io.ReadCloser
	engine   *Engine
	conn     *connection
	released bool
}

func (b *connReleasingBody) Close() error {
	err := b.ReadCloser.Close()
	if !b.released {
		b.released = true
		b.conn.transport.ReleaseConnectionOnIdle()
		b.engine.release(b.conn)
	}
	return err
}

// lookupCache fetches and decodes a cache candidate. Only GET/HEAD are
// ever looked up. The raw entity body is returned alongside the
// decision-relevant CacheEntry since cachepolicy.CacheEntry only carries
// what Compute needs to decide.
func (e *Engine) lookupCache(key string, netReq *transport.Request) (*cachepolicy.CacheEntry, []byte) {
	if e.Cache == nil || (netReq.Method != "GET" && netReq.Method != "HEAD") {
		return nil, nil
	}
	entry, ok, err := e.Cache.Get(key)
	if err != nil || !ok {
		return nil, nil
	}
	h := headers.New()
	for name, values := range entry.Headers {
		for _, v := range values {
			h.AddLenient(name, v)
		}
	}
	return &cachepolicy.CacheEntry{
		StatusCode: entry.StatusCode,
		Headers:    h,
		SentAt:     time.UnixMilli(entry.SentAtUnixMilli),
		ReceivedAt: time.UnixMilli(entry.ReceivedAtUnixMilli),
		ServedDate: parseHTTPDate(h.Get("Date")),
	}, entry.Body
}

func parseHTTPDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC1123, time.RFC1123Z} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (e *Engine) responseFromCacheEntry(req *Request, entry *cachepolicy.CacheEntry, warning string, body []byte) *Response {
	resp := &Response{
		Request:    req,
		Proto:      "HTTP/1.1",
		StatusCode: entry.StatusCode,
		Status:     strconv.Itoa(entry.StatusCode),
		Headers:    entry.Headers.Clone(),
		Body:       io.NopCloser(bytes.NewReader(body)),
		FromCache:  true,
		Warning:    warning,
		SentAt:     entry.SentAt,
		ReceivedAt: entry.ReceivedAt,
	}
	if warning != "" {
		resp.Headers.Add("Warning", warning+" - \"Response is stale\"")
	}
	return resp
}

// unsatisfiableResponse synthesizes a 504 for an only-if-cached request
// the cache cannot satisfy.
func unsatisfiableResponse(req *Request) *Response {
	return &Response{
		Request:    req,
		Proto:      "HTTP/1.1",
		StatusCode: 504,
		Status:     "Unsatisfiable Request (only-if-cached)",
		Headers:    headers.New(),
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}
}

// combineWithCache handles a 304 as a cache hit whose headers combine
// with the stored entry per RFC 7234 §4.3.4 (network wins on end-to-end
// fields except dropped 100-level Warnings and network Content-Length);
// anything else is a fresh response, optionally teed into the cache if
// storable.
func (e *Engine) combineWithCache(netReq *transport.Request, netResp *Response, cached *cachepolicy.CacheEntry, cachedBody []byte, cacheKey string) *Response {
	if cached != nil && netResp.StatusCode == 304 {
		combined := combineHeaders(cached.Headers, netResp.Headers)
		netResp.Body.Close()
		resp := &Response{
			Request:    netResp.Request,
			Proto:      netResp.Proto,
			StatusCode: cached.StatusCode,
			Status:     netResp.Status,
			Headers:    combined,
			Body:       io.NopCloser(bytes.NewReader(cachedBody)),
			FromCache:  true,
			Route:      netResp.Route,
			SentAt:     netResp.SentAt,
			ReceivedAt: netResp.ReceivedAt,
		}
		if e.Cache != nil {
			entry, ok, err := e.Cache.Get(cacheKey)
			if err == nil && ok {
				entry.Headers = combined.ToMap()
				entry.ReceivedAtUnixMilli = time.Now().UnixMilli()
				e.Cache.Put(cacheKey, entry)
			}
		}
		return resp
	}

	if e.Cache != nil && netReq.Method == "GET" && cachepolicy.IsCacheableResponse(netResp.StatusCode, netResp.Headers) &&
		cachepolicy.CanStore(netReq.Headers, netResp.Headers) {
		netResp.Body = teeToCache(netResp, e.Cache, cacheKey)
	}
	return netResp
}

// combineHeaders implements RFC 7234 §4.3.4: start from the cached
// entry, drop any 100-level Warning, then let the network response's
// headers win for every field it carries (dropping its Content-Length,
// which describes the empty 304 body, not the cached one).
func combineHeaders(cached, network *headers.Headers) *headers.Headers {
	combined := headers.New()
	for i := 0; i < cached.Len(); i++ {
		name := cached.NameAt(i)
		if name == "Warning" && strings.HasPrefix(cached.ValueAt(i), "1") {
			continue
		}
		combined.Add(name, cached.ValueAt(i))
	}
	for i := 0; i < network.Len(); i++ {
		name := network.NameAt(i)
		if name == "Content-Length" {
			continue
		}
		combined.RemoveAll(name)
	}
	for i := 0; i < network.Len(); i++ {
		name := network.NameAt(i)
		if name == "Content-Length" {
			continue
		}
		combined.Add(name, network.ValueAt(i))
	}
	return combined
}

// teeToCache wraps a response body so that every byte the caller reads
// is also written to a cache entry, completing the write only once the
// body reaches EOF or is closed. The tee spools through a buffer.Buffer
// rather than a bare bytes.Buffer so a large cacheable body (an image, a
// bundle) spills to disk instead of holding the whole response in
// memory twice.
func teeToCache(resp *Response, store cachestore.Store, key string) io.ReadCloser {
	return &cacheWritingBody{body: resp.Body, resp: resp, store: store, key: key, buf: buffer.New(buffer.DefaultMemoryLimit)}
}

type cacheWritingBody struct {
	body    io.ReadCloser
	resp    *Response
	store   cachestore.Store
	key     string
	buf     *buffer.Buffer
	failed  bool
	written bool
}

func (c *cacheWritingBody) Read(p []byte) (int, error) {
	n, err := c.body.Read(p)
	if n > 0 && !c.failed {
		if _, werr := c.buf.Write(p[:n]); werr != nil {
			c.failed = true
		}
	}
	if err == io.EOF {
		c.commit()
	}
	return n, err
}

func (c *cacheWritingBody) Close() error {
	c.commit()
	c.buf.Close()
	return c.body.Close()
}

func (c *cacheWritingBody) commit() {
	if c.written || c.failed {
		return
	}
	r, err := c.buf.Reader()
	if err != nil {
		return
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return
	}
	c.written = true
	entry := &cachestore.Entry{
		StatusCode:          c.resp.StatusCode,
		Headers:             c.resp.Headers.ToMap(),
		Body:                body,
		SentAtUnixMilli:     c.resp.SentAt.UnixMilli(),
		ReceivedAtUnixMilli: c.resp.ReceivedAt.UnixMilli(),
	}
	c.store.Put(c.key, entry)
}
