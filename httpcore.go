// Package httpcore is a from-scratch, raw-socket HTTP/1.1 and HTTP/2
// client engine: route selection, connection pooling, RFC 7234 response
// caching, transparent gzip, redirect/authentication follow-up, and a
// dispatcher that bounds concurrent and per-host in-flight requests.
//
// Client is the package's single entry point: one struct wrapping the
// whole collaborator graph behind New/NewWithConfig constructors and a
// small set of re-exported type aliases for the common request/response
// types. Tuning Config's TLS, proxy, resolver or pool settings, or reading
// PoolStats, uses types from pkg/transport, pkg/route and pkg/pool.
package httpcore

import (
	"context"
	"net/url"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaywire/httpcore/internal/cachestore"
	"github.com/relaywire/httpcore/pkg/constants"
	"github.com/relaywire/httpcore/pkg/dispatcher"
	"github.com/relaywire/httpcore/pkg/engine"
	"github.com/relaywire/httpcore/pkg/errors"
	"github.com/relaywire/httpcore/pkg/headers"
	"github.com/relaywire/httpcore/pkg/pool"
	"github.com/relaywire/httpcore/pkg/route"
	"github.com/relaywire/httpcore/pkg/transport"
)

// Re-exported types so the common call paths need only this package.
type (
	Request       = engine.Request
	Response      = engine.Response
	Authenticator = engine.Authenticator
	Headers       = headers.Headers
	Error         = errors.Error
	ProxyConfig   = route.ProxyConfig
	AsyncCall     = dispatcher.AsyncCall
)

// NewHeaders builds an empty Headers, mirroring headers.New for callers
// who only import httpcore.
func NewHeaders() *Headers { return headers.New() }

// ParseProxyURL parses a proxy URL (http://, https://, socks4://,
// socks5://, optionally with userinfo) into a ProxyConfig.
func ParseProxyURL(proxyURL string) (*ProxyConfig, error) {
	return route.ParseProxyURL(proxyURL)
}

// CacheBackend names a response cache storage backend, each wired to a
// real client library rather than a bespoke store.
type CacheBackend int

const (
	// CacheNone disables caching entirely.
	CacheNone CacheBackend = iota
	CacheMemory
	CacheDisk
	CacheLevelDB
	CacheRedis
	CacheMemcache
)

// CacheConfig selects and configures a Cache Store backend.
type CacheConfig struct {
	Backend CacheBackend

	// DiskDir / LevelDBDir are required for CacheDisk / CacheLevelDB.
	DiskDir    string
	LevelDBDir string

	// RedisPool is required for CacheRedis (gomodule/redigo).
	RedisPool *redis.Pool

	// MemcacheServers is required for CacheMemcache (bradfitz/gomemcache).
	MemcacheServers []string
}

// Config configures a Client: connection behavior, TLS policy, proxy and
// DNS resolution, connection pooling, response caching, and concurrency
// limits.
type Config struct {
	UserAgent          string
	FollowRedirects    bool
	FollowSSLRedirects bool
	MaxFollowUps       int
	Authenticator      Authenticator
	ProxyAuthenticator Authenticator
	ConnTimeout        time.Duration

	TLS transport.TLSPolicy

	ProxySelector route.ProxySelector
	Resolver      route.Resolver

	Pool  pool.Config
	Cache CacheConfig

	MaxRequests        int
	MaxRequestsPerHost int

	// Registry receives the dispatcher's running/queued gauges. Nil skips
	// Prometheus registration entirely (callers who don't want metrics
	// pay nothing for them).
	Registry *prometheus.Registry
}

// DefaultConfig returns a Config with redirect-following, a 10-second
// connect timeout, an in-memory cache, and the package's default
// dispatcher concurrency limits.
func DefaultConfig() Config {
	return Config{
		FollowRedirects: true,
		ConnTimeout:     10 * time.Second,
		Pool:            pool.DefaultConfig(),
		Cache:           CacheConfig{Backend: CacheMemory},

		MaxRequests:        constants.DefaultMaxRequests,
		MaxRequestsPerHost: constants.DefaultMaxRequestsPerHost,
	}
}

// Client owns the Dispatcher, the request engine, the connection pool,
// and the route database, and is safe for concurrent use across any
// number of goroutines.
type Client struct {
	engine     *engine.Engine
	dispatcher *dispatcher.Dispatcher
	pool       *pool.Pool
	routeDB    *route.Database
}

// New builds a Client with DefaultConfig.
func New() *Client {
	c, err := NewWithConfig(DefaultConfig())
	if err != nil {
		// DefaultConfig never selects a backend that can fail to build.
		panic(err)
	}
	return c
}

// NewWithConfig builds a Client from an explicit Config.
func NewWithConfig(cfg Config) (*Client, error) {
	store, err := newCacheStore(cfg.Cache)
	if err != nil {
		return nil, err
	}

	p := pool.New(cfg.Pool)
	dialer := transport.NewDialer(cfg.ConnTimeout, cfg.TLS)
	db := route.NewDatabase(constants.RouteBlacklistTTL)

	e := engine.New(p, dialer, db, cfg.ProxySelector, cfg.Resolver, store, engine.Options{
		UserAgent:          cfg.UserAgent,
		FollowRedirects:    cfg.FollowRedirects,
		FollowSSLRedirects: cfg.FollowSSLRedirects,
		MaxFollowUps:       cfg.MaxFollowUps,
		Authenticator:      cfg.Authenticator,
		ProxyAuthenticator: cfg.ProxyAuthenticator,
		ConnTimeout:        cfg.ConnTimeout,
	})

	maxRequests := cfg.MaxRequests
	if maxRequests <= 0 {
		maxRequests = constants.DefaultMaxRequests
	}
	maxPerHost := cfg.MaxRequestsPerHost
	if maxPerHost <= 0 {
		maxPerHost = constants.DefaultMaxRequestsPerHost
	}
	d := dispatcher.New(e, dispatcher.Config{MaxRequests: maxRequests, MaxRequestsPerHost: maxPerHost}, cfg.Registry)

	return &Client{engine: e, dispatcher: d, pool: p, routeDB: db}, nil
}

func newCacheStore(cfg CacheConfig) (cachestore.Store, error) {
	switch cfg.Backend {
	case CacheNone:
		return nil, nil
	case CacheMemory:
		return cachestore.NewMemoryStore(), nil
	case CacheDisk:
		return cachestore.NewDiskStore(cfg.DiskDir), nil
	case CacheLevelDB:
		return cachestore.NewLevelDBStore(cfg.LevelDBDir)
	case CacheRedis:
		if cfg.RedisPool == nil {
			return nil, errors.NewRequest("CacheRedis requires Config.Cache.RedisPool")
		}
		return cachestore.NewRedisStore(cfg.RedisPool), nil
	case CacheMemcache:
		return cachestore.NewMemcacheStore(cfg.MemcacheServers...), nil
	default:
		return nil, errors.NewRequest("unknown cache backend")
	}
}

// Do executes req synchronously, going straight through the Request
// Engine without touching the Dispatcher's queues or per-host cap. Use
// ExecuteSync to participate in per-host scheduling alongside
// concurrently dispatched async calls.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	return c.engine.Do(ctx, req)
}

// ExecuteSync runs req through the Dispatcher's synchronous path: it
// shares per-host accounting with Enqueue'd async calls, blocking until
// a slot is available rather than queuing.
func (c *Client) ExecuteSync(ctx context.Context, req *Request) (*Response, error) {
	call := dispatcher.NewCall(req, hostOf(req), nil)
	return c.dispatcher.ExecuteSync(ctx, call)
}

// Enqueue submits req for asynchronous execution, invoking callback from
// a goroutine once it completes (or is promoted and then completes, if
// the Dispatcher is currently at capacity). Returns the AsyncCall so the
// caller can later Cancel it via its Request.Tag.
func (c *Client) Enqueue(ctx context.Context, req *Request, callback func(*Response, error)) *AsyncCall {
	call := dispatcher.NewCall(req, hostOf(req), callback)
	c.dispatcher.Enqueue(ctx, call)
	return call
}

// Cancel marks every queued or running async call whose Request.Tag
// equals tag as cancelled, and disconnects any matching call that is
// already running so its in-flight IO unblocks with an error.
func (c *Client) Cancel(tag interface{}) {
	c.dispatcher.Cancel(tag)
}

// RunningCallCount and QueuedCallCount expose the Dispatcher's current
// load for observability/back-pressure decisions.
func (c *Client) RunningCallCount() int { return c.dispatcher.RunningCallCount() }
func (c *Client) QueuedCallCount() int  { return c.dispatcher.QueuedCallCount() }

// SetMaxRequests and SetMaxRequestsPerHost adjust the Dispatcher's caps
// at runtime, promoting any now-eligible queued calls immediately.
func (c *Client) SetMaxRequests(n int)        { c.dispatcher.SetMaxRequests(n) }
func (c *Client) SetMaxRequestsPerHost(n int) { c.dispatcher.SetMaxRequestsPerHost(n) }

// PoolStats reports Connection Pool occupancy.
func (c *Client) PoolStats() pool.Stats { return c.pool.Stats() }

// Close stops the Connection Pool's idle-sweep goroutine and closes all
// pooled connections.
func (c *Client) Close() error { return c.pool.Close() }

func hostOf(req *Request) string {
	// A malformed URL still needs a stable per-call host bucket; parsing
	// failure surfaces properly once engine.Do validates the URL, so a
	// raw fallback here is only ever used for the (rejected) error path.
	if u, err := url.Parse(req.URL); err == nil {
		return u.Host
	}
	return req.URL
}
