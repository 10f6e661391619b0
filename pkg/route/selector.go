package route

import (
	"context"
	"errors"
	"net"
)

// ErrExhausted is returned by Selector.Next once every proxy, address, and
// postponed route has been tried.
var ErrExhausted = errors.New("route: selector exhausted")

// Resolver resolves a hostname to IP addresses; satisfied by
// *net.Resolver, and overridable for tests or ConnectIP-style bypasses.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// ProxySelector picks candidate proxies for an address and is notified of
// connection failures for any non-direct route it selected.
type ProxySelector interface {
	Select(scheme, host string) []*ProxyConfig
	ConnectFailed(proxy *ProxyConfig, err error)
}

// directSelector is the default ProxySelector: always DIRECT, never an
// intermediary.
type directSelector struct{}

func (directSelector) Select(scheme, host string) []*ProxyConfig   { return nil }
func (directSelector) ConnectFailed(proxy *ProxyConfig, err error) {}

// Selector is a stateful route iterator: a proxy-index iterator over a
// list derived from either an explicit proxy or the configured
// ProxySelector's output followed by DIRECT, and per-proxy an iterator
// over resolved socket addresses, with a postponed list and a
// route-database blacklist.
type Selector struct {
	address  Address
	db       *Database
	resolver Resolver
	proxySel ProxySelector

	proxies   []*ProxyConfig // nil entry means DIRECT
	proxyIdx  int
	addresses []net.IP
	addrIdx   int

	postponed []Route
	draining  bool
}

// NewSelector builds a selector for address. If address.ExplicitProxy is
// set, that is the only proxy tried; otherwise proxySel.Select is
// consulted and DIRECT is appended.
func NewSelector(address Address, db *Database, resolver Resolver, proxySel ProxySelector) *Selector {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if proxySel == nil {
		proxySel = directSelector{}
	}

	var proxies []*ProxyConfig
	if address.ExplicitProxy != nil {
		proxies = []*ProxyConfig{address.ExplicitProxy}
	} else {
		proxies = append(proxies, proxySel.Select(address.Scheme, address.Host)...)
		proxies = append(proxies, nil) // DIRECT
	}

	return &Selector{address: address, db: db, resolver: resolver, proxySel: proxySel, proxies: proxies}
}

// Next returns the next candidate Route, advancing through addresses for
// the current proxy, then proxies, then the postponed list. Blacklisted
// routes are appended to postponed and skipped.
func (s *Selector) Next(ctx context.Context) (Route, error) {
	for {
		if s.addrIdx >= len(s.addresses) {
			if err := s.advanceProxy(ctx); err != nil {
				return s.drainPostponed()
			}
		}

		ip := s.addresses[s.addrIdx]
		s.addrIdx++

		proxy := s.proxies[s.proxyIdx-1]
		port := s.targetPort(proxy)
		r := Route{Address: s.address, Proxy: proxy, IP: ip, Port: port}

		if err := r.Validate(); err != nil {
			continue
		}

		if s.db.IsBlacklisted(r) {
			s.postponed = append(s.postponed, r)
			continue
		}

		return r, nil
	}
}

func (s *Selector) targetPort(proxy *ProxyConfig) int {
	if proxy != nil && (proxy.Type == HTTP || proxy.Type == HTTPS || proxy.Type == SOCKS4 || proxy.Type == SOCKS5) {
		return proxy.Port
	}
	port := s.address.Port
	if port == 0 {
		port = DefaultPort(s.address.Scheme)
	}
	return port
}

// advanceProxy moves to the next proxy in the list and resolves its
// socket addresses: the proxy host for an HTTP/SOCKS proxy, or the origin
// host for DIRECT.
func (s *Selector) advanceProxy(ctx context.Context) error {
	if s.proxyIdx >= len(s.proxies) {
		return ErrExhausted
	}
	proxy := s.proxies[s.proxyIdx]
	s.proxyIdx++

	host := s.address.Host
	if proxy != nil {
		host = proxy.Host
	}

	addrs, err := s.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		s.addresses = nil
		s.addrIdx = 0
		return s.advanceProxy(ctx)
	}

	s.addresses = make([]net.IP, len(addrs))
	for i, a := range addrs {
		s.addresses[i] = a.IP
	}
	s.addrIdx = 0
	return nil
}

// drainPostponed yields the postponed list last, once every proxy and
// address has been exhausted.
func (s *Selector) drainPostponed() (Route, error) {
	if len(s.postponed) == 0 {
		return Route{}, ErrExhausted
	}
	r := s.postponed[0]
	s.postponed = s.postponed[1:]
	return r, nil
}

// ConnectFailed records a failed connection attempt on route: notifies the
// proxy selector if non-direct, then demotes the route in the route
// database for RouteBlacklistTTL.
func (s *Selector) ConnectFailed(r Route, cause error) {
	if r.Proxy != nil {
		s.proxySel.ConnectFailed(r.Proxy, cause)
	}
	s.db.Failed(r)
}
