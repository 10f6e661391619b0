// Dialer establishes the raw net.Conn for a route.Route: TCP dial, upstream
// proxy tunneling (HTTP CONNECT, SOCKS4, SOCKS5), and TLS upgrade. It feeds
// freshly dialed connections to pkg/pool, which owns idle-connection reuse;
// the Dialer itself carries no pooling state.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/relaywire/httpcore/pkg/errors"
	"github.com/relaywire/httpcore/pkg/route"
	"github.com/relaywire/httpcore/pkg/timing"
	"github.com/relaywire/httpcore/pkg/tlsconfig"
	netproxy "golang.org/x/net/proxy"
)

// TLSPolicy carries the TLS knobs left up to callers (custom CA roots,
// client certs, version/cipher pinning); zero value means "use
// tlsconfig.ProfileSecure and the system root pool".
type TLSPolicy struct {
	CustomCACerts [][]byte
	ClientCert    *tls.Certificate
	MinVersion    uint16
	MaxVersion    uint16
	CipherSuites  []uint16
}

// Dialer turns a route.Route into a live net.Conn. Route.IP is resolved
// ahead of time by the Route Selector; the Dialer only resolves addresses
// itself for the SOCKS4 case, where the target host (not just the proxy)
// must be an IPv4 literal in the wire protocol.
type Dialer struct {
	connTimeout time.Duration
	tls         TLSPolicy
}

// NewDialer builds a Dialer; connTimeout defaults to 10s when zero.
func NewDialer(connTimeout time.Duration, policy TLSPolicy) *Dialer {
	if connTimeout <= 0 {
		connTimeout = 10 * time.Second
	}
	return &Dialer{connTimeout: connTimeout, tls: policy}
}

// Dial connects to r, tunneling through r.Proxy if set and upgrading to TLS
// when r.Address.Scheme is "https". The returned net.Conn is ready for a
// Transport driver to speak HTTP/1 or HTTP/2 on.
func (d *Dialer) Dial(ctx context.Context, r route.Route, timer *timing.Timer) (net.Conn, error) {
	targetAddr := net.JoinHostPort(r.IP.String(), strconv.Itoa(r.Port))

	var conn net.Conn
	var err error
	if r.Proxy != nil {
		conn, err = d.dialViaProxy(ctx, r.Proxy, targetAddr, r.Address.Host)
	} else {
		conn, err = d.dialTCP(ctx, targetAddr, timer)
	}
	if err != nil {
		return nil, errors.NewRoute("dial", r.Address.Host, r.Port, err)
	}

	if strings.EqualFold(r.Address.Scheme, "https") {
		conn, err = d.upgradeTLS(ctx, conn, r, timer)
		if err != nil {
			return nil, errors.NewSecurity(r.Address.Host, r.Port, err)
		}
	}
	return conn, nil
}

func (d *Dialer) dialTCP(ctx context.Context, addr string, timer *timing.Timer) (net.Conn, error) {
	if timer != nil {
		timer.StartTCP()
		defer timer.EndTCP()
	}
	dialer := &net.Dialer{Timeout: d.connTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}
	return conn, nil
}

func (d *Dialer) dialViaProxy(ctx context.Context, p *route.ProxyConfig, targetAddr, targetHost string) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	switch p.Type {
	case route.HTTP, route.HTTPS:
		return d.dialViaHTTPConnect(ctx, p, proxyAddr, targetAddr, targetHost)
	case route.SOCKS4:
		return d.dialViaSOCKS4(ctx, p, proxyAddr, targetAddr)
	case route.SOCKS5:
		return d.dialViaSOCKS5(ctx, p, proxyAddr, targetAddr)
	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", p.Type)
	}
}

// dialViaHTTPConnect tunnels through an HTTP/HTTPS CONNECT proxy. The proxy
// type decides whether the hop to the proxy itself is TLS-wrapped; the
// tunnel contents (plain HTTP or a second TLS layer to the origin) are
// independent of that.
func (d *Dialer) dialViaHTTPConnect(ctx context.Context, p *route.ProxyConfig, proxyAddr, targetAddr, targetHost string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.connTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("connect to proxy: %w", err)
	}

	if p.Type == route.HTTPS {
		cfg := &tls.Config{ServerName: p.Host}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake to proxy: %w", err)
		}
		conn = tlsConn
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nConnection: keep-alive\r\n", targetAddr, targetHost)
	for name, value := range p.Headers {
		req += fmt.Sprintf("%s: %s\r\n", name, value)
	}
	if p.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(p.Username + ":" + p.Password))
		req += fmt.Sprintf("Proxy-Authorization: Basic %s\r\n", auth)
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	if !strings.Contains(statusLine, " 200") {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", strings.TrimSpace(statusLine))
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("read CONNECT headers: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}
	return conn, nil
}

// dialViaSOCKS4 implements the SOCKS4 CONNECT handshake: IPv4-only, user-ID
// auth, no DNS-via-proxy option.
func (d *Dialer) dialViaSOCKS4(ctx context.Context, p *route.ProxyConfig, proxyAddr, targetAddr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(targetAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid target address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	var targetIP net.IP
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			targetIP = ip4
			break
		}
	}
	if targetIP == nil {
		return nil, fmt.Errorf("no IPv4 address for %s (SOCKS4 requires IPv4)", host)
	}

	dialer := &net.Dialer{Timeout: d.connTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("connect to SOCKS4 proxy: %w", err)
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port & 0xFF)}
	req = append(req, targetIP...)
	if p.Username != "" {
		req = append(req, []byte(p.Username)...)
	}
	req = append(req, 0x00)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send SOCKS4 request: %w", err)
	}
	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read SOCKS4 response: %w", err)
	}
	if resp[1] != 0x5A {
		conn.Close()
		return nil, fmt.Errorf("SOCKS4 request failed, status 0x%02X", resp[1])
	}
	return conn, nil
}

// dialViaSOCKS5 defers to golang.org/x/net/proxy rather than hand-rolling
// the RFC 1928 handshake, unlike dialViaSOCKS4 above — the library already
// handles auth negotiation and DNS-via-proxy correctly.
func (d *Dialer) dialViaSOCKS5(ctx context.Context, p *route.ProxyConfig, proxyAddr, targetAddr string) (net.Conn, error) {
	var auth *netproxy.Auth
	if p.Username != "" {
		auth = &netproxy.Auth{User: p.Username, Password: p.Password}
	}
	dialer, err := netproxy.SOCKS5("tcp", proxyAddr, auth, &net.Dialer{Timeout: d.connTimeout})
	if err != nil {
		return nil, fmt.Errorf("create SOCKS5 dialer: %w", err)
	}
	conn, err := dialer.Dial("tcp", targetAddr)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 connect: %w", err)
	}
	return conn, nil
}

func (d *Dialer) upgradeTLS(ctx context.Context, conn net.Conn, r route.Route, timer *timing.Timer) (net.Conn, error) {
	if timer != nil {
		timer.StartTLS()
		defer timer.EndTLS()
	}

	cfg := &tls.Config{InsecureSkipVerify: r.Address.InsecureTLS}
	tlsconfig.ApplyVersionProfile(cfg, tlsconfig.ProfileSecure)
	if d.tls.MinVersion != 0 {
		cfg.MinVersion = d.tls.MinVersion
	}
	if d.tls.MaxVersion != 0 {
		cfg.MaxVersion = d.tls.MaxVersion
	}
	if len(d.tls.CipherSuites) > 0 {
		cfg.CipherSuites = d.tls.CipherSuites
	}

	if len(d.tls.CustomCACerts) > 0 {
		pool := x509.NewCertPool()
		for _, pem := range d.tls.CustomCACerts {
			pool.AppendCertsFromPEM(pem)
		}
		cfg.RootCAs = pool
	}
	if d.tls.ClientCert != nil {
		cfg.Certificates = append(cfg.Certificates, *d.tls.ClientCert)
	}

	switch {
	case r.Address.DisableSNI:
	case r.Address.SNI != "":
		cfg.ServerName = r.Address.SNI
	default:
		cfg.ServerName = r.Address.Host
	}

	cfg.NextProtos = []string{"h2", "http/1.1"}

	timeoutCtx, cancel := context.WithTimeout(ctx, d.connTimeout)
	defer cancel()

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(timeoutCtx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// NegotiatedProtocol reports the ALPN result ("h2" or "http/1.1") of a TLS
// connection returned by Dial, or "" for plaintext connections.
func NegotiatedProtocol(conn net.Conn) string {
	if tlsConn, ok := conn.(*tls.Conn); ok {
		return tlsConn.ConnectionState().NegotiatedProtocol
	}
	return ""
}
