package route

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type fakeResolver struct{}

func (fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return []net.IPAddr{{IP: net.ParseIP("10.0.0.1")}}, nil
}

type recordingProxySelector struct {
	selected []string
	failed   []*ProxyConfig
}

func (s *recordingProxySelector) Select(scheme, host string) []*ProxyConfig {
	p1 := &ProxyConfig{Type: HTTP, Host: "p1.example", Port: 8080}
	p2 := &ProxyConfig{Type: HTTP, Host: "p2.example", Port: 8080}
	s.selected = append(s.selected, p1.Host, p2.Host)
	return []*ProxyConfig{p1, p2}
}

func (s *recordingProxySelector) ConnectFailed(proxy *ProxyConfig, err error) {
	s.failed = append(s.failed, proxy)
}

func TestRouteRecoveryAcrossTwoProxies(t *testing.T) {
	addr := Address{Scheme: "https", Host: "api.example.com", Port: 443}
	db := NewDatabase(10 * time.Minute)
	sel := &recordingProxySelector{}
	s := NewSelector(addr, db, fakeResolver{}, sel)

	r1, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("first Next: %v", err)
	}
	if r1.Proxy == nil || r1.Proxy.Host != "p1.example" {
		t.Fatalf("expected first route via p1, got %+v", r1.Proxy)
	}

	s.ConnectFailed(r1, errors.New("connection refused"))
	if len(sel.failed) != 1 || sel.failed[0].Host != "p1.example" {
		t.Fatalf("expected proxy selector notified of p1 failure, got %+v", sel.failed)
	}

	r2, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("second Next: %v", err)
	}
	if r2.Proxy == nil || r2.Proxy.Host != "p2.example" {
		t.Fatalf("expected second route via p2, got %+v", r2.Proxy)
	}
}

func TestRouteInvalidPort(t *testing.T) {
	r := Route{Port: 0}
	if err := r.Validate(); err == nil {
		t.Fatalf("expected validation error for port 0")
	}
	r.Port = 70000
	if err := r.Validate(); err == nil {
		t.Fatalf("expected validation error for port 70000")
	}
}

func TestDatabaseBlacklistExpiry(t *testing.T) {
	db := NewDatabase(10 * time.Millisecond)
	r := Route{Address: Address{Host: "h"}, IP: net.ParseIP("1.2.3.4"), Port: 80}
	db.Failed(r)
	if !db.IsBlacklisted(r) {
		t.Fatalf("expected route blacklisted immediately after failure")
	}
	time.Sleep(20 * time.Millisecond)
	if db.IsBlacklisted(r) {
		t.Fatalf("expected blacklist entry to expire after TTL")
	}
}
