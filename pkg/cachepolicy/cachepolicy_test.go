package cachepolicy

import (
	"testing"
	"time"

	"github.com/relaywire/httpcore/pkg/headers"
)

func TestComputeBuildsConditionalRevalidationWithETag(t *testing.T) {
	now := time.Now()
	cached := &CacheEntry{
		StatusCode: 200,
		Headers: headers.NewBuilder().
			Set("ETag", `"x"`).
			Set("Cache-Control", "max-age=0").
			Set("Date", now.Add(-time.Hour).Format(time.RFC1123)).
			Build(),
		ServedDate: now.Add(-time.Hour),
		SentAt:     now.Add(-time.Hour),
		ReceivedAt: now.Add(-time.Hour),
	}

	req := &CacheRequest{Method: "GET", URL: "http://h/p", Headers: headers.New()}
	d := Compute(now, req, cached)

	if !d.IsConditional() {
		t.Fatalf("expected conditional revalidation decision, got %+v", d)
	}
	if got := d.NetworkRequest.Headers.Get("If-None-Match"); got != `"x"` {
		t.Fatalf("expected If-None-Match: \"x\", got %q", got)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	now := time.Now()
	cached := &CacheEntry{
		StatusCode: 200,
		Headers:    headers.NewBuilder().Set("Cache-Control", "max-age=3600").Set("Date", now.Format(time.RFC1123)).Build(),
		ServedDate: now,
		SentAt:     now,
		ReceivedAt: now,
	}
	req := &CacheRequest{Method: "GET", URL: "http://h/p", Headers: headers.New()}

	d1 := Compute(now, req, cached)
	d2 := Compute(now, req, cached)

	if d1.IsCacheHit() != d2.IsCacheHit() {
		t.Fatalf("Compute is not pure: got different decisions for identical inputs")
	}
}

func TestComputeFreshResponseIsCacheHit(t *testing.T) {
	now := time.Now()
	cached := &CacheEntry{
		StatusCode: 200,
		Headers:    headers.NewBuilder().Set("Cache-Control", "max-age=3600").Set("Date", now.Format(time.RFC1123)).Build(),
		ServedDate: now,
		SentAt:     now,
		ReceivedAt: now,
	}
	req := &CacheRequest{Method: "GET", URL: "http://h/p", Headers: headers.New()}

	d := Compute(now, req, cached)
	if !d.IsCacheHit() {
		t.Fatalf("expected cache hit for fresh response, got %+v", d)
	}
}

func TestComputeOnlyIfCachedYieldsUnsatisfiable(t *testing.T) {
	now := time.Now()
	req := &CacheRequest{Method: "GET", URL: "http://h/p", Headers: headers.NewBuilder().Set("Cache-Control", "only-if-cached").Build()}

	d := Compute(now, req, nil)
	if !d.IsUnsatisfiable() {
		t.Fatalf("expected unsatisfiable decision, got %+v", d)
	}
}

func TestCanStoreRejectsNoStore(t *testing.T) {
	req := headers.New()
	resp := headers.NewBuilder().Set("Cache-Control", "no-store").Build()
	if CanStore(req, resp) {
		t.Fatalf("expected no-store response to be rejected")
	}
}
