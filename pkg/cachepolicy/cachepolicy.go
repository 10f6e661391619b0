// Package cachepolicy implements RFC 7234 cache freshness and
// storability decisions as a pure function of (now, request, cached
// response), producing one of four decision shapes: use-cache,
// revalidate, network-only, or unsatisfiable.
package cachepolicy

import (
	"strconv"
	"time"

	"github.com/relaywire/httpcore/pkg/headers"
)

// CacheRequest is the minimal request shape the strategy consults.
type CacheRequest struct {
	Method  string
	URL     string
	Headers *headers.Headers
}

// CacheEntry is a previously stored response, as returned by a Cache
// backend's Get.
type CacheEntry struct {
	StatusCode     int
	Headers        *headers.Headers
	RequestMethod  string
	RequestHeaders *headers.Headers // for Vary re-validation
	ServedDate     time.Time        // the stored Date header
	SentAt         time.Time        // X-Httpcore-Sent-Millis equivalent
	ReceivedAt     time.Time        // X-Httpcore-Received-Millis equivalent
}

// Decision is a (networkRequest?, cacheResponse?) product with four
// shapes, per the IsXxx predicates below.
type Decision struct {
	NetworkRequest *CacheRequest
	CacheResponse  *CacheEntry
	Warning        string // "110" or "113" when a stale/heuristic hit is served
}

func (d Decision) IsNetworkOnly() bool   { return d.NetworkRequest != nil && d.CacheResponse == nil }
func (d Decision) IsCacheHit() bool      { return d.NetworkRequest == nil && d.CacheResponse != nil }
func (d Decision) IsConditional() bool   { return d.NetworkRequest != nil && d.CacheResponse != nil }
func (d Decision) IsUnsatisfiable() bool { return d.NetworkRequest == nil && d.CacheResponse == nil }

// cacheableUnconditionally lists status codes cacheable unless headers
// forbid it, per RFC 7231 §6.1.
var cacheableUnconditionally = map[int]bool{
	200: true, 203: true, 204: true, 300: true, 301: true,
	404: true, 405: true, 410: true, 414: true, 501: true, 308: true,
}

// IsCacheableResponse reports whether statusCode may ever be cached,
// subject to the response's own Cache-Control (checked separately via
// CanStore). 302/307 require an explicit freshness signal.
func IsCacheableResponse(statusCode int, h *headers.Headers) bool {
	if cacheableUnconditionally[statusCode] {
		return true
	}
	if statusCode == 302 || statusCode == 307 {
		cc := parseCacheControl(h.Get("Cache-Control"))
		if h.Get("Expires") != "" || cc.has("max-age") || cc.has("public") || cc.has("private") {
			return true
		}
	}
	return false
}

// CanStore reports whether a freshly received response may be written to
// the cache: no-store on either the request or the response forbids
// storage (RFC 7234 §3).
func CanStore(reqHeaders, respHeaders *headers.Headers) bool {
	reqCC := parseCacheControl(reqHeaders.Get("Cache-Control"))
	respCC := parseCacheControl(respHeaders.Get("Cache-Control"))
	if reqCC.has("no-store") || respCC.has("no-store") {
		return false
	}
	return true
}

// Compute decides how to satisfy req against cached, per RFC 7234.
func Compute(now time.Time, req *CacheRequest, cached *CacheEntry) Decision {
	reqCC := parseCacheControl(req.Headers.Get("Cache-Control"))

	if cached == nil ||
		!IsCacheableResponse(cached.StatusCode, cached.Headers) ||
		reqCC.has("no-cache") ||
		req.Headers.Get("If-None-Match") != "" ||
		req.Headers.Get("If-Modified-Since") != "" {
		return networkOnlyOrUnsatisfiable(req, reqCC)
	}

	ageMillis := computeAge(now, cached)
	freshMillis := computeFreshness(cached)

	if maxAge, ok := reqCC.seconds("max-age"); ok {
		if ms := maxAge * 1000; ms < freshMillis {
			freshMillis = ms
		}
	}
	if minFresh, ok := reqCC.seconds("min-fresh"); ok {
		ageMillis += minFresh * 1000
	}

	respCC := parseCacheControl(cached.Headers.Get("Cache-Control"))
	if maxStale, ok := reqCC.seconds("max-stale"); ok && !respCC.has("must-revalidate") {
		freshMillis += maxStale * 1000
	}

	if ageMillis < freshMillis && !respCC.has("no-cache") {
		d := Decision{CacheResponse: cached}
		if ageMillis >= computeFreshness(cached) {
			d.Warning = "110"
		} else if isHeuristicFresh(cached) && now.Sub(cached.ServedDate) > 24*time.Hour {
			d.Warning = "113"
		}
		return d
	}

	// Build a conditional revalidation request.
	condHeaders := req.Headers.Clone()
	if etag := cached.Headers.Get("ETag"); etag != "" {
		condHeaders.Set("If-None-Match", etag)
	} else if lm := cached.Headers.Get("Last-Modified"); lm != "" {
		condHeaders.Set("If-Modified-Since", lm)
	} else if date := cached.Headers.Get("Date"); date != "" {
		condHeaders.Set("If-Modified-Since", date)
	} else {
		return networkOnlyOrUnsatisfiable(req, reqCC)
	}

	return Decision{
		NetworkRequest: &CacheRequest{Method: req.Method, URL: req.URL, Headers: condHeaders},
		CacheResponse:  cached,
	}
}

func networkOnlyOrUnsatisfiable(req *CacheRequest, reqCC directives) Decision {
	if reqCC.has("only-if-cached") {
		return Decision{}
	}
	return Decision{NetworkRequest: req}
}

// computeAge implements RFC 7234 §4.2.3's age calculation.
func computeAge(now time.Time, cached *CacheEntry) int64 {
	var apparentAgeMillis int64
	if !cached.ServedDate.IsZero() {
		apparentAgeMillis = now.Sub(cached.ServedDate).Milliseconds()
		if apparentAgeMillis < 0 {
			apparentAgeMillis = 0
		}
	}

	var ageHeaderMillis int64
	if ageHeader := cached.Headers.Get("Age"); ageHeader != "" {
		if secs, err := strconv.ParseInt(ageHeader, 10, 64); err == nil {
			ageHeaderMillis = secs * 1000
		}
	}

	receivedAge := apparentAgeMillis
	if ageHeaderMillis > receivedAge {
		receivedAge = ageHeaderMillis
	}

	var responseDuration int64
	if !cached.SentAt.IsZero() && !cached.ReceivedAt.IsZero() {
		responseDuration = cached.ReceivedAt.Sub(cached.SentAt).Milliseconds()
	}

	var residentDuration int64
	if !cached.ReceivedAt.IsZero() {
		residentDuration = now.Sub(cached.ReceivedAt).Milliseconds()
	}

	return receivedAge + responseDuration + residentDuration
}

// computeFreshness implements RFC 7234 §4.2's freshness lifetime.
func computeFreshness(cached *CacheEntry) int64 {
	respCC := parseCacheControl(cached.Headers.Get("Cache-Control"))

	if maxAge, ok := respCC.seconds("max-age"); ok {
		return maxAge * 1000
	}

	if expires := cached.Headers.Get("Expires"); expires != "" && !cached.ServedDate.IsZero() {
		if t, err := http1Date(expires); err == nil {
			return t.Sub(cached.ServedDate).Milliseconds()
		}
	}

	return heuristicFreshness(cached)
}

func isHeuristicFresh(cached *CacheEntry) bool {
	respCC := parseCacheControl(cached.Headers.Get("Cache-Control"))
	if respCC.has("max-age") || cached.Headers.Get("Expires") != "" {
		return false
	}
	return cached.Headers.Get("Last-Modified") != ""
}

// heuristicFreshness applies the Last-Modified heuristic of RFC 7234
// §4.2.2: 10% of the interval between Last-Modified and when the
// response was served.
func heuristicFreshness(cached *CacheEntry) int64 {
	lm := cached.Headers.Get("Last-Modified")
	if lm == "" || cached.ServedDate.IsZero() {
		return 0
	}
	t, err := http1Date(lm)
	if err != nil {
		return 0
	}
	age := cached.ServedDate.Sub(t).Milliseconds()
	if age < 0 {
		return 0
	}
	return age / 10
}

func http1Date(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errInvalidDate
}

var errInvalidDate = timeParseError("cachepolicy: invalid HTTP date")

type timeParseError string

func (e timeParseError) Error() string { return string(e) }
