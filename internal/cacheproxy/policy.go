package cacheproxy

import (
	"net/http"
	"strconv"
	"time"

	"github.com/pquerna/cachecontrol"
)

// Policy is the RFC 7234 state captured when a response is stored: the
// request method/headers relevant to validation plus the response
// headers bearing freshness and validators. It mirrors CachePolicy in
// the original cache-proxy's CacheEntry.
//
// Times are stored as Unix nanoseconds rather than time.Time so the
// CBOR framing never depends on a particular time-tag encoding mode.
type Policy struct {
	ReqMethod  string      `cbor:"req_method"`
	ReqHeaders http.Header `cbor:"req_headers"`

	RespStatus  int         `cbor:"resp_status"`
	RespHeaders http.Header `cbor:"resp_headers"`

	ResponseTimeUnixNano int64 `cbor:"response_time_ns"`
	ExpiresUnixNano      int64 `cbor:"expires_ns"`
	HasExpiry            bool  `cbor:"has_expiry"`
}

func buildPolicy(req *http.Request, resp *http.Response) Policy {
	now := time.Now().UTC()
	p := Policy{
		ReqMethod:            req.Method,
		ReqHeaders:           req.Header.Clone(),
		RespStatus:           resp.StatusCode,
		RespHeaders:          resp.Header.Clone(),
		ResponseTimeUnixNano: now.UnixNano(),
	}
	_, expires, err := cachecontrol.CachableResponse(req, resp, cachecontrol.Options{})
	if err == nil && !expires.IsZero() {
		p.ExpiresUnixNano = expires.UnixNano()
		p.HasExpiry = true
	}
	return p
}

// NewPolicy builds a Policy from the request that produced resp and
// the response itself, computing freshness via cachecontrol's RFC
// 7234 evaluation.
func NewPolicy(req *http.Request, resp *http.Response) Policy {
	return buildPolicy(req, resp)
}

// Storable reports whether resp to req may be cached at all, per RFC
// 7234 (method, status, Cache-Control, Authorization interactions).
func Storable(req *http.Request, resp *http.Response) bool {
	reasons, _, err := cachecontrol.CachableResponse(req, resp, cachecontrol.Options{})
	return err == nil && len(reasons) == 0
}

func (p Policy) responseTime() time.Time {
	return time.Unix(0, p.ResponseTimeUnixNano).UTC()
}

func (p Policy) expires() time.Time {
	return time.Unix(0, p.ExpiresUnixNano).UTC()
}

// syntheticResponse reconstructs the stored status/headers as an
// *http.Response, for re-running storability/freshness checks against
// an entry already on disk.
func (p Policy) syntheticResponse() *http.Response {
	return &http.Response{StatusCode: p.RespStatus, Header: p.RespHeaders.Clone()}
}

// Outcome is the result of evaluating a Policy against "now",
// mirroring http-cache-semantics' BeforeRequest in the original.
type Outcome int

const (
	// OutcomeFresh means the stored response can be served as-is.
	OutcomeFresh Outcome = iota
	// OutcomeStaleMatches means the entry is for this request but
	// expired; a conditional revalidation is possible.
	OutcomeStaleMatches
	// OutcomeStaleNoMatch means the entry carries no validator to
	// revalidate with, so the request should be forwarded verbatim.
	OutcomeStaleNoMatch
)

func (p Policy) validator() string {
	if et := p.RespHeaders.Get("ETag"); et != "" {
		return et
	}
	return p.RespHeaders.Get("Last-Modified")
}

// BeforeRequest evaluates p at now.
func (p Policy) BeforeRequest(now time.Time) Outcome {
	if p.HasExpiry && now.Before(p.expires()) {
		return OutcomeFresh
	}
	if p.validator() != "" {
		return OutcomeStaleMatches
	}
	return OutcomeStaleNoMatch
}

// ConditionalRequest builds the revalidation request for a stale,
// matching entry: orig plus If-None-Match / If-Modified-Since
// validators taken from the stored response.
func (p Policy) ConditionalRequest(orig *http.Request) *http.Request {
	req := orig.Clone(orig.Context())
	if et := p.RespHeaders.Get("ETag"); et != "" {
		req.Header.Set("If-None-Match", et)
	}
	if lm := p.RespHeaders.Get("Last-Modified"); lm != "" {
		req.Header.Set("If-Modified-Since", lm)
	}
	return req
}

// AfterResponse classifies the upstream's reply to a conditional
// revalidation request. A 304 means the stored body is still good
// (modified=false, caller keeps the old body); anything else is a
// full replacement (modified=true, caller stores resp's body).
func (p Policy) AfterResponse(req *http.Request, resp *http.Response) (newPolicy Policy, modified bool) {
	if resp.StatusCode == http.StatusNotModified {
		merged := p.RespHeaders.Clone()
		for k, v := range resp.Header {
			merged[k] = v
		}
		synthetic := &http.Response{StatusCode: p.RespStatus, Header: merged}
		return buildPolicy(req, synthetic), false
	}
	return buildPolicy(req, resp), true
}

// ReconstructedHeaders returns the stored response headers with Age
// recomputed from when the response was stored, the way a Fresh hit
// is served to the client.
func (p Policy) ReconstructedHeaders(now time.Time) http.Header {
	h := p.RespHeaders.Clone()
	age := int(now.Sub(p.responseTime()).Seconds())
	if age < 0 {
		age = 0
	}
	h.Set("Age", strconv.Itoa(age))
	return h
}
