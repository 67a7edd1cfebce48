// Package cacheproxy implements the cache-aware HTTPS reverse proxy
// for exactly one upstream authority: an on-disk content cache judged
// against RFC 7234 freshness/storability rules, request normalization
// for cache-key stability, and authority pinning.
package cacheproxy

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Service dispatches one incoming request through the cacheability
// filter, normalization, and the cache dispatch table of spec.md §4.9.
type Service struct {
	Logger    *slog.Logger
	Store     *Store
	Authority string // host[:port] the proxy is pinned to
	Client    *http.Client
}

// NewService builds a Service backed by store, pinned to authority,
// sending upstream requests through transport.
func NewService(logger *slog.Logger, store *Store, authority string, transport http.RoundTripper) *Service {
	return &Service{
		Logger:    logger,
		Store:     store,
		Authority: authority,
		Client:    &http.Client{Transport: transport},
	}
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, perr := s.handle(r)
	if perr != nil {
		s.writeError(w, r, perr)
		return
	}
	defer resp.Body.Close()
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, perr *Error) {
	if s.Logger != nil {
		s.Logger.ErrorContext(r.Context(), "proxy error", "kind", perr.Kind, "err", perr.Err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(perr.Kind.Status())
	fmt.Fprintf(w, "%v", perr)
}

func isCacheableRequest(r *http.Request) bool {
	return r.Method == http.MethodGet && r.Header.Get("Authorization") == ""
}

// normalize returns a copy of r with Accept-Encoding stripped, so
// client variance in that header never fragments the cache.
func normalize(r *http.Request) *http.Request {
	n := r.Clone(r.Context())
	n.Header = r.Header.Clone()
	n.Header.Del("Accept-Encoding")
	return n
}

func cacheKey(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// handle runs one request through the dispatch table in spec.md §4.9,
// after authority pinning.
func (s *Service) handle(r *http.Request) (*http.Response, *Error) {
	if perr := s.pinAuthority(r); perr != nil {
		return nil, perr
	}

	if !isCacheableRequest(r) {
		return s.forwardVerbatim(r)
	}

	norm := normalize(r)
	key := cacheKey(norm)

	raw, err := s.Store.Read(key)
	if err == ErrEntryNotFound {
		return s.handleMiss(r, norm, key)
	}
	if err != nil {
		return nil, newError(KindReadCache, err)
	}

	entry, err := UnmarshalEntry(raw)
	if err != nil {
		return nil, newError(KindDecode, err)
	}

	if !Storable(norm, entry.Policy.syntheticResponse()) {
		if s.Logger != nil {
			s.Logger.DebugContext(r.Context(), "cached entry no longer storable, forwarding", "key", key)
		}
		return s.forwardVerbatim(r)
	}

	return s.serveFromEntry(r, key, entry)
}

func (s *Service) pinAuthority(r *http.Request) *Error {
	if r.Host == "" {
		return newError(KindMissingHost, fmt.Errorf("missing host header"))
	}
	if _, err := url.Parse("//" + r.Host); err != nil {
		return newError(KindInvalidHost, fmt.Errorf("invalid host %q: %w", r.Host, err))
	}
	if !strings.EqualFold(r.Host, s.Authority) {
		return newError(KindUnexpectedHost, fmt.Errorf("unexpected host %q", r.Host))
	}
	return nil
}

func (s *Service) handleMiss(r, norm *http.Request, key string) (*http.Response, *Error) {
	if s.Logger != nil {
		s.Logger.InfoContext(r.Context(), "cache miss, fetching upstream", "key", key)
	}
	buffered, perr := s.fetchUpstream(norm)
	if perr != nil {
		return nil, perr
	}
	policy := NewPolicy(norm, buffered.raw)
	entry := Entry{Policy: policy, Body: buffered.body}
	if perr := s.writeEntry(key, entry); perr != nil {
		return nil, perr
	}
	// "then re-run before_request": a miss that produced an
	// immediately-stale entry (no usable freshness lifetime) forwards
	// the original request rather than revalidating what was just
	// fetched a moment ago.
	return s.serveFromEntryNoLoop(r, entry)
}

func (s *Service) serveFromEntry(r *http.Request, key string, entry Entry) (*http.Response, *Error) {
	switch entry.Policy.BeforeRequest(time.Now().UTC()) {
	case OutcomeFresh:
		return s.cachedResponse(entry), nil
	case OutcomeStaleNoMatch:
		if s.Logger != nil {
			s.Logger.WarnContext(r.Context(), "cached entry has no validator, forwarding", "key", key)
		}
		return s.forwardVerbatim(r)
	default:
		return s.revalidate(r, key, entry)
	}
}

// serveFromEntryNoLoop re-runs before_request exactly once on an
// entry that was just written, per spec.md §4.9's revalidation-loop
// safety rule: a second Stale verdict forwards the original request
// instead of issuing another upstream round-trip.
func (s *Service) serveFromEntryNoLoop(r *http.Request, entry Entry) (*http.Response, *Error) {
	if entry.Policy.BeforeRequest(time.Now().UTC()) == OutcomeFresh {
		return s.cachedResponse(entry), nil
	}
	return s.forwardVerbatim(r)
}

func (s *Service) revalidate(r *http.Request, key string, entry Entry) (*http.Response, *Error) {
	if s.Logger != nil {
		s.Logger.InfoContext(r.Context(), "revalidating cached entry", "key", key)
	}

	condReq := entry.Policy.ConditionalRequest(normalize(r))
	s.prepareUpstreamRequest(condReq)

	resp, err := s.Client.Do(condReq)
	if err != nil {
		return nil, newError(KindUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		newPolicy, _ := entry.Policy.AfterResponse(condReq, resp)
		updated := Entry{Policy: newPolicy, Body: entry.Body}
		if perr := s.writeEntry(key, updated); perr != nil {
			return nil, perr
		}
		return s.serveFromEntryNoLoop(r, updated)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindUpstream, err)
	}
	resp.Header.Del("Content-Encoding")
	newPolicy, _ := entry.Policy.AfterResponse(condReq, resp)
	updated := Entry{Policy: newPolicy, Body: body}
	if perr := s.writeEntry(key, updated); perr != nil {
		return nil, perr
	}
	return s.serveFromEntryNoLoop(r, updated)
}

func (s *Service) cachedResponse(entry Entry) *http.Response {
	h := entry.Policy.ReconstructedHeaders(time.Now().UTC())
	h.Set("Cache-Control", "no-store")
	return &http.Response{
		StatusCode:    entry.Policy.RespStatus,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
	}
}

func (s *Service) writeEntry(key string, entry Entry) *Error {
	b, err := entry.Marshal()
	if err != nil {
		return newError(KindDecode, err)
	}
	if err := s.Store.Write(key, b); err != nil {
		return newError(KindWriteCache, err)
	}
	return nil
}

// prepareUpstreamRequest rewrites req in place for the scheme/
// authority/User-Agent invariants spec.md §4.9/§8 require of every
// upstream request.
func (s *Service) prepareUpstreamRequest(req *http.Request) {
	req.URL.Scheme = "https"
	req.URL.Host = s.Authority
	req.Host = s.Authority
	req.Header.Set("User-Agent", "curl")
	req.RequestURI = ""
}

type bufferedResponse struct {
	raw  *http.Response
	body []byte
}

// fetchUpstream issues the cache-path upstream request: buffered body,
// Accept-Encoding stripped so the Go transport's built-in transparent
// gzip handling decodes on the wire and removes Content-Encoding
// itself, acting as the "decompression layer" spec.md §4.9 asks for
// on this path only.
func (s *Service) fetchUpstream(norm *http.Request) (*bufferedResponse, *Error) {
	outReq := norm.Clone(norm.Context())
	s.prepareUpstreamRequest(outReq)
	outReq.Header.Del("Accept-Encoding")
	outReq.Body = http.NoBody
	outReq.ContentLength = 0

	resp, err := s.Client.Do(outReq)
	if err != nil {
		return nil, newError(KindUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindUpstream, err)
	}
	resp.Header.Del("Content-Encoding")
	return &bufferedResponse{raw: resp, body: body}, nil
}

// forwardVerbatim streams a request bidirectionally without buffering
// or cache interaction: the non-cacheable path, the hit-not-storable
// path, and the stale-no-match path all land here. Scheme, authority,
// and User-Agent are still rewritten — spec.md §8 states those three
// invariants hold for every upstream request, not only the cache
// path.
func (s *Service) forwardVerbatim(r *http.Request) (*http.Response, *Error) {
	outReq := r.Clone(r.Context())
	s.prepareUpstreamRequest(outReq)

	resp, err := s.Client.Do(outReq)
	if err != nil {
		return nil, newError(KindUpstream, err)
	}
	return resp, nil
}
