// Package dnsserver implements the UDP and TCP listener hosts that sit
// in front of a domain router: socket setup, worker pools, framing,
// rate limiting, and timeout enforcement around one query dispatch.
package dnsserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/Forist2034/local-cdn/internal/dnsaction"
	"github.com/Forist2034/local-cdn/internal/dnswire"
)

// QueryHandler drives one request through the IN-query gate with a
// hard timeout, independent of whether the gate's own call graph
// (resolver lookups in particular) honors context cancellation
// promptly.
type QueryHandler struct {
	Logger  *slog.Logger
	Router  *dnsaction.Router
	Timeout time.Duration // default: 4s
}

// HandleResult carries the serialized response plus enough of the
// parsed request to let the UDP path apply EDNS-aware truncation.
type HandleResult struct {
	ResponseBytes []byte
	Parsed        dnswire.Packet
	ParsedOK      bool
	Source        string
}

// Handle parses, dispatches, and serializes a response for one raw
// request, enforcing h.Timeout around the dispatch step.
func (h *QueryHandler) Handle(ctx context.Context, transport, src string, reqBytes []byte) HandleResult {
	parsed, err := dnswire.ParsePacket(reqBytes)
	if err != nil {
		resp, _ := dnsaction.HandleMessage(ctx, h.Router, reqBytes)
		return HandleResult{ResponseBytes: resp, Source: "parse-error"}
	}

	result := h.dispatchWithTimeout(ctx, reqBytes, parsed)
	h.logRequest(ctx, transport, src, parsed, len(reqBytes), result.Source)
	result.Parsed = parsed
	result.ParsedOK = true
	return result
}

// dispatchWithTimeout spawns the dispatch in a goroutine so a stuck
// Forward resolver cannot wedge the worker that owns this request;
// on timeout or cancellation it answers SERVFAIL itself.
func (h *QueryHandler) dispatchWithTimeout(ctx context.Context, reqBytes []byte, parsed dnswire.Packet) HandleResult {
	type outcome struct {
		resp []byte
		err  error
	}
	resCh := make(chan outcome, 1)
	go func() {
		resp, err := dnsaction.HandleMessage(ctx, h.Router, reqBytes)
		resCh <- outcome{resp: resp, err: err}
	}()

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return h.servfail(parsed, "shutdown")
	case <-timer.C:
		return h.servfail(parsed, "timeout")
	case r := <-resCh:
		if r.err != nil || len(r.resp) == 0 {
			return h.servfail(parsed, "servfail")
		}
		return HandleResult{ResponseBytes: r.resp, Source: "ok"}
	}
}

func (h *QueryHandler) servfail(parsed dnswire.Packet, source string) HandleResult {
	resp := dnswire.BuildErrorResponse(parsed, uint16(dnswire.RCodeServFail))
	b, err := resp.Marshal()
	if err != nil {
		return HandleResult{Source: source}
	}
	return HandleResult{ResponseBytes: b, Source: source}
}

func (h *QueryHandler) logRequest(ctx context.Context, transport, src string, parsed dnswire.Packet, reqLen int, source string) {
	if h.Logger == nil || !h.Logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	qname, qtype := "<no-question>", -1
	if len(parsed.Questions) > 0 {
		qname = parsed.Questions[0].Name
		qtype = int(parsed.Questions[0].Type)
	}
	h.Logger.DebugContext(ctx, "dns request",
		"transport", transport, "src", src, "id", int(parsed.Header.ID),
		"qname", qname, "qtype", qtype, "bytes", reqLen, "source", source)
}
