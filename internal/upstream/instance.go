package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/Forist2034/local-cdn/internal/dnswire"
)

// errTimeout marks a lookup failure that should trigger an instance
// rebuild, as opposed to a malformed-response or config error that
// wouldn't be fixed by rebuilding.
var errTimeout = errors.New("upstream: query timed out")

// instance is one concrete, dialable resolver: a fixed list of server
// addresses tried in order for a single query. It holds no
// connection-level state between queries — each query dials fresh,
// per the simplification documented in DESIGN.md (no pooling, unlike
// the teacher's ForwardingResolver).
type instance struct {
	addrs []string
}

func newInstance(cfg Config, _ Options) (*instance, error) {
	addrs := cfg.Addrs()
	if len(addrs) == 0 {
		return nil, ErrNoUpstreams
	}
	return &instance{addrs: addrs}, nil
}

// query runs one logical lookup against this instance: try each
// configured address in order, making up to opts.MaxRetries attempts
// (at least one) at an address that times out before moving on. The
// first well-formed,
// validated response wins.
func (inst *instance) query(ctx context.Context, q dnswire.Question, opts Options) (dnswire.Packet, error) {
	reqPacket := dnswire.Packet{
		Header:    dnswire.Header{ID: newTxID(), Flags: dnswire.RDFlag, QDCount: 1},
		Questions: []dnswire.Question{q},
	}
	reqBytes, err := reqPacket.Marshal()
	if err != nil {
		return dnswire.Packet{}, fmt.Errorf("upstream: marshal query: %w", err)
	}
	if opts.EDNSEnabled {
		reqBytes = dnswire.AddEDNSToRequestBytes(reqPacket, reqBytes, opts.EDNSUDPSize)
	}

	var lastErr error
	for _, addr := range inst.addrs {
		attempts := opts.MaxRetries
		if attempts < 1 {
			attempts = 1
		}
		for attempt := 0; attempt < attempts; attempt++ {
			respBytes, err := inst.queryOneAttempt(ctx, addr, reqBytes, opts)
			if err != nil {
				lastErr = err
				if isTimeoutError(err) {
					continue
				}
				break
			}

			if opts.TCPFallback && dnswire.IsTruncated(respBytes) {
				tcpResp, err := inst.queryTCP(ctx, addr, reqBytes, opts.Timeout)
				if err != nil {
					lastErr = err
					break
				}
				respBytes = tcpResp
			}

			resp, err := dnswire.ParsePacket(respBytes)
			if err != nil {
				lastErr = err
				break
			}
			if !validateResponse(q, resp) {
				lastErr = fmt.Errorf("upstream: response validation failed from %s", addr)
				break
			}
			return resp, nil
		}
	}

	if lastErr != nil && isTimeoutError(lastErr) {
		return dnswire.Packet{}, errTimeout
	}
	if lastErr == nil {
		lastErr = errTimeout
	}
	return dnswire.Packet{}, lastErr
}

// queryOneAttempt performs a single UDP write/read round trip with a
// deadline, dialing fresh each time.
func (inst *instance) queryOneAttempt(ctx context.Context, addr string, reqBytes []byte, opts Options) ([]byte, error) {
	deadline := deadlineFor(ctx, opts.Timeout)

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("upstream: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if _, err := conn.Write(reqBytes); err != nil {
		return nil, fmt.Errorf("upstream: write to %s: %w", addr, err)
	}

	buf := make([]byte, dnswire.MaxIncomingDNSMessageSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("upstream: read from %s: %w", addr, err)
	}
	return buf[:n], nil
}

// queryTCP redrives the query over TCP, 2-byte length-prefixed, used
// when the UDP response is truncated.
func (inst *instance) queryTCP(ctx context.Context, addr string, reqBytes []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("upstream: tcp dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	length := len(reqBytes)
	prefixed := make([]byte, 2+length)
	prefixed[0] = byte(length >> 8)
	prefixed[1] = byte(length)
	copy(prefixed[2:], reqBytes)
	if _, err := conn.Write(prefixed); err != nil {
		return nil, fmt.Errorf("upstream: tcp write %s: %w", addr, err)
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("upstream: tcp read length from %s: %w", addr, err)
	}
	respLen := int(lenBuf[0])<<8 | int(lenBuf[1])
	respBuf := make([]byte, respLen)
	if _, err := io.ReadFull(conn, respBuf); err != nil {
		return nil, fmt.Errorf("upstream: tcp read body from %s: %w", addr, err)
	}
	return respBuf, nil
}

// validateResponse guards against cache/off-path poisoning by
// checking the response's question section echoes the request's,
// matching the teacher's own anti-poisoning check.
func validateResponse(q dnswire.Question, resp dnswire.Packet) bool {
	if len(resp.Questions) != 1 {
		return false
	}
	got := resp.Questions[0]
	return equalDNSNames(got.Name, q.Name) && got.Type == q.Type && got.Class == q.Class
}

func equalDNSNames(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func deadlineFor(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
