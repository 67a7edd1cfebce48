package dnsaction

import (
	"context"

	"github.com/Forist2034/local-cdn/internal/dnswire"
)

// dispatchForward implements §4.3: iterate resolvers in order, return
// the first success, and otherwise remember the last non-success
// response code so a legitimate NXDOMAIN from a primary still surfaces
// even if a secondary upstream is unreachable.
func dispatchForward(ctx context.Context, action *Action, q dnswire.Question) (answers, additionals []dnswire.Record, rcode dnswire.RCode) {
	var lastCode dnswire.RCode
	haveLastCode := false

	for _, up := range action.Forward.Resolvers {
		resp, err := up.Resolver.Lookup(ctx, q)
		if err != nil {
			// Transport-level failure (timeout, I/O): try the next
			// upstream without remembering a response code.
			continue
		}

		code := dnswire.RCodeFromFlags(resp.Header.Flags)
		if code == dnswire.RCodeNoError && len(resp.Answers) > 0 {
			txt := upstreamTXTRecord(q.Name, up.Name)
			return resp.Answers, []dnswire.Record{txt}, dnswire.RCodeNoError
		}

		lastCode = code
		haveLastCode = true
	}

	if haveLastCode {
		return nil, nil, lastCode
	}
	return nil, nil, dnswire.RCodeServFail
}

// upstreamTXTRecord builds the `upstream <name>` TTL-0 debug record
// that makes the resolution path externally observable.
func upstreamTXTRecord(owner, name string) dnswire.Record {
	return dnswire.Record{
		Name:  owner,
		Type:  uint16(dnswire.TypeTXT),
		Class: uint16(dnswire.ClassIN),
		TTL:   0,
		Data:  "upstream " + name,
	}
}
