package dnsaction

import (
	"context"

	"github.com/Forist2034/local-cdn/internal/dnswire"
)

// HandleMessage implements §4.6's IN-query gate in front of the router,
// and §4.2-§4.5's dispatch behind it. Protocol failures are never Go
// errors: anything the wire parse can't make sense of becomes a
// best-effort FormErr response, matching the "DNS errors are response
// codes, not Go errors" convention past the wire boundary. The only
// error returned is one from serializing the response.
func HandleMessage(ctx context.Context, router *Router, reqBytes []byte) ([]byte, error) {
	if len(reqBytes) > dnswire.MaxIncomingDNSMessageSize {
		return nil, nil
	}

	req, err := dnswire.ParsePacket(reqBytes)
	if err != nil {
		return buildRawFormErr(reqBytes)
	}

	if len(req.Questions) != 1 {
		return dnswire.BuildErrorResponse(req, uint16(dnswire.RCodeFormErr)).Marshal()
	}

	flags := req.Header.Flags
	if flags&dnswire.QRFlag != 0 {
		// A response-typed message arriving as a query is malformed.
		return dnswire.BuildErrorResponse(req, uint16(dnswire.RCodeFormErr)).Marshal()
	}
	if opcode := (flags & dnswire.OpcodeMask) >> 11; opcode != 0 {
		return dnswire.BuildErrorResponse(req, uint16(dnswire.RCodeNotImp)).Marshal()
	}

	q := req.Questions[0]
	if dnswire.RecordClass(q.Class) != dnswire.ClassIN {
		// Non-IN queries get an empty, no-error response: no records,
		// but not an error either.
		return buildEmptyResponse(req).Marshal()
	}

	answers, additionals, rcode := Dispatch(ctx, router.Dispatch(q.Name), q)
	resp := dnswire.Packet{
		Header: dnswire.Header{
			ID:      req.Header.ID,
			Flags:   buildResponseFlags(flags, uint16(rcode)),
			QDCount: 1,
		},
		Questions:   req.Questions,
		Answers:     answers,
		Additionals: additionals,
	}
	return resp.Marshal()
}

// buildEmptyResponse answers with the question section only, RCodeNoError,
// and no records — the shape §4.6 requires for non-IN queries.
func buildEmptyResponse(req dnswire.Packet) dnswire.Packet {
	return dnswire.Packet{
		Header: dnswire.Header{
			ID:      req.Header.ID,
			Flags:   buildResponseFlags(req.Header.Flags, uint16(dnswire.RCodeNoError)),
			QDCount: uint16(len(req.Questions)),
		},
		Questions: req.Questions,
	}
}

// buildResponseFlags sets the QR bit, preserves RD, and stamps rcode.
func buildResponseFlags(reqFlags, rcode uint16) uint16 {
	flags := dnswire.QRFlag | (reqFlags & dnswire.RDFlag)
	return (flags &^ dnswire.RCodeMask) | (rcode & dnswire.RCodeMask)
}

// buildRawFormErr builds a minimal FormErr response when the message
// could not be parsed at all, trying to preserve at least the
// transaction ID so the client doesn't just time out.
func buildRawFormErr(reqBytes []byte) ([]byte, error) {
	if len(reqBytes) < dnswire.HeaderSize {
		return nil, nil
	}
	off := 0
	h, err := dnswire.ParseHeader(reqBytes, &off)
	if err != nil {
		return nil, nil
	}
	resp := dnswire.Packet{
		Header: dnswire.Header{
			ID:    h.ID,
			Flags: buildResponseFlags(h.Flags, uint16(dnswire.RCodeFormErr)),
		},
	}
	return resp.Marshal()
}
