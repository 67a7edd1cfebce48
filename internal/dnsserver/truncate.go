package dnsserver

import (
	"encoding/binary"

	"github.com/Forist2034/local-cdn/internal/dnswire"
)

// truncateUDPResponse shrinks a response to fit maxSize by setting the
// TC flag and dropping every section but the question, per RFC 1035's
// truncation contract.
func truncateUDPResponse(respBytes []byte, maxSize int) []byte {
	if maxSize <= 0 {
		maxSize = dnswire.DefaultUDPPayloadSize
	}
	if len(respBytes) <= maxSize {
		return respBytes
	}
	if len(respBytes) < dnswire.HeaderSize {
		return respBytes
	}

	qdcount := extractQuestionCount(respBytes)
	header := buildTruncatedHeader(respBytes, qdcount)

	if qdcount == 0 {
		return header
	}

	questionEnd := findQuestionSectionEnd(respBytes, int(qdcount))
	if questionEnd <= dnswire.HeaderSize || questionEnd > maxSize {
		return header
	}

	out := make([]byte, 0, questionEnd)
	out = append(out, header...)
	out = append(out, respBytes[dnswire.HeaderSize:questionEnd]...)
	return out
}

func extractQuestionCount(msg []byte) uint16 {
	return binary.BigEndian.Uint16(msg[4:6])
}

func buildTruncatedHeader(respBytes []byte, qdcount uint16) []byte {
	flags := binary.BigEndian.Uint16(respBytes[2:4])
	newFlags := flags | dnswire.TCFlag

	h := make([]byte, dnswire.HeaderSize)
	copy(h[0:2], respBytes[0:2])
	binary.BigEndian.PutUint16(h[2:4], newFlags)
	binary.BigEndian.PutUint16(h[4:6], qdcount)
	binary.BigEndian.PutUint16(h[6:8], 0)
	binary.BigEndian.PutUint16(h[8:10], 0)
	binary.BigEndian.PutUint16(h[10:12], 0)
	return h
}

func findQuestionSectionEnd(msg []byte, qdcount int) int {
	pos := dnswire.HeaderSize
	for range qdcount {
		pos = skipQNAME(msg, pos)
		if pos > len(msg) {
			return len(msg)
		}
		if pos+4 > len(msg) {
			return len(msg)
		}
		pos += 4
	}
	return pos
}

func skipQNAME(msg []byte, pos int) int {
	for pos < len(msg) {
		labelLen := msg[pos]
		if labelLen == 0 {
			return pos + 1
		}
		if labelLen >= 0xC0 {
			if pos+2 > len(msg) {
				return len(msg)
			}
			return pos + 2
		}
		pos++
		if pos+int(labelLen) > len(msg) {
			return len(msg)
		}
		pos += int(labelLen)
	}
	return pos
}
