// Package dnswire provides DNS protocol parsing, encoding, and packet manipulation.
//
// Standards Compliance:
//
// This package implements DNS protocol features from the following RFCs:
//
//   - RFC 1035: Domain Names - Implementation and Specification (core DNS protocol)
//   - RFC 1034: Domain Names - Concepts and Facilities (DNS concepts)
//   - RFC 3596: DNS Extensions to Support IPv6 (AAAA records)
//   - RFC 4035: DNSSEC Protocol Extensions (AD, CD flag constants only)
//   - RFC 6891: Extension Mechanisms for DNS (EDNS, OPT records)
//
// It has no negative caching (RFC 2308) and no DNSSEC record types (RFC 4034).
//
// Record Representation:
//
// Every resource record is a single Record struct whose Data field holds the
// type-specific payload ([]byte, string, MXData), discriminated on Type.
//
// Error Handling:
//
// Wire codec errors wrap ErrDNSError with context using fmt.Errorf("...: %w", ...).
// ParseRequestBounded's request-validation errors are plain errors that do not
// wrap ErrDNSError.
package dnswire

import "errors"

var (
	// ErrDNSError is a sentinel error type for DNS protocol violations.
	// Wrap this with fmt.Errorf("context: %w", ErrDNSError) to add context.
	ErrDNSError = errors.New("dns wire error")
)
