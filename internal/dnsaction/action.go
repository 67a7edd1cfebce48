// Package dnsaction implements the per-domain DNS action dispatch: the
// longest-suffix domain router and the Block/Fixed/Forward/UnixGated
// action variants it routes to.
package dnsaction

import (
	"context"
	"os"

	"github.com/Forist2034/local-cdn/internal/dnswire"
)

// Resolver is the contract an upstream resolver handle exposes to the
// Forward action. It mirrors internal/upstream.Handle without importing
// it directly, so dnsaction stays free of transport concerns.
type Resolver interface {
	// Lookup performs one recursive query and returns the upstream's
	// response packet. A non-nil error means the lookup itself failed
	// (timeout, I/O) rather than the upstream answering with an error
	// response code.
	Lookup(ctx context.Context, q dnswire.Question) (dnswire.Packet, error)
}

// NamedResolver pairs a Resolver with the name used in the Forward
// action's additional-section TXT record.
type NamedResolver struct {
	Name     string
	Resolver Resolver
}

// Kind discriminates the Action tagged union. Dispatch is an explicit
// switch over Kind, not virtual method dispatch, per the polymorphic
// variants the router needs to share and the invariant that the same
// action may be referenced by multiple domains.
type Kind int

const (
	KindBlock Kind = iota
	KindFixed
	KindForward
	KindUnixGated
)

// FixedRR is one record template in a Fixed action: everything except
// the owner name, which is stamped with the query name at dispatch
// time.
type FixedRR struct {
	Type  uint16
	Class uint16
	Data  any // same shape rules as dnswire.Record.Data
}

// Action is a tagged union: exactly one of the Kind-matching fields is
// meaningful. Shared by reference (a *Action) across every domain that
// maps to it — construction happens once at router build time.
type Action struct {
	Kind Kind

	Block struct {
		TTL uint32
	}

	Fixed struct {
		TTL  uint32
		Data []FixedRR
	}

	Forward struct {
		Resolvers []NamedResolver
	}

	UnixGated struct {
		Path     string
		Active   *Action
		Inactive *Action
	}
}

// NewBlock builds a Block action.
func NewBlock(ttl uint32) *Action {
	a := &Action{Kind: KindBlock}
	a.Block.TTL = ttl
	return a
}

// NewFixed builds a Fixed action.
func NewFixed(ttl uint32, data []FixedRR) *Action {
	a := &Action{Kind: KindFixed}
	a.Fixed.TTL = ttl
	a.Fixed.Data = data
	return a
}

// NewForward builds a Forward action over an ordered resolver list.
func NewForward(resolvers []NamedResolver) *Action {
	a := &Action{Kind: KindForward}
	a.Forward.Resolvers = resolvers
	return a
}

// NewUnixGated builds a UnixGated action.
func NewUnixGated(path string, active, inactive *Action) *Action {
	a := &Action{Kind: KindUnixGated}
	a.UnixGated.Path = path
	a.UnixGated.Active = active
	a.UnixGated.Inactive = inactive
	return a
}

// Dispatch produces the answer/additional sections and response code
// for one question, given the selected action. It never returns a Go
// error: every failure mode the DNS protocol can express is encoded in
// the returned response code, per the wire-boundary error convention
// the rest of the module follows.
func Dispatch(ctx context.Context, action *Action, q dnswire.Question) (answers, additionals []dnswire.Record, rcode dnswire.RCode) {
	switch action.Kind {
	case KindBlock:
		return dispatchBlock(action, q), nil, dnswire.RCodeNoError
	case KindFixed:
		return dispatchFixed(action, q), nil, dnswire.RCodeNoError
	case KindForward:
		return dispatchForward(ctx, action, q)
	case KindUnixGated:
		next := action.UnixGated.Inactive
		if unixPathExists(action.UnixGated.Path) {
			next = action.UnixGated.Active
		}
		return Dispatch(ctx, next, q)
	default:
		return nil, nil, dnswire.RCodeServFail
	}
}

func dispatchBlock(action *Action, q dnswire.Question) []dnswire.Record {
	switch dnswire.RecordType(q.Type) {
	case dnswire.TypeA:
		return []dnswire.Record{{
			Name: q.Name, Type: q.Type, Class: uint16(dnswire.ClassIN),
			TTL: action.Block.TTL, Data: []byte{0, 0, 0, 0},
		}}
	case dnswire.TypeAAAA:
		return []dnswire.Record{{
			Name: q.Name, Type: q.Type, Class: uint16(dnswire.ClassIN),
			TTL: action.Block.TTL, Data: make([]byte, 16),
		}}
	default:
		return nil
	}
}

func dispatchFixed(action *Action, q dnswire.Question) []dnswire.Record {
	out := make([]dnswire.Record, 0, len(action.Fixed.Data))
	for _, rr := range action.Fixed.Data {
		out = append(out, dnswire.Record{
			Name: q.Name, Type: rr.Type, Class: rr.Class,
			TTL: action.Fixed.TTL, Data: rr.Data,
		})
	}
	return out
}

// unixPathExists performs the TOCTOU existence check UnixGated relies
// on. The race is intentional (per spec.md §9 Open Questions): the
// result is never cached across requests.
func unixPathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
