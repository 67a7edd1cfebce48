package dnsaction_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Forist2034/local-cdn/internal/dnsaction"
	"github.com/Forist2034/local-cdn/internal/dnswire"
)

type fakeResolver struct {
	resp dnswire.Packet
	err  error
}

func (f fakeResolver) Lookup(ctx context.Context, q dnswire.Question) (dnswire.Packet, error) {
	return f.resp, f.err
}

func responseWithFlags(rcode dnswire.RCode, answers []dnswire.Record) dnswire.Packet {
	return dnswire.Packet{
		Header:  dnswire.Header{Flags: dnswire.QRFlag | uint16(rcode)},
		Answers: answers,
	}
}

func TestForwardFailover(t *testing.T) {
	u1 := dnsaction.NamedResolver{Name: "u1", Resolver: fakeResolver{err: errors.New("timeout")}}
	u2 := dnsaction.NamedResolver{Name: "u2", Resolver: fakeResolver{
		resp: responseWithFlags(dnswire.RCodeNoError, []dnswire.Record{
			{Name: "c.", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN), TTL: 300, Data: []byte{9, 9, 9, 9}},
		}),
	}}
	action := dnsaction.NewForward([]dnsaction.NamedResolver{u1, u2})

	answers, additionals, rcode := dnsaction.Dispatch(context.Background(), action,
		dnswire.Question{Name: "c.", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)})

	assert.Equal(t, dnswire.RCodeNoError, rcode)
	require.Len(t, answers, 1)
	assert.Equal(t, []byte{9, 9, 9, 9}, answers[0].Data)
	require.Len(t, additionals, 1)
	assert.Equal(t, "upstream u2", additionals[0].Data)
}

func TestForwardAllFailRemembersLastCode(t *testing.T) {
	u1 := dnsaction.NamedResolver{Name: "u1", Resolver: fakeResolver{
		resp: responseWithFlags(dnswire.RCodeNXDomain, nil),
	}}
	u2 := dnsaction.NamedResolver{Name: "u2", Resolver: fakeResolver{err: errors.New("unreachable")}}
	action := dnsaction.NewForward([]dnsaction.NamedResolver{u1, u2})

	answers, additionals, rcode := dnsaction.Dispatch(context.Background(), action,
		dnswire.Question{Name: "x.", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)})

	assert.Equal(t, dnswire.RCodeNXDomain, rcode)
	assert.Empty(t, answers)
	assert.Empty(t, additionals)
}

func TestForwardAllFailNoCodeDefaultsServFail(t *testing.T) {
	u1 := dnsaction.NamedResolver{Name: "u1", Resolver: fakeResolver{err: errors.New("timeout")}}
	action := dnsaction.NewForward([]dnsaction.NamedResolver{u1})

	_, _, rcode := dnsaction.Dispatch(context.Background(), action,
		dnswire.Question{Name: "x.", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)})

	assert.Equal(t, dnswire.RCodeServFail, rcode)
}
