package dnsaction_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Forist2034/local-cdn/internal/dnsaction"
	"github.com/Forist2034/local-cdn/internal/dnswire"
)

func buildQuery(t *testing.T, id uint16, name string, qtype, qclass uint16, opcode uint16) []byte {
	t.Helper()
	p := dnswire.Packet{
		Header:    dnswire.Header{ID: id, Flags: (opcode << 11) & dnswire.OpcodeMask, QDCount: 1},
		Questions: []dnswire.Question{{Name: name, Type: qtype, Class: qclass}},
	}
	b, err := p.Marshal()
	require.NoError(t, err)
	return b
}

func TestGateBlockScenario(t *testing.T) {
	router := dnsaction.NewRouter(dnsaction.NewBlock(60))

	req := buildQuery(t, 42, "foo.example.", uint16(dnswire.TypeA), uint16(dnswire.ClassIN), 0)
	respBytes, err := dnsaction.HandleMessage(context.Background(), router, req)
	require.NoError(t, err)

	resp, err := dnswire.ParsePacket(respBytes)
	require.NoError(t, err)
	assert.Equal(t, uint16(42), resp.Header.ID)
	assert.Equal(t, dnswire.RCodeNoError, dnswire.RCodeFromFlags(resp.Header.Flags))
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, []byte{0, 0, 0, 0}, resp.Answers[0].Data)
}

func TestGateNonQueryIsFormErr(t *testing.T) {
	router := dnsaction.NewRouter(dnsaction.NewBlock(0))

	p := dnswire.Packet{
		Header:    dnswire.Header{ID: 1, Flags: dnswire.QRFlag, QDCount: 1},
		Questions: []dnswire.Question{{Name: "a.", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)}},
	}
	req, err := p.Marshal()
	require.NoError(t, err)

	respBytes, err := dnsaction.HandleMessage(context.Background(), router, req)
	require.NoError(t, err)
	resp, err := dnswire.ParsePacket(respBytes)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeFormErr, dnswire.RCodeFromFlags(resp.Header.Flags))
}

func TestGateNonStandardOpcodeIsNotImp(t *testing.T) {
	router := dnsaction.NewRouter(dnsaction.NewBlock(0))
	req := buildQuery(t, 1, "a.", uint16(dnswire.TypeA), uint16(dnswire.ClassIN), 1)

	respBytes, err := dnsaction.HandleMessage(context.Background(), router, req)
	require.NoError(t, err)
	resp, err := dnswire.ParsePacket(respBytes)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeNotImp, dnswire.RCodeFromFlags(resp.Header.Flags))
}

func TestGateNonINClassIsEmptyNoError(t *testing.T) {
	router := dnsaction.NewRouter(dnsaction.NewBlock(0))
	req := buildQuery(t, 1, "a.", uint16(dnswire.TypeA), 3 /* CH */, 0)

	respBytes, err := dnsaction.HandleMessage(context.Background(), router, req)
	require.NoError(t, err)
	resp, err := dnswire.ParsePacket(respBytes)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeNoError, dnswire.RCodeFromFlags(resp.Header.Flags))
	assert.Empty(t, resp.Answers)
}
