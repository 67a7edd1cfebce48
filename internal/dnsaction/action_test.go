package dnsaction_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Forist2034/local-cdn/internal/dnsaction"
	"github.com/Forist2034/local-cdn/internal/dnswire"
)

func TestDispatchBlock(t *testing.T) {
	action := dnsaction.NewBlock(60)

	t.Run("A", func(t *testing.T) {
		answers, additionals, rcode := dnsaction.Dispatch(context.Background(), action,
			dnswire.Question{Name: "foo.example.", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)})
		assert.Equal(t, dnswire.RCodeNoError, rcode)
		assert.Empty(t, additionals)
		require.Len(t, answers, 1)
		assert.Equal(t, "foo.example.", answers[0].Name)
		assert.Equal(t, uint32(60), answers[0].TTL)
		assert.Equal(t, []byte{0, 0, 0, 0}, answers[0].Data)
	})

	t.Run("AAAA", func(t *testing.T) {
		answers, _, rcode := dnsaction.Dispatch(context.Background(), action,
			dnswire.Question{Name: "foo.example.", Type: uint16(dnswire.TypeAAAA), Class: uint16(dnswire.ClassIN)})
		assert.Equal(t, dnswire.RCodeNoError, rcode)
		require.Len(t, answers, 1)
		assert.Equal(t, make([]byte, 16), answers[0].Data)
	})

	t.Run("MX has no records", func(t *testing.T) {
		answers, additionals, rcode := dnsaction.Dispatch(context.Background(), action,
			dnswire.Question{Name: "foo.example.", Type: uint16(dnswire.TypeMX), Class: uint16(dnswire.ClassIN)})
		assert.Equal(t, dnswire.RCodeNoError, rcode)
		assert.Empty(t, answers)
		assert.Empty(t, additionals)
	})
}

func TestDispatchFixed(t *testing.T) {
	action := dnsaction.NewFixed(30, []dnsaction.FixedRR{
		{Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN), Data: []byte{1, 2, 3, 4}},
	})

	answers, _, rcode := dnsaction.Dispatch(context.Background(), action,
		dnswire.Question{Name: "y.x.a.b.", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)})
	assert.Equal(t, dnswire.RCodeNoError, rcode)
	require.Len(t, answers, 1)
	assert.Equal(t, "y.x.a.b.", answers[0].Name)
	assert.Equal(t, uint32(30), answers[0].TTL)
	assert.Equal(t, []byte{1, 2, 3, 4}, answers[0].Data)
}

func TestDispatchUnixGated(t *testing.T) {
	active := dnsaction.NewBlock(1)
	inactive := dnsaction.NewBlock(2)
	gated := dnsaction.NewUnixGated(t.TempDir()+"/does-not-exist.sock", active, inactive)

	_, _, _ = dnsaction.Dispatch(context.Background(), gated,
		dnswire.Question{Name: "x.", Type: uint16(dnswire.TypeMX), Class: uint16(dnswire.ClassIN)})

	answers, _, _ := dnsaction.Dispatch(context.Background(), gated,
		dnswire.Question{Name: "x.", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)})
	require.Len(t, answers, 1)
	assert.Equal(t, uint32(2), answers[0].TTL) // inactive: path doesn't exist
}
