package dnsserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Forist2034/local-cdn/internal/dnswire"
)

func TestTruncateUDPResponseSetsTCFlagAndDropsRecords(t *testing.T) {
	data := make([]byte, 300)
	p := dnswire.Packet{
		Header:    dnswire.Header{ID: 1, Flags: dnswire.QRFlag, QDCount: 1, ANCount: 1},
		Questions: []dnswire.Question{{Name: "big.example.", Type: uint16(dnswire.TypeTXT), Class: uint16(dnswire.ClassIN)}},
		Answers: []dnswire.Record{
			{Name: "big.example.", Type: uint16(dnswire.TypeTXT), Class: uint16(dnswire.ClassIN), TTL: 60, Data: string(data)},
		},
	}
	full, err := p.Marshal()
	require.NoError(t, err)
	require.Greater(t, len(full), 100)

	truncated := truncateUDPResponse(full, 64)
	resp, err := dnswire.ParsePacket(truncated)
	require.NoError(t, err)

	assert.NotZero(t, resp.Header.Flags&dnswire.TCFlag)
	assert.Empty(t, resp.Answers)
	require.Len(t, resp.Questions, 1)
	assert.Equal(t, "big.example.", resp.Questions[0].Name)
}

func TestTruncateUDPResponseNoopWhenSmallEnough(t *testing.T) {
	p := dnswire.Packet{Header: dnswire.Header{ID: 1, Flags: dnswire.QRFlag}}
	small, err := p.Marshal()
	require.NoError(t, err)

	assert.Equal(t, small, truncateUDPResponse(small, 512))
}
