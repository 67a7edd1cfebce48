package dnsserver

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLimiterBurstThenDeny(t *testing.T) {
	k := newKeyedLimiter(1, 2, 10, 0)
	assert.True(t, k.allow("a"))
	assert.True(t, k.allow("a"))
	assert.False(t, k.allow("a"))
}

func TestKeyedLimiterDisabledWhenNonPositive(t *testing.T) {
	k := newKeyedLimiter(0, 0, 10, 0)
	for range 100 {
		assert.True(t, k.allow("a"))
	}
}

func TestRateLimiterAllowAddrAppliesAllLevels(t *testing.T) {
	r := &RateLimiter{
		global: newKeyedLimiter(100, 100, 10, 0),
		prefix: newKeyedLimiter(100, 100, 10, 0),
		ip:     newKeyedLimiter(1, 1, 10, 0),
	}
	addr := netip.MustParseAddr("10.0.0.1")
	assert.True(t, r.AllowAddr(addr))
	assert.False(t, r.AllowAddr(addr))
}

func TestPrefixKeyFromAddr(t *testing.T) {
	v4 := netip.MustParseAddr("10.0.0.5")
	assert.Equal(t, "10.0.0.0/24", prefixKeyFromAddr(v4))

	v6 := netip.MustParseAddr("2001:db8::1")
	assert.Equal(t, "2001:db8::/64", prefixKeyFromAddr(v6))
}
