package dnsserver

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter combines global, per-prefix, and per-IP admission
// control. A request must pass all three levels to be allowed.
//
// Each level is a keyed set of golang.org/x/time/rate.Limiter
// instances rather than the hand-rolled token bucket HydraDNS used —
// the library implements the identical token-bucket algorithm and
// drops the bespoke bookkeeping.
type RateLimiter struct {
	global *keyedLimiter
	prefix *keyedLimiter
	ip     *keyedLimiter
}

// NewRateLimiterFromEnv builds a RateLimiter from environment
// variables, matching the teacher's tunable names with this module's
// own prefix.
func NewRateLimiterFromEnv() *RateLimiter {
	cleanupSeconds := envFloat("LOCAL_CDN_RL_CLEANUP_SECONDS", 60.0)
	maxIP := envInt("LOCAL_CDN_RL_MAX_IP_ENTRIES", 65_536)
	maxPrefix := envInt("LOCAL_CDN_RL_MAX_PREFIX_ENTRIES", 16_384)

	globalQPS := envFloat("LOCAL_CDN_RL_GLOBAL_QPS", 100_000.0)
	globalBurst := envInt("LOCAL_CDN_RL_GLOBAL_BURST", 100_000)
	prefixQPS := envFloat("LOCAL_CDN_RL_PREFIX_QPS", 10_000.0)
	prefixBurst := envInt("LOCAL_CDN_RL_PREFIX_BURST", 20_000)
	ipQPS := envFloat("LOCAL_CDN_RL_IP_QPS", 3_000.0)
	ipBurst := envInt("LOCAL_CDN_RL_IP_BURST", 6_000)

	cleanupInterval := time.Duration(cleanupSeconds * float64(time.Second))
	if cleanupInterval <= 0 {
		cleanupInterval = 60 * time.Second
	}

	return &RateLimiter{
		global: newKeyedLimiter(globalQPS, globalBurst, 1, cleanupInterval),
		prefix: newKeyedLimiter(prefixQPS, prefixBurst, maxPrefix, cleanupInterval),
		ip:     newKeyedLimiter(ipQPS, ipBurst, maxIP, cleanupInterval),
	}
}

// Allow checks srcIP (string form) against all three levels.
func (r *RateLimiter) Allow(srcIP string) bool {
	if r == nil {
		return true
	}
	if !r.global.allow("*") {
		return false
	}
	if !r.prefix.allow(prefixKey(srcIP)) {
		return false
	}
	return r.ip.allow(srcIP)
}

// AllowAddr checks a netip.Addr against all three levels, deriving the
// prefix key from the already-parsed address instead of re-parsing a
// string on the hot UDP receive path.
func (r *RateLimiter) AllowAddr(ip netip.Addr) bool {
	if r == nil {
		return true
	}
	if !r.global.allow("*") {
		return false
	}
	if !r.prefix.allow(prefixKeyFromAddr(ip)) {
		return false
	}
	return r.ip.allow(ip.String())
}

func prefixKeyFromAddr(ip netip.Addr) string {
	if ip.Is4() {
		p, _ := ip.Prefix(24)
		return p.String()
	}
	p, _ := ip.Prefix(64)
	return p.String()
}

// keyedLimiter maintains one rate.Limiter per key, with periodic
// cleanup of stale entries bounded by maxEntries.
type keyedLimiter struct {
	qps        float64
	burst      int
	maxEntries int
	cleanupInt time.Duration

	mu          sync.Mutex
	lastCleanup time.Time
	lastAccess  map[string]time.Time
	limiters    map[string]*rate.Limiter
}

func newKeyedLimiter(qps float64, burst, maxEntries int, cleanupInterval time.Duration) *keyedLimiter {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 60 * time.Second
	}
	return &keyedLimiter{
		qps:         qps,
		burst:       burst,
		maxEntries:  maxEntries,
		cleanupInt:  cleanupInterval,
		lastCleanup: time.Now(),
		lastAccess:  make(map[string]time.Time),
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (k *keyedLimiter) allow(key string) bool {
	if k == nil || k.qps <= 0 || k.burst <= 0 {
		return true
	}

	now := time.Now()
	k.mu.Lock()
	defer k.mu.Unlock()

	if now.Sub(k.lastCleanup) > k.cleanupInt {
		k.cleanupLocked(now)
	}

	lim, ok := k.limiters[key]
	if !ok {
		if len(k.limiters) >= k.maxEntries {
			k.cleanupLocked(now)
			if len(k.limiters) >= k.maxEntries {
				return false
			}
		}
		lim = rate.NewLimiter(rate.Limit(k.qps), k.burst)
		k.limiters[key] = lim
	}
	k.lastAccess[key] = now
	return lim.Allow()
}

func (k *keyedLimiter) cleanupLocked(now time.Time) {
	staleBefore := now.Add(-k.cleanupInt)
	for key, last := range k.lastAccess {
		if !last.After(staleBefore) {
			delete(k.lastAccess, key)
			delete(k.limiters, key)
		}
	}
	k.lastCleanup = now
}

// prefixKey converts a string IP to a /24 (IPv4) or /64 (IPv6) prefix key.
func prefixKey(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "ip:" + ip
	}
	return prefixKeyFromAddr(addr)
}

// RateLimitsStartupLog summarizes the effective rate-limit config for
// a single startup log line.
func RateLimitsStartupLog() string {
	cleanupSeconds := envFloat("LOCAL_CDN_RL_CLEANUP_SECONDS", 60.0)
	maxIP := envInt("LOCAL_CDN_RL_MAX_IP_ENTRIES", 65_536)
	maxPrefix := envInt("LOCAL_CDN_RL_MAX_PREFIX_ENTRIES", 16_384)

	globalQPS := envFloat("LOCAL_CDN_RL_GLOBAL_QPS", 100_000.0)
	globalBurst := envInt("LOCAL_CDN_RL_GLOBAL_BURST", 100_000)
	prefixQPS := envFloat("LOCAL_CDN_RL_PREFIX_QPS", 10_000.0)
	prefixBurst := envInt("LOCAL_CDN_RL_PREFIX_BURST", 20_000)
	ipQPS := envFloat("LOCAL_CDN_RL_IP_QPS", 3_000.0)
	ipBurst := envInt("LOCAL_CDN_RL_IP_BURST", 6_000)

	fmtLimiter := func(name string, qps float64, burst int) string {
		if qps <= 0 || burst <= 0 {
			return name + "=disabled"
		}
		return fmt.Sprintf("%s=%gqps/%d", name, qps, burst)
	}

	return fmt.Sprintf(
		"%s %s %s cleanup_s=%g max_ip=%d max_prefix=%d",
		fmtLimiter("global", globalQPS, globalBurst),
		fmtLimiter("prefix", prefixQPS, prefixBurst),
		fmtLimiter("ip", ipQPS, ipBurst),
		cleanupSeconds, maxIP, maxPrefix,
	)
}

func envFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func envInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
