package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Forist2034/local-cdn/internal/dnswire"
)

// ErrNoUpstreams is returned when a Config resolves to an empty
// address list.
var ErrNoUpstreams = errors.New("upstream: no server addresses configured")

// Handle is the single, reconstructible resolver instance described
// by spec.md §4.1: many lookups share a read lease against the
// current instance; a lookup that times out upgrades to a write lease
// and replaces the instance wholesale before reporting the timeout.
//
// There is no partial-health bookkeeping or per-upstream cooldown —
// unlike the teacher's ForwardingResolver, a single timeout discards
// the whole instance rather than marking one address unhealthy. This
// matches the simpler rebuild-on-timeout contract the router side of
// this module actually needs.
type Handle struct {
	name string
	cfg  Config
	opts Options

	mu   sync.RWMutex
	inst *instance

	// buildCount increments every time the instance is (re)built,
	// including construction. Tests observe this to confirm a timeout
	// actually triggered a rebuild rather than silently reusing state.
	buildCount atomic.Int64
}

// NewHandle builds a Handle and its first instance.
func NewHandle(name string, cfg Config, opts Options) (*Handle, error) {
	h := &Handle{name: name, cfg: cfg, opts: opts}
	inst, err := newInstance(cfg, opts)
	if err != nil {
		return nil, err
	}
	h.inst = inst
	h.buildCount.Add(1)
	return h, nil
}

// Name returns the configured resolver name (used as the Forward
// action's TXT-record upstream label).
func (h *Handle) Name() string { return h.name }

// BuildCount reports how many times the underlying instance has been
// (re)built. Exported for tests; not meaningful outside of tests.
func (h *Handle) BuildCount() int64 { return h.buildCount.Load() }

// Lookup implements §4.1's lookup contract: issue the query against
// the current instance under a read lease; on timeout, rebuild the
// instance under a write lease and report the timeout to the caller.
func (h *Handle) Lookup(ctx context.Context, q dnswire.Question) (dnswire.Packet, error) {
	h.mu.RLock()
	inst := h.inst
	resp, err := inst.query(ctx, q, h.opts)
	h.mu.RUnlock()

	if err == nil {
		return resp, nil
	}
	if !errors.Is(err, errTimeout) {
		return dnswire.Packet{}, err
	}

	h.rebuild(inst)
	return dnswire.Packet{}, fmt.Errorf("upstream %s: %w", h.name, err)
}

// rebuild discards the timed-out instance stale and builds a fresh one
// from the stored config and options. Safe to call concurrently from
// multiple timed-out lookups — only the first rebuild after a given
// instance actually replaces it.
func (h *Handle) rebuild(stale *instance) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.inst != stale {
		return // another timed-out lookup already replaced it
	}
	fresh, err := newInstance(h.cfg, h.opts)
	if err != nil {
		// Keep the old instance if rebuilding fails outright (e.g. bad
		// config) rather than leaving the handle with no instance at all.
		return
	}
	h.inst = fresh
	h.buildCount.Add(1)
}
