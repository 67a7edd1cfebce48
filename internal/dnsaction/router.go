package dnsaction

import (
	"fmt"
	"strings"
)

// Router dispatches a query name to an Action by longest configured
// suffix at label boundaries, falling back to a default action.
//
// Build: insert each configured (domains, action) pair once at
// startup; lookups are read-only afterward. The trie stores *Action
// handles, not copies — multiple domains may reference the same
// action (shared ownership, per spec.md §3/§9).
type Router struct {
	root    *routerNode
	deflt   *Action
	lookups map[string]*Action // encoded key -> action, duplicate detection only
}

type routerNode struct {
	children map[string]*routerNode
	action   *Action // nil unless a domain ends exactly here
}

func newRouterNode() *routerNode {
	return &routerNode{children: make(map[string]*routerNode, 4)}
}

// NewRouter builds an empty router with the given default action.
func NewRouter(defaultAction *Action) *Router {
	return &Router{
		root:    newRouterNode(),
		deflt:   defaultAction,
		lookups: make(map[string]*Action),
	}
}

// Insert adds one domain -> action mapping. Per spec.md §4.4/§9, the
// source leaves duplicate-domain behavior undefined (silent overwrite);
// this implementation rejects duplicates at load time instead.
func (r *Router) Insert(domain string, action *Action) error {
	key := normalizeDomain(domain)
	if key == "" {
		return fmt.Errorf("dnsaction: empty domain in router config")
	}
	if _, dup := r.lookups[key]; dup {
		return fmt.Errorf("dnsaction: duplicate domain %q in router config", domain)
	}
	r.lookups[key] = action

	node := r.root
	for _, label := range reversedLabels(key) {
		child, ok := node.children[label]
		if !ok {
			child = newRouterNode()
			node.children[label] = child
		}
		node = child
	}
	node.action = action
	return nil
}

// Dispatch finds the longest stored ancestor of name (a label-boundary
// prefix of its reversed-label walk) and returns its action, or the
// router's default action if none matches.
func (r *Router) Dispatch(name string) *Action {
	key := normalizeDomain(name)
	if key == "" {
		return r.deflt
	}

	node := r.root
	best := r.deflt
	for _, label := range reversedLabels(key) {
		child, ok := node.children[label]
		if !ok {
			break
		}
		node = child
		if node.action != nil {
			best = node.action
		}
	}
	return best
}

// normalizeDomain case-folds and strips the trailing root dot, per
// spec.md §3's case-folding invariant.
func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSuffix(domain, "."))
}

// reversedLabels splits a normalized domain into its labels in reverse
// order, so "a.example.com" walks as ["com", "example", "a"] — making
// every stored key's trie path end exactly at a label boundary.
func reversedLabels(domain string) []string {
	labels := strings.Split(domain, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return labels
}
