// Package dnsconfig loads and validates the JSON configuration for
// the DNS server: named upstream resolvers, per-listener server
// definitions, and the domain router each server dispatches through.
//
// Unlike the teacher's own internal/config (layered viper/YAML/env
// config), this is a single JSON document read once at startup — the
// schema is fixed and small enough that encoding/json onto typed
// structs is the idiomatic fit; see DESIGN.md for why viper doesn't
// carry over.
package dnsconfig

import (
	"encoding/json"
	"fmt"
	"io"
)

// Config is the root JSON document.
type Config struct {
	LogLevel string                    `json:"log_level"`
	JSONLog  *string                   `json:"json_log"`
	Upstream map[string]UpstreamConfig `json:"upstream"`
	Servers  map[string]ServerConfig   `json:"servers"`
}

// UpstreamConfig names one resolver handle: either a well-known
// preset (google, cloudflare, quad9, and their _tls/_https aliases)
// or a custom server list, plus per-lookup options.
type UpstreamConfig struct {
	Config  json.RawMessage `json:"config"`
	Options OptionsConfig   `json:"options"`
}

// OptionsConfig mirrors upstream.Options in JSON form; absent or null
// fields fall back to upstream.DefaultOptions(), while an explicit zero
// is applied as given.
type OptionsConfig struct {
	TimeoutSec  *float64 `json:"timeout_sec"`
	MaxRetries  *int     `json:"max_retries"`
	TCPFallback *bool    `json:"tcp_fallback"`
	EDNSEnabled *bool    `json:"edns_enabled"`
	EDNSUDPSize *int     `json:"edns_udp_size"`
}

// CustomUpstreamConfig is the shape UpstreamConfig.Config decodes to
// when it isn't one of the preset name strings.
type CustomUpstreamConfig struct {
	Servers []string `json:"servers"`
}

// ServerConfig is one named DNS listener group: a router definition
// plus the sockets it listens on.
type ServerConfig struct {
	Action ActionConfig   `json:"action"`
	Listen []ListenConfig `json:"listen"`
}

// ActionConfig is the router definition: a default action plus
// longest-suffix overrides.
type ActionConfig struct {
	DefaultAction RawAction       `json:"default_action"`
	Actions       []DomainBinding `json:"actions"`
}

// DomainBinding binds a set of domains to one action.
type DomainBinding struct {
	Domains []string  `json:"domains"`
	Action  RawAction `json:"action"`
}

// RawAction defers action-variant decoding to action.go's
// decodeAction, since the JSON shape is a single-key object whose key
// names the variant.
type RawAction json.RawMessage

func (r *RawAction) UnmarshalJSON(data []byte) error {
	*r = append((*r)[0:0], data...)
	return nil
}

// ListenConfig is one listen entry: exactly one of UDP or TCP is set.
type ListenConfig struct {
	UDP string     `json:"udp,omitempty"`
	TCP *TCPListen `json:"tcp,omitempty"`
}

// TCPListen is the `{ "tcp": { "address", "timeout_sec" } }` shape.
type TCPListen struct {
	Address    string `json:"address"`
	TimeoutSec int    `json:"timeout_sec"`
}

// Load parses a Config from r. Validation beyond basic JSON
// well-formedness (unknown upstream references, action shape errors)
// happens in Build, since it needs the fully-decoded document.
func Load(r io.Reader) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("dnsconfig: decode: %w", err)
	}
	return cfg, nil
}
