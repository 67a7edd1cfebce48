package dnsconfig

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Forist2034/local-cdn/internal/dnsaction"
	"github.com/Forist2034/local-cdn/internal/upstream"
)

// Built is everything constructed from a Config: one router per named
// server plus the listen addresses each should bind.
type Built struct {
	Servers map[string]BuiltServer
}

// BuiltServer pairs a ready-to-dispatch router with its listen set.
type BuiltServer struct {
	Router *dnsaction.Router
	Listen []ListenConfig
}

var presetNames = map[string]upstream.Preset{
	"google":           upstream.PresetGoogle,
	"google_tls":       upstream.PresetGoogleTLS,
	"google_https":     upstream.PresetGoogleHTTPS,
	"cloudflare":       upstream.PresetCloudflare,
	"cloudflare_tls":   upstream.PresetCloudflareTLS,
	"cloudflare_https": upstream.PresetCloudflareHTTPS,
	"quad9":            upstream.PresetQuad9,
	"quad9_tls":        upstream.PresetQuad9TLS,
	"quad9_https":      upstream.PresetQuad9HTTPS,
}

// Build validates cfg and constructs every upstream handle and
// per-server router it describes. Startup-time failures — unknown
// upstream names, malformed action JSON, duplicate domains — are
// returned as a single wrapped error per spec.md §7.
func Build(cfg Config) (Built, error) {
	upstreams, err := buildUpstreams(cfg.Upstream)
	if err != nil {
		return Built{}, err
	}

	servers := make(map[string]BuiltServer, len(cfg.Servers))
	for name, sc := range cfg.Servers {
		router, err := buildRouter(sc.Action, upstreams)
		if err != nil {
			return Built{}, fmt.Errorf("dnsconfig: server %q: %w", name, err)
		}
		servers[name] = BuiltServer{Router: router, Listen: sc.Listen}
	}

	return Built{Servers: servers}, nil
}

func buildUpstreams(cfgs map[string]UpstreamConfig) (map[string]dnsaction.NamedResolver, error) {
	out := make(map[string]dnsaction.NamedResolver, len(cfgs))
	for name, uc := range cfgs {
		resolverCfg, err := decodeUpstreamConfig(uc.Config)
		if err != nil {
			return nil, fmt.Errorf("dnsconfig: upstream %q: %w", name, err)
		}
		opts := decodeOptions(uc.Options)

		h, err := upstream.NewHandle(name, resolverCfg, opts)
		if err != nil {
			return nil, fmt.Errorf("dnsconfig: upstream %q: %w", name, err)
		}
		out[name] = dnsaction.NamedResolver{Name: name, Resolver: h}
	}
	return out, nil
}

// decodeUpstreamConfig handles the `config` field's dual shape: either
// a bare preset-name string, or a `{ servers: [...] }` object for a
// custom resolver.
func decodeUpstreamConfig(raw json.RawMessage) (upstream.Config, error) {
	var presetName string
	if err := json.Unmarshal(raw, &presetName); err == nil {
		preset, ok := presetNames[presetName]
		if !ok {
			return upstream.Config{}, fmt.Errorf("unknown preset %q", presetName)
		}
		return upstream.Config{Preset: preset}, nil
	}

	var custom CustomUpstreamConfig
	if err := json.Unmarshal(raw, &custom); err != nil {
		return upstream.Config{}, fmt.Errorf("invalid upstream config: %w", err)
	}
	if len(custom.Servers) == 0 {
		return upstream.Config{}, fmt.Errorf("custom upstream config has no servers")
	}
	return upstream.Config{Preset: upstream.PresetCustom, Servers: custom.Servers}, nil
}

func decodeOptions(oc OptionsConfig) upstream.Options {
	opts := upstream.DefaultOptions()
	if oc.TimeoutSec != nil {
		opts.Timeout = time.Duration(*oc.TimeoutSec * float64(time.Second))
	}
	if oc.MaxRetries != nil {
		opts.MaxRetries = *oc.MaxRetries
	}
	if oc.TCPFallback != nil {
		opts.TCPFallback = *oc.TCPFallback
	}
	if oc.EDNSEnabled != nil {
		opts.EDNSEnabled = *oc.EDNSEnabled
	}
	if oc.EDNSUDPSize != nil {
		opts.EDNSUDPSize = *oc.EDNSUDPSize
	}
	return opts
}

func buildRouter(ac ActionConfig, upstreams map[string]dnsaction.NamedResolver) (*dnsaction.Router, error) {
	defaultAction, err := decodeAction(ac.DefaultAction, upstreams)
	if err != nil {
		return nil, fmt.Errorf("default_action: %w", err)
	}

	router := dnsaction.NewRouter(defaultAction)
	for _, binding := range ac.Actions {
		action, err := decodeAction(binding.Action, upstreams)
		if err != nil {
			return nil, fmt.Errorf("action binding: %w", err)
		}
		for _, domain := range binding.Domains {
			if err := router.Insert(domain, action); err != nil {
				return nil, err
			}
		}
	}
	return router, nil
}
