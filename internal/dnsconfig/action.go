package dnsconfig

import (
	"encoding/json"
	"fmt"

	"github.com/Forist2034/local-cdn/internal/dnsaction"
	"github.com/Forist2034/local-cdn/internal/dnswire"
)

// decodeAction turns one RawAction JSON object into a *dnsaction.Action,
// resolving Forward references against the already-built upstream
// handles. The JSON shape is a single-key object; the key names the
// variant per spec.md §6.
func decodeAction(raw RawAction, upstreams map[string]dnsaction.NamedResolver) (*dnsaction.Action, error) {
	var variants map[string]json.RawMessage
	if err := json.Unmarshal(raw, &variants); err != nil {
		return nil, fmt.Errorf("dnsconfig: action: %w", err)
	}
	if len(variants) != 1 {
		return nil, fmt.Errorf("dnsconfig: action must have exactly one variant key, got %d", len(variants))
	}

	for kind, body := range variants {
		switch kind {
		case "block":
			var b struct {
				TTL uint32 `json:"ttl"`
			}
			if err := json.Unmarshal(body, &b); err != nil {
				return nil, fmt.Errorf("dnsconfig: block: %w", err)
			}
			return dnsaction.NewBlock(b.TTL), nil

		case "fixed":
			return decodeFixed(body)

		case "forward":
			return decodeForward(body, upstreams)

		case "unix_srv_or_block":
			var b struct {
				Path     string          `json:"path"`
				Active   json.RawMessage `json:"active"`
				Inactive json.RawMessage `json:"inactive"`
			}
			if err := json.Unmarshal(body, &b); err != nil {
				return nil, fmt.Errorf("dnsconfig: unix_srv_or_block: %w", err)
			}
			active, err := decodeFixed(b.Active)
			if err != nil {
				return nil, err
			}
			var inactiveTTL struct {
				TTL uint32 `json:"ttl"`
			}
			if err := json.Unmarshal(b.Inactive, &inactiveTTL); err != nil {
				return nil, fmt.Errorf("dnsconfig: unix_srv_or_block inactive: %w", err)
			}
			inactive := dnsaction.NewBlock(inactiveTTL.TTL)
			return dnsaction.NewUnixGated(b.Path, active, inactive), nil

		case "unix_srv_or_forward":
			var b struct {
				Path    string          `json:"path"`
				Active  json.RawMessage `json:"active"`
				Forward json.RawMessage `json:"forward"`
			}
			if err := json.Unmarshal(body, &b); err != nil {
				return nil, fmt.Errorf("dnsconfig: unix_srv_or_forward: %w", err)
			}
			active, err := decodeFixed(b.Active)
			if err != nil {
				return nil, err
			}
			forward, err := decodeForward(b.Forward, upstreams)
			if err != nil {
				return nil, err
			}
			return dnsaction.NewUnixGated(b.Path, active, forward), nil

		default:
			return nil, fmt.Errorf("dnsconfig: unknown action variant %q", kind)
		}
	}
	panic("unreachable")
}

// decodeFixed parses a `{ ttl, data: [<rdata>] }` body into a Fixed action.
func decodeFixed(body json.RawMessage) (*dnsaction.Action, error) {
	var f struct {
		TTL  uint32        `json:"ttl"`
		Data []rdataConfig `json:"data"`
	}
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("dnsconfig: fixed: %w", err)
	}
	rrs := make([]dnsaction.FixedRR, 0, len(f.Data))
	for _, d := range f.Data {
		rr, err := d.toFixedRR()
		if err != nil {
			return nil, err
		}
		rrs = append(rrs, rr)
	}
	return dnsaction.NewFixed(f.TTL, rrs), nil
}

// decodeForward parses a `{ upstream: ["name", ...] }` body, resolving
// each name against the already-constructed upstream handle set.
func decodeForward(body json.RawMessage, upstreams map[string]dnsaction.NamedResolver) (*dnsaction.Action, error) {
	var f struct {
		Upstream []string `json:"upstream"`
	}
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("dnsconfig: forward: %w", err)
	}
	resolvers := make([]dnsaction.NamedResolver, 0, len(f.Upstream))
	for _, name := range f.Upstream {
		nr, ok := upstreams[name]
		if !ok {
			return nil, fmt.Errorf("dnsconfig: forward references unknown upstream %q", name)
		}
		resolvers = append(resolvers, nr)
	}
	return dnsaction.NewForward(resolvers), nil
}

// rdataConfig is the JSON shape of one Fixed record template: a type
// name and a type-appropriate data field.
type rdataConfig struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func (d rdataConfig) toFixedRR() (dnsaction.FixedRR, error) {
	switch d.Type {
	case "A":
		var a, b, c, e int
		if _, err := fmt.Sscanf(d.Data, "%d.%d.%d.%d", &a, &b, &c, &e); err != nil {
			return dnsaction.FixedRR{}, fmt.Errorf("dnsconfig: invalid A data %q: %w", d.Data, err)
		}
		return dnsaction.FixedRR{
			Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN),
			Data: []byte{byte(a), byte(b), byte(c), byte(e)},
		}, nil
	case "TXT":
		return dnsaction.FixedRR{Type: uint16(dnswire.TypeTXT), Class: uint16(dnswire.ClassIN), Data: d.Data}, nil
	case "CNAME":
		return dnsaction.FixedRR{Type: uint16(dnswire.TypeCNAME), Class: uint16(dnswire.ClassIN), Data: d.Data}, nil
	default:
		return dnsaction.FixedRR{}, fmt.Errorf("dnsconfig: unsupported fixed record type %q", d.Type)
	}
}
