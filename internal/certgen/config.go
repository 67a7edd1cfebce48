// Package certgen generates a local certificate authority and a leaf
// certificate per named server, for deployments that terminate TLS in
// front of local-cdn-proxy with a self-issued chain.
package certgen

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
)

// OverwritePolicy controls when ShouldRegenerate asks for an existing,
// already-valid bundle to be replaced.
type OverwritePolicy string

const (
	OverwriteAlways  OverwritePolicy = "always"
	OverwriteExpired OverwritePolicy = "expired"
	OverwriteNever   OverwritePolicy = "never"
)

// DistinguishedName is the subject carried by a CA or leaf cert.
type DistinguishedName struct {
	OrganizationUnitName string `json:"organization_unit_name"`
	CommonName           string `json:"common_name"`
}

// SubjectAltNames lists the names a leaf certificate is valid for.
type SubjectAltNames struct {
	DNS    []string `json:"dns"`
	IPAddr []net.IP `json:"ip_addr"`
}

// CertConfig is the subject/SAN pair needed to issue one certificate,
// CA or leaf.
type CertConfig struct {
	DistinguishedName DistinguishedName `json:"distinguished_name"`
	SubjectAltNames   SubjectAltNames   `json:"subject_alt_names"`
}

// Config is the cert tool's input document.
type Config struct {
	OrganizationName string                `json:"organization_name"`
	ExpireSecs       uint32                `json:"expire_secs"`
	Overwrite        OverwritePolicy       `json:"overwrite"`
	CAName           string                `json:"ca_name"`
	CA               CertConfig            `json:"ca"`
	Servers          map[string]CertConfig `json:"servers"`
}

// LoadConfig reads and validates a Config from r.
func LoadConfig(r io.Reader) (Config, error) {
	var cfg Config
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("certgen: decode config: %w", err)
	}
	if cfg.ExpireSecs == 0 {
		return Config{}, fmt.Errorf("certgen: expire_secs must be non-zero")
	}
	switch cfg.Overwrite {
	case OverwriteAlways, OverwriteExpired, OverwriteNever:
	default:
		return Config{}, fmt.Errorf("certgen: unknown overwrite policy %q", cfg.Overwrite)
	}
	return cfg, nil
}
