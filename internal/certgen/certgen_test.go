package certgen_test

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Forist2034/local-cdn/internal/certgen"
)

func sampleConfig() certgen.Config {
	return certgen.Config{
		OrganizationName: "local-cdn",
		ExpireSecs:       3600,
		Overwrite:        certgen.OverwriteExpired,
		CAName:           "root",
		CA: certgen.CertConfig{
			DistinguishedName: certgen.DistinguishedName{
				OrganizationUnitName: "root-ca",
				CommonName:           "local-cdn root CA",
			},
		},
		Servers: map[string]certgen.CertConfig{
			"edge": {
				DistinguishedName: certgen.DistinguishedName{
					OrganizationUnitName: "edge",
					CommonName:           "edge.local-cdn.test",
				},
				SubjectAltNames: certgen.SubjectAltNames{
					DNS:    []string{"edge.local-cdn.test"},
					IPAddr: []net.IP{net.ParseIP("127.0.0.1")},
				},
			},
		},
	}
}

func TestGenerate_IssuesCAAndServerCert(t *testing.T) {
	cfg := sampleConfig()
	notBefore := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ca, servers, err := certgen.Generate(cfg, notBefore)
	require.NoError(t, err)

	assert.Equal(t, "root", ca.Name)
	assert.True(t, ca.Cert.IsCA)
	require.Len(t, servers, 1)
	assert.Equal(t, "edge", servers[0].Name)
	assert.False(t, servers[0].Cert.IsCA)
	assert.Contains(t, servers[0].Cert.DNSNames, "edge.local-cdn.test")

	assert.NoError(t, servers[0].Cert.CheckSignatureFrom(ca.Cert))
}

func TestGenerate_LeafExpiryMatchesConfig(t *testing.T) {
	cfg := sampleConfig()
	notBefore := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ca, servers, err := certgen.Generate(cfg, notBefore)
	require.NoError(t, err)

	wantExpiry := notBefore.Add(time.Duration(cfg.ExpireSecs) * time.Second)
	assert.WithinDuration(t, wantExpiry, ca.Cert.NotAfter, time.Second)
	assert.WithinDuration(t, wantExpiry, servers[0].Cert.NotAfter, time.Second)
}

func TestLoadConfig_RejectsUnknownOverwritePolicy(t *testing.T) {
	_, err := certgen.LoadConfig(strings.NewReader(`{
		"organization_name": "x", "expire_secs": 60, "overwrite": "sometimes",
		"ca_name": "root", "ca": {"distinguished_name": {"organization_unit_name": "x", "common_name": "x"}, "subject_alt_names": {}},
		"servers": {}
	}`))
	assert.Error(t, err)
}

func TestShouldRegenerate_NoPriorState(t *testing.T) {
	got := certgen.ShouldRegenerate(certgen.State{}, false, []byte("cfg"), certgen.OverwriteNever, true, time.Now())
	assert.True(t, got)
}

func TestShouldRegenerate_ConfigChanged(t *testing.T) {
	prev := certgen.State{ConfigSHA256: certgen.ConfigHash([]byte("old"))}
	got := certgen.ShouldRegenerate(prev, true, []byte("new"), certgen.OverwriteNever, true, time.Now())
	assert.True(t, got)
}

func TestShouldRegenerate_NeverPolicyKeepsValidBundle(t *testing.T) {
	raw := []byte("cfg")
	prev := certgen.State{ConfigSHA256: certgen.ConfigHash(raw), Expire: time.Now().Add(time.Hour)}
	got := certgen.ShouldRegenerate(prev, true, raw, certgen.OverwriteNever, true, time.Now())
	assert.False(t, got)
}

func TestShouldRegenerate_ExpiredPolicyTriggersPastExpiry(t *testing.T) {
	raw := []byte("cfg")
	prev := certgen.State{ConfigSHA256: certgen.ConfigHash(raw), Expire: time.Now().Add(-time.Hour)}
	got := certgen.ShouldRegenerate(prev, true, raw, certgen.OverwriteExpired, true, time.Now())
	assert.True(t, got)
}

func TestShouldRegenerate_MissingCAFileForcesRegeneration(t *testing.T) {
	raw := []byte("cfg")
	prev := certgen.State{ConfigSHA256: certgen.ConfigHash(raw), Expire: time.Now().Add(time.Hour)}
	got := certgen.ShouldRegenerate(prev, true, raw, certgen.OverwriteNever, false, time.Now())
	assert.True(t, got)
}

func TestWriteBundle_WritesExpectedFiles(t *testing.T) {
	cfg := sampleConfig()
	ca, servers, err := certgen.Generate(cfg, time.Now())
	require.NoError(t, err)

	caDir := t.TempDir()
	serversDir := t.TempDir()
	require.NoError(t, certgen.WriteBundle(caDir, serversDir, ca, servers))

	assert.FileExists(t, caDir+"/root.pem")
	assert.FileExists(t, serversDir+"/edge.pem")
	assert.FileExists(t, serversDir+"/edge.key")
}
