package certgen

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

const rsaKeyBits = 2048

// NamedCert is one generated certificate plus its private key, keyed
// by the name it should be written under.
type NamedCert struct {
	Name string
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
	DER  []byte // signed certificate, ready for pem.Encode
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 159)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("certgen: generate serial: %w", err)
	}
	return serial, nil
}

func subject(organizationName string, cfg CertConfig) pkix.Name {
	return pkix.Name{
		Organization:       []string{organizationName},
		OrganizationalUnit: []string{cfg.DistinguishedName.OrganizationUnitName},
		CommonName:         cfg.DistinguishedName.CommonName,
	}
}

func generateCA(organizationName string, cfg CertConfig, notBefore, notAfter time.Time) (NamedCert, error) {
	serial, err := randomSerial()
	if err != nil {
		return NamedCert{}, fmt.Errorf("failed to generate ca root cert: %w", err)
	}
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return NamedCert{}, fmt.Errorf("failed to generate ca root cert: failed to generate key pair: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject(organizationName, cfg),
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
		DNSNames:              cfg.SubjectAltNames.DNS,
		IPAddresses:           cfg.SubjectAltNames.IPAddr,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return NamedCert{}, fmt.Errorf("failed to generate ca root cert: failed to sign certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return NamedCert{}, fmt.Errorf("failed to generate ca root cert: failed to parse signed certificate: %w", err)
	}
	return NamedCert{Cert: cert, Key: key, DER: der}, nil
}

func generateLeaf(organizationName string, cfg CertConfig, notBefore, notAfter time.Time, ca NamedCert) (NamedCert, error) {
	serial, err := randomSerial()
	if err != nil {
		return NamedCert{}, fmt.Errorf("failed to generate key pair: %w", err)
	}
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return NamedCert{}, fmt.Errorf("failed to generate key pair: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      subject(organizationName, cfg),
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     cfg.SubjectAltNames.DNS,
		IPAddresses:  cfg.SubjectAltNames.IPAddr,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, &key.PublicKey, ca.Key)
	if err != nil {
		return NamedCert{}, fmt.Errorf("failed to sign certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return NamedCert{}, fmt.Errorf("failed to parse signed certificate: %w", err)
	}
	return NamedCert{Cert: cert, Key: key, DER: der}, nil
}

// Generate issues a CA certificate and one leaf certificate per
// configured server, all valid from notBefore for cfg.ExpireSecs.
func Generate(cfg Config, notBefore time.Time) (ca NamedCert, servers []NamedCert, err error) {
	notAfter := notBefore.Add(time.Duration(cfg.ExpireSecs) * time.Second)

	ca, err = generateCA(cfg.OrganizationName, cfg.CA, notBefore, notAfter)
	if err != nil {
		return NamedCert{}, nil, err
	}
	ca.Name = cfg.CAName

	servers = make([]NamedCert, 0, len(cfg.Servers))
	for name, serverCfg := range cfg.Servers {
		leaf, err := generateLeaf(cfg.OrganizationName, serverCfg, notBefore, notAfter, ca)
		if err != nil {
			return NamedCert{}, nil, fmt.Errorf("failed to generate server %s cert: %w", name, err)
		}
		leaf.Name = name
		servers = append(servers, leaf)
	}
	return ca, servers, nil
}
