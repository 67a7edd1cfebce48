package certgen

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

func encodeCertPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func encodeKeyPEM(key []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: key})
}

// WriteBundle lays out ca and the server leaves under caDir and
// serversDir: <caDir>/<ca.Name>.pem, and per server
// <serversDir>/<name>.key (mode 0600) plus <serversDir>/<name>.pem.
func WriteBundle(caDir, serversDir string, ca NamedCert, servers []NamedCert) error {
	if err := os.MkdirAll(caDir, 0o755); err != nil {
		return fmt.Errorf("certgen: create ca directory: %w", err)
	}
	caPath := filepath.Join(caDir, ca.Name+".pem")
	if err := os.WriteFile(caPath, encodeCertPEM(ca.DER), 0o644); err != nil {
		return fmt.Errorf("certgen: write ca cert: %w", err)
	}

	if err := os.MkdirAll(serversDir, 0o755); err != nil {
		return fmt.Errorf("certgen: create servers directory: %w", err)
	}
	for _, s := range servers {
		keyPath := filepath.Join(serversDir, s.Name+".key")
		keyBytes := x509.MarshalPKCS1PrivateKey(s.Key)
		if err := os.WriteFile(keyPath, encodeKeyPEM(keyBytes), 0o600); err != nil {
			return fmt.Errorf("certgen: write server %s key: %w", s.Name, err)
		}

		certPath := filepath.Join(serversDir, s.Name+".pem")
		if err := os.WriteFile(certPath, encodeCertPEM(s.DER), 0o644); err != nil {
			return fmt.Errorf("certgen: write server %s cert: %w", s.Name, err)
		}
	}
	return nil
}
