package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/slotexec/internal/config"
)

const defaultValidDays = 365

// generateInto writes a self-signed ECDSA P-256 pair to dir. The certificate
// is its own CA, so clients trust it by using tls.crt as their CA file.
func generateInto(dir string, ag *config.AutoGenTLS) error {
	if ag == nil {
		ag = &config.AutoGenTLS{}
	}
	cn := ag.CommonName
	if cn == "" {
		cn = "localhost"
	}
	org := ag.Organization
	if org == "" {
		org = "slotexec"
	}
	days := ag.ValidDays
	if days <= 0 {
		days = defaultValidDays
	}
	dnsNames := ag.DNSNames
	ips := make([]net.IP, 0, len(ag.IPAddresses))
	for _, s := range ag.IPAddresses {
		ip := net.ParseIP(s)
		if ip == nil {
			return fmt.Errorf("auto_gen.ip_addresses: invalid IP %q", s)
		}
		ips = append(ips, ip)
	}
	if len(dnsNames) == 0 && len(ips) == 0 {
		dnsNames = []string{"localhost"}
		ips = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn, Organization: []string{org}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.AddDate(0, 0, days),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := writePEM(filepath.Join(dir, KeyFileName), 0o600, "PRIVATE KEY", keyDER); err != nil {
		return err
	}
	return writePEM(filepath.Join(dir, CertFileName), 0o644, "CERTIFICATE", der)
}

func writePEM(path string, perm os.FileMode, typ string, der []byte) error {
	b := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	if err := os.WriteFile(path, b, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
