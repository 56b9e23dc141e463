package tls

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/slotexec/internal/config"
)

func autoGenServer(dir string) config.ServerConfig {
	return config.ServerConfig{
		TLS: &config.TLSConfig{
			Enabled:      true,
			Dir:          dir,
			AutoGenerate: true,
			AutoGen:      &config.AutoGenTLS{ValidDays: 1},
		},
	}
}

func TestSetupTLS_Disabled(t *testing.T) {
	for _, sc := range []config.ServerConfig{{}, {TLS: &config.TLSConfig{Enabled: false, Dir: "x"}}} {
		c, err := SetupTLS(sc)
		if err != nil || c != nil {
			t.Fatalf("expected nil config for disabled TLS, got %v, %v", c, err)
		}
	}
}

func TestSetupTLS_NoCertificateSource(t *testing.T) {
	if _, err := SetupTLS(config.ServerConfig{TLS: &config.TLSConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error when TLS has no certificate source")
	}
	// dir without files and without auto_generate
	sc := config.ServerConfig{TLS: &config.TLSConfig{Enabled: true, Dir: t.TempDir()}}
	if _, err := SetupTLS(sc); err == nil {
		t.Fatalf("expected error for empty dir without auto_generate")
	}
}

// A client trusting tls.crt must be able to talk to a server using the
// generated pair.
func TestAutoGeneratedPairServesHTTPS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	c, err := SetupTLS(autoGenServer(dir))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if c.MinVersion != tls.VersionTLS12 || c.MaxVersion != tls.VersionTLS13 || len(c.Certificates) != 1 {
		t.Fatalf("unexpected config min=%x max=%x certs=%d", c.MinVersion, c.MaxVersion, len(c.Certificates))
	}
	if fi, err := os.Stat(filepath.Join(dir, KeyFileName)); err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("key file: %v %v", fi, err)
	}

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	srv.TLS = c
	srv.StartTLS()
	defer srv.Close()

	caPEM, err := os.ReadFile(filepath.Join(dir, CertFileName))
	if err != nil {
		t.Fatal(err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		t.Fatalf("generated certificate is not valid PEM")
	}
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("https request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestExistingPairIsReused(t *testing.T) {
	dir := t.TempDir()
	if _, err := SetupTLS(autoGenServer(dir)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	before, _ := os.ReadFile(filepath.Join(dir, CertFileName))
	if _, err := SetupTLS(autoGenServer(dir)); err != nil {
		t.Fatalf("second setup: %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(dir, CertFileName))
	if string(before) != string(after) {
		t.Fatalf("certificate regenerated although present")
	}

	// the same files through cert_file/key_file
	sc := config.ServerConfig{TLS: &config.TLSConfig{
		Enabled:  true,
		CertFile: filepath.Join(dir, CertFileName),
		KeyFile:  filepath.Join(dir, KeyFileName),
	}}
	if _, err := SetupTLS(sc); err != nil {
		t.Fatalf("explicit files: %v", err)
	}
}

func TestVersions(t *testing.T) {
	lo, hi, err := versions("tls1.3", "")
	if err != nil || lo != tls.VersionTLS13 || hi != tls.VersionTLS13 {
		t.Fatalf("tls1.2: %x %x %v", lo, hi, err)
	}
	if _, _, err := versions("1.1", ""); err == nil {
		t.Fatalf("1.1 must be rejected")
	}
	if _, _, err := versions("1.3", "1.2"); err == nil {
		t.Fatalf("min above max must be rejected")
	}
}

func TestInvalidAutoGenIP(t *testing.T) {
	sc := autoGenServer(t.TempDir())
	sc.TLS.AutoGen.IPAddresses = []string{"not-an-ip"}
	if _, err := SetupTLS(sc); err == nil {
		t.Fatalf("expected error for invalid ip address")
	}
}
