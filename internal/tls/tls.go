// Package tls builds the listener TLS configuration of the HTTP API from the
// [server] and [server.tls] config sections.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/slotexec/internal/config"
)

// File names used inside [server.tls] dir.
const (
	CertFileName = "tls.crt"
	KeyFileName  = "tls.key"
)

// SetupTLS returns nil when TLS is disabled. The key pair is loaded once;
// replacing the files requires a restart.
//
// Certificate sources, in order:
//   - cert_file and key_file
//   - dir/tls.crt and dir/tls.key, generated first when auto_generate is set
//     and they are missing
func SetupTLS(server config.ServerConfig) (*tls.Config, error) {
	tc := server.TLS
	if tc == nil || !tc.Enabled {
		return nil, nil
	}
	minVer, maxVer, err := versions(server.TLSMinVersion, server.TLSMaxVersion)
	if err != nil {
		return nil, err
	}
	certPath, keyPath, err := keyPairPaths(tc)
	if err != nil {
		return nil, err
	}
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load key pair %s: %w", certPath, err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   minVer,
		MaxVersion:   maxVer,
	}, nil
}

func keyPairPaths(tc *config.TLSConfig) (string, string, error) {
	if tc.CertFile != "" && tc.KeyFile != "" {
		return tc.CertFile, tc.KeyFile, nil
	}
	if tc.Dir == "" {
		return "", "", errors.New("server.tls is enabled but neither cert_file/key_file nor dir is set")
	}
	certPath := filepath.Join(tc.Dir, CertFileName)
	keyPath := filepath.Join(tc.Dir, KeyFileName)
	if exists(certPath) && exists(keyPath) {
		return certPath, keyPath, nil
	}
	if !tc.AutoGenerate {
		return "", "", fmt.Errorf("no key pair in %s (set auto_generate to create one)", tc.Dir)
	}
	if err := generateInto(tc.Dir, tc.AutoGen); err != nil {
		return "", "", fmt.Errorf("certificate generation failed: %w", err)
	}
	return certPath, keyPath, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// parseTLSVersion accepts "1.2"/"1.3" with an optional "tls" prefix; an
// empty value means unset.
func parseTLSVersion(ver string) (uint16, bool, error) {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ver)), "tls")
	switch v {
	case "", "default":
		return 0, false, nil
	case "1.2":
		return tls.VersionTLS12, true, nil
	case "1.3":
		return tls.VersionTLS13, true, nil
	}
	return 0, false, fmt.Errorf("unsupported TLS version %q (use 1.2 or 1.3)", ver)
}

// versions defaults to TLS 1.2 through 1.3.
func versions(minStr, maxStr string) (uint16, uint16, error) {
	minVer, maxVer := uint16(tls.VersionTLS12), uint16(tls.VersionTLS13)
	if v, ok, err := parseTLSVersion(minStr); err != nil {
		return 0, 0, fmt.Errorf("server.tls_min_version: %w", err)
	} else if ok {
		minVer = v
	}
	if v, ok, err := parseTLSVersion(maxStr); err != nil {
		return 0, 0, fmt.Errorf("server.tls_max_version: %w", err)
	} else if ok {
		maxVer = v
	}
	if minVer > maxVer {
		return 0, 0, fmt.Errorf("server.tls_min_version %s is above tls_max_version %s", minStr, maxStr)
	}
	return minVer, maxVer, nil
}
