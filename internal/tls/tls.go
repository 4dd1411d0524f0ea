// Package tls builds crypto/tls configurations for the policy service
// listener from the service configuration.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/makr-code/themis-policy/pkg/config"
)

// BuildServer constructs a TLS configuration for the API listener. A nil or
// disabled configuration yields a nil *tls.Config, which callers treat as
// plain HTTP. The configuration is expected to have passed Validate already;
// BuildServer only reports errors the filesystem can produce at runtime.
func BuildServer(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	certificate, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	minVersion, err := versionConstant(cfg.MinVersion, tls.VersionTLS12)
	if err != nil {
		return nil, err
	}
	maxVersion, err := versionConstant(cfg.MaxVersion, 0)
	if err != nil {
		return nil, err
	}

	serverConfig := &tls.Config{
		Certificates: []tls.Certificate{certificate},
		MinVersion:   minVersion,
		MaxVersion:   maxVersion,
	}

	if cfg.ClientAuth.Required {
		caPool, err := loadCertPool(cfg.ClientAuth.CAFile)
		if err != nil {
			return nil, err
		}
		serverConfig.ClientCAs = caPool
		serverConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return serverConfig, nil
}

// versionConstant maps a configured protocol version onto the crypto/tls
// constant, falling back when the field is empty.
func versionConstant(raw string, fallback uint16) (uint16, error) {
	if raw == "" {
		return fallback, nil
	}
	parsed, err := config.ParseTLSVersion(raw)
	if err != nil {
		return 0, err
	}
	switch parsed {
	case config.TLSVersion10:
		return tls.VersionTLS10, nil
	case config.TLSVersion11:
		return tls.VersionTLS11, nil
	case config.TLSVersion13:
		return tls.VersionTLS13, nil
	default:
		return tls.VersionTLS12, nil
	}
}

func loadCertPool(path string) (*x509.CertPool, error) {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		return nil, fmt.Errorf("ca bundle path must be absolute: %q", path)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", cleanPath)
	}
	return pool, nil
}
