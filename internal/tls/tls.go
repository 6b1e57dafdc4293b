// Package tls builds the server and client TLS settings of the control API.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// ErrNoCertificate is returned when TLS is enabled without usable key material.
var ErrNoCertificate = errors.New("TLS enabled but no valid certificate configuration found")

// Config is the [server.tls] section.
type Config struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`           // holds tls.crt, tls.key and tls_ca.crt
	AutoGenerate bool     `mapstructure:"auto_generate"` // self-sign into Dir when missing
	Hosts        []string `mapstructure:"hosts"`         // DNS names and IPs of generated certificates
	ValidDays    int      `mapstructure:"valid_days"`
	MinVersion   string   `mapstructure:"min_version"` // "1.2" or "1.3"
}

// Paths returns the certificate and key files the server loads.
func (c Config) Paths() (cert, key string) {
	if c.CertFile != "" && c.KeyFile != "" {
		return c.CertFile, c.KeyFile
	}
	if c.Dir == "" {
		return "", ""
	}
	return filepath.Join(c.Dir, tlsCrt), filepath.Join(c.Dir, tlsKey)
}

// CAPath returns the CA bundle written next to generated certificates.
func (c Config) CAPath() string {
	if c.Dir == "" {
		return ""
	}
	return filepath.Join(c.Dir, tlsCaCrt)
}

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, error) {
	switch strings.ToLower(ver) {
	case "", "default", "1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("unsupported TLS version %q", ver)
}

// Setup returns the server TLS settings, or nil when TLS is disabled.
// Certificates are re-read on every handshake so rotated files apply without
// a restart.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseTLSVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	certPath, keyPath := c.Paths()
	if certPath == "" {
		return nil, ErrNoCertificate
	}
	if !certificatesExist(certPath, keyPath) {
		if !c.AutoGenerate || c.Dir == "" {
			return nil, fmt.Errorf("%w: %s", ErrNoCertificate, certPath)
		}
		if err := generateCertificate(c); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := loadCertificate(certPath, keyPath); err != nil {
		return nil, err
	}
	return &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return loadCertificate(certPath, keyPath)
		},
		MinVersion: minVer,
	}, nil
}

// ClientConfig returns client settings trusting caFile in addition to the
// system pool. insecure skips verification entirely.
func ClientConfig(caFile string, insecure bool) (*tls.Config, error) {
	// #nosec G402 opt-in for self-signed development daemons
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure}
	if caFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(filepath.Clean(caFile))
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

func loadCertificate(certPath, keyPath string) (*tls.Certificate, error) {
	certPEM, err := os.ReadFile(filepath.Clean(certPath))
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(filepath.Clean(keyPath))
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &cert, nil
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generateCertificate(c Config) error {
	hosts := c.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	validDays := c.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	certPath, keyPath := c.Paths()
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   hosts[0],
		Organization: "stackd",
		Hosts:        hosts,
		ValidDays:    validDays,
		CertPath:     certPath,
		KeyPath:      keyPath,
		CACertPath:   c.CAPath(),
	})
}
