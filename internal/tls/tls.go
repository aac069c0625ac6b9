// Package tls builds the server TLS configuration for the HTTP API, generating
// a self-signed certificate on first start when asked to.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	caCertName = "tls_ca.crt"
	certName   = "tls.crt"
	keyName    = "tls.key"
)

// Config is the [server.tls] table.
//
//	[server.tls]
//	enabled = true
//	dir = "/var/lib/botregistry/tls"
//	auto_generate = true
type Config struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	Hosts        []string `toml:"hosts" mapstructure:"hosts"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days" default:"365"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version" default:"1.2"`
}

// CACertPath is where auto-generated certificates leave the file clients trust.
func (c Config) CACertPath() string {
	if c.Dir == "" {
		return ""
	}
	return filepath.Join(c.Dir, caCertName)
}

func (c Config) paths() (cert, key string) {
	if c.CertFile != "" && c.KeyFile != "" {
		return c.CertFile, c.KeyFile
	}
	if c.Dir != "" {
		return filepath.Join(c.Dir, certName), filepath.Join(c.Dir, keyName)
	}
	return "", ""
}

// Validate reports configuration errors without touching the filesystem.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, errors.New("cert_file and key_file must be set together"))
	}
	if c.CertFile == "" && c.Dir == "" {
		errs = append(errs, errors.New("either cert_file/key_file or dir is required"))
	}
	if _, ok := parseVersion(c.MinVersion); !ok {
		errs = append(errs, fmt.Errorf("unknown min_version %q", c.MinVersion))
	}
	return errors.Join(errs...)
}

func parseVersion(v string) (uint16, bool) {
	switch strings.ToLower(v) {
	case "", "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// Setup returns the server TLS config, or nil when TLS is disabled. With
// AutoGenerate and Dir set, missing certificate files are created first.
// Certificates are re-read on every handshake so rotated files are picked up
// without a restart.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	certPath, keyPath := c.paths()
	if c.CertFile == "" && c.AutoGenerate && !exists(certPath, keyPath) {
		hosts := c.Hosts
		if len(hosts) == 0 {
			hosts = []string{"localhost", "127.0.0.1"}
		}
		days := c.ValidDays
		if days <= 0 {
			days = 365
		}
		if err := GenerateSelfSigned(CertConfig{
			Hosts:      hosts,
			NotAfter:   time.Now().AddDate(0, 0, days),
			CertPath:   certPath,
			KeyPath:    keyPath,
			CACertPath: c.CACertPath(),
		}); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := loadPair(certPath, keyPath); err != nil {
		return nil, err
	}
	minVer, _ := parseVersion(c.MinVersion)
	// #nosec G402 minimum version is operator controlled and never below 1.2
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return loadPair(certPath, keyPath)
		},
	}, nil
}

func loadPair(certPath, keyPath string) (*tls.Certificate, error) {
	certPEM, err := os.ReadFile(filepath.Clean(certPath))
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(filepath.Clean(keyPath))
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &pair, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
