package config

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// TLSConfig represents TLS termination for the REST listener.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" env:"POLIS_REST_TLS_ENABLED"`
	CertFile   string `yaml:"cert_file" env:"POLIS_REST_TLS_CERT_FILE"`
	KeyFile    string `yaml:"key_file" env:"POLIS_REST_TLS_KEY_FILE"`
	MinVersion string `yaml:"min_version,omitempty"`
}

// ParseTLSVersion converts "1.2" style versions to crypto/tls constants. Empty means 1.2.
func ParseTLSVersion(version string) (uint16, error) {
	switch strings.TrimSpace(version) {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", version)
	}
}

// Validate checks that an enabled listener has key material.
func (c *TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.CertFile) == "" {
		return NewConfigMissingError("server.tls.cert_file")
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return NewConfigMissingError("server.tls.key_file")
	}
	if _, err := ParseTLSVersion(c.MinVersion); err != nil {
		return NewConfigValidationError("server.tls.min_version", c.MinVersion, err.Error())
	}
	return nil
}

// Build returns the crypto/tls configuration, or nil when TLS is disabled.
func (c *TLSConfig) Build() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVersion, err := ParseTLSVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	return &tls.Config{MinVersion: minVersion}, nil
}
