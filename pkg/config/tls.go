package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// ConfigError is a field-level validation error with remediation hints.
type ConfigError struct {
	Field       string
	Value       any
	Reason      string
	Suggestions []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in field '%s': %s", e.Field, e.Reason)
}

// WithSuggestion appends a remediation hint.
func (e *ConfigError) WithSuggestion(suggestion string) *ConfigError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

func missingField(field string) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf("required field '%s' is missing", field)}
}

func invalidField(field string, value any, reason string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}

// TLSVersion is a supported TLS protocol version name.
type TLSVersion string

const (
	TLSVersion12 TLSVersion = "1.2"
	TLSVersion13 TLSVersion = "1.3"
)

var tlsVersions = map[TLSVersion]uint16{
	TLSVersion12: tls.VersionTLS12,
	TLSVersion13: tls.VersionTLS13,
}

// ParseTLSVersion validates a version name. Empty means 1.2.
func ParseTLSVersion(version string) (TLSVersion, error) {
	if version == "" {
		return TLSVersion12, nil
	}
	v := TLSVersion(strings.TrimSpace(version))
	if _, ok := tlsVersions[v]; !ok {
		return "", fmt.Errorf("unsupported TLS version %q", version)
	}
	return v, nil
}

// TLSConfig configures TLS termination on the data listener.
type TLSConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	CertFile     string `yaml:"cert_file" json:"cert_file"`
	KeyFile      string `yaml:"key_file" json:"key_file"`
	ClientCAFile string `yaml:"client_ca_file,omitempty" json:"client_ca_file,omitempty"`
	MinVersion   string `yaml:"min_version,omitempty" json:"min_version,omitempty"`
	MaxVersion   string `yaml:"max_version,omitempty" json:"max_version,omitempty"`
}

// Validate checks the TLS block. A disabled block is always valid.
func (c *TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if strings.TrimSpace(c.CertFile) == "" {
		return missingField("cert_file").
			WithSuggestion("Provide a path to a PEM encoded certificate")
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return missingField("key_file").
			WithSuggestion("Provide a path to the PEM encoded private key of the certificate")
	}

	minVer, err := ParseTLSVersion(c.MinVersion)
	if err != nil {
		return invalidField("min_version", c.MinVersion, err.Error()).
			WithSuggestion("Use 1.2 or 1.3")
	}
	if c.MaxVersion != "" {
		maxVer, err := ParseTLSVersion(c.MaxVersion)
		if err != nil {
			return invalidField("max_version", c.MaxVersion, err.Error()).
				WithSuggestion("Use 1.2 or 1.3")
		}
		if tlsVersions[minVer] > tlsVersions[maxVer] {
			return invalidField("version_range",
				fmt.Sprintf("min_version=%s, max_version=%s", c.MinVersion, c.MaxVersion),
				"min_version cannot be greater than max_version")
		}
	}
	return nil
}

// Build loads the certificate material into a *tls.Config. It returns nil
// when TLS is disabled.
func (c *TLSConfig) Build() (*tls.Config, error) {
	if c == nil || !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	minVer, _ := ParseTLSVersion(c.MinVersion)
	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tlsVersions[minVer],
	}
	if c.MaxVersion != "" {
		maxVer, _ := ParseTLSVersion(c.MaxVersion)
		out.MaxVersion = tlsVersions[maxVer]
	}

	if c.ClientCAFile != "" {
		//nolint:gosec // CA path is controlled by admin/operator
		pem, err := os.ReadFile(c.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("read client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client CA %s holds no PEM certificates", c.ClientCAFile)
		}
		out.ClientCAs = pool
		out.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return out, nil
}
