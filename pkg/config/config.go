// Package config provides configuration structures and loading logic for
// the chain server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/polisai/polis-chain/pkg/logging"
	"github.com/polisai/polis-chain/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POLIS_CHAIN_"

// Defaults.
const (
	DefaultAddress         = ":8090"
	DefaultAdminAddress    = ":19090"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultSweepInterval   = time.Minute
	DefaultServiceName     = "polis-chain"
)

// Config holds the global configuration of the chain server.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      logging.Config     `yaml:"logging"`
	Telemetry    telemetry.Config   `yaml:"telemetry"`
	Sessions     SessionsConfig     `yaml:"sessions"`
	Interceptors InterceptorsConfig `yaml:"interceptors"`
	Chains       []ChainConfig      `yaml:"chains"`
}

// ServerConfig holds configuration for the HTTP servers.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	AdminAddress    string        `yaml:"admin_address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// DefaultChain serves requests that do not select a chain explicitly.
	DefaultChain string     `yaml:"default_chain"`
	TLS          *TLSConfig `yaml:"tls,omitempty"`
}

// SessionsConfig controls the in-memory session store.
type SessionsConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// InterceptorsConfig holds the interceptor ordering, outermost first. An
// empty order wraps each entry's markers in the order they are declared.
type InterceptorsConfig struct {
	Order []string `yaml:"order"`
}

// Default returns a configuration with every default applied and no chains.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         DefaultAddress,
			AdminAddress:    DefaultAdminAddress,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Logging:   logging.Config{Level: "info", Format: "json"},
		Telemetry: telemetry.Config{ServiceName: DefaultServiceName, SampleRatio: 1},
		Sessions: SessionsConfig{
			IdleTimeout:   DefaultIdleTimeout,
			SweepInterval: DefaultSweepInterval,
		},
	}
}

// Load reads configuration from a file and applies environment variable
// overrides. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		data = raw
	}
	cfg, err := Parse(data)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	env := func(key string) string { return strings.TrimSpace(os.Getenv(EnvPrefix + key)) }

	if val := env("ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := env("ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}
	if val := env("DEFAULT_CHAIN"); val != "" {
		cfg.Server.DefaultChain = val
	}
	if val := env("SHUTDOWN_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%sSHUTDOWN_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if val := env("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := env("LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := env("OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.Endpoint = val
	}
	if val := env("OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := env("SAMPLE_RATIO"); val != "" {
		ratio, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("%sSAMPLE_RATIO: %w", EnvPrefix, err)
		}
		cfg.Telemetry.SampleRatio = ratio
	}

	if val := env("SESSION_IDLE_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%sSESSION_IDLE_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Sessions.IdleTimeout = d
	}

	if val := env("INTERCEPTOR_ORDER"); val != "" {
		cfg.Interceptors.Order = strings.Split(val, ",")
	}

	if val := env("TLS_ENABLED"); val == "true" {
		cfg.tls().Enabled = true
	}
	if val := env("TLS_CERT_FILE"); val != "" {
		cfg.tls().CertFile = val
	}
	if val := env("TLS_KEY_FILE"); val != "" {
		cfg.tls().KeyFile = val
	}
	if val := env("TLS_MIN_VERSION"); val != "" {
		cfg.tls().MinVersion = val
	}
	return nil
}

func (c *Config) tls() *TLSConfig {
	if c.Server.TLS == nil {
		c.Server.TLS = &TLSConfig{}
	}
	return c.Server.TLS
}

// Validate performs validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}

	if err := c.Sessions.Validate(); err != nil {
		return fmt.Errorf("sessions configuration: %w", err)
	}

	if err := c.Interceptors.Validate(); err != nil {
		return fmt.Errorf("interceptors configuration: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Chains))
	for i := range c.Chains {
		chain := &c.Chains[i]
		if err := chain.Validate(); err != nil {
			return fmt.Errorf("chain %d: %w", i, err)
		}
		if _, dup := seen[chain.Name]; dup {
			return fmt.Errorf("duplicate chain name %q", chain.Name)
		}
		seen[chain.Name] = struct{}{}
	}

	if c.Server.DefaultChain != "" {
		if _, ok := seen[c.Server.DefaultChain]; !ok {
			return fmt.Errorf("server.default_chain %q is not configured", c.Server.DefaultChain)
		}
	}
	return nil
}

// Chain returns the configuration of the named chain.
func (c *Config) Chain(name string) (ChainConfig, bool) {
	for _, chain := range c.Chains {
		if chain.Name == name {
			return chain, true
		}
	}
	return ChainConfig{}, false
}

// Validate fills empty addresses with defaults and checks the TLS block.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = DefaultAddress
	}

	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = DefaultAdminAddress
	}

	if c.Address == c.AdminAddress {
		return fmt.Errorf("address and admin_address must differ, both are %q", c.Address)
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("TLS configuration: %w", err)
		}
	}
	return nil
}

// Validate checks the session timings. A zero idle timeout keeps sessions
// until they are deleted.
func (c *SessionsConfig) Validate() error {
	if c.IdleTimeout < 0 {
		return errors.New("idle_timeout must not be negative")
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return nil
}

// Validate rejects blank and duplicate entries in the order list.
func (c *InterceptorsConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Order))
	for i, name := range c.Order {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("order entry %d is empty", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("order lists %q twice", name)
		}
		seen[name] = struct{}{}
		c.Order[i] = name
	}
	return nil
}
