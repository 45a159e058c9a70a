package config

import (
	"errors"
	"fmt"
	"strings"
)

// ChainConfig describes one named handler chain.
type ChainConfig struct {
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Handlers    []HandlerSpec `yaml:"handlers" json:"handlers"`
}

// HandlerSpec describes one handler queue entry.
type HandlerSpec struct {
	// Type selects the handler factory, optionally versioned as kind@version.
	Type string `yaml:"type" json:"type"`
	// Name overrides the handler name used in logs and telemetry.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// Path restricts the handler to matching request paths.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Dotted treats dots in request paths as separators for Path matching.
	Dotted bool `yaml:"dotted,omitempty" json:"dotted,omitempty"`
	// Markers attach interceptors to the handler.
	Markers []MarkerSpec `yaml:"markers,omitempty" json:"markers,omitempty"`
	// Config is handed to the handler factory unchanged.
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	// Chains holds nested chains for handlers that fork.
	Chains []ChainConfig `yaml:"chains,omitempty" json:"chains,omitempty"`
}

// MarkerSpec attaches the named interceptor with its parameters.
type MarkerSpec struct {
	Name   string         `yaml:"name" json:"name"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// DisplayName returns the configured name or the type.
func (h HandlerSpec) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Type
}

// Validate checks the chain and its handlers.
func (c *ChainConfig) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return errors.New("name is required")
	}
	if len(c.Handlers) == 0 {
		return fmt.Errorf("chain %q has no handlers", c.Name)
	}
	for i := range c.Handlers {
		if err := c.Handlers[i].Validate(); err != nil {
			return fmt.Errorf("chain %q handler %d: %w", c.Name, i, err)
		}
	}
	return nil
}

// Validate checks the handler entry shape. Factory-specific settings are
// checked when the chain is built.
func (h *HandlerSpec) Validate() error {
	h.Type = strings.TrimSpace(h.Type)
	if h.Type == "" {
		return errors.New("type is required")
	}
	seen := make(map[string]struct{}, len(h.Markers))
	for i := range h.Markers {
		m := &h.Markers[i]
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			return fmt.Errorf("marker %d: name is required", i)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("marker %q attached twice", m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	for i := range h.Chains {
		if err := h.Chains[i].Validate(); err != nil {
			return fmt.Errorf("nested chain %d: %w", i, err)
		}
	}
	return nil
}
