// Package config loads and merges the upstream server configuration that
// drives the connection pool.
package config

import (
	"fmt"

	"github.com/cmcp/cmcp/pkg/telemetry"
)

// Config is the top-level document: a set of upstream servers keyed by name,
// plus optional tracing configuration.
type Config struct {
	Servers   map[string]ServerConfig `toml:"servers"`
	Telemetry telemetry.Config        `toml:"telemetry"`
}

// Transport identifies how a server's ServerConfig should be dialed.
type Transport string

const (
	TransportHTTP  Transport = "http"
	TransportSSE   Transport = "sse"
	TransportStdio Transport = "stdio"
)

// ServerConfig is a tagged union over the three supported transports. Only
// the fields relevant to Transport are populated; the rest are zero.
type ServerConfig struct {
	Transport Transport `toml:"transport"`

	// http, sse
	URL     string            `toml:"url,omitempty"`
	Auth    string            `toml:"auth,omitempty"`
	Headers map[string]string `toml:"headers,omitempty"`

	// stdio
	Command string            `toml:"command,omitempty"`
	Args    []string          `toml:"args,omitempty"`
	Env     map[string]string `toml:"env,omitempty"`
}

// Validate checks that a ServerConfig carries the fields its transport requires.
func (s ServerConfig) Validate(name string) error {
	switch s.Transport {
	case TransportHTTP, TransportSSE:
		if s.URL == "" {
			return fmt.Errorf("server %q: url is required for transport %q", name, s.Transport)
		}
	case TransportStdio:
		if s.Command == "" {
			return fmt.Errorf("server %q: command is required for transport %q", name, s.Transport)
		}
	default:
		return fmt.Errorf("server %q: unknown transport %q", name, s.Transport)
	}
	return nil
}

// AddServer inserts or replaces a server entry.
func (c *Config) AddServer(name string, sc ServerConfig) {
	if c.Servers == nil {
		c.Servers = make(map[string]ServerConfig)
	}
	c.Servers[name] = sc
}

// RemoveServer deletes a server entry, reporting whether it existed.
func (c *Config) RemoveServer(name string) bool {
	if _, ok := c.Servers[name]; !ok {
		return false
	}
	delete(c.Servers, name)
	return true
}

// Validate checks every server entry.
func (c *Config) Validate() error {
	for name, sc := range c.Servers {
		if err := sc.Validate(name); err != nil {
			return err
		}
	}
	return nil
}

// Merge overlays overlay's servers onto base, overlay taking precedence per-key.
// Telemetry is taken wholesale from overlay when overlay enables it, else
// from base. Used to implement the user → project → explicit precedence
// chain.
func Merge(base, overlay Config) Config {
	merged := Config{
		Servers:   make(map[string]ServerConfig, len(base.Servers)+len(overlay.Servers)),
		Telemetry: base.Telemetry,
	}
	for name, sc := range base.Servers {
		merged.Servers[name] = sc
	}
	for name, sc := range overlay.Servers {
		merged.Servers[name] = sc
	}
	if overlay.Telemetry.Enabled {
		merged.Telemetry = overlay.Telemetry
	}
	return merged
}
