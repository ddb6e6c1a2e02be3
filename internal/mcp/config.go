// Package mcp exposes tools of configured MCP (Model Context Protocol)
// servers as agent tools.
package mcp

import (
	"fmt"
	"time"
)

const (
	// DefaultStartupTimeout bounds connecting to a server and listing its tools.
	DefaultStartupTimeout = 10 * time.Second

	// DefaultToolTimeout bounds a single tool call.
	DefaultToolTimeout = 60 * time.Second
)

// ServerConfig configures one MCP server integration.
type ServerConfig struct {
	// Transport configuration (stdio or streamable HTTP).
	Transport TransportConfig `json:"transport" yaml:"transport"`

	// Enabled defaults to true.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// Required makes a connection failure fatal at startup.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// OrgIDs restricts the server's tools to these organizations. Empty
	// means every organization may use them.
	OrgIDs []string `json:"org_ids,omitempty" yaml:"org_ids,omitempty"`

	StartupTimeoutSec *int `json:"startup_timeout_sec,omitempty" yaml:"startup_timeout_sec,omitempty"`
	ToolTimeoutSec    *int `json:"tool_timeout_sec,omitempty" yaml:"tool_timeout_sec,omitempty"`

	// EnabledTools is an allow-list of tool names; DisabledTools a deny-list.
	EnabledTools  []string `json:"enabled_tools,omitempty" yaml:"enabled_tools,omitempty"`
	DisabledTools []string `json:"disabled_tools,omitempty" yaml:"disabled_tools,omitempty"`

	// AsyncTools names tools whose result arrives later as an async tool
	// response. They receive the tool_call_id argument and their immediate
	// output is a provisional acknowledgment.
	AsyncTools []string `json:"async_tools,omitempty" yaml:"async_tools,omitempty"`
}

// ToolFilter builds the filter for the server's tool lists.
func (c *ServerConfig) ToolFilter() ToolFilter {
	f := NewToolFilter(c.EnabledTools, c.DisabledTools)
	if len(c.AsyncTools) > 0 {
		f.Async = make(map[string]bool, len(c.AsyncTools))
		for _, t := range c.AsyncTools {
			f.Async[t] = true
		}
	}
	return f
}

// IsEnabled returns whether this server config is enabled (default: true).
func (c *ServerConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// StartupTimeout returns the configured startup timeout or the default.
func (c *ServerConfig) StartupTimeout() time.Duration {
	if c.StartupTimeoutSec != nil {
		return time.Duration(*c.StartupTimeoutSec) * time.Second
	}
	return DefaultStartupTimeout
}

// ToolTimeout returns the configured tool call timeout or the default.
func (c *ServerConfig) ToolTimeout() time.Duration {
	if c.ToolTimeoutSec != nil {
		return time.Duration(*c.ToolTimeoutSec) * time.Second
	}
	return DefaultToolTimeout
}

// AllowsOrg reports whether orgID may use the server's tools.
func (c *ServerConfig) AllowsOrg(orgID string) bool {
	if len(c.OrgIDs) == 0 {
		return true
	}
	for _, id := range c.OrgIDs {
		if id == orgID {
			return true
		}
	}
	return false
}

// Validate checks that exactly one transport is configured.
func (c *ServerConfig) Validate() error {
	switch {
	case c.Transport.IsStdio() && c.Transport.IsHTTP():
		return fmt.Errorf("transport: command and url are mutually exclusive")
	case !c.Transport.IsStdio() && !c.Transport.IsHTTP():
		return fmt.Errorf("transport: one of command or url is required")
	}
	return nil
}

// TransportConfig specifies how to connect to the server.
type TransportConfig struct {
	// Stdio transport: spawn a subprocess.
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`

	// Streamable HTTP transport.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// IsStdio returns true if this config uses stdio transport.
func (t *TransportConfig) IsStdio() bool {
	return t.Command != ""
}

// IsHTTP returns true if this config uses streamable HTTP transport.
func (t *TransportConfig) IsHTTP() bool {
	return t.URL != ""
}

// ToolFilter controls which tools of a server are exposed. A tool is
// allowed when there is no allow-list or it is on it, and it is not on the
// deny-list.
type ToolFilter struct {
	Enabled  map[string]bool // nil = allow all
	Disabled map[string]bool
	Async    map[string]bool
}

// NewToolFilter creates a ToolFilter from the config's enabled/disabled tool lists.
func NewToolFilter(enabledTools, disabledTools []string) ToolFilter {
	var enabled map[string]bool
	if len(enabledTools) > 0 {
		enabled = make(map[string]bool, len(enabledTools))
		for _, t := range enabledTools {
			enabled[t] = true
		}
	}

	disabled := make(map[string]bool, len(disabledTools))
	for _, t := range disabledTools {
		disabled[t] = true
	}

	return ToolFilter{Enabled: enabled, Disabled: disabled}
}

// Allows returns whether the given tool name passes the filter.
func (f *ToolFilter) Allows(toolName string) bool {
	if f.Enabled != nil && !f.Enabled[toolName] {
		return false
	}
	return !f.Disabled[toolName]
}

// IsAsync reports whether the tool answers through async tool responses.
func (f *ToolFilter) IsAsync(toolName string) bool {
	return f.Async[toolName]
}
