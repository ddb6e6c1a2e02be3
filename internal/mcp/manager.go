package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"goa.design/clue/log"

	"github.com/mfateev/agentchat/internal/tools"
	"github.com/mfateev/agentchat/internal/version"
)

type managedClient struct {
	session *gomcp.ClientSession
	config  ServerConfig
}

// ConnectResult is the outcome of connecting the configured servers.
type ConnectResult struct {
	// Tools lists the qualified names of every discovered tool, sorted.
	Tools []string
	// Failures maps server name to the connection error of optional
	// servers that could not be reached.
	Failures map[string]string
}

// Manager owns the MCP client sessions of a worker and exposes the
// discovered tools as a tools.Source.
type Manager struct {
	mu      sync.Mutex
	clients map[string]*managedClient
	tools   map[string]ToolInfo
}

// NewManager creates a new empty manager.
func NewManager() *Manager {
	return &Manager{
		clients: make(map[string]*managedClient),
		tools:   make(map[string]ToolInfo),
	}
}

// Connect starts all enabled servers in parallel and discovers their tools.
// A failing server marked Required makes Connect fail; other failures are
// logged and reported in the result.
func (m *Manager) Connect(ctx context.Context, servers map[string]ServerConfig) (*ConnectResult, error) {
	names := make([]string, 0, len(servers))
	for name, cfg := range servers {
		if cfg.IsEnabled() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	results := make([]serverResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(idx int, name string, cfg ServerConfig) {
			defer wg.Done()
			res := serverResult{name: name, config: cfg}
			res.session, res.tools, res.err = connectAndList(ctx, name, cfg)
			results[idx] = res
		}(i, name, servers[name])
	}
	wg.Wait()

	failures := make(map[string]string)
	var discovered []ToolInfo
	for _, r := range results {
		if r.err != nil {
			failures[r.name] = r.err.Error()
			log.Error(ctx, r.err, log.KV{K: "msg", V: "mcp server failed"}, log.KV{K: "server", V: r.name})
			if r.config.Required {
				closeSessions(results)
				return nil, fmt.Errorf("required MCP server %s failed to initialize: %w", r.name, r.err)
			}
			continue
		}
		discovered = append(discovered, r.tools...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		if r.err == nil {
			m.clients[r.name] = &managedClient{session: r.session, config: r.config}
		}
	}
	for name, info := range QualifyTools(ctx, discovered) {
		m.tools[name] = info
	}

	out := &ConnectResult{Failures: failures}
	for name := range m.tools {
		out.Tools = append(out.Tools, name)
	}
	sort.Strings(out.Tools)
	log.Info(ctx, log.KV{K: "msg", V: "mcp servers connected"},
		log.KV{K: "servers", V: len(m.clients)}, log.KV{K: "tools", V: len(out.Tools)})
	return out, nil
}

type serverResult struct {
	name    string
	tools   []ToolInfo
	err     error
	session *gomcp.ClientSession
	config  ServerConfig
}

func closeSessions(results []serverResult) {
	for _, r := range results {
		if r.session != nil {
			_ = r.session.Close()
		}
	}
}

func connectAndList(ctx context.Context, name string, cfg ServerConfig) (*gomcp.ClientSession, []ToolInfo, error) {
	session, err := connect(ctx, name, cfg)
	if err != nil {
		return nil, nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout())
	defer cancel()
	listed, err := session.ListTools(listCtx, nil)
	if err != nil {
		_ = session.Close()
		return nil, nil, fmt.Errorf("failed to list tools for %s: %w", name, err)
	}

	filter := cfg.ToolFilter()
	var infos []ToolInfo
	for _, t := range listed.Tools {
		if filter.Allows(t.Name) {
			infos = append(infos, ToolInfo{ServerName: name, ToolName: t.Name, Tool: t})
		}
	}
	return session, infos, nil
}

func connect(ctx context.Context, name string, cfg ServerConfig) (*gomcp.ClientSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("MCP server %s: %w", name, err)
	}
	client := gomcp.NewClient(&gomcp.Implementation{Name: "agentchat", Version: version.Version}, nil)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout())
	defer cancel()

	t := cfg.Transport
	if t.IsStdio() {
		// The subprocess outlives connectCtx, so it is bound to ctx.
		cmd := exec.CommandContext(ctx, t.Command, t.Args...)
		cmd.Dir = t.Cwd
		cmd.Env = os.Environ()
		for k, v := range t.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		session, err := client.Connect(connectCtx, &gomcp.CommandTransport{Command: cmd}, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MCP server %s (stdio): %w", name, err)
		}
		return session, nil
	}

	session, err := client.Connect(connectCtx, &gomcp.StreamableClientTransport{Endpoint: t.URL}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server %s (HTTP): %w", name, err)
	}
	return session, nil
}

// AddSession registers an already connected session and its tools.
func (m *Manager) AddSession(ctx context.Context, serverName string, session *gomcp.ClientSession, cfg ServerConfig) error {
	listed, err := session.ListTools(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to list tools for %s: %w", serverName, err)
	}
	filter := cfg.ToolFilter()
	var infos []ToolInfo
	for _, t := range listed.Tools {
		if filter.Allows(t.Name) {
			infos = append(infos, ToolInfo{ServerName: serverName, ToolName: t.Name, Tool: t})
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[serverName] = &managedClient{session: session, config: cfg}
	for name, info := range QualifyTools(ctx, infos) {
		m.tools[name] = info
	}
	return nil
}

// CallTool calls a tool on the named server and returns the raw result.
func (m *Manager) CallTool(ctx context.Context, serverName, toolName string, args map[string]interface{}) (*gomcp.CallToolResult, error) {
	m.mu.Lock()
	mc, ok := m.clients[serverName]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("MCP server %q not connected", serverName)
	}

	callCtx, cancel := context.WithTimeout(ctx, mc.config.ToolTimeout())
	defer cancel()

	result, err := mc.session.CallTool(callCtx, &gomcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("MCP tool call %s/%s failed: %w", serverName, toolName, err)
	}
	return result, nil
}

// ToolInfo returns the ToolInfo for a qualified tool name.
func (m *Manager) ToolInfo(qualifiedName string) (ToolInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.tools[qualifiedName]
	return info, ok
}

// Lookup implements tools.Source. Qualified names of discovered tools
// resolve to agent tools when the server allows orgID; anything else is
// reported as unknown.
func (m *Manager) Lookup(_ context.Context, orgID, id string) (*tools.Tool, error) {
	if !IsQualified(id) {
		return nil, nil
	}
	m.mu.Lock()
	info, ok := m.tools[id]
	var cfg ServerConfig
	if mc, connected := m.clients[info.ServerName]; connected {
		cfg = mc.config
	}
	m.mu.Unlock()
	if !ok || !cfg.AllowsOrg(orgID) {
		return nil, nil
	}
	filter := cfg.ToolFilter()
	return m.agentTool(id, info, filter.IsAsync(info.ToolName))
}

func (m *Manager) agentTool(qualifiedName string, info ToolInfo, async bool) (*tools.Tool, error) {
	t := &tools.Tool{
		Name:    qualifiedName,
		ToolID:  qualifiedName,
		IsAsync: async,
		Handler: func(ctx context.Context, inv tools.Invocation) (string, error) {
			res, err := m.CallTool(ctx, info.ServerName, info.ToolName, inv.Args)
			if err != nil {
				return "", tools.NewTransientError(err)
			}
			text := FlattenContent(res.Content)
			if res.IsError {
				return "", fmt.Errorf("%s", text)
			}
			return text, nil
		},
	}
	if def, ok := info.Tool.(*gomcp.Tool); ok {
		t.Description = def.Description
		if def.InputSchema != nil {
			schema, err := tools.SchemaFromJSON(def.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", qualifiedName, err)
			}
			t.Schema = schema
		}
	}
	return t, nil
}

// FlattenContent renders tool result content as text. Text blocks are
// joined with newlines; other content types are rendered as JSON.
func FlattenContent(content []gomcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		raw, err := json.Marshal(c)
		if err != nil {
			parts = append(parts, fmt.Sprintf("[unrenderable content: %v]", err))
			continue
		}
		parts = append(parts, string(raw))
	}
	return strings.Join(parts, "\n")
}

// Close shuts down all connected sessions.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, mc := range m.clients {
		if err := mc.session.Close(); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "error closing mcp session"}, log.KV{K: "server", V: name})
		}
	}
	m.clients = make(map[string]*managedClient)
	m.tools = make(map[string]ToolInfo)
}
