package mcp

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func info(server, tool string) ToolInfo {
	return ToolInfo{ServerName: server, ToolName: tool}
}

func sortedKeys(m map[string]ToolInfo) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestQualifyTools(t *testing.T) {
	ctx := context.Background()

	t.Run("short names", func(t *testing.T) {
		q := QualifyTools(ctx, []ToolInfo{info("crm", "find"), info("crm", "update")})
		assert.Equal(t, []string{"mcp__crm__find", "mcp__crm__update"}, sortedKeys(q))
	})

	t.Run("duplicates keep the first", func(t *testing.T) {
		q := QualifyTools(ctx, []ToolInfo{info("crm", "find"), info("crm", "find")})
		assert.Len(t, q, 1)
	})

	t.Run("sanitized collisions keep the first", func(t *testing.T) {
		q := QualifyTools(ctx, []ToolInfo{info("crm", "a.b"), info("crm", "a_b")})
		require.Len(t, q, 1)
		assert.Equal(t, "a.b", q["mcp__crm__a_b"].ToolName)
	})

	t.Run("long names are hashed", func(t *testing.T) {
		q := QualifyTools(ctx, []ToolInfo{
			info("my_server", "extremely_lengthy_function_name_that_absolutely_surpasses_all_reasonable_limits"),
			info("my_server", "yet_another_extremely_lengthy_function_name_that_absolutely_surpasses_all_reasonable_limits"),
		})
		keys := sortedKeys(q)
		require.Len(t, keys, 2)
		assert.Equal(t, "mcp__my_server__extremel119a2b97664e41363932dc84de21e2ff1b93b3e9", keys[0])
		assert.Equal(t, "mcp__my_server__yet_anot419a82a89325c1b477274a41f8c65ea5f3a7f341", keys[1])
	})

	t.Run("original parts are kept for dispatch", func(t *testing.T) {
		q := QualifyTools(ctx, []ToolInfo{info("server.one", "tool.two")})
		got, ok := q["mcp__server_one__tool_two"]
		require.True(t, ok)
		assert.Equal(t, "server.one", got.ServerName)
		assert.Equal(t, "tool.two", got.ToolName)
	})
}

func TestToolFilter(t *testing.T) {
	tests := []struct {
		name     string
		enabled  []string
		disabled []string
		allowed  []string
		denied   []string
	}{
		{name: "allow all", allowed: []string{"any"}},
		{name: "allow-list", enabled: []string{"a"}, allowed: []string{"a"}, denied: []string{"b"}},
		{name: "deny-list", disabled: []string{"b"}, allowed: []string{"a"}, denied: []string{"b"}},
		{name: "deny wins", enabled: []string{"a", "b"}, disabled: []string{"b"}, allowed: []string{"a"}, denied: []string{"b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewToolFilter(tt.enabled, tt.disabled)
			for _, n := range tt.allowed {
				assert.True(t, f.Allows(n), n)
			}
			for _, n := range tt.denied {
				assert.False(t, f.Allows(n), n)
			}
		})
	}

	filtered := FilterTools([]ToolInfo{info("s", "a"), info("s", "b")}, NewToolFilter(nil, []string{"b"}))
	assert.Equal(t, []ToolInfo{info("s", "a")}, filtered)
}

func TestSanitizeName(t *testing.T) {
	for in, want := range map[string]string{
		"hello":        "hello",
		"hello.world":  "hello_world",
		"a-b_c":        "a-b_c",
		"foo bar":      "foo_bar",
		"MixedCase123": "MixedCase123",
		"":             "_",
		"@#$%":         "____",
	} {
		assert.Equal(t, want, SanitizeName(in), in)
	}
}

func TestQualifyToolName(t *testing.T) {
	assert.Equal(t, "mcp__github__create_issue", QualifyToolName("github", "create_issue"))
	assert.Len(t, QualifyToolName("s", string(make([]byte, 100))), MaxToolNameLength)
	assert.True(t, IsQualified("mcp__github__create_issue"))
	assert.False(t, IsQualified("lookup"))
}

func TestServerConfig(t *testing.T) {
	off := false
	five := 5
	cfg := ServerConfig{Enabled: &off, ToolTimeoutSec: &five, OrgIDs: []string{"acme"}}
	assert.False(t, cfg.IsEnabled())
	assert.Equal(t, DefaultStartupTimeout, cfg.StartupTimeout())
	assert.Equal(t, int64(5), int64(cfg.ToolTimeout().Seconds()))
	assert.True(t, cfg.AllowsOrg("acme"))
	assert.False(t, cfg.AllowsOrg("other"))
	assert.Error(t, cfg.Validate())

	cfg.AsyncTools = []string{"submit"}
	cfg.DisabledTools = []string{"drop"}
	filter := cfg.ToolFilter()
	assert.True(t, filter.IsAsync("submit"))
	assert.False(t, filter.IsAsync("drop"))
	assert.False(t, filter.Allows("drop"))

	cfg.Transport.URL = "http://localhost:8080/mcp"
	assert.NoError(t, cfg.Validate())
	cfg.Transport.Command = "server"
	assert.Error(t, cfg.Validate())
}
