package mcp

import (
	"context"
	"crypto/sha1"
	"fmt"
	"strings"

	"goa.design/clue/log"
)

const (
	// ToolNameDelimiter separates the prefix, server name and tool name.
	ToolNameDelimiter = "__"

	// ToolNamePrefix starts every qualified MCP tool name.
	ToolNamePrefix = "mcp"

	// MaxToolNameLength is the longest name both providers accept; names
	// must also match ^[a-zA-Z0-9_-]+$.
	MaxToolNameLength = 64
)

// ToolInfo identifies a discovered tool on its server.
type ToolInfo struct {
	ServerName string
	ToolName   string
	// Tool is the raw MCP definition (*mcp.Tool), nil in tests.
	Tool interface{}
}

// IsQualified reports whether name looks like a qualified MCP tool name.
func IsQualified(name string) bool {
	return strings.HasPrefix(name, ToolNamePrefix+ToolNameDelimiter)
}

// SanitizeName replaces characters not in [a-zA-Z0-9_-] with underscore.
// Returns "_" if the input is empty after sanitization.
func SanitizeName(name string) string {
	sanitized := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			sanitized = append(sanitized, c)
		} else {
			sanitized = append(sanitized, '_')
		}
	}
	if len(sanitized) == 0 {
		return "_"
	}
	return string(sanitized)
}

func rawName(serverName, toolName string) string {
	return ToolNamePrefix + ToolNameDelimiter + serverName + ToolNameDelimiter + toolName
}

// shorten truncates qualified to MaxToolNameLength, replacing the tail with
// the SHA1 of raw so distinct long names stay distinct.
func shorten(qualified, raw string) string {
	if len(qualified) <= MaxToolNameLength {
		return qualified
	}
	hash := fmt.Sprintf("%x", sha1.Sum([]byte(raw)))
	return qualified[:MaxToolNameLength-len(hash)] + hash
}

// QualifyToolName creates a qualified MCP tool name from server and tool names.
// Format: mcp__<sanitized_server>__<sanitized_tool>
func QualifyToolName(serverName, toolName string) string {
	raw := rawName(serverName, toolName)
	return shorten(SanitizeName(raw), raw)
}

// QualifyTools qualifies the names of tools and returns them keyed by
// qualified name. Duplicates, before or after sanitization, keep the first
// occurrence.
func QualifyTools(ctx context.Context, tools []ToolInfo) map[string]ToolInfo {
	used := make(map[string]bool)
	seenRaw := make(map[string]bool)
	qualified := make(map[string]ToolInfo)

	for _, tool := range tools {
		raw := rawName(tool.ServerName, tool.ToolName)
		if seenRaw[raw] {
			log.Warn(ctx, log.KV{K: "msg", V: "skipping duplicated mcp tool"}, log.KV{K: "tool", V: raw})
			continue
		}
		seenRaw[raw] = true

		name := shorten(SanitizeName(raw), raw)
		if used[name] {
			log.Warn(ctx, log.KV{K: "msg", V: "skipping duplicated mcp tool"}, log.KV{K: "tool", V: name})
			continue
		}
		used[name] = true
		qualified[name] = tool
	}
	return qualified
}

// FilterTools filters a list of ToolInfo items using the given ToolFilter.
func FilterTools(tools []ToolInfo, filter ToolFilter) []ToolInfo {
	filtered := make([]ToolInfo, 0, len(tools))
	for _, tool := range tools {
		if filter.Allows(tool.ToolName) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}
