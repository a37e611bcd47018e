package core

import (
	"os"
	"path/filepath"
	"strings"
)

// BuiltinServer labels tools that belong to the platform itself rather
// than an externally provided (MCP) server.
const BuiltinServer = "builtin"

const mcpPrefix = "mcp__"

// NormalizedName is the cross-platform identity of one logical tool.
type NormalizedName struct {
	Tool   string
	Server string
	MCP    bool
}

// ProjectFromDir derives a session's project label from the directory
// the CLI was invoked in: the basename of the enclosing repository
// root when one exists, otherwise the directory's own basename.
func ProjectFromDir(dir string) string {
	dir = filepath.Clean(dir)
	d := dir
	for {
		if _, err := os.Stat(filepath.Join(d, ".git")); err == nil {
			return filepath.Base(d)
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	base := filepath.Base(dir)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base
}

// NormalizeToolName maps a source-specific tool name to its canonical
// form. Externally provided tools arrive as "mcp__<server>__<tool>"
// (some sources flatten to "mcp__<server>_<tool>"); built-in platform
// tools keep their bare name under the builtin server.
func NormalizeToolName(raw string) NormalizedName {
	name := strings.TrimSpace(raw)
	if name == "" {
		return NormalizedName{Tool: "unknown", Server: BuiltinServer}
	}

	if !strings.HasPrefix(name, mcpPrefix) {
		return NormalizedName{Tool: name, Server: BuiltinServer}
	}

	rest := strings.TrimPrefix(name, mcpPrefix)
	server, tool, found := strings.Cut(rest, "__")
	if !found {
		// Flattened single-underscore form used by some source versions.
		server, tool, found = strings.Cut(rest, "_")
		if !found {
			return NormalizedName{Tool: rest, Server: rest, MCP: true}
		}
	}
	if tool == "" {
		tool = server
	}
	return NormalizedName{
		Tool:   server + "." + tool,
		Server: server,
		MCP:    true,
	}
}
