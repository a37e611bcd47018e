// Package detect finds AI coding CLIs installed on the workstation and
// the log directories their sessions land in.
package detect

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

// DetectedCLI is one installed, trackable CLI.
type DetectedCLI struct {
	Platform   core.Platform
	Name       string
	BinaryPath string
	LogDir     string
	HasLogs    bool
}

type probe struct {
	platform core.Platform
	name     string
	binary   string
	logDir   func(home string) string
}

var probes = []probe{
	{
		platform: core.PlatformClaudeCode,
		name:     "Claude Code",
		binary:   "claude",
		logDir:   func(home string) string { return filepath.Join(home, ".claude", "projects") },
	},
	{
		platform: core.PlatformCodexCLI,
		name:     "Codex CLI",
		binary:   "codex",
		logDir:   func(home string) string { return filepath.Join(home, ".codex", "sessions") },
	},
	{
		platform: core.PlatformGeminiCLI,
		name:     "Gemini CLI",
		binary:   "gemini",
		logDir:   func(home string) string { return filepath.Join(home, ".gemini", "tmp") },
	},
}

// AutoDetect scans PATH and the home directory for known CLIs. A CLI
// counts as detected when either its binary or its log directory
// exists: logs from an uninstalled CLI are still worth reporting on.
func AutoDetect() []DetectedCLI {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}

	var out []DetectedCLI
	for _, p := range probes {
		bin := findBinary(p.binary)
		logDir := ""
		hasLogs := false
		if home != "" {
			logDir = p.logDir(home)
			hasLogs = dirExists(logDir)
		}
		if bin == "" && !hasLogs {
			continue
		}
		out = append(out, DetectedCLI{
			Platform:   p.platform,
			Name:       p.name,
			BinaryPath: bin,
			LogDir:     logDir,
			HasLogs:    hasLogs,
		})
	}
	return out
}

// DefaultPlatform picks the most likely tracking target: the first
// detected CLI that has session logs, else the first detected at all.
func DefaultPlatform(detected []DetectedCLI) (core.Platform, bool) {
	for _, d := range detected {
		if d.HasLogs {
			return d.Platform, true
		}
	}
	if len(detected) > 0 {
		return detected[0].Platform, true
	}
	return "", false
}

func findBinary(name string) string {
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
