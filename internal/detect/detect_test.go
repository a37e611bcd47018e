package detect

import (
	"testing"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

func TestDefaultPlatformPrefersLogs(t *testing.T) {
	detected := []DetectedCLI{
		{Platform: core.PlatformCodexCLI, BinaryPath: "/usr/bin/codex", HasLogs: false},
		{Platform: core.PlatformClaudeCode, BinaryPath: "/usr/bin/claude", HasLogs: true},
	}
	p, ok := DefaultPlatform(detected)
	if !ok || p != core.PlatformClaudeCode {
		t.Fatalf("DefaultPlatform = %q ok=%v, want claude-code", p, ok)
	}
}

func TestDefaultPlatformFallsBackToFirst(t *testing.T) {
	detected := []DetectedCLI{
		{Platform: core.PlatformGeminiCLI, BinaryPath: "/usr/bin/gemini"},
	}
	p, ok := DefaultPlatform(detected)
	if !ok || p != core.PlatformGeminiCLI {
		t.Fatalf("DefaultPlatform = %q ok=%v", p, ok)
	}
}

func TestDefaultPlatformEmpty(t *testing.T) {
	if _, ok := DefaultPlatform(nil); ok {
		t.Fatal("empty detection produced a default platform")
	}
}
