package pricing

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNormalizeModelName(t *testing.T) {
	cases := map[string]string{
		"claude-sonnet-4-20250514": "claude-sonnet-4",
		"claude-sonnet-4":          "claude-sonnet-4",
		"gpt-5":                    "gpt-5",
		"gemini-2.5-pro":           "gemini-2.5-pro",
	}
	for in, want := range cases {
		if got := NormalizeModelName(in); got != want {
			t.Errorf("NormalizeModelName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLookupLongestPrefixWins(t *testing.T) {
	table := Default()
	mini, ok := table.Lookup("gpt-5-mini-2025-01")
	if !ok || mini.InputPerMTok != 0.25 {
		t.Fatalf("gpt-5-mini resolved %+v ok=%v, want the mini rates", mini, ok)
	}
	full, ok := table.Lookup("gpt-5")
	if !ok || full.InputPerMTok != 1.25 {
		t.Fatalf("gpt-5 resolved %+v ok=%v", full, ok)
	}
}

func TestCostUSD(t *testing.T) {
	table := Default()
	usage := core.TokenUsage{
		InputTokens:        1_000_000,
		OutputTokens:       1_000_000,
		CacheCreatedTokens: 1_000_000,
		CacheReadTokens:    1_000_000,
	}
	cost, ok := table.CostUSD("claude-sonnet-4-20250514", usage)
	if !ok {
		t.Fatal("sonnet not priced")
	}
	if !almostEqual(cost, 3.00+15.00+3.75+0.30) {
		t.Fatalf("cost = %v", cost)
	}
}

func TestUnknownModelIsZeroNotError(t *testing.T) {
	cost, ok := Default().CostUSD("mystery-model-9", core.TokenUsage{InputTokens: 1_000_000})
	if ok || cost != 0 {
		t.Fatalf("unknown model priced cost=%v ok=%v", cost, ok)
	}
}

func TestSessionCostSumsModelBuckets(t *testing.T) {
	sess := core.NewSession("s1", core.PlatformCodexCLI, "demo", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	sess.ModelUsage["gpt-5"] = &core.ModelUsage{Usage: core.TokenUsage{InputTokens: 1_000_000}}
	sess.ModelUsage["mystery"] = &core.ModelUsage{Usage: core.TokenUsage{InputTokens: 1_000_000}}

	if cost := Default().SessionCost(sess); !almostEqual(cost, 1.25) {
		t.Fatalf("session cost = %v, want only the known bucket priced", cost)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.toml")
	override := `
[rates."claude-sonnet"]
input_per_mtok = 1.0
output_per_mtok = 2.0
`
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	table, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	r, ok := table.Lookup("claude-sonnet-4")
	if !ok || r.InputPerMTok != 1.0 || r.OutputPerMTok != 2.0 {
		t.Fatalf("override not applied: %+v", r)
	}
	// Untouched families keep their defaults.
	if r, _ := table.Lookup("claude-opus-4"); r.InputPerMTok != 15.00 {
		t.Fatalf("opus rates changed: %+v", r)
	}
}

func TestLoadOverridesMissingFile(t *testing.T) {
	table, err := LoadOverrides(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if _, ok := table.Lookup("claude-haiku-3-5"); !ok {
		t.Fatal("defaults missing without override file")
	}
}
