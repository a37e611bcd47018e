package codexcli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

func TestParseLine_TokenCountIsCumulative(t *testing.T) {
	p := newParser()

	line := []byte(`{"timestamp":"2026-03-01T10:00:00.000Z","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":1200,"cached_input_tokens":300,"output_tokens":450,"reasoning_output_tokens":50,"total_tokens":2000},"last_token_usage":{"input_tokens":100,"output_tokens":40,"total_tokens":140}}}}`)
	events, ok := p.parseLine(line)
	if !ok {
		t.Fatal("line should parse")
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.Kind != core.EventTokenUpdate {
		t.Fatalf("kind = %s, want token_update", ev.Kind)
	}
	if ev.Mode != core.AccountingCumulative {
		t.Fatalf("mode = %s, want cumulative", ev.Mode)
	}
	if ev.Tokens.Input != 1200 || ev.Tokens.Output != 450 || ev.Tokens.CacheRead != 300 || ev.Tokens.Reasoning != 50 {
		t.Fatalf("tokens = %+v, want cumulative totals not deltas", ev.Tokens)
	}
}

func TestParseLine_SessionMetaEmitsBoundaryOnce(t *testing.T) {
	p := newParser()

	line := []byte(`{"timestamp":"2026-03-01T10:00:00Z","type":"session_meta","payload":{"id":"0195d-abc","cwd":"/home/dev/proj","cli_version":"0.42.0"}}`)
	events, ok := p.parseLine(line)
	if !ok || len(events) != 1 {
		t.Fatalf("events = %v ok = %v, want one boundary", events, ok)
	}
	ev := events[0]
	if ev.Kind != core.EventSessionBoundary || ev.Boundary != core.BoundaryStart {
		t.Fatalf("event = %+v, want start boundary", ev)
	}
	if ev.SourceID != "0195d-abc" || ev.WorkingDir != "/home/dev/proj" {
		t.Fatalf("meta = %+v", ev)
	}

	again, ok := p.parseLine(line)
	if !ok || len(again) != 0 {
		t.Fatalf("repeated session_meta emitted %d events, want 0", len(again))
	}
}

func TestModelSwitchKeepsSessionTotalAtSnapshot(t *testing.T) {
	p := newParser()
	sess := core.NewSession("s1", core.PlatformCodexCLI, "demo", time.Time{})
	red := core.NewReducer(sess)

	lines := [][]byte{
		[]byte(`{"timestamp":"2026-03-01T10:00:00Z","type":"session_meta","payload":{"id":"s1","cwd":"/home/dev/proj"}}`),
		[]byte(`{"timestamp":"2026-03-01T10:00:05Z","type":"turn_context","payload":{"model":"gpt-5"}}`),
		[]byte(`{"timestamp":"2026-03-01T10:00:10Z","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":80,"output_tokens":20,"total_tokens":100}}}}`),
		[]byte(`{"timestamp":"2026-03-01T10:00:15Z","type":"turn_context","payload":{"model":"gpt-5-mini"}}`),
		[]byte(`{"timestamp":"2026-03-01T10:00:20Z","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":180,"output_tokens":70,"total_tokens":250}}}}`),
	}
	for _, line := range lines {
		events, ok := p.parseLine(line)
		if !ok {
			t.Fatalf("line should parse: %s", line)
		}
		for _, ev := range events {
			red.Apply(ev)
		}
	}

	if got := sess.Usage.TotalTokens; got != 250 {
		t.Fatalf("session total = %d, want 250 (counter is session-wide, the second snapshot contains the first)", got)
	}
	if got := sess.ModelUsage["gpt-5-mini"].Usage.InputTokens; got != 100 {
		t.Fatalf("gpt-5-mini input = %d, want differenced 100", got)
	}
}

func TestParseLine_TurnContextSwitchesModel(t *testing.T) {
	p := newParser()

	if _, ok := p.parseLine([]byte(`{"timestamp":"2026-03-01T10:00:00Z","type":"turn_context","payload":{"model":"gpt-5-codex"}}`)); !ok {
		t.Fatal("turn_context should parse")
	}

	events, _ := p.parseLine([]byte(`{"timestamp":"2026-03-01T10:00:05Z","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":10,"output_tokens":5,"total_tokens":15}}}}`))
	if events[0].Model != "gpt-5-codex" {
		t.Fatalf("model = %q, want gpt-5-codex", events[0].Model)
	}

	if _, ok := p.parseLine([]byte(`{"timestamp":"2026-03-01T10:01:00Z","type":"turn_context","payload":{"model":"gpt-5.1"}}`)); !ok {
		t.Fatal("turn_context should parse")
	}
	events, _ = p.parseLine([]byte(`{"timestamp":"2026-03-01T10:01:05Z","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":20,"output_tokens":9,"total_tokens":29}}}}`))
	if events[0].Model != "gpt-5.1" {
		t.Fatalf("model after switch = %q, want gpt-5.1 (models must not collapse)", events[0].Model)
	}
}

func TestParseLine_FunctionCall(t *testing.T) {
	p := newParser()

	line := []byte(`{"timestamp":"2026-03-01T10:00:10Z","type":"response_item","payload":{"type":"function_call","name":"mcp__github__search_issues","arguments":"{\"q\":\"bug\"}","call_id":"call-1"}}`)
	events, ok := p.parseLine(line)
	if !ok || len(events) != 1 {
		t.Fatalf("events = %v ok = %v", events, ok)
	}
	ev := events[0]
	if ev.Kind != core.EventToolCallStart {
		t.Fatalf("kind = %s", ev.Kind)
	}
	if ev.Tool != "github.search_issues" || ev.Server != "github" || !ev.MCP {
		t.Fatalf("normalized = %+v", ev)
	}
	if ev.Fingerprint == "" {
		t.Fatal("fingerprint missing")
	}

	// Same arguments, same fingerprint.
	events2, _ := p.parseLine(line)
	if events2[0].Fingerprint != ev.Fingerprint {
		t.Fatal("identical call must produce identical fingerprint")
	}
}

func TestParseLine_MalformedCounted(t *testing.T) {
	p := newParser()
	if _, ok := p.parseLine([]byte(`{"timestamp": nope`)); ok {
		t.Fatal("malformed JSON must report ok=false")
	}
	// Unknown event kinds are fine, not malformed.
	if _, ok := p.parseLine([]byte(`{"timestamp":"2026-03-01T10:00:00Z","type":"compacted","payload":{}}`)); !ok {
		t.Fatal("unknown event type must not count as malformed")
	}
}

func TestDiscover_WalksDateLayoutNewestFirst(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "sessions", "2026", "02", "27")
	recent := filepath.Join(dir, "sessions", "2026", "03", "01")
	for _, d := range []string{old, recent} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(old, "rollout-a.jsonl"), []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(recent, "rollout-b.jsonl"), []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	handles, err := NewAt(dir).Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("handles = %d, want 2", len(handles))
	}
	if filepath.Base(handles[0].Path) != "rollout-b.jsonl" {
		t.Fatalf("first handle = %s, want newest", handles[0].Path)
	}
}

func TestDiscover_MissingDirIsEmptyNotError(t *testing.T) {
	handles, err := NewAt(filepath.Join(t.TempDir(), "absent")).Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover on missing dir: %v", err)
	}
	if len(handles) != 0 {
		t.Fatalf("handles = %d, want 0", len(handles))
	}
}
