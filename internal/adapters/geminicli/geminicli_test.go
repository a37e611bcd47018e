package geminicli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
	"github.com/janekbaraniewski/tokenaudit/internal/estimator"
)

func writeSessionDoc(t *testing.T, path string, doc map[string]any) {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Poll loop keys on mtime; make sure rewrites move it forward.
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func geminiMsg(id, model string, tokens map[string]any, calls ...map[string]any) map[string]any {
	m := map[string]any{
		"id":        id,
		"timestamp": "2025-03-01T10:00:00Z",
		"type":      "gemini",
		"content":   "response text",
		"model":     model,
	}
	if tokens != nil {
		m["tokens"] = tokens
	}
	if len(calls) > 0 {
		m["toolCalls"] = calls
	}
	return m
}

func collectEvents(t *testing.T, stream core.EventStream, n int) []core.NormalizedEvent {
	t.Helper()
	var got []core.NormalizedEvent
	deadline := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				t.Fatalf("stream closed after %d events, want %d", len(got), n)
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out after %d events, want %d", len(got), n)
		}
	}
	return got
}

func TestProjectHash(t *testing.T) {
	cwd := "/home/user/project"
	sum := sha256.Sum256([]byte(cwd))
	if got, want := ProjectHash(cwd), hex.EncodeToString(sum[:]); got != want {
		t.Fatalf("ProjectHash = %q, want %q", got, want)
	}
}

func TestDiscoverFindsSessionsAcrossProjects(t *testing.T) {
	dir := t.TempDir()
	for i, cwd := range []string{"/proj/a", "/proj/b"} {
		chats := filepath.Join(dir, "tmp", ProjectHash(cwd), "chats")
		if err := os.MkdirAll(chats, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		path := filepath.Join(chats, fmt.Sprintf("session-%d.json", i))
		writeSessionDoc(t, path, map[string]any{"sessionId": fmt.Sprintf("s%d", i)})
	}
	// Non-hash directories are skipped.
	if err := os.MkdirAll(filepath.Join(dir, "tmp", "scratch", "chats"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	a := NewAt(dir, nil)
	handles, err := a.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("got %d handles, want 2", len(handles))
	}
	for _, h := range handles {
		if h.Platform != core.PlatformGeminiCLI {
			t.Errorf("platform = %q", h.Platform)
		}
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	a := NewAt(filepath.Join(t.TempDir(), "nope"), nil)
	handles, err := a.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if handles != nil {
		t.Fatalf("got %v, want nil", handles)
	}
}

func TestOpenSkipsPreexistingMessages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session-1.json")
	writeSessionDoc(t, path, map[string]any{
		"sessionId": "s1",
		"startTime": "2025-03-01T09:00:00Z",
		"messages": []map[string]any{
			geminiMsg("m1", "gemini-2.0-flash", map[string]any{"input": 100, "output": 50}),
		},
	})

	a := NewAt(dir, nil)
	stream, err := a.Open(context.Background(), core.SessionHandle{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	// Rewrite the document with the old message plus a new one; only the
	// new one should produce events.
	writeSessionDoc(t, path, map[string]any{
		"sessionId": "s1",
		"startTime": "2025-03-01T09:00:00Z",
		"messages": []map[string]any{
			geminiMsg("m1", "gemini-2.0-flash", map[string]any{"input": 100, "output": 50}),
			geminiMsg("m2", "gemini-2.0-flash", map[string]any{"input": 30, "output": 20, "cached": 10, "thoughts": 5}),
		},
	})

	got := collectEvents(t, stream, 2)
	if got[0].Kind != core.EventSessionBoundary || got[0].SourceID != "s1" {
		t.Fatalf("first event = %+v, want session boundary for s1", got[0])
	}
	upd := got[1]
	if upd.Kind != core.EventTokenUpdate || upd.Mode != core.AccountingDelta {
		t.Fatalf("second event = %+v, want delta token update", upd)
	}
	want := core.TokenCounts{Input: 30, Output: 20, CacheRead: 10, Reasoning: 5}
	if upd.Tokens != want {
		t.Fatalf("tokens = %+v, want %+v", upd.Tokens, want)
	}
	if upd.Estimated {
		t.Fatal("reported counts must not be marked estimated")
	}
}

func TestToolCallsSplitTokenShare(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session-1.json")
	a := NewAt(dir, nil)
	stream, err := a.Open(context.Background(), core.SessionHandle{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	writeSessionDoc(t, path, map[string]any{
		"sessionId": "s1",
		"messages": []map[string]any{
			geminiMsg("m1", "gemini-2.0-flash",
				map[string]any{"input": 10, "output": 5, "tool": 90},
				map[string]any{"id": "c1", "name": "mcp__github__search", "status": "success", "args": map[string]any{"q": "x"}},
				map[string]any{"id": "c2", "name": "read_file", "status": "error"},
			),
		},
	})

	// boundary, token update, then start/end per call.
	got := collectEvents(t, stream, 6)
	starts := map[string]core.NormalizedEvent{}
	ends := map[string]core.NormalizedEvent{}
	for _, ev := range got {
		switch ev.Kind {
		case core.EventToolCallStart:
			starts[ev.CallID] = ev
		case core.EventToolCallEnd:
			ends[ev.CallID] = ev
		}
	}
	c1 := starts["c1"]
	if c1.Tool != "github.search" || !c1.MCP || c1.Server != "github" {
		t.Fatalf("c1 = %+v, want normalized mcp name", c1)
	}
	if c1.Tokens.Output != 45 {
		t.Fatalf("c1 share = %d, want 45", c1.Tokens.Output)
	}
	if c1.Fingerprint == "" {
		t.Fatal("c1 missing fingerprint")
	}
	if ok := ends["c1"].Success; ok == nil || !*ok {
		t.Fatalf("c1 success = %v, want true", ends["c1"].Success)
	}
	if ok := ends["c2"].Success; ok == nil || *ok {
		t.Fatalf("c2 success = %v, want false", ends["c2"].Success)
	}
	if starts["c2"].Server != core.BuiltinServer {
		t.Fatalf("c2 server = %q, want builtin", starts["c2"].Server)
	}
}

func TestMissingTokensUsesEstimator(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session-1.json")
	a := NewAt(dir, estimator.New())
	stream, err := a.Open(context.Background(), core.SessionHandle{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	writeSessionDoc(t, path, map[string]any{
		"sessionId": "s1",
		"messages": []map[string]any{
			geminiMsg("m1", "gemini-2.0-flash", nil),
		},
	})

	got := collectEvents(t, stream, 2)
	upd := got[1]
	if !upd.Estimated || upd.EstimationMethod == "" {
		t.Fatalf("update = %+v, want estimated with method", upd)
	}
	if upd.Tokens.Output <= 0 {
		t.Fatalf("estimated output = %d, want > 0", upd.Tokens.Output)
	}
}

func TestRewriteDoesNotReplayProcessedMessages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session-1.json")
	a := NewAt(dir, nil)
	stream, err := a.Open(context.Background(), core.SessionHandle{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	doc := map[string]any{
		"sessionId": "s1",
		"messages": []map[string]any{
			geminiMsg("m1", "gemini-2.0-flash", map[string]any{"input": 10, "output": 5}),
		},
	}
	writeSessionDoc(t, path, doc)
	collectEvents(t, stream, 2)

	// Full rewrite with the same content must stay quiet.
	writeSessionDoc(t, path, doc)
	select {
	case ev := <-stream.Events():
		t.Fatalf("unexpected replayed event %+v", ev)
	case <-time.After(3 * pollInterval):
	}
}
