package tail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func collectLines(t *testing.T, tl *Tailer, want int, timeout time.Duration) []string {
	t.Helper()
	var lines []string
	deadline := time.After(timeout)
	for len(lines) < want {
		select {
		case line, ok := <-tl.Lines():
			if !ok {
				t.Fatalf("lines channel closed after %d lines, want %d (err=%v)", len(lines), want, tl.Err())
			}
			lines = append(lines, string(line))
		case <-deadline:
			t.Fatalf("timed out with %d lines, want %d", len(lines), want)
		}
	}
	return lines
}

func TestTail_NewFileDuringTrackingReadFromStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")

	tl, err := New(context.Background(), path, Options{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tl.Close()

	// File created after attach must be read from byte zero.
	time.Sleep(30 * time.Millisecond)
	if err := os.WriteFile(path, []byte("first\nsecond\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	lines := collectLines(t, tl, 2, 3*time.Second)
	if lines[0] != "first" || lines[1] != "second" {
		t.Fatalf("lines = %q, want [first second]", lines)
	}
}

func TestTail_PreExistingFileReadsOnlyAppended(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte("stale-1\nstale-2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tl, err := New(context.Background(), path, Options{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tl.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("fresh\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	lines := collectLines(t, tl, 1, 3*time.Second)
	if lines[0] != "fresh" {
		t.Fatalf("line = %q, want fresh (stale history must be skipped)", lines[0])
	}
}

func TestTail_PartialLineBufferedUntilTerminated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")

	tl, err := New(context.Background(), path, Options{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tl.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteString(`{"half":`); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case line := <-tl.Lines():
		t.Fatalf("got premature line %q for unterminated write", line)
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := f.WriteString("1}\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	lines := collectLines(t, tl, 1, 3*time.Second)
	if lines[0] != `{"half":1}` {
		t.Fatalf("line = %q, want reassembled record", lines[0])
	}
}

func TestTail_TruncationRestartsFromZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")

	tl, err := New(context.Background(), path, Options{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tl.Close()

	if err := os.WriteFile(path, []byte("one\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	collectLines(t, tl, 1, 3*time.Second)

	// Rotation: replaced with shorter content.
	if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	lines := collectLines(t, tl, 1, 3*time.Second)
	if lines[0] != "x" {
		t.Fatalf("post-rotation line = %q, want x", lines[0])
	}
}

func TestTail_FromStartOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tl, err := New(context.Background(), path, Options{PollInterval: 10 * time.Millisecond, FromStart: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tl.Close()

	lines := collectLines(t, tl, 1, 3*time.Second)
	if lines[0] != "old" {
		t.Fatalf("line = %q, want old", lines[0])
	}
}
