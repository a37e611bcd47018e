// Package claudecode adapts Claude Code conversation logs. Claude Code
// appends one JSONL entry per message to
// ~/.claude/projects/<project>/<session>.jsonl, and each assistant entry
// reports the usage of that single API call: the accounting mode is
// delta-sum.
package claudecode

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/janekbaraniewski/tokenaudit/internal/adapters/adapterbase"
	"github.com/janekbaraniewski/tokenaudit/internal/adapters/tail"
	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

const defaultConfigDir = ".claude"

type jsonlEntry struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp string    `json:"timestamp"`
	CWD       string    `json:"cwd,omitempty"`
	Message   *jsonlMsg `json:"message,omitempty"`
}

type jsonlMsg struct {
	Model   string          `json:"model"`
	Role    string          `json:"role"`
	Usage   *jsonlUsage     `json:"usage,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

type jsonlUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type Adapter struct {
	dir string
}

func New() *Adapter {
	home, _ := os.UserHomeDir()
	return &Adapter{dir: filepath.Join(home, defaultConfigDir)}
}

// NewAt uses an explicit Claude config directory instead of ~/.claude.
func NewAt(dir string) *Adapter { return &Adapter{dir: dir} }

func (a *Adapter) Platform() core.Platform { return core.PlatformClaudeCode }

func (a *Adapter) Describe() core.AdapterInfo {
	return core.AdapterInfo{
		Name:   "Claude Code",
		Mode:   core.AccountingDelta,
		LogDir: filepath.Join(a.dir, "projects"),
	}
}

// Discover collects conversation logs from every project directory,
// newest first.
func (a *Adapter) Discover(ctx context.Context) ([]core.SessionHandle, error) {
	projectsDir := filepath.Join(a.dir, "projects")
	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claudecode: reading projects dir: %w", err)
	}

	var handles []core.SessionHandle
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !entry.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(projectsDir, entry.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			handles = append(handles, core.SessionHandle{
				Platform: core.PlatformClaudeCode,
				Path:     filepath.Join(projectsDir, entry.Name(), f.Name()),
				SourceID: strings.TrimSuffix(f.Name(), ".jsonl"),
				ModTime:  info.ModTime(),
			})
		}
	}

	sort.Slice(handles, func(i, j int) bool {
		return handles[i].ModTime.After(handles[j].ModTime)
	})
	return handles, nil
}

func (a *Adapter) Open(ctx context.Context, h core.SessionHandle) (core.EventStream, error) {
	p := newParser()
	return adapterbase.NewLineStream(ctx, h.Path, tail.Options{}, p.parseLine)
}

type parser struct {
	started bool
}

func newParser() *parser { return &parser{} }

func (p *parser) parseLine(line []byte) ([]core.NormalizedEvent, bool) {
	var entry jsonlEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return nil, false
	}

	ts, tsOK := adapterbase.ParseTimestamp(entry.Timestamp)
	if !tsOK {
		ts = time.Now().UTC()
	}

	var events []core.NormalizedEvent
	if !p.started && entry.SessionID != "" {
		p.started = true
		events = append(events, core.NormalizedEvent{
			Timestamp:  ts,
			Kind:       core.EventSessionBoundary,
			Boundary:   core.BoundaryStart,
			SourceID:   entry.SessionID,
			WorkingDir: entry.CWD,
		})
	}

	switch entry.Type {
	case "assistant":
		events = append(events, p.parseAssistant(&entry, ts)...)
	case "user":
		events = append(events, p.parseUser(&entry, ts)...)
	case "summary", "system", "progress":
		// Bookkeeping entries with no usage data.
	}
	return events, true
}

func (p *parser) parseAssistant(entry *jsonlEntry, ts time.Time) []core.NormalizedEvent {
	if entry.Message == nil {
		return nil
	}

	var events []core.NormalizedEvent
	if u := entry.Message.Usage; u != nil {
		events = append(events, core.NormalizedEvent{
			Timestamp: ts,
			Kind:      core.EventTokenUpdate,
			Mode:      core.AccountingDelta,
			Model:     entry.Message.Model,
			Tokens: core.TokenCounts{
				Input:        u.InputTokens,
				Output:       u.OutputTokens,
				CacheCreated: u.CacheCreationInputTokens,
				CacheRead:    u.CacheReadInputTokens,
			},
		})
	}

	blocks := parseBlocks(entry.Message.Content)
	var uses []contentBlock
	for _, b := range blocks {
		if b.Type == "tool_use" && b.Name != "" {
			uses = append(uses, b)
		}
	}
	if len(uses) == 0 {
		return events
	}

	// Attribute the message's output tokens evenly across its tool
	// calls. Integer division keeps the per-tool sum bounded by the
	// session total.
	var share int64
	if u := entry.Message.Usage; u != nil {
		share = u.OutputTokens / int64(len(uses))
	}

	for _, b := range uses {
		name := core.NormalizeToolName(b.Name)
		events = append(events, core.NormalizedEvent{
			Timestamp:   ts,
			Kind:        core.EventToolCallStart,
			Model:       entry.Message.Model,
			ToolRaw:     b.Name,
			Tool:        name.Tool,
			Server:      name.Server,
			MCP:         name.MCP,
			CallID:      b.ID,
			Tokens:      core.TokenCounts{Output: share},
			Fingerprint: adapterbase.Fingerprint(name.Tool, b.Input),
		})
	}
	return events
}

func (p *parser) parseUser(entry *jsonlEntry, ts time.Time) []core.NormalizedEvent {
	if entry.Message == nil {
		return nil
	}

	var events []core.NormalizedEvent
	for _, b := range parseBlocks(entry.Message.Content) {
		if b.Type != "tool_result" || b.ToolUseID == "" {
			continue
		}
		success := !b.IsError
		events = append(events, core.NormalizedEvent{
			Timestamp: ts,
			Kind:      core.EventToolCallEnd,
			CallID:    b.ToolUseID,
			Success:   &success,
		})
	}
	return events
}

// parseBlocks tolerates both content spellings: an array of typed blocks
// (assistant and tool-result messages) and a bare string (plain user
// text).
func parseBlocks(raw json.RawMessage) []contentBlock {
	if len(raw) == 0 {
		return nil
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return blocks
}
