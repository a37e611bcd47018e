// Package codexcli adapts Codex CLI session logs. Codex writes one JSONL
// file per session under ~/.codex/sessions/YYYY/MM/DD/, and its
// token_count events carry running totals: the accounting mode is
// cumulative-replace, never delta-sum.
package codexcli

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

const defaultConfigDir = ".codex"

type sessionEvent struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type eventPayload struct {
	Type string     `json:"type"`
	Info *tokenInfo `json:"info,omitempty"`
}

type tokenInfo struct {
	TotalTokenUsage tokenUsage `json:"total_token_usage"`
	LastTokenUsage  tokenUsage `json:"last_token_usage"`
}

type tokenUsage struct {
	InputTokens           int64 `json:"input_tokens"`
	CachedInputTokens     int64 `json:"cached_input_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	ReasoningOutputTokens int64 `json:"reasoning_output_tokens"`
	TotalTokens           int64 `json:"total_tokens"`
}

type sessionMetaPayload struct {
	ID         string `json:"id"`
	CWD        string `json:"cwd"`
	CLIVersion string `json:"cli_version"`
	Model      string `json:"model,omitempty"`
}

type turnContextPayload struct {
	Model string `json:"model,omitempty"`
}

type responseItemPayload struct {
	Type      string          `json:"type"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
}

type Adapter struct {
	dir string
}

func New() *Adapter {
	home, _ := os.UserHomeDir()
	return &Adapter{dir: filepath.Join(home, defaultConfigDir)}
}

// NewAt uses an explicit Codex config directory instead of ~/.codex.
func NewAt(dir string) *Adapter { return &Adapter{dir: dir} }

func (a *Adapter) Platform() core.Platform { return core.PlatformCodexCLI }

func (a *Adapter) Describe() core.AdapterInfo {
	return core.AdapterInfo{
		Name:   "OpenAI Codex CLI",
		Mode:   core.AccountingCumulative,
		LogDir: filepath.Join(a.dir, "sessions"),
	}
}

// Discover walks the YYYY/MM/DD layout and returns session files newest
// first.
func (a *Adapter) Discover(ctx context.Context) ([]core.SessionHandle, error) {
	sessionsDir := filepath.Join(a.dir, "sessions")
	if _, err := os.Stat(sessionsDir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("codexcli: stat sessions dir: %w", err)
	}

	var handles []core.SessionHandle
	err := filepath.WalkDir(sessionsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		handles = append(handles, core.SessionHandle{
			Platform: core.PlatformCodexCLI,
			Path:     path,
			ModTime:  info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("codexcli: walking sessions: %w", err)
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

// parser holds per-session state: the current model from turn_context,
// and whether the session boundary was already emitted.
type parser struct {
	model   string
	started bool
}

func newParser() *parser { return &parser{} }

func (p *parser) parseLine(line []byte) ([]core.NormalizedEvent, bool) {
	var ev sessionEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, false
	}

	ts, tsOK := adapterbase.ParseTimestamp(ev.Timestamp)
	if !tsOK {
		ts = time.Now().UTC()
	}

	switch ev.Type {
	case "session_meta":
		return p.parseSessionMeta(ev.Payload, ts), true
	case "turn_context":
		var tc turnContextPayload
		if err := json.Unmarshal(ev.Payload, &tc); err != nil {
			return nil, false
		}
		if tc.Model != "" {
			// Codex allows switching models mid-session; subsequent token
			// updates belong to the new model.
			p.model = tc.Model
		}
		return nil, true
	case "event_msg":
		return p.parseEventMsg(ev.Payload, ts)
	case "response_item":
		return p.parseResponseItem(ev.Payload, ts)
	default:
		// Unknown record kinds are expected across CLI versions.
		return nil, true
	}
}

func (p *parser) parseSessionMeta(payload json.RawMessage, ts time.Time) []core.NormalizedEvent {
	var meta sessionMetaPayload
	if err := json.Unmarshal(payload, &meta); err != nil {
		return nil
	}
	if meta.Model != "" {
		p.model = meta.Model
	}
	if p.started {
		return nil
	}
	p.started = true
	return []core.NormalizedEvent{{
		Timestamp:  ts,
		Kind:       core.EventSessionBoundary,
		Boundary:   core.BoundaryStart,
		SourceID:   meta.ID,
		WorkingDir: meta.CWD,
		Model:      meta.Model,
	}}
}

func (p *parser) parseEventMsg(payload json.RawMessage, ts time.Time) ([]core.NormalizedEvent, bool) {
	var msg eventPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, false
	}
	if msg.Type != "token_count" || msg.Info == nil {
		return nil, true
	}

	total := msg.Info.TotalTokenUsage
	if total.TotalTokens == 0 && total.InputTokens == 0 && total.OutputTokens == 0 {
		return nil, true
	}

	return []core.NormalizedEvent{{
		Timestamp: ts,
		Kind:      core.EventTokenUpdate,
		Mode:      core.AccountingCumulative,
		Model:     p.model,
		Tokens: core.TokenCounts{
			Input:     total.InputTokens,
			Output:    total.OutputTokens,
			CacheRead: total.CachedInputTokens,
			Reasoning: total.ReasoningOutputTokens,
		},
	}}, true
}

func (p *parser) parseResponseItem(payload json.RawMessage, ts time.Time) ([]core.NormalizedEvent, bool) {
	var item responseItemPayload
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, false
	}

	switch item.Type {
	case "function_call":
		name := core.NormalizeToolName(item.Name)
		return []core.NormalizedEvent{{
			Timestamp:   ts,
			Kind:        core.EventToolCallStart,
			Model:       p.model,
			ToolRaw:     item.Name,
			Tool:        name.Tool,
			Server:      name.Server,
			MCP:         name.MCP,
			CallID:      item.CallID,
			Fingerprint: adapterbase.Fingerprint(name.Tool, []byte(item.Arguments)),
		}}, true
	case "function_call_output":
		if item.CallID == "" {
			return nil, true
		}
		return []core.NormalizedEvent{{
			Timestamp: ts,
			Kind:      core.EventToolCallEnd,
			CallID:    item.CallID,
		}}, true
	default:
		return nil, true
	}
}
