// Package core defines the canonical data model shared by platform
// adapters, the tracker, storage, and analysis. Adapters translate their
// source-specific log shapes into these types and nothing else crosses
// the adapter boundary.
package core

import "time"

// SchemaVersion is written into every session log and summary. Evolution
// is additive-only: a bump never removes or repurposes an existing field.
const SchemaVersion = "v1"

type Platform string

const (
	PlatformClaudeCode Platform = "claude-code"
	PlatformCodexCLI   Platform = "codex-cli"
	PlatformGeminiCLI  Platform = "gemini-cli"
)

// KnownPlatforms lists every platform an adapter exists for.
var KnownPlatforms = []Platform{PlatformClaudeCode, PlatformCodexCLI, PlatformGeminiCLI}

type EventKind string

const (
	EventTokenUpdate     EventKind = "token_update"
	EventToolCallStart   EventKind = "tool_call_start"
	EventToolCallEnd     EventKind = "tool_call_end"
	EventSessionBoundary EventKind = "session_boundary"
)

// AccountingMode describes how a source reports token counters. Cumulative
// sources report running totals that must replace the aggregate; delta
// sources report per-event increments that must be summed. Each adapter's
// mode is fixed and it tags every token_update event with it.
type AccountingMode string

const (
	AccountingCumulative AccountingMode = "cumulative"
	AccountingDelta      AccountingMode = "delta"
)

type BoundaryKind string

const (
	BoundaryStart BoundaryKind = "start"
	BoundaryEnd   BoundaryKind = "end"
)

// TokenCounts carries the per-category counts of a single event.
type TokenCounts struct {
	Input        int64 `json:"input,omitempty"`
	Output       int64 `json:"output,omitempty"`
	CacheCreated int64 `json:"cache_created,omitempty"`
	CacheRead    int64 `json:"cache_read,omitempty"`
	Reasoning    int64 `json:"reasoning,omitempty"`
}

func (t TokenCounts) Total() int64 {
	return t.Input + t.Output + t.CacheCreated + t.CacheRead + t.Reasoning
}

// NormalizedEvent is one parsed log record in canonical form.
type NormalizedEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	Kind      EventKind   `json:"kind"`
	Model     string      `json:"model,omitempty"`
	Tokens    TokenCounts `json:"tokens,omitempty"`

	// Mode is meaningful only for token_update events.
	Mode AccountingMode `json:"mode,omitempty"`

	// Tool fields are meaningful only for tool_call_* events.
	ToolRaw     string `json:"tool_raw,omitempty"`
	Tool        string `json:"tool,omitempty"`
	Server      string `json:"server,omitempty"`
	MCP         bool   `json:"mcp,omitempty"`
	CallID      string `json:"call_id,omitempty"`
	Success     *bool  `json:"success,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`

	// Boundary is meaningful only for session_boundary events.
	Boundary   BoundaryKind `json:"boundary,omitempty"`
	SourceID   string       `json:"source_id,omitempty"`
	WorkingDir string       `json:"working_dir,omitempty"`

	// Estimated marks token counts produced by the estimator rather than
	// reported by the source, with the method that produced them.
	Estimated        bool   `json:"estimated,omitempty"`
	EstimationMethod string `json:"estimation_method,omitempty"`
}

type SessionState string

const (
	StateDiscovering SessionState = "DISCOVERING"
	StateActive      SessionState = "ACTIVE"
	StateRecovering  SessionState = "RECOVERING"
	StateFinalizing  SessionState = "FINALIZING"
	StateClosed      SessionState = "CLOSED"
)

type AccuracyLevel string

const (
	AccuracyExact     AccuracyLevel = "exact"
	AccuracyEstimated AccuracyLevel = "estimated"
	AccuracyCallsOnly AccuracyLevel = "calls_only"
)

// DataQuality records how token figures were obtained. An estimation
// method is only set when at least one count went through the estimator.
type DataQuality struct {
	Accuracy         AccuracyLevel `json:"accuracy"`
	Confidence       float64       `json:"confidence"`
	EstimationMethod string        `json:"estimation_method,omitempty"`
}

// TokenUsage is the running aggregate of a session.
type TokenUsage struct {
	InputTokens        int64 `json:"input_tokens"`
	OutputTokens       int64 `json:"output_tokens"`
	CacheCreatedTokens int64 `json:"cache_created_tokens"`
	CacheReadTokens    int64 `json:"cache_read_tokens"`
	ReasoningTokens    int64 `json:"reasoning_tokens"`
	TotalTokens        int64 `json:"total_tokens"`
}

// CacheHitRatio is cache-read tokens over (input + cache-read) tokens.
func (u TokenUsage) CacheHitRatio() float64 {
	denom := u.InputTokens + u.CacheReadTokens
	if denom == 0 {
		return 0
	}
	return float64(u.CacheReadTokens) / float64(denom)
}

// Add sums a delta report into the aggregate.
func (u *TokenUsage) Add(t TokenCounts) {
	u.InputTokens += t.Input
	u.OutputTokens += t.Output
	u.CacheCreatedTokens += t.CacheCreated
	u.CacheReadTokens += t.CacheRead
	u.ReasoningTokens += t.Reasoning
	u.TotalTokens += t.Total()
}

// Replace overwrites the aggregate with a cumulative report. Summing
// cumulative counters double-counts, so callers must route by mode.
func (u *TokenUsage) Replace(t TokenCounts) {
	u.InputTokens = t.Input
	u.OutputTokens = t.Output
	u.CacheCreatedTokens = t.CacheCreated
	u.CacheReadTokens = t.CacheRead
	u.ReasoningTokens = t.Reasoning
	u.TotalTokens = t.Total()
}

// Call is one recorded tool invocation.
type Call struct {
	Tool        string    `json:"tool"`
	Server      string    `json:"server,omitempty"`
	MCP         bool      `json:"mcp,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Tokens      int64     `json:"tokens"`
	CacheRead   int64     `json:"cache_read,omitempty"`
	Success     bool      `json:"success"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
}

// ModelUsage buckets token usage per raw model identifier. Sources that
// allow mid-session model switches get one bucket per model; buckets are
// never collapsed.
type ModelUsage struct {
	Usage    TokenUsage `json:"usage"`
	Requests int64      `json:"requests"`
}

// Session is the mutable in-memory record owned by exactly one tracker.
type Session struct {
	ID            string                 `json:"id"`
	SchemaVersion string                 `json:"schema_version"`
	Platform      Platform               `json:"platform"`
	Project       string                 `json:"project"`
	WorkingDir    string                 `json:"working_dir,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	EndedAt       time.Time              `json:"ended_at,omitempty"`
	State         SessionState           `json:"state"`
	Calls         []Call                 `json:"calls"`
	ModelUsage    map[string]*ModelUsage `json:"model_usage"`
	Usage         TokenUsage             `json:"token_usage"`
	Quality       DataQuality            `json:"data_quality"`

	// DeclaredTools maps server name to the tool set the source declared
	// available, used for zombie-tool and underutilization analysis.
	DeclaredTools map[string][]string `json:"declared_tools,omitempty"`

	// Unrecognized counts log lines that were dropped, not parsed.
	Unrecognized int64 `json:"unrecognized_lines,omitempty"`
}

func NewSession(id string, platform Platform, project string, startedAt time.Time) *Session {
	return &Session{
		ID:            id,
		SchemaVersion: SchemaVersion,
		Platform:      platform,
		Project:       project,
		StartedAt:     startedAt,
		State:         StateDiscovering,
		ModelUsage:    make(map[string]*ModelUsage),
	}
}

// ModelsUsed returns the distinct raw model identifiers. Map order is
// not stable; callers sort for deterministic output.
func (s *Session) ModelsUsed() []string {
	models := make([]string, 0, len(s.ModelUsage))
	for m := range s.ModelUsage {
		models = append(models, m)
	}
	return models
}

// ToolTokens aggregates attributed tokens per normalized tool name.
func (s *Session) ToolTokens() map[string]int64 {
	out := make(map[string]int64)
	for _, c := range s.Calls {
		out[c.Tool] += c.Tokens
	}
	return out
}

// ToolCallCounts counts invocations per normalized tool name.
func (s *Session) ToolCallCounts() map[string]int {
	out := make(map[string]int)
	for _, c := range s.Calls {
		out[c.Tool]++
	}
	return out
}
