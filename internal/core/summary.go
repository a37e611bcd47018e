package core

import (
	"sort"
	"time"
)

// SessionSummary is the immutable document written at finalize. Schema
// evolution is additive-only; fields are never removed or repurposed.
type SessionSummary struct {
	SchemaVersion string    `json:"schema_version"`
	SessionID     string    `json:"session_id"`
	Platform      Platform  `json:"platform"`
	Project       string    `json:"project"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	DurationSecs  float64   `json:"duration_seconds"`

	Usage      TokenUsage             `json:"token_usage"`
	CostUSD    float64                `json:"cost_usd"`
	ModelsUsed []string               `json:"models_used"`
	ModelUsage map[string]*ModelUsage `json:"model_usage"`

	CallCount  int              `json:"call_count"`
	ToolCount  int              `json:"tool_count"`
	ToolTokens map[string]int64 `json:"tool_tokens,omitempty"`

	Smells          []Smell          `json:"smells"`
	Recommendations []Recommendation `json:"recommendations"`
	ZombieTools     []ZombieTool     `json:"zombie_tools"`
	Quality         DataQuality      `json:"data_quality"`
	Unrecognized    int64            `json:"unrecognized_lines,omitempty"`
}

// Summarize freezes a session into its summary document. Analysis fields
// (smells, recommendations, zombies) are filled by the caller; this only
// carries over the deterministic aggregates.
func (s *Session) Summarize() *SessionSummary {
	models := s.ModelsUsed()
	sort.Strings(models)

	sum := &SessionSummary{
		SchemaVersion: s.SchemaVersion,
		SessionID:     s.ID,
		Platform:      s.Platform,
		Project:       s.Project,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		Usage:         s.Usage,
		ModelsUsed:    models,
		ModelUsage:    s.ModelUsage,
		CallCount:     len(s.Calls),
		ToolTokens:    s.ToolTokens(),
		Quality:       s.Quality,
		Unrecognized:  s.Unrecognized,
	}
	sum.ToolCount = len(sum.ToolTokens)
	if !s.EndedAt.IsZero() && s.EndedAt.After(s.StartedAt) {
		sum.DurationSecs = s.EndedAt.Sub(s.StartedAt).Seconds()
	}
	return sum
}

// SessionHeader is the leading metadata of a persisted session log, cheap
// to read without parsing the body.
type SessionHeader struct {
	SchemaVersion string    `json:"schema_version"`
	SessionID     string    `json:"session_id"`
	Platform      Platform  `json:"platform"`
	Project       string    `json:"project"`
	StartedAt     time.Time `json:"started_at"`
}
