// Package pricing converts token usage into USD using a static
// per-model-family rate table, optionally overridden by a pricing.toml
// file. Unknown models price at zero rather than erroring, so the
// tracking path never stalls on a new model name.
package pricing

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

// Rates holds per-million-token prices for one model family.
type Rates struct {
	InputPerMTok      float64 `toml:"input_per_mtok"`
	OutputPerMTok     float64 `toml:"output_per_mtok"`
	CacheWritePerMTok float64 `toml:"cache_write_per_mtok"`
	CacheReadPerMTok  float64 `toml:"cache_read_per_mtok"`
}

// defaultRates maps model family prefixes to rates. Longest matching
// prefix wins.
var defaultRates = map[string]Rates{
	"claude-opus":      {InputPerMTok: 15.00, OutputPerMTok: 75.00, CacheWritePerMTok: 18.75, CacheReadPerMTok: 1.50},
	"claude-sonnet":    {InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30},
	"claude-haiku":     {InputPerMTok: 0.80, OutputPerMTok: 4.00, CacheWritePerMTok: 1.00, CacheReadPerMTok: 0.08},
	"gpt-5-mini":       {InputPerMTok: 0.25, OutputPerMTok: 2.00, CacheReadPerMTok: 0.025},
	"gpt-5-nano":       {InputPerMTok: 0.05, OutputPerMTok: 0.40, CacheReadPerMTok: 0.005},
	"gpt-5":            {InputPerMTok: 1.25, OutputPerMTok: 10.00, CacheReadPerMTok: 0.125},
	"gpt-4o":           {InputPerMTok: 2.50, OutputPerMTok: 10.00, CacheReadPerMTok: 1.25},
	"o3":               {InputPerMTok: 2.00, OutputPerMTok: 8.00, CacheReadPerMTok: 0.50},
	"gemini-2.5-pro":   {InputPerMTok: 1.25, OutputPerMTok: 10.00, CacheReadPerMTok: 0.31},
	"gemini-2.5-flash": {InputPerMTok: 0.30, OutputPerMTok: 2.50, CacheReadPerMTok: 0.075},
	"gemini-2.0-flash": {InputPerMTok: 0.10, OutputPerMTok: 0.40, CacheReadPerMTok: 0.025},
}

// Table resolves model names to rates.
type Table struct {
	rates map[string]Rates
}

func Default() *Table {
	return &Table{rates: defaultRates}
}

// overrideFile is the pricing.toml shape: [rates."claude-sonnet"] blocks.
type overrideFile struct {
	Rates map[string]Rates `toml:"rates"`
}

// LoadOverrides merges a pricing.toml on top of the defaults. A missing
// file returns the defaults untouched.
func LoadOverrides(path string) (*Table, error) {
	merged := make(map[string]Rates, len(defaultRates))
	for k, v := range defaultRates {
		merged[k] = v
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Table{rates: merged}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pricing: reading overrides: %w", err)
	}
	var of overrideFile
	if err := toml.Unmarshal(data, &of); err != nil {
		return nil, fmt.Errorf("pricing: parsing %s: %w", path, err)
	}
	for k, v := range of.Rates {
		merged[k] = v
	}
	return &Table{rates: merged}, nil
}

// NormalizeModelName strips trailing date stamps, "claude-sonnet-4-20250514"
// resolves the same family as "claude-sonnet-4".
func NormalizeModelName(raw string) string {
	parts := strings.Split(raw, "-")
	if len(parts) >= 2 {
		last := parts[len(parts)-1]
		if len(last) >= 8 && isAllDigits(last) {
			return strings.Join(parts[:len(parts)-1], "-")
		}
	}
	return raw
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Lookup resolves a model to its family rates by longest prefix match.
func (t *Table) Lookup(model string) (Rates, bool) {
	model = strings.ToLower(NormalizeModelName(model))
	var (
		best    Rates
		bestLen = -1
	)
	for prefix, r := range t.rates {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = r
			bestLen = len(prefix)
		}
	}
	return best, bestLen >= 0
}

// CostUSD prices one usage aggregate under one model. ok is false when
// the model is unknown and the cost is zero.
func (t *Table) CostUSD(model string, u core.TokenUsage) (float64, bool) {
	r, ok := t.Lookup(model)
	if !ok {
		return 0, false
	}
	cost := float64(u.InputTokens) * r.InputPerMTok / 1_000_000
	cost += float64(u.OutputTokens+u.ReasoningTokens) * r.OutputPerMTok / 1_000_000
	cost += float64(u.CacheCreatedTokens) * r.CacheWritePerMTok / 1_000_000
	cost += float64(u.CacheReadTokens) * r.CacheReadPerMTok / 1_000_000
	return cost, true
}

// SessionCost sums per-model bucket costs for a whole session.
func (t *Table) SessionCost(sess *core.Session) float64 {
	var total float64
	for model, bucket := range sess.ModelUsage {
		if cost, ok := t.CostUSD(model, bucket.Usage); ok {
			total += cost
		}
	}
	return total
}
