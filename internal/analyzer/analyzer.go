// Package analyzer detects token-efficiency anti-patterns in finalized
// sessions and derives actionable recommendations from them. Analyze is
// a pure function over the session aggregate; thresholds come from
// configuration and default to the documented trigger values.
package analyzer

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

// Thresholds are the trigger bounds for every detectable pattern.
type Thresholds struct {
	VarianceCV             float64       `toml:"variance_cv"`
	TopConsumerShare       float64       `toml:"top_consumer_share"`
	MCPShare               float64       `toml:"mcp_share"`
	ChattyCalls            int           `toml:"chatty_calls"`
	CacheHitRatio          float64       `toml:"cache_hit_ratio"`
	ExpensiveFailureTokens int64         `toml:"expensive_failure_tokens"`
	ServerUtilization      float64       `toml:"server_utilization"`
	BurstCalls             int           `toml:"burst_calls"`
	BurstWindow            time.Duration `toml:"-"`
	LargePayloadTokens     int64         `toml:"large_payload_tokens"`
	SequentialReads        int           `toml:"sequential_reads"`
	CacheMissStreak        int           `toml:"cache_miss_streak"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		VarianceCV:             0.5,
		TopConsumerShare:       0.5,
		MCPShare:               0.8,
		ChattyCalls:            20,
		CacheHitRatio:          0.30,
		ExpensiveFailureTokens: 5000,
		ServerUtilization:      0.10,
		BurstCalls:             5,
		BurstWindow:            time.Second,
		LargePayloadTokens:     10000,
		SequentialReads:        3,
		CacheMissStreak:        5,
	}
}

// Analyze runs every detector over one session. The result is ordered
// by severity, highest first, then by pattern name for determinism.
func Analyze(sess *core.Session, th Thresholds) []core.Smell {
	if th.BurstWindow <= 0 {
		th.BurstWindow = time.Second
	}

	var smells []core.Smell
	smells = append(smells, detectVariance(sess, th)...)
	smells = append(smells, detectTopConsumer(sess, th)...)
	smells = append(smells, detectMCPShare(sess, th)...)
	smells = append(smells, detectChatty(sess, th)...)
	smells = append(smells, detectLowCacheHit(sess, th)...)
	smells = append(smells, detectRedundant(sess, th)...)
	smells = append(smells, detectExpensiveFailures(sess, th)...)
	smells = append(smells, detectUnderutilized(sess, th)...)
	smells = append(smells, detectBursts(sess, th)...)
	smells = append(smells, detectLargePayloads(sess, th)...)
	smells = append(smells, detectSequentialReads(sess, th)...)
	smells = append(smells, detectCacheMissStreak(sess, th)...)

	sort.SliceStable(smells, func(i, j int) bool {
		if smells[i].Severity.Rank() != smells[j].Severity.Rank() {
			return smells[i].Severity.Rank() > smells[j].Severity.Rank()
		}
		if smells[i].Kind != smells[j].Kind {
			return smells[i].Kind < smells[j].Kind
		}
		return smells[i].Tool < smells[j].Tool
	})
	return smells
}

// sessionTotal is the denominator for share-based patterns. Sessions
// with no usage report fall back to the sum of attributed call tokens.
func sessionTotal(sess *core.Session) int64 {
	if sess.Usage.TotalTokens > 0 {
		return sess.Usage.TotalTokens
	}
	return lo.SumBy(sess.Calls, func(c core.Call) int64 { return c.Tokens })
}

func callsByTool(sess *core.Session) map[string][]core.Call {
	return lo.GroupBy(sess.Calls, func(c core.Call) string { return c.Tool })
}

func detectVariance(sess *core.Session, th Thresholds) []core.Smell {
	var out []core.Smell
	for tool, calls := range callsByTool(sess) {
		if len(calls) < 2 {
			continue
		}
		mean := float64(lo.SumBy(calls, func(c core.Call) int64 { return c.Tokens })) / float64(len(calls))
		if mean == 0 {
			continue
		}
		var ss float64
		for _, c := range calls {
			d := float64(c.Tokens) - mean
			ss += d * d
		}
		cv := math.Sqrt(ss/float64(len(calls))) / mean
		if cv > th.VarianceCV {
			out = append(out, core.Smell{
				Kind:      core.SmellHighVariance,
				Severity:  core.SeverityMedium,
				Tool:      tool,
				Evidence:  fmt.Sprintf("%s: per-call token CV %.2f over %d calls", tool, cv, len(calls)),
				Metric:    cv,
				Threshold: th.VarianceCV,
			})
		}
	}
	return out
}

func detectTopConsumer(sess *core.Session, th Thresholds) []core.Smell {
	total := sessionTotal(sess)
	if total == 0 {
		return nil
	}
	var out []core.Smell
	for tool, tokens := range sess.ToolTokens() {
		share := float64(tokens) / float64(total)
		if share <= th.TopConsumerShare {
			continue
		}
		sev := core.SeverityHigh
		if share > 0.75 {
			sev = core.SeverityCritical
		}
		out = append(out, core.Smell{
			Kind:      core.SmellTopConsumer,
			Severity:  sev,
			Tool:      tool,
			Evidence:  fmt.Sprintf("%s consumed %.0f%% of session tokens (%d of %d)", tool, share*100, tokens, total),
			Metric:    share,
			Threshold: th.TopConsumerShare,
		})
	}
	return out
}

func detectMCPShare(sess *core.Session, th Thresholds) []core.Smell {
	total := sessionTotal(sess)
	if total == 0 {
		return nil
	}
	mcpTokens := lo.SumBy(sess.Calls, func(c core.Call) int64 {
		if c.MCP {
			return c.Tokens
		}
		return 0
	})
	share := float64(mcpTokens) / float64(total)
	if share <= th.MCPShare {
		return nil
	}
	return []core.Smell{{
		Kind:      core.SmellHighMCPShare,
		Severity:  core.SeverityMedium,
		Evidence:  fmt.Sprintf("MCP tools consumed %.0f%% of session tokens", share*100),
		Metric:    share,
		Threshold: th.MCPShare,
	}}
}

func detectChatty(sess *core.Session, th Thresholds) []core.Smell {
	var out []core.Smell
	for tool, n := range sess.ToolCallCounts() {
		if n > th.ChattyCalls {
			out = append(out, core.Smell{
				Kind:      core.SmellChatty,
				Severity:  core.SeverityMedium,
				Tool:      tool,
				Evidence:  fmt.Sprintf("%s invoked %d times", tool, n),
				Metric:    float64(n),
				Threshold: float64(th.ChattyCalls),
			})
		}
	}
	return out
}

func detectLowCacheHit(sess *core.Session, th Thresholds) []core.Smell {
	if sess.Usage.InputTokens+sess.Usage.CacheReadTokens == 0 {
		return nil
	}
	ratio := sess.Usage.CacheHitRatio()
	if ratio >= th.CacheHitRatio {
		return nil
	}
	return []core.Smell{{
		Kind:      core.SmellLowCacheHit,
		Severity:  core.SeverityMedium,
		Evidence:  fmt.Sprintf("cache hit ratio %.2f", ratio),
		Metric:    ratio,
		Threshold: th.CacheHitRatio,
	}}
}

func detectRedundant(sess *core.Session, th Thresholds) []core.Smell {
	type key struct{ tool, fp string }
	groups := lo.GroupBy(
		lo.Filter(sess.Calls, func(c core.Call, _ int) bool { return c.Fingerprint != "" }),
		func(c core.Call) key { return key{c.Tool, c.Fingerprint} },
	)
	var out []core.Smell
	for k, calls := range groups {
		if len(calls) < 2 {
			continue
		}
		wasted := lo.SumBy(calls[1:], func(c core.Call) int64 { return c.Tokens })
		out = append(out, core.Smell{
			Kind:      core.SmellRedundantCalls,
			Severity:  core.SeverityMedium,
			Tool:      k.tool,
			Evidence:  fmt.Sprintf("%s called %d times with identical arguments", k.tool, len(calls)),
			Metric:    float64(len(calls)),
			Threshold: 2,
			Detail:    map[string]string{"wasted_tokens": fmt.Sprintf("%d", wasted)},
		})
	}
	return out
}

func detectExpensiveFailures(sess *core.Session, th Thresholds) []core.Smell {
	var out []core.Smell
	for _, c := range sess.Calls {
		if !c.Success && c.Tokens > th.ExpensiveFailureTokens {
			out = append(out, core.Smell{
				Kind:      core.SmellExpensiveFailures,
				Severity:  core.SeverityHigh,
				Tool:      c.Tool,
				Evidence:  fmt.Sprintf("failed %s call consumed %d tokens", c.Tool, c.Tokens),
				Metric:    float64(c.Tokens),
				Threshold: float64(th.ExpensiveFailureTokens),
			})
		}
	}
	return out
}

func detectUnderutilized(sess *core.Session, th Thresholds) []core.Smell {
	if len(sess.DeclaredTools) == 0 {
		return nil
	}
	used := make(map[string]map[string]bool)
	for _, c := range sess.Calls {
		if used[c.Server] == nil {
			used[c.Server] = make(map[string]bool)
		}
		used[c.Server][c.Tool] = true
	}
	var out []core.Smell
	for server, declared := range sess.DeclaredTools {
		if len(declared) == 0 {
			continue
		}
		ratio := float64(len(used[server])) / float64(len(declared))
		if ratio < th.ServerUtilization {
			out = append(out, core.Smell{
				Kind:      core.SmellUnderutilizedServer,
				Severity:  core.SeverityInfo,
				Tool:      server,
				Evidence:  fmt.Sprintf("server %s: %d of %d declared tools used", server, len(used[server]), len(declared)),
				Metric:    ratio,
				Threshold: th.ServerUtilization,
			})
		}
	}
	return out
}

func detectBursts(sess *core.Session, th Thresholds) []core.Smell {
	var out []core.Smell
	for tool, calls := range callsByTool(sess) {
		if len(calls) <= th.BurstCalls {
			continue
		}
		sort.Slice(calls, func(i, j int) bool { return calls[i].Timestamp.Before(calls[j].Timestamp) })
		best := 0
		left := 0
		for right := range calls {
			for calls[right].Timestamp.Sub(calls[left].Timestamp) > th.BurstWindow {
				left++
			}
			if n := right - left + 1; n > best {
				best = n
			}
		}
		if best > th.BurstCalls {
			out = append(out, core.Smell{
				Kind:      core.SmellBurstPattern,
				Severity:  core.SeverityMedium,
				Tool:      tool,
				Evidence:  fmt.Sprintf("%s: %d calls within %s", tool, best, th.BurstWindow),
				Metric:    float64(best),
				Threshold: float64(th.BurstCalls),
			})
		}
	}
	return out
}

func detectLargePayloads(sess *core.Session, th Thresholds) []core.Smell {
	var out []core.Smell
	for _, c := range sess.Calls {
		if c.Tokens > th.LargePayloadTokens {
			out = append(out, core.Smell{
				Kind:      core.SmellLargePayload,
				Severity:  core.SeverityHigh,
				Tool:      c.Tool,
				Evidence:  fmt.Sprintf("single %s call consumed %d tokens", c.Tool, c.Tokens),
				Metric:    float64(c.Tokens),
				Threshold: float64(th.LargePayloadTokens),
			})
		}
	}
	return out
}

// readVerbs classify tools whose consecutive runs are batchable reads.
var readVerbs = []string{"read", "get", "fetch", "list", "search", "query", "cat", "grep", "glob"}

func isReadTool(tool string) bool {
	base := tool
	if _, rest, found := strings.Cut(tool, "."); found {
		base = rest
	}
	base = strings.ToLower(base)
	for _, v := range readVerbs {
		if strings.HasPrefix(base, v) || strings.HasSuffix(base, "_"+v) {
			return true
		}
	}
	return false
}

func detectSequentialReads(sess *core.Session, th Thresholds) []core.Smell {
	var out []core.Smell
	run := 0
	prev := ""
	flush := func() {
		if run >= th.SequentialReads && isReadTool(prev) {
			out = append(out, core.Smell{
				Kind:      core.SmellSequentialReads,
				Severity:  core.SeverityLow,
				Tool:      prev,
				Evidence:  fmt.Sprintf("%d consecutive %s calls could be batched", run, prev),
				Metric:    float64(run),
				Threshold: float64(th.SequentialReads),
			})
		}
	}
	for _, c := range sess.Calls {
		if c.Tool == prev {
			run++
			continue
		}
		flush()
		prev = c.Tool
		run = 1
	}
	flush()
	return out
}

func detectCacheMissStreak(sess *core.Session, th Thresholds) []core.Smell {
	// Only meaningful when the session shows cache activity at all;
	// otherwise the platform simply does not attribute cache reads to
	// calls and every call would count as a miss.
	if sess.Usage.CacheReadTokens == 0 {
		return nil
	}
	streak := 0
	best := 0
	for _, c := range sess.Calls {
		if c.CacheRead == 0 {
			streak++
			if streak > best {
				best = streak
			}
		} else {
			streak = 0
		}
	}
	if best < th.CacheMissStreak {
		return nil
	}
	return []core.Smell{{
		Kind:      core.SmellCacheMissStreak,
		Severity:  core.SeverityLow,
		Evidence:  fmt.Sprintf("%d consecutive calls with zero cache-read contribution", best),
		Metric:    float64(best),
		Threshold: float64(th.CacheMissStreak),
	}}
}

// Zombies lists tools the source declared available that the session
// never called.
func Zombies(sess *core.Session) []core.ZombieTool {
	if len(sess.DeclaredTools) == 0 {
		return nil
	}
	called := make(map[string]bool, len(sess.Calls))
	for _, c := range sess.Calls {
		called[c.Tool] = true
	}
	var out []core.ZombieTool
	for server, tools := range sess.DeclaredTools {
		for _, tool := range tools {
			name := tool
			if server != core.BuiltinServer && !strings.Contains(tool, ".") {
				name = server + "." + tool
			}
			if !called[name] {
				out = append(out, core.ZombieTool{Tool: name, Server: server})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool < out[j].Tool })
	return out
}
