package analyzer

import (
	"math"
	"sort"
	"strconv"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

// recMapping is the fixed pattern-to-recommendation table.
var recMapping = map[core.SmellKind]struct {
	typ    core.RecommendationType
	action string
}{
	core.SmellHighVariance:        {core.RecommendReviewVariance, "inspect outlier calls, the tool's cost is unpredictable"},
	core.SmellTopConsumer:         {core.RecommendConsolidateTool, "consolidate or narrow the dominant tool's requests"},
	core.SmellHighMCPShare:        {core.RecommendTrimToolset, "reduce reliance on external MCP tools for this workload"},
	core.SmellChatty:              {core.RecommendBatchCalls, "batch repeated invocations into fewer, larger requests"},
	core.SmellLowCacheHit:         {core.RecommendEnableCaching, "restructure prompts so stable context is cacheable"},
	core.SmellRedundantCalls:      {core.RecommendDeduplicate, "memoize results instead of repeating identical calls"},
	core.SmellExpensiveFailures:   {core.RecommendGuardFailures, "validate arguments cheaply before the expensive call"},
	core.SmellUnderutilizedServer: {core.RecommendTrimToolset, "remove unused servers, their schemas cost tokens every turn"},
	core.SmellBurstPattern:        {core.RecommendRateLimitCalls, "pace or coalesce rapid-fire calls"},
	core.SmellLargePayload:        {core.RecommendReducePayload, "page or filter the call's input and output"},
	core.SmellSequentialReads:     {core.RecommendBatchCalls, "batch consecutive reads into a single request"},
	core.SmellCacheMissStreak:     {core.RecommendCacheResults, "reuse prior results across the miss streak"},
}

// severityBase anchors recommendation confidence. Evidence strength
// raises it toward, never past, 0.99.
func severityBase(s core.Severity) float64 {
	switch s {
	case core.SeverityCritical:
		return 0.95
	case core.SeverityHigh:
		return 0.85
	case core.SeverityMedium:
		return 0.70
	case core.SeverityLow:
		return 0.55
	default:
		return 0.40
	}
}

func confidence(sm core.Smell) float64 {
	base := severityBase(sm.Severity)
	if sm.Threshold <= 0 {
		return base
	}
	excess := sm.Metric/sm.Threshold - 1
	// Inverted for smells that trigger below their threshold.
	if sm.Metric < sm.Threshold {
		excess = 1 - sm.Metric/sm.Threshold
	}
	excess = math.Min(1, math.Max(0, excess))
	return math.Min(0.99, base+0.2*excess)
}

// DeriveRecommendations maps detected smells to recommendations with
// evidence-scaled confidence, ordered by confidence descending.
func DeriveRecommendations(smells []core.Smell) []core.Recommendation {
	var out []core.Recommendation
	for _, sm := range smells {
		m, ok := recMapping[sm.Kind]
		if !ok {
			continue
		}
		rec := core.Recommendation{
			Type:       m.typ,
			Smell:      sm.Kind,
			Severity:   sm.Severity,
			Confidence: confidence(sm),
			Evidence:   sm.Evidence,
			Action:     m.action,
		}
		if w, ok := sm.Detail["wasted_tokens"]; ok {
			if n, err := strconv.ParseInt(w, 10, 64); err == nil {
				rec.EstSavingsTokens = n
			}
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// Full runs detection, recommendation and zombie analysis in one step,
// shaped for the tracker's finalize hook.
func Full(th Thresholds) func(*core.Session) (smells []core.Smell, recs []core.Recommendation, zombies []core.ZombieTool) {
	return func(sess *core.Session) ([]core.Smell, []core.Recommendation, []core.ZombieTool) {
		smells := Analyze(sess, th)
		return smells, DeriveRecommendations(smells), Zombies(sess)
	}
}
