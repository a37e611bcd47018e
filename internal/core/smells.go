package core

type SmellKind string

const (
	SmellHighVariance        SmellKind = "HIGH_VARIANCE"
	SmellTopConsumer         SmellKind = "TOP_CONSUMER"
	SmellHighMCPShare        SmellKind = "HIGH_MCP_SHARE"
	SmellChatty              SmellKind = "CHATTY"
	SmellLowCacheHit         SmellKind = "LOW_CACHE_HIT"
	SmellRedundantCalls      SmellKind = "REDUNDANT_CALLS"
	SmellExpensiveFailures   SmellKind = "EXPENSIVE_FAILURES"
	SmellUnderutilizedServer SmellKind = "UNDERUTILIZED_SERVER"
	SmellBurstPattern        SmellKind = "BURST_PATTERN"
	SmellLargePayload        SmellKind = "LARGE_PAYLOAD"
	SmellSequentialReads     SmellKind = "SEQUENTIAL_READS"
	SmellCacheMissStreak     SmellKind = "CACHE_MISS_STREAK"
)

// AllSmellKinds is the closed enumeration of detectable patterns.
var AllSmellKinds = []SmellKind{
	SmellHighVariance,
	SmellTopConsumer,
	SmellHighMCPShare,
	SmellChatty,
	SmellLowCacheHit,
	SmellRedundantCalls,
	SmellExpensiveFailures,
	SmellUnderutilizedServer,
	SmellBurstPattern,
	SmellLargePayload,
	SmellSequentialReads,
	SmellCacheMissStreak,
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank orders severities for sorting and filtering, highest first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Smell is one detected efficiency anti-pattern. Metric and Threshold
// carry the observed value and the trigger bound so recommendation
// confidence can scale with how far the threshold was exceeded.
type Smell struct {
	Kind      SmellKind         `json:"pattern"`
	Severity  Severity          `json:"severity"`
	Tool      string            `json:"tool,omitempty"`
	Evidence  string            `json:"evidence"`
	Metric    float64           `json:"metric"`
	Threshold float64           `json:"threshold"`
	Detail    map[string]string `json:"detail,omitempty"`
}

type RecommendationType string

const (
	RecommendBatchCalls      RecommendationType = "batch_calls"
	RecommendCacheResults    RecommendationType = "cache_results"
	RecommendConsolidateTool RecommendationType = "consolidate_tool"
	RecommendTrimToolset     RecommendationType = "trim_toolset"
	RecommendDeduplicate     RecommendationType = "deduplicate_calls"
	RecommendGuardFailures   RecommendationType = "guard_failures"
	RecommendReducePayload   RecommendationType = "reduce_payload"
	RecommendEnableCaching   RecommendationType = "enable_caching"
	RecommendRateLimitCalls  RecommendationType = "rate_limit_calls"
	RecommendReviewVariance  RecommendationType = "review_variance"
)

// Recommendation is derived from a smell. Confidence is a monotonic
// function of severity and evidence magnitude, never a flat constant.
type Recommendation struct {
	Type             RecommendationType `json:"type"`
	Smell            SmellKind          `json:"smell"`
	Severity         Severity           `json:"severity"`
	Confidence       float64            `json:"confidence"`
	Evidence         string             `json:"evidence"`
	Action           string             `json:"action"`
	EstSavingsTokens int64              `json:"estimated_savings_tokens,omitempty"`
}

// ZombieTool is a tool declared available to the session but never called.
type ZombieTool struct {
	Tool         string `json:"tool"`
	Server       string `json:"server"`
	SchemaTokens int64  `json:"schema_tokens,omitempty"`
}
