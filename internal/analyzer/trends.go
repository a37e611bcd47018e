package analyzer

import (
	"sort"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendWorsening TrendDirection = "worsening"
)

// SmellTrend describes one pattern's behavior across a session window.
type SmellTrend struct {
	Kind        core.SmellKind `json:"pattern"`
	Frequency   float64        `json:"frequency"`
	Occurrences int            `json:"occurrences"`
	Direction   TrendDirection `json:"direction"`
	RecentRate  float64        `json:"recent_rate"`
	OlderRate   float64        `json:"older_rate"`
}

// DefaultStabilityBand is the rate delta below which a trend is
// reported stable rather than improving or worsening.
const DefaultStabilityBand = 0.10

// Trends compares pattern rates in the recent half of a session window
// against the older half. Summaries must be ordered oldest first. A
// window smaller than two sessions reports everything stable.
func Trends(window []*core.SessionSummary, band float64) []SmellTrend {
	if band <= 0 {
		band = DefaultStabilityBand
	}
	if len(window) == 0 {
		return nil
	}

	exhibits := func(sum *core.SessionSummary, kind core.SmellKind) bool {
		return lo.SomeBy(sum.Smells, func(sm core.Smell) bool { return sm.Kind == kind })
	}
	rate := func(sums []*core.SessionSummary, kind core.SmellKind) float64 {
		if len(sums) == 0 {
			return 0
		}
		n := lo.CountBy(sums, func(sum *core.SessionSummary) bool { return exhibits(sum, kind) })
		return float64(n) / float64(len(sums))
	}

	mid := len(window) / 2
	older, recent := window[:mid], window[mid:]

	var out []SmellTrend
	for _, kind := range core.AllSmellKinds {
		occurrences := 0
		sessions := 0
		for _, sum := range window {
			n := lo.CountBy(sum.Smells, func(sm core.Smell) bool { return sm.Kind == kind })
			occurrences += n
			if n > 0 {
				sessions++
			}
		}
		if occurrences == 0 {
			continue
		}

		tr := SmellTrend{
			Kind:        kind,
			Frequency:   float64(sessions) / float64(len(window)),
			Occurrences: occurrences,
			RecentRate:  rate(recent, kind),
			OlderRate:   rate(older, kind),
			Direction:   TrendStable,
		}
		if len(older) > 0 {
			switch delta := tr.RecentRate - tr.OlderRate; {
			case delta > band:
				tr.Direction = TrendWorsening
			case delta < -band:
				tr.Direction = TrendImproving
			}
		}
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Frequency > out[j].Frequency })
	return out
}
