package analyzer

import (
	"testing"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

func TestConfidenceScalesWithEvidence(t *testing.T) {
	barely := core.Smell{Kind: core.SmellChatty, Severity: core.SeverityMedium, Metric: 21, Threshold: 20}
	extreme := core.Smell{Kind: core.SmellChatty, Severity: core.SeverityMedium, Metric: 80, Threshold: 20}

	recs := DeriveRecommendations([]core.Smell{barely, extreme})
	if len(recs) != 2 {
		t.Fatalf("got %d recommendations, want 2", len(recs))
	}
	// Sorted by confidence descending, so the extreme one leads.
	if recs[0].Evidence == recs[1].Evidence {
		t.Fatal("expected distinct recommendations")
	}
	if recs[0].Confidence <= recs[1].Confidence {
		t.Fatalf("stronger evidence got confidence %v <= %v", recs[0].Confidence, recs[1].Confidence)
	}
	for _, r := range recs {
		if r.Confidence <= 0 || r.Confidence > 0.99 {
			t.Fatalf("confidence %v out of range", r.Confidence)
		}
		if r.Type != core.RecommendBatchCalls {
			t.Fatalf("CHATTY mapped to %v, want batch_calls", r.Type)
		}
	}
}

func TestConfidenceRespectsSeverity(t *testing.T) {
	low := core.Smell{Kind: core.SmellSequentialReads, Severity: core.SeverityLow, Metric: 3, Threshold: 3}
	high := core.Smell{Kind: core.SmellExpensiveFailures, Severity: core.SeverityHigh, Metric: 5001, Threshold: 5000}

	recs := DeriveRecommendations([]core.Smell{low, high})
	byKind := map[core.SmellKind]core.Recommendation{}
	for _, r := range recs {
		byKind[r.Smell] = r
	}
	if byKind[core.SmellExpensiveFailures].Confidence <= byKind[core.SmellSequentialReads].Confidence {
		t.Fatal("high severity did not outrank low severity at equal evidence margins")
	}
}

func TestBelowThresholdSmellsInvertExcess(t *testing.T) {
	nearMiss := core.Smell{Kind: core.SmellLowCacheHit, Severity: core.SeverityMedium, Metric: 0.29, Threshold: 0.30}
	farMiss := core.Smell{Kind: core.SmellLowCacheHit, Severity: core.SeverityMedium, Metric: 0.01, Threshold: 0.30}

	recs := DeriveRecommendations([]core.Smell{farMiss, nearMiss})
	if recs[0].Confidence <= recs[1].Confidence {
		t.Fatalf("near-zero cache ratio got confidence %v <= %v", recs[0].Confidence, recs[1].Confidence)
	}
}

func TestRedundantCallsCarrySavings(t *testing.T) {
	sm := core.Smell{
		Kind: core.SmellRedundantCalls, Severity: core.SeverityMedium,
		Metric: 3, Threshold: 2,
		Detail: map[string]string{"wasted_tokens": "240"},
	}
	recs := DeriveRecommendations([]core.Smell{sm})
	if len(recs) != 1 || recs[0].EstSavingsTokens != 240 {
		t.Fatalf("recs = %+v, want estimated savings 240", recs)
	}
}

func TestEveryKindHasAMapping(t *testing.T) {
	for _, kind := range core.AllSmellKinds {
		if _, ok := recMapping[kind]; !ok {
			t.Errorf("no recommendation mapping for %s", kind)
		}
	}
}
