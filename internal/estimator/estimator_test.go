package estimator

import (
	"context"
	"testing"
	"time"
)

func TestEstimate_Deterministic(t *testing.T) {
	e := New()
	ctx := context.Background()

	text := "The quick brown fox jumps over the lazy dog."
	first, m1 := e.Estimate(ctx, text, "gpt-4o")
	second, m2 := e.Estimate(ctx, text, "gpt-4o")

	if first != second {
		t.Fatalf("counts differ: %d vs %d", first, second)
	}
	if m1 != m2 {
		t.Fatalf("methods differ: %s vs %s", m1, m2)
	}
	if first <= CallOverheadTokens {
		t.Fatalf("count = %d, want > overhead", first)
	}
}

func TestEstimate_UnknownFamilyFallsBack(t *testing.T) {
	e := New()
	count, method := e.Estimate(context.Background(), "hello world, this is a test", "totally-made-up-model-family")
	if count <= CallOverheadTokens {
		t.Fatalf("count = %d", count)
	}
	if method == MethodExact {
		t.Fatalf("method = %s, want a fallback rung for unknown family", method)
	}
}

func TestEstimate_HeuristicNeverFails(t *testing.T) {
	e := New()
	// Poison every tokenizer rung so only the heuristic remains.
	e.failed["gemini-2.5-pro"] = true
	e.failed["cl100k_base"] = true

	text := "abcdefgh" // 8 chars -> 2 heuristic tokens
	count, method := e.Estimate(context.Background(), text, "gemini-2.5-pro")
	if method != MethodHeuristic {
		t.Fatalf("method = %s, want heuristic", method)
	}
	if count != 2+CallOverheadTokens {
		t.Fatalf("count = %d, want %d", count, 2+CallOverheadTokens)
	}
}

func TestEstimate_EmptyTextIsOverheadOnly(t *testing.T) {
	e := New()
	count, _ := e.Estimate(context.Background(), "", "gpt-4o")
	if count != CallOverheadTokens {
		t.Fatalf("count = %d, want %d", count, CallOverheadTokens)
	}
}

func TestMethodConfidenceMonotonic(t *testing.T) {
	if !(MethodExact.Confidence() > MethodFallback.Confidence() &&
		MethodFallback.Confidence() > MethodHeuristic.Confidence()) {
		t.Fatal("confidence must decrease down the fallback chain")
	}
}

func TestEncoderLoadBounded(t *testing.T) {
	e := New()
	e.loadTimeout = time.Nanosecond

	start := time.Now()
	_, method := e.Estimate(context.Background(), "some text", "gpt-4o")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("estimate blocked %v with a nanosecond load budget", elapsed)
	}
	_ = method // any rung is acceptable; blocking is not
}
