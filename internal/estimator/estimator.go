// Package estimator produces deterministic token counts for raw text
// when a source does not report exact per-call numbers. Resolution
// falls through a fixed chain: the tokenizer matching the model family,
// then a documented cross-family fallback encoding, then a character
// heuristic that cannot fail. Every choice is traceable through the
// returned method.
package estimator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkoukk/tiktoken-go"
)

// CallOverheadTokens accounts for structural framing tokens not present
// in the raw text of a call.
const CallOverheadTokens = 4

// fallbackEncoding is the cross-family encoding used when no tokenizer
// matches the requested model family.
const fallbackEncoding = "cl100k_base"

const defaultLoadTimeout = 5 * time.Second

// heuristicCharsPerToken is the last-resort ratio. Roughly four
// characters per token holds across the model families tracked here.
const heuristicCharsPerToken = 4

type Method string

const (
	MethodExact     Method = "tokenizer_exact"
	MethodFallback  Method = "tokenizer_fallback"
	MethodHeuristic Method = "char_heuristic"
)

// Confidence maps an estimation method to the confidence it implies.
func (m Method) Confidence() float64 {
	switch m {
	case MethodExact:
		return 0.95
	case MethodFallback:
		return 0.80
	default:
		return 0.60
	}
}

type Estimator struct {
	loadTimeout time.Duration

	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	failed   map[string]bool
}

func New() *Estimator {
	return &Estimator{
		loadTimeout: defaultLoadTimeout,
		encoders:    make(map[string]*tiktoken.Tiktoken),
		failed:      make(map[string]bool),
	}
}

// Estimate counts tokens for text under the given model family. The
// count includes the fixed per-call overhead. Same text and same
// resolved tokenizer always produce the same count.
func (e *Estimator) Estimate(ctx context.Context, text, modelFamily string) (int64, Method) {
	if text == "" {
		return CallOverheadTokens, MethodHeuristic
	}

	if enc := e.encoderFor(ctx, modelFamily); enc != nil {
		return int64(len(enc.Encode(text, nil, nil))) + CallOverheadTokens, MethodExact
	}
	if enc := e.encoderFor(ctx, fallbackEncoding); enc != nil {
		return int64(len(enc.Encode(text, nil, nil))) + CallOverheadTokens, MethodFallback
	}

	// The heuristic rung can never fail; estimation is not a fatal path.
	count := int64(len(text)+heuristicCharsPerToken-1) / heuristicCharsPerToken
	return count + CallOverheadTokens, MethodHeuristic
}

// encoderFor resolves and caches a tokenizer. Loading is bounded: a
// tokenizer asset that cannot be resolved in time degrades the caller
// one rung instead of blocking the tracking path.
func (e *Estimator) encoderFor(ctx context.Context, key string) *tiktoken.Tiktoken {
	key = strings.TrimSpace(strings.ToLower(key))
	if key == "" {
		return nil
	}

	e.mu.Lock()
	if enc, ok := e.encoders[key]; ok {
		e.mu.Unlock()
		return enc
	}
	if e.failed[key] {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	type result struct {
		enc *tiktoken.Tiktoken
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var r result
		if key == fallbackEncoding {
			r.enc, r.err = tiktoken.GetEncoding(key)
		} else {
			r.enc, r.err = tiktoken.EncodingForModel(key)
		}
		ch <- r
	}()

	loadCtx, cancel := context.WithTimeout(ctx, e.loadTimeout)
	defer cancel()

	select {
	case r := <-ch:
		e.mu.Lock()
		defer e.mu.Unlock()
		if r.err != nil {
			e.failed[key] = true
			log.Debug("estimator: tokenizer unavailable", "family", key, "err", r.err)
			return nil
		}
		e.encoders[key] = r.enc
		return r.enc
	case <-loadCtx.Done():
		e.mu.Lock()
		e.failed[key] = true
		e.mu.Unlock()
		log.Debug("estimator: tokenizer load timed out", "family", key)
		return nil
	}
}
