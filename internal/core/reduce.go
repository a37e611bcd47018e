package core

import "time"

// Reducer folds normalized events into a session. The live tracker and
// log replay both go through it, so recovering a crashed session by
// replaying its persisted log reproduces the aggregate exactly.
type Reducer struct {
	Session *Session

	pending map[string]pendingCall

	// lastCumulative is the most recent session-wide snapshot from a
	// cumulative source, used to difference per-model bucket deltas.
	lastCumulative TokenCounts

	updates   int64
	estimated int64
	estMethod string
}

type pendingCall struct {
	ev NormalizedEvent
}

func NewReducer(s *Session) *Reducer {
	return &Reducer{Session: s, pending: make(map[string]pendingCall)}
}

// Apply folds one event. Totals only grow while the session is live;
// cumulative sources replace, delta sources add.
func (r *Reducer) Apply(ev NormalizedEvent) {
	s := r.Session
	switch ev.Kind {
	case EventSessionBoundary:
		switch ev.Boundary {
		case BoundaryStart:
			if s.StartedAt.IsZero() {
				s.StartedAt = ev.Timestamp
			}
			if ev.WorkingDir != "" {
				s.WorkingDir = ev.WorkingDir
			}
		case BoundaryEnd:
			s.EndedAt = ev.Timestamp
		}

	case EventTokenUpdate:
		r.updates++
		if ev.Estimated {
			r.estimated++
			if r.estMethod == "" {
				r.estMethod = ev.EstimationMethod
			}
		}
		model := ev.Model
		if model == "" {
			model = "unknown"
		}
		bucket := s.ModelUsage[model]
		if bucket == nil {
			bucket = &ModelUsage{}
			s.ModelUsage[model] = bucket
		}
		bucket.Requests++
		switch ev.Mode {
		case AccountingCumulative:
			// Cumulative counters are session-wide running totals, not
			// per-model ones. The latest snapshot replaces the session
			// aggregate outright; the active model's bucket gets only
			// what this snapshot added over the previous one, so a
			// mid-session model switch never double-counts.
			bucket.Usage.Add(cumulativeDelta(ev.Tokens, r.lastCumulative))
			s.Usage.Replace(ev.Tokens)
			r.lastCumulative = ev.Tokens
		default:
			bucket.Usage.Add(ev.Tokens)
			s.Usage.Add(ev.Tokens)
		}

	case EventToolCallStart:
		if ev.CallID != "" {
			r.pending[ev.CallID] = pendingCall{ev: ev}
			return
		}
		// No call ID means no end event will ever match; record now.
		r.record(ev, nil, ev.Timestamp)

	case EventToolCallEnd:
		start, ok := r.pending[ev.CallID]
		if !ok {
			return
		}
		delete(r.pending, ev.CallID)
		r.record(start.ev, ev.Success, ev.Timestamp)
	}
}

// FlushPending records calls whose end event never arrived, treated as
// successful. Called once at finalize.
func (r *Reducer) FlushPending() {
	for id, p := range r.pending {
		delete(r.pending, id)
		r.record(p.ev, nil, p.ev.Timestamp)
	}
}

func (r *Reducer) record(start NormalizedEvent, success *bool, endedAt time.Time) {
	ok := true
	if success != nil {
		ok = *success
	}
	call := Call{
		Tool:        start.Tool,
		Server:      start.Server,
		MCP:         start.MCP,
		Timestamp:   start.Timestamp,
		Tokens:      start.Tokens.Total(),
		CacheRead:   start.Tokens.CacheRead,
		Success:     ok,
		Fingerprint: start.Fingerprint,
	}
	if endedAt.After(start.Timestamp) {
		call.DurationMS = endedAt.Sub(start.Timestamp).Milliseconds()
	}
	r.Session.Calls = append(r.Session.Calls, call)
}

// cumulativeDelta is what a snapshot added over the previous one. A
// regressed counter means the source restarted; clamping at zero keeps
// buckets monotonic while the session aggregate tracks the snapshot.
func cumulativeDelta(cur, prev TokenCounts) TokenCounts {
	return TokenCounts{
		Input:        max(cur.Input-prev.Input, 0),
		Output:       max(cur.Output-prev.Output, 0),
		CacheCreated: max(cur.CacheCreated-prev.CacheCreated, 0),
		CacheRead:    max(cur.CacheRead-prev.CacheRead, 0),
		Reasoning:    max(cur.Reasoning-prev.Reasoning, 0),
	}
}

// Quality derives the session's data quality from what the reducer saw.
func (r *Reducer) Quality() DataQuality {
	switch {
	case r.updates == 0 && len(r.Session.Calls) > 0:
		return DataQuality{Accuracy: AccuracyCallsOnly, Confidence: 0.3}
	case r.estimated > 0:
		conf := 0.7
		if r.updates > 0 {
			exact := float64(r.updates-r.estimated) / float64(r.updates)
			conf = 0.6 + 0.35*exact
		}
		return DataQuality{Accuracy: AccuracyEstimated, Confidence: conf, EstimationMethod: r.estMethod}
	default:
		return DataQuality{Accuracy: AccuracyExact, Confidence: 1.0}
	}
}
