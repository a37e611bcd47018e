// Package tracker owns the lifecycle of one tracked session: it drains
// an adapter's event stream through a bounded queue, folds events into
// the session aggregate with write-before-ack durability, and finalizes
// into an immutable summary exactly once.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
	"github.com/janekbaraniewski/tokenaudit/internal/storage"
)

const defaultQueueSize = 256

// Analysis is what the smell engine contributes to a summary. The
// engine is injected so the tracker stays free of analyzer policy.
type Analysis struct {
	Smells          []core.Smell
	Recommendations []core.Recommendation
	ZombieTools     []core.ZombieTool
}

// Options configures one tracker.
type Options struct {
	Store   *storage.Store
	Project string

	// SessionID overrides the source-reported session ID. Empty means
	// take the source's, falling back to a random UUID.
	SessionID string

	// QueueSize bounds the event queue between the adapter stream and
	// the tracker loop. Zero means the default.
	QueueSize int

	// Analyze fills the summary's smell fields at finalize. Nil skips
	// analysis.
	Analyze func(*core.Session) Analysis

	// Cost prices the finalized session. Nil means zero cost.
	Cost func(*core.Session) float64

	// History ingests the finalized summary into the query cache. Errors
	// are logged, never fatal: the summary file is the source of truth.
	History func(*core.SessionSummary) error

	Logger *log.Logger
	Now    func() time.Time
}

// Tracker drives one session from first event to summary.
type Tracker struct {
	opts    Options
	logger  *log.Logger
	now     func() time.Time
	adapter core.Adapter
	stream  core.EventStream

	queue chan core.NormalizedEvent
	done  chan struct{}

	mu       sync.Mutex
	state    core.SessionState
	session  *core.Session
	reducer  *core.Reducer
	appender *storage.Appender
	summary  *core.SessionSummary
	fatal    error
}

// Start attaches a tracker to one session handle and begins consuming
// its event stream. The returned tracker runs until the stream ends,
// the context is cancelled, or Finalize is called.
func Start(ctx context.Context, adapter core.Adapter, handle core.SessionHandle, opts Options) (*Tracker, error) {
	if opts.Store == nil {
		return nil, errors.New("tracker: nil store")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	stream, err := adapter.Open(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("tracker: opening stream: %w", err)
	}

	t := &Tracker{
		opts:    opts,
		logger:  opts.Logger,
		now:     opts.Now,
		adapter: adapter,
		stream:  stream,
		queue:   make(chan core.NormalizedEvent, opts.QueueSize),
		done:    make(chan struct{}),
		state:   core.StateDiscovering,
	}

	go t.pump(ctx)
	go t.loop()
	return t, nil
}

// pump copies stream events into the bounded queue. A full queue blocks
// the pump, which backpressures the adapter instead of dropping.
func (t *Tracker) pump(ctx context.Context) {
	defer close(t.queue)
	for {
		select {
		case ev, ok := <-t.stream.Events():
			if !ok {
				return
			}
			select {
			case t.queue <- ev:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) loop() {
	defer close(t.done)
	for ev := range t.queue {
		if err := t.Apply(ev); err != nil {
			t.logger.Error("applying event", "err", err)
			return
		}
	}
}

// State reports the current lifecycle state.
func (t *Tracker) State() core.SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Session returns the live session, nil before the first event.
func (t *Tracker) Session() *core.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Apply folds one event into the session. The event is durably appended
// to the session log before the in-memory aggregate changes, so a crash
// after Apply returns never loses acknowledged data. A storage failure
// is fatal and closes the tracker.
func (t *Tracker) Apply(ev core.NormalizedEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case core.StateClosed, core.StateFinalizing:
		return fmt.Errorf("tracker: apply in state %s", t.state)
	case core.StateDiscovering:
		if err := t.activateLocked(ev); err != nil {
			t.failLocked(err)
			return err
		}
	}

	if err := t.appender.Append(ev); err != nil {
		t.failLocked(err)
		return err
	}
	t.reducer.Apply(ev)
	return nil
}

// activateLocked creates the session and its durable log from the first
// observed event.
func (t *Tracker) activateLocked(first core.NormalizedEvent) error {
	id := t.opts.SessionID
	if id == "" {
		id = first.SourceID
	}
	if id == "" {
		id = uuid.NewString()
	}
	startedAt := first.Timestamp
	if startedAt.IsZero() {
		startedAt = t.now()
	}
	project := t.opts.Project
	if project == "" && first.WorkingDir != "" {
		project = core.ProjectFromDir(first.WorkingDir)
	}

	t.session = core.NewSession(id, t.adapter.Platform(), project, startedAt)
	t.session.State = core.StateActive
	t.reducer = core.NewReducer(t.session)

	ap, err := t.opts.Store.OpenAppender(core.SessionHeader{
		SchemaVersion: core.SchemaVersion,
		SessionID:     id,
		Platform:      t.session.Platform,
		Project:       project,
		StartedAt:     startedAt,
	})
	if err != nil {
		return err
	}
	t.appender = ap
	t.state = core.StateActive
	t.logger.Info("session active", "session", id, "platform", t.session.Platform)
	return nil
}

func (t *Tracker) failLocked(err error) {
	t.fatal = err
	t.state = core.StateClosed
	if t.session != nil {
		t.session.State = core.StateClosed
	}
	if t.appender != nil {
		t.appender.Close()
		t.appender = nil
	}
}

// Err reports the fatal error that closed the tracker, if any.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fatal
}

// Finalize freezes the session into a summary. It is idempotent: a
// second call, from a signal handler or from end-of-stream, returns the
// already-written summary without side effects.
func (t *Tracker) Finalize() (*core.SessionSummary, error) {
	t.stream.Close()
	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.summary != nil {
		return t.summary, nil
	}
	if t.fatal != nil {
		return nil, fmt.Errorf("tracker: cannot finalize: %w", t.fatal)
	}
	if t.session == nil {
		return nil, errors.New("tracker: no session observed")
	}

	// A summary already on disk means a prior process finalized this
	// session; adopt it rather than writing a second one.
	if existing, err := t.opts.Store.LoadSummary(t.session.Platform, t.session.StartedAt, t.session.ID); err == nil {
		t.summary = existing
		t.state = core.StateClosed
		t.session.State = core.StateClosed
		if t.appender != nil {
			t.appender.Close()
			t.appender = nil
		}
		return existing, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("tracker: checking existing summary: %w", err)
	}

	t.state = core.StateFinalizing
	t.session.State = core.StateFinalizing

	if t.appender != nil {
		if err := t.appender.Close(); err != nil {
			t.logger.Warn("closing session log", "err", err)
		}
		t.appender = nil
	}

	t.reducer.FlushPending()
	if t.session.EndedAt.IsZero() {
		t.session.EndedAt = t.now()
	}
	t.session.Unrecognized += t.stream.Dropped()
	t.session.Quality = t.reducer.Quality()

	sum := t.session.Summarize()
	if t.opts.Analyze != nil {
		res := t.opts.Analyze(t.session)
		sum.Smells = res.Smells
		sum.Recommendations = res.Recommendations
		sum.ZombieTools = res.ZombieTools
	}
	if t.opts.Cost != nil {
		sum.CostUSD = t.opts.Cost(t.session)
	}

	if err := t.opts.Store.WriteSummary(sum); err != nil {
		t.failLocked(err)
		return nil, fmt.Errorf("tracker: writing summary: %w", err)
	}

	if t.opts.History != nil {
		if err := t.opts.History(sum); err != nil {
			t.logger.Warn("history ingest failed", "session", sum.SessionID, "err", err)
		}
	}

	t.summary = sum
	t.state = core.StateClosed
	t.session.State = core.StateClosed
	t.logger.Info("session finalized",
		"session", sum.SessionID,
		"tokens", sum.Usage.TotalTokens,
		"calls", sum.CallCount,
		"smells", len(sum.Smells))
	return sum, nil
}

// Recover rebuilds a tracker from a persisted session log that has no
// summary, replaying every event rather than trusting cached state. The
// caller finalizes it, or resumes applying if the source is still live.
func Recover(logPath string, opts Options) (*Tracker, error) {
	if opts.Store == nil {
		return nil, errors.New("tracker: nil store")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	sess, red, err := storage.ReplaySession(logPath)
	if err != nil {
		return nil, fmt.Errorf("tracker: replaying log: %w", err)
	}
	sess.State = core.StateRecovering

	ap, err := opts.Store.OpenAppender(core.SessionHeader{
		SchemaVersion: sess.SchemaVersion,
		SessionID:     sess.ID,
		Platform:      sess.Platform,
		Project:       sess.Project,
		StartedAt:     sess.StartedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("tracker: reopening log: %w", err)
	}

	t := &Tracker{
		opts:     opts,
		logger:   opts.Logger,
		now:      opts.Now,
		stream:   noStream{},
		queue:    make(chan core.NormalizedEvent),
		done:     make(chan struct{}),
		state:    core.StateActive,
		session:  sess,
		reducer:  red,
		appender: ap,
	}
	sess.State = core.StateActive
	close(t.queue)
	close(t.done)
	t.logger.Info("session recovered", "session", sess.ID, "tokens", sess.Usage.TotalTokens)
	return t, nil
}

// noStream backs recovered trackers, which have no live adapter stream.
type noStream struct{}

func (noStream) Events() <-chan core.NormalizedEvent { return nil }
func (noStream) Dropped() int64                      { return 0 }
func (noStream) Err() error                          { return nil }
func (noStream) Close() error                        { return nil }
