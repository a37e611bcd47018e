// Package geminicli adapts Gemini CLI session files. Gemini rewrites a
// whole JSON document per session under
// ~/.gemini/tmp/<project-hash>/chats/, so tailing means re-reading the
// document and emitting only messages not seen before. Per-message
// token blocks are increments: the accounting mode is delta-sum.
package geminicli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/janekbaraniewski/tokenaudit/internal/adapters/adapterbase"
	"github.com/janekbaraniewski/tokenaudit/internal/core"
	"github.com/janekbaraniewski/tokenaudit/internal/estimator"
)

const (
	defaultConfigDir = ".gemini"
	pollInterval     = 500 * time.Millisecond
	projectHashLen   = 64 // hex SHA-256
)

type sessionDoc struct {
	SessionID   string       `json:"sessionId"`
	ProjectHash string       `json:"projectHash"`
	StartTime   string       `json:"startTime"`
	LastUpdated string       `json:"lastUpdated"`
	Messages    []sessionMsg `json:"messages"`
}

type sessionMsg struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"` // "user" or "gemini"
	Content   string          `json:"content"`
	Model     string          `json:"model,omitempty"`
	ToolCalls []toolCall      `json:"toolCalls,omitempty"`
	Tokens    *tokenBlock     `json:"tokens,omitempty"`
	Thoughts  json.RawMessage `json:"thoughts,omitempty"`
}

type toolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Status string          `json:"status,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
}

type tokenBlock struct {
	Input    int64 `json:"input"`
	Output   int64 `json:"output"`
	Cached   int64 `json:"cached"`
	Thoughts int64 `json:"thoughts"`
	Tool     int64 `json:"tool"`
	Total    int64 `json:"total"`
}

type Adapter struct {
	dir string
	est *estimator.Estimator
}

func New(est *estimator.Estimator) *Adapter {
	home, _ := os.UserHomeDir()
	return &Adapter{dir: filepath.Join(home, defaultConfigDir), est: est}
}

// NewAt uses an explicit Gemini config directory instead of ~/.gemini.
func NewAt(dir string, est *estimator.Estimator) *Adapter {
	return &Adapter{dir: dir, est: est}
}

func (a *Adapter) Platform() core.Platform { return core.PlatformGeminiCLI }

func (a *Adapter) Describe() core.AdapterInfo {
	return core.AdapterInfo{
		Name:   "Gemini CLI",
		Mode:   core.AccountingDelta,
		LogDir: filepath.Join(a.dir, "tmp"),
	}
}

// ProjectHash is how Gemini CLI buckets sessions: the hex SHA-256 of the
// absolute working directory path.
func ProjectHash(cwd string) string {
	sum := sha256.Sum256([]byte(cwd))
	return hex.EncodeToString(sum[:])
}

// Discover lists session documents across every project hash, newest
// first. The working directory's own hash is not required to exist;
// past sessions of other projects are still listable.
func (a *Adapter) Discover(ctx context.Context) ([]core.SessionHandle, error) {
	tmpDir := filepath.Join(a.dir, "tmp")
	hashDirs, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("geminicli: reading tmp dir: %w", err)
	}

	var handles []core.SessionHandle
	for _, hd := range hashDirs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !hd.IsDir() || len(hd.Name()) != projectHashLen {
			continue
		}
		chatsDir := filepath.Join(tmpDir, hd.Name(), "chats")
		files, err := os.ReadDir(chatsDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasPrefix(f.Name(), "session-") || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			handles = append(handles, core.SessionHandle{
				Platform: core.PlatformGeminiCLI,
				Path:     filepath.Join(chatsDir, f.Name()),
				ModTime:  info.ModTime(),
			})
		}
	}

	sort.Slice(handles, func(i, j int) bool {
		return handles[i].ModTime.After(handles[j].ModTime)
	})
	return handles, nil
}

func (a *Adapter) Open(ctx context.Context, h core.SessionHandle) (core.EventStream, error) {
	s := &docStream{
		path:      h.Path,
		est:       a.est,
		events:    make(chan core.NormalizedEvent, 64),
		done:      make(chan struct{}),
		processed: make(map[string]bool),
	}

	// Attach rule, document flavor: messages already present at attach
	// are history, not new activity. A document that does not exist yet
	// is read in full once it appears.
	if doc, err := readDoc(h.Path); err == nil {
		for _, msg := range doc.Messages {
			s.processed[msg.ID] = true
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
	return s, nil
}

type docStream struct {
	path string
	est  *estimator.Estimator

	events  chan core.NormalizedEvent
	dropped atomic.Int64
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.Mutex
	err       error
	closed    bool
	processed map[string]bool
	started   bool
	lastMtime time.Time
}

func (s *docStream) Events() <-chan core.NormalizedEvent { return s.events }

func (s *docStream) Dropped() int64 { return s.dropped.Load() }

func (s *docStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *docStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}

func (s *docStream) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		s.cycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *docStream) cycle(ctx context.Context) {
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	if info.ModTime().Equal(s.lastMtime) {
		return
	}
	s.lastMtime = info.ModTime()

	doc, err := readDoc(s.path)
	if err != nil {
		// Mid-write document; retried on the next cycle.
		s.dropped.Add(1)
		return
	}

	for _, msg := range doc.Messages {
		if s.processed[msg.ID] {
			continue
		}
		s.processed[msg.ID] = true
		for _, ev := range s.parseMessage(ctx, doc, msg) {
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *docStream) parseMessage(ctx context.Context, doc *sessionDoc, msg sessionMsg) []core.NormalizedEvent {
	ts, ok := adapterbase.ParseTimestamp(msg.Timestamp)
	if !ok {
		ts = time.Now().UTC()
	}

	var events []core.NormalizedEvent
	if !s.started {
		s.started = true
		startTS, okStart := adapterbase.ParseTimestamp(doc.StartTime)
		if !okStart {
			startTS = ts
		}
		events = append(events, core.NormalizedEvent{
			Timestamp: startTS,
			Kind:      core.EventSessionBoundary,
			Boundary:  core.BoundaryStart,
			SourceID:  doc.SessionID,
		})
	}

	// User messages carry no usage.
	if msg.Type != "gemini" {
		return events
	}

	update := core.NormalizedEvent{
		Timestamp: ts,
		Kind:      core.EventTokenUpdate,
		Mode:      core.AccountingDelta,
		Model:     msg.Model,
	}
	if msg.Tokens != nil {
		update.Tokens = core.TokenCounts{
			Input:     msg.Tokens.Input,
			Output:    msg.Tokens.Output,
			CacheRead: msg.Tokens.Cached,
			Reasoning: msg.Tokens.Thoughts,
		}
	} else if msg.Content != "" && s.est != nil {
		// Older Gemini CLI builds omit the tokens block; degrade to an
		// estimated output count rather than losing the message.
		count, method := s.est.Estimate(ctx, msg.Content, msg.Model)
		update.Tokens = core.TokenCounts{Output: count}
		update.Estimated = true
		update.EstimationMethod = string(method)
	}
	if update.Tokens.Total() > 0 {
		events = append(events, update)
	}

	var toolShare int64
	if msg.Tokens != nil && len(msg.ToolCalls) > 0 {
		toolShare = msg.Tokens.Tool / int64(len(msg.ToolCalls))
	}
	for _, tc := range msg.ToolCalls {
		name := core.NormalizeToolName(tc.Name)
		success := tc.Status == "" || tc.Status == "success"
		events = append(events, core.NormalizedEvent{
			Timestamp:   ts,
			Kind:        core.EventToolCallStart,
			Model:       msg.Model,
			ToolRaw:     tc.Name,
			Tool:        name.Tool,
			Server:      name.Server,
			MCP:         name.MCP,
			CallID:      tc.ID,
			Tokens:      core.TokenCounts{Output: toolShare},
			Fingerprint: adapterbase.Fingerprint(name.Tool, tc.Args),
		}, core.NormalizedEvent{
			Timestamp: ts,
			Kind:      core.EventToolCallEnd,
			CallID:    tc.ID,
			Success:   &success,
		})
	}
	return events
}

func readDoc(path string) (*sessionDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("geminicli: parsing session document: %w", err)
	}
	return &doc, nil
}
