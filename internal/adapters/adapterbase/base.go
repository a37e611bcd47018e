// Package adapterbase carries the pieces shared by every platform
// adapter: the line-fed event stream, timestamp parsing, and content
// fingerprinting.
package adapterbase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	"github.com/janekbaraniewski/tokenaudit/internal/adapters/tail"
	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

// ParseFunc turns one raw log line into zero or more normalized events.
// ok=false marks the line unrecognized; it is counted and dropped, never
// an error.
type ParseFunc func(line []byte) (events []core.NormalizedEvent, ok bool)

// LineStream adapts a tailed line sequence into an event stream using a
// per-session parser. It implements core.EventStream.
type LineStream struct {
	tailer  *tail.Tailer
	events  chan core.NormalizedEvent
	dropped atomic.Int64
	done    chan struct{}
}

// NewLineStream tails path and feeds every complete line through parse.
func NewLineStream(ctx context.Context, path string, opts tail.Options, parse ParseFunc) (*LineStream, error) {
	tailer, err := tail.New(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	s := &LineStream{
		tailer: tailer,
		events: make(chan core.NormalizedEvent, 64),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.events)
		for line := range tailer.Lines() {
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			evs, ok := parse(line)
			if !ok {
				s.dropped.Add(1)
				continue
			}
			for _, ev := range evs {
				select {
				case s.events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return s, nil
}

func (s *LineStream) Events() <-chan core.NormalizedEvent { return s.events }

func (s *LineStream) Dropped() int64 { return s.dropped.Load() }

func (s *LineStream) Err() error { return s.tailer.Err() }

func (s *LineStream) Close() error {
	err := s.tailer.Close()
	<-s.done
	return err
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
}

// ParseTimestamp accepts the timestamp spellings observed across source
// logs. The zero time and false mean unparseable.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// Fingerprint hashes a call's effective input for duplicate detection.
// Identical tool+arguments yield identical fingerprints.
func Fingerprint(tool string, args []byte) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{'|'})
	h.Write(args)
	return hex.EncodeToString(h.Sum(nil))
}
