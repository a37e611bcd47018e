// Package storage persists session event logs and finalized summaries
// under a platform/date-keyed hierarchy. Event logs are append-only
// JSONL; summaries and indices are whole documents written through a
// temp file and an atomic rename.
package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

const (
	sessionsDir   = "sessions"
	dayFormat     = "2006-01-02"
	indexFileName = "index.json"

	recordHeader = "header"
	recordEvent  = "event"
)

// Record is one line of a session log. Data holds either a
// core.SessionHeader (first line) or a core.NormalizedEvent.
type Record struct {
	SchemaVersion string          `json:"schema_version"`
	Type          string          `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// Store is rooted at one directory, typically $TOKENAUDIT_HOME.
type Store struct {
	root string
}

func Open(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, sessionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) dayDir(platform core.Platform, day time.Time) string {
	return filepath.Join(s.root, sessionsDir, string(platform), day.UTC().Format(dayFormat))
}

// LogPath is where the event log of a session lives. Sessions are
// bucketed by their start date, not by the date of individual events.
func (s *Store) LogPath(platform core.Platform, startedAt time.Time, sessionID string) string {
	return filepath.Join(s.dayDir(platform, startedAt), sessionID+".jsonl")
}

func (s *Store) summaryPath(platform core.Platform, startedAt time.Time, sessionID string) string {
	return filepath.Join(s.dayDir(platform, startedAt), sessionID+".summary.json")
}

// Appender is the write half of one live session log. Not safe for
// concurrent use; each tracker owns exactly one.
type Appender struct {
	f    *os.File
	w    *bufio.Writer
	path string
}

// OpenAppender creates (or reopens for append) the event log of a
// session and writes the header record if the log is new.
func (s *Store) OpenAppender(header core.SessionHeader) (*Appender, error) {
	path := s.LogPath(header.Platform, header.StartedAt, header.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating day dir: %w", err)
	}

	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: opening log: %w", err)
	}
	a := &Appender{f: f, w: bufio.NewWriter(f), path: path}

	if fresh {
		data, err := json.Marshal(header)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: encoding header: %w", err)
		}
		if err := a.writeRecord(Record{
			SchemaVersion: core.SchemaVersion,
			Type:          recordHeader,
			Timestamp:     header.StartedAt,
			Data:          data,
		}); err != nil {
			f.Close()
			return nil, err
		}
	}
	return a, nil
}

// Append durably writes one event. The caller must not acknowledge the
// event upstream until Append returns nil.
func (a *Appender) Append(ev core.NormalizedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("storage: encoding event: %w", err)
	}
	return a.writeRecord(Record{
		SchemaVersion: core.SchemaVersion,
		Type:          recordEvent,
		Timestamp:     ev.Timestamp,
		Data:          data,
	})
}

func (a *Appender) writeRecord(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: encoding record: %w", err)
	}
	if _, err := a.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("storage: appending to %s: %w", a.path, err)
	}
	if err := a.w.Flush(); err != nil {
		return fmt.Errorf("storage: flushing %s: %w", a.path, err)
	}
	// A crash may lose the last record still in the OS cache, never a
	// prior one; Sync keeps that window per-record rather than per-exit.
	if err := a.f.Sync(); err != nil {
		return fmt.Errorf("storage: syncing %s: %w", a.path, err)
	}
	return nil
}

func (a *Appender) Close() error {
	if err := a.w.Flush(); err != nil {
		a.f.Close()
		return fmt.Errorf("storage: flushing on close: %w", err)
	}
	return a.f.Close()
}

// writeAtomic writes data to path through a temp file in the same
// directory and renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: creating dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("storage: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: renaming into place: %w", err)
	}
	return nil
}

// WriteSummary persists a finalized summary and folds it into the day
// and platform indices.
func (s *Store) WriteSummary(sum *core.SessionSummary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encoding summary: %w", err)
	}
	path := s.summaryPath(sum.Platform, sum.StartedAt, sum.SessionID)
	if err := writeAtomic(path, data); err != nil {
		return err
	}
	return s.updateIndices(sum)
}

// LoadSummary reads a finalized summary. os.ErrNotExist means the
// session was never finalized.
func (s *Store) LoadSummary(platform core.Platform, startedAt time.Time, sessionID string) (*core.SessionSummary, error) {
	data, err := os.ReadFile(s.summaryPath(platform, startedAt, sessionID))
	if err != nil {
		return nil, err
	}
	var sum core.SessionSummary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("storage: decoding summary: %w", err)
	}
	return &sum, nil
}

// HasSummary reports whether a finalized summary exists for a session.
func (s *Store) HasSummary(platform core.Platform, startedAt time.Time, sessionID string) bool {
	_, err := os.Stat(s.summaryPath(platform, startedAt, sessionID))
	return err == nil
}

// PeekHeader reads only the first record of a session log.
func PeekHeader(path string) (*core.SessionHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("storage: reading header line: %w", err)
		}
		return nil, fmt.Errorf("storage: %s: empty log", path)
	}
	var rec Record
	if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
		return nil, fmt.Errorf("storage: decoding header record: %w", err)
	}
	if rec.Type != recordHeader {
		return nil, fmt.Errorf("storage: %s: first record is %q, not a header", path, rec.Type)
	}
	var h core.SessionHeader
	if err := json.Unmarshal(rec.Data, &h); err != nil {
		return nil, fmt.Errorf("storage: decoding header: %w", err)
	}
	return &h, nil
}

// ReplayLog streams the persisted events of a session log in order.
// Torn trailing records (a crash mid-append) are tolerated and dropped.
func ReplayLog(path string, fn func(core.NormalizedEvent) error) (*core.SessionHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var header *core.SessionHeader
scan:
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// Only the last record can legitimately be torn.
			break
		}
		switch rec.Type {
		case recordHeader:
			var h core.SessionHeader
			if err := json.Unmarshal(rec.Data, &h); err != nil {
				return nil, fmt.Errorf("storage: decoding header: %w", err)
			}
			header = &h
		case recordEvent:
			var ev core.NormalizedEvent
			if err := json.Unmarshal(rec.Data, &ev); err != nil {
				break scan
			}
			if err := fn(ev); err != nil {
				return header, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return header, fmt.Errorf("storage: scanning %s: %w", path, err)
	}
	if header == nil {
		return nil, fmt.Errorf("storage: %s: missing header record", path)
	}
	return header, nil
}

// Partial is a session log that has no summary, left behind by a crash
// or an interrupted tracker.
type Partial struct {
	Path   string
	Header core.SessionHeader
}

// ScanPartials walks the session tree for logs without summaries.
func (s *Store) ScanPartials() ([]Partial, error) {
	var partials []Partial
	base := filepath.Join(s.root, sessionsDir)
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return err
		}
		summary := strings.TrimSuffix(path, ".jsonl") + ".summary.json"
		if _, err := os.Stat(summary); err == nil {
			return nil
		}
		h, err := PeekHeader(path)
		if err != nil {
			return nil
		}
		partials = append(partials, Partial{Path: path, Header: *h})
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("storage: scanning for partials: %w", err)
	}
	sort.Slice(partials, func(i, j int) bool {
		return partials[i].Header.StartedAt.Before(partials[j].Header.StartedAt)
	})
	return partials, nil
}
