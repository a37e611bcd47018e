package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

// IndexEntry is the listing record of one finalized session, enough for
// queries and rollups without opening the summary file.
type IndexEntry struct {
	SessionID    string        `json:"session_id"`
	Platform     core.Platform `json:"platform"`
	Project      string        `json:"project"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at"`
	TotalTokens  int64         `json:"total_tokens"`
	CostUSD      float64       `json:"cost_usd"`
	CallCount    int           `json:"call_count"`
	SmellCount   int           `json:"smell_count"`
	TopSeverity  core.Severity `json:"top_severity,omitempty"`
	SummaryPath  string        `json:"summary_path"`
}

type indexDoc struct {
	SchemaVersion string       `json:"schema_version"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Entries       []IndexEntry `json:"entries"`
}

const indexUpdateRetries = 5

func entryFromSummary(sum *core.SessionSummary, summaryPath string) IndexEntry {
	e := IndexEntry{
		SessionID:   sum.SessionID,
		Platform:    sum.Platform,
		Project:     sum.Project,
		StartedAt:   sum.StartedAt,
		EndedAt:     sum.EndedAt,
		TotalTokens: sum.Usage.TotalTokens,
		CostUSD:     sum.CostUSD,
		CallCount:   sum.CallCount,
		SmellCount:  len(sum.Smells),
		SummaryPath: summaryPath,
	}
	for _, sm := range sum.Smells {
		if e.TopSeverity == "" || sm.Severity.Rank() > e.TopSeverity.Rank() {
			e.TopSeverity = sm.Severity
		}
	}
	return e
}

func (s *Store) updateIndices(sum *core.SessionSummary) error {
	summaryPath := s.summaryPath(sum.Platform, sum.StartedAt, sum.SessionID)
	entry := entryFromSummary(sum, summaryPath)

	dayIndex := filepath.Join(s.dayDir(sum.Platform, sum.StartedAt), indexFileName)
	if err := upsertIndex(dayIndex, entry); err != nil {
		return err
	}
	platformIndex := filepath.Join(s.root, sessionsDir, string(sum.Platform), indexFileName)
	return upsertIndex(platformIndex, entry)
}

// upsertIndex folds one entry into an index file. Concurrent trackers
// finalizing into the same index race on the rename; a modification
// observed between read and rename restarts the cycle, bounded.
func upsertIndex(path string, entry IndexEntry) error {
	for attempt := 0; attempt < indexUpdateRetries; attempt++ {
		doc, mtime, err := readIndex(path)
		if err != nil {
			return err
		}

		replaced := false
		for i := range doc.Entries {
			if doc.Entries[i].SessionID == entry.SessionID {
				doc.Entries[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			doc.Entries = append(doc.Entries, entry)
		}
		sort.Slice(doc.Entries, func(i, j int) bool {
			return doc.Entries[i].StartedAt.Before(doc.Entries[j].StartedAt)
		})
		doc.SchemaVersion = core.SchemaVersion
		doc.UpdatedAt = time.Now().UTC()

		if changed, err := indexChangedSince(path, mtime); err != nil {
			return err
		} else if changed {
			continue
		}

		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("storage: encoding index: %w", err)
		}
		if err := writeAtomic(path, data); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("storage: updating %s: too much contention", path)
}

func readIndex(path string) (*indexDoc, time.Time, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &indexDoc{SchemaVersion: core.SchemaVersion}, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("storage: reading index: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("storage: stating index: %w", err)
	}
	var doc indexDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		// A corrupt index is a derived artifact; rebuild from scratch
		// rather than failing finalize.
		return &indexDoc{SchemaVersion: core.SchemaVersion}, info.ModTime(), nil
	}
	return &doc, info.ModTime(), nil
}

func indexChangedSince(path string, mtime time.Time) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return !mtime.IsZero(), nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stating index: %w", err)
	}
	return !info.ModTime().Equal(mtime), nil
}

// ListFilter narrows index queries. Zero values mean no constraint.
type ListFilter struct {
	Platform core.Platform
	Project  string
	From     time.Time
	To       time.Time
}

func (f ListFilter) matches(e IndexEntry) bool {
	if f.Platform != "" && e.Platform != f.Platform {
		return false
	}
	if f.Project != "" && e.Project != f.Project {
		return false
	}
	if !f.From.IsZero() && e.StartedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.StartedAt.Before(f.To) {
		return false
	}
	return true
}

// ListSessions returns matching index entries ordered by start time.
// It reads only index files, never session bodies.
func (s *Store) ListSessions(filter ListFilter) ([]IndexEntry, error) {
	platforms := []core.Platform{filter.Platform}
	if filter.Platform == "" {
		dirs, err := os.ReadDir(filepath.Join(s.root, sessionsDir))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("storage: reading sessions dir: %w", err)
		}
		platforms = platforms[:0]
		for _, d := range dirs {
			if d.IsDir() {
				platforms = append(platforms, core.Platform(d.Name()))
			}
		}
	}

	var out []IndexEntry
	for _, p := range platforms {
		doc, _, err := readIndex(filepath.Join(s.root, sessionsDir, string(p), indexFileName))
		if err != nil {
			return nil, err
		}
		for _, e := range doc.Entries {
			if filter.matches(e) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// IterRange streams matching summaries one at a time over a date range,
// loading each body only when the callback is reached. Returning false
// from the callback stops the iteration.
func (s *Store) IterRange(filter ListFilter, fn func(*core.SessionSummary) bool) error {
	entries, err := s.ListSessions(filter)
	if err != nil {
		return err
	}
	for _, e := range entries {
		sum, err := s.LoadSummary(e.Platform, e.StartedAt, e.SessionID)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if !fn(sum) {
			return nil
		}
	}
	return nil
}

// FindEntry resolves one session by ID across all platforms.
func (s *Store) FindEntry(sessionID string) (*IndexEntry, error) {
	entries, err := s.ListSessions(ListFilter{})
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].SessionID == sessionID {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("storage: session %q not found", sessionID)
}

// RebuildIndices regenerates every index from the summary files on
// disk. Indices are a derived cache; this is the recovery path for
// corruption or manual deletion.
func (s *Store) RebuildIndices() error {
	base := filepath.Join(s.root, sessionsDir)
	platforms, err := os.ReadDir(base)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: reading sessions dir: %w", err)
	}

	for _, pd := range platforms {
		if !pd.IsDir() {
			continue
		}
		platformDoc := indexDoc{SchemaVersion: core.SchemaVersion, UpdatedAt: time.Now().UTC()}
		days, err := os.ReadDir(filepath.Join(base, pd.Name()))
		if err != nil {
			return fmt.Errorf("storage: reading platform dir: %w", err)
		}
		for _, dd := range days {
			if !dd.IsDir() {
				continue
			}
			dayDir := filepath.Join(base, pd.Name(), dd.Name())
			dayDoc := indexDoc{SchemaVersion: core.SchemaVersion, UpdatedAt: time.Now().UTC()}
			files, err := os.ReadDir(dayDir)
			if err != nil {
				return fmt.Errorf("storage: reading day dir: %w", err)
			}
			for _, f := range files {
				if f.IsDir() || filepath.Ext(f.Name()) != ".json" || f.Name() == indexFileName {
					continue
				}
				path := filepath.Join(dayDir, f.Name())
				data, err := os.ReadFile(path)
				if err != nil {
					continue
				}
				var sum core.SessionSummary
				if err := json.Unmarshal(data, &sum); err != nil || sum.SessionID == "" {
					continue
				}
				entry := entryFromSummary(&sum, path)
				dayDoc.Entries = append(dayDoc.Entries, entry)
				platformDoc.Entries = append(platformDoc.Entries, entry)
			}
			sort.Slice(dayDoc.Entries, func(i, j int) bool {
				return dayDoc.Entries[i].StartedAt.Before(dayDoc.Entries[j].StartedAt)
			})
			data, err := json.MarshalIndent(dayDoc, "", "  ")
			if err != nil {
				return fmt.Errorf("storage: encoding day index: %w", err)
			}
			if err := writeAtomic(filepath.Join(dayDir, indexFileName), data); err != nil {
				return err
			}
		}
		sort.Slice(platformDoc.Entries, func(i, j int) bool {
			return platformDoc.Entries[i].StartedAt.Before(platformDoc.Entries[j].StartedAt)
		})
		data, err := json.MarshalIndent(platformDoc, "", "  ")
		if err != nil {
			return fmt.Errorf("storage: encoding platform index: %w", err)
		}
		if err := writeAtomic(filepath.Join(base, pd.Name(), indexFileName), data); err != nil {
			return err
		}
	}
	return nil
}
