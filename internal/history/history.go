// Package history keeps finalized session summaries in a SQLite cache
// for fast range and trend queries. The summary files on disk remain
// the source of truth; the database can be deleted and rebuilt at any
// time.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
	"github.com/janekbaraniewski/tokenaudit/internal/storage"
)

const DBFileName = "history.db"

type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: creating DB dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: opening DB: %w", err)
	}
	if err := configureConnection(db); err != nil {
		db.Close()
		return nil, err
	}
	store := &Store{db: db}
	if err := store.Init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func configureConnection(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("history: set journal_mode WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("history: set synchronous NORMAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("history: set busy_timeout: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_summaries (
			session_id TEXT PRIMARY KEY,
			schema_version TEXT NOT NULL,
			platform TEXT NOT NULL,
			project TEXT,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			duration_seconds REAL NOT NULL,
			total_tokens INTEGER NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cache_read_tokens INTEGER NOT NULL,
			cost_usd REAL NOT NULL,
			call_count INTEGER NOT NULL,
			tool_count INTEGER NOT NULL,
			smell_count INTEGER NOT NULL,
			accuracy TEXT NOT NULL,
			summary_json TEXT NOT NULL,
			ingested_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_summaries_platform_started
			ON session_summaries(platform, started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_session_summaries_project_started
			ON session_summaries(project, started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("history: init schema: %w", err)
		}
	}
	return nil
}

// Ingest upserts one finalized summary. Re-ingesting the same session
// replaces its row, so repeated finalizes stay idempotent here too.
func (s *Store) Ingest(ctx context.Context, sum *core.SessionSummary) error {
	payload, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("history: encoding summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_summaries (
			session_id, schema_version, platform, project,
			started_at, ended_at, duration_seconds,
			total_tokens, input_tokens, output_tokens, cache_read_tokens,
			cost_usd, call_count, tool_count, smell_count, accuracy,
			summary_json, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			platform = excluded.platform,
			project = excluded.project,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			duration_seconds = excluded.duration_seconds,
			total_tokens = excluded.total_tokens,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cache_read_tokens = excluded.cache_read_tokens,
			cost_usd = excluded.cost_usd,
			call_count = excluded.call_count,
			tool_count = excluded.tool_count,
			smell_count = excluded.smell_count,
			accuracy = excluded.accuracy,
			summary_json = excluded.summary_json,
			ingested_at = excluded.ingested_at
	`,
		sum.SessionID, sum.SchemaVersion, string(sum.Platform), sum.Project,
		sum.StartedAt.UTC().Format(time.RFC3339Nano),
		sum.EndedAt.UTC().Format(time.RFC3339Nano),
		sum.DurationSecs,
		sum.Usage.TotalTokens, sum.Usage.InputTokens, sum.Usage.OutputTokens, sum.Usage.CacheReadTokens,
		sum.CostUSD, sum.CallCount, sum.ToolCount, len(sum.Smells), string(sum.Quality.Accuracy),
		string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history: upserting session %s: %w", sum.SessionID, err)
	}
	return nil
}

// Query narrows summary lookups. Zero values mean no constraint.
type Query struct {
	Platform core.Platform
	Project  string
	From     time.Time
	To       time.Time
	Limit    int
}

// Summaries returns matching summaries ordered by start time ascending.
func (s *Store) Summaries(ctx context.Context, q Query) ([]*core.SessionSummary, error) {
	where := "1=1"
	var args []any
	if q.Platform != "" {
		where += " AND platform = ?"
		args = append(args, string(q.Platform))
	}
	if q.Project != "" {
		where += " AND project = ?"
		args = append(args, q.Project)
	}
	if !q.From.IsZero() {
		where += " AND started_at >= ?"
		args = append(args, q.From.UTC().Format(time.RFC3339Nano))
	}
	if !q.To.IsZero() {
		where += " AND started_at < ?"
		args = append(args, q.To.UTC().Format(time.RFC3339Nano))
	}
	query := "SELECT summary_json FROM session_summaries WHERE " + where + " ORDER BY started_at ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: querying summaries: %w", err)
	}
	defer rows.Close()

	var out []*core.SessionSummary
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("history: scanning row: %w", err)
		}
		var sum core.SessionSummary
		if err := json.Unmarshal([]byte(payload), &sum); err != nil {
			return nil, fmt.Errorf("history: decoding stored summary: %w", err)
		}
		out = append(out, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating rows: %w", err)
	}
	return out, nil
}

// Count reports how many summaries match.
func (s *Store) Count(ctx context.Context, q Query) (int, error) {
	sums, err := s.Summaries(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(sums), nil
}

// Rebuild repopulates the cache from the summary files under the
// storage root, dropping stale rows first.
func Rebuild(ctx context.Context, s *Store, files *storage.Store) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_summaries`); err != nil {
		return fmt.Errorf("history: clearing cache: %w", err)
	}
	return files.IterRange(storage.ListFilter{}, func(sum *core.SessionSummary) bool {
		if err := s.Ingest(ctx, sum); err != nil {
			return false
		}
		return true
	})
}
