package core

import (
	"context"
	"time"
)

// SessionHandle identifies one discoverable source session.
type SessionHandle struct {
	Platform Platform
	// Path is the primary log file. For sources that spread a logical
	// session over several files this is the newest one; the adapter
	// orders events by embedded timestamp.
	Path string
	// SourceID is the source's own session identifier when the log
	// carries one.
	SourceID string
	// ModTime is the file's modification time at discovery.
	ModTime time.Time
}

// AdapterInfo describes an adapter for listing and diagnostics.
type AdapterInfo struct {
	Name string
	// Mode documents the source's fixed token accounting: cumulative
	// sources report running totals, delta sources per-event increments.
	Mode   AccountingMode
	LogDir string
}

// EventStream is a lazy sequence of normalized events from one session.
// Events preserves on-disk order for a single file; the channel closes
// on end-of-stream or Close.
type EventStream interface {
	Events() <-chan NormalizedEvent
	// Dropped reports how many raw lines were unrecognized or malformed
	// and therefore skipped. Never a failure.
	Dropped() int64
	// Err reports the terminal error after Events closes, if any.
	Err() error
	Close() error
}

// Adapter bridges one source CLI's on-disk log format to the canonical
// event stream. Implementations live under internal/adapters.
type Adapter interface {
	Platform() Platform
	Describe() AdapterInfo

	// Discover locates candidate session logs, newest first.
	Discover(ctx context.Context) ([]SessionHandle, error)

	// Open attaches to a session and starts tailing. A log created after
	// attach time is read from its first byte; a pre-existing one only
	// from bytes appended after attach.
	Open(ctx context.Context, h SessionHandle) (EventStream, error)
}
