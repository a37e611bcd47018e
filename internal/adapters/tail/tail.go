// Package tail follows growth of a single log file, emitting complete
// lines as they are appended. It tolerates files that do not exist yet,
// files created empty and filled moments later, rotation, and writes
// that land mid-line.
package tail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	maxLineSize         = 8 * 1024 * 1024

	readRetryBase = 200 * time.Millisecond
	readRetryMax  = 5 * time.Second
)

// Options configures a Tailer.
type Options struct {
	// PollInterval bounds how long a write can go unnoticed when file
	// notifications are unavailable or lossy.
	PollInterval time.Duration

	// FromStart forces reading from offset zero even for a file that
	// already existed at attach time.
	FromStart bool
}

// Tailer follows one file. Lines are delivered complete; a partial
// trailing line is buffered until its terminator arrives.
type Tailer struct {
	path string
	opts Options

	lines chan []byte

	mu     sync.Mutex
	err    error
	closed bool
	cancel context.CancelFunc
	done   chan struct{}

	offset  int64
	pending []byte
}

// New attaches to path and starts tailing. A file that exists at attach
// time is read only from its current size; a file that appears later is
// read from its first byte.
func New(ctx context.Context, path string, opts Options) (*Tailer, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	t := &Tailer{
		path:  path,
		opts:  opts,
		lines: make(chan []byte, 256),
		done:  make(chan struct{}),
	}

	// Attach-offset rule: pre-existing bytes belong to history, not to
	// this tracking run. A missing file has no history.
	if !opts.FromStart {
		if info, err := os.Stat(path); err == nil {
			t.offset = info.Size()
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("tail: stat %s: %w", path, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.run(ctx)
	return t, nil
}

// Lines yields complete appended lines. The channel closes when the
// tailer stops; check Err afterwards.
func (t *Tailer) Lines() <-chan []byte { return t.lines }

// Err reports the terminal error, if any, after Lines closes.
func (t *Tailer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Offset reports how many bytes have been consumed, for durability
// bookkeeping by the caller.
func (t *Tailer) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// Close stops tailing and waits for the reader goroutine to exit.
func (t *Tailer) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	<-t.done
	return nil
}

func (t *Tailer) run(ctx context.Context) {
	defer close(t.done)
	defer close(t.lines)

	// Watch the parent directory: the file itself may not exist yet and
	// editors/CLIs often replace files by rename.
	var events <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(filepath.Dir(t.path)); werr == nil {
			events = watcher.Events
		}
		defer watcher.Close()
	}

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	retryDelay := readRetryBase

	for {
		if err := t.drain(ctx); err != nil {
			// Rotation and transient unavailability of the target log are
			// expected; back off and retry rather than giving up.
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
			if retryDelay > readRetryMax {
				retryDelay = readRetryMax
			}
			continue
		}
		retryDelay = readRetryBase

		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name != t.path {
				continue
			}
			// Fall through to drain on the next iteration.
		case <-ticker.C:
		}
	}
}

// drain reads every byte appended since the last call and emits the
// complete lines found.
func (t *Tailer) drain(ctx context.Context) error {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	if info.Size() < offset {
		// Truncated or rotated in place: the history we tracked is gone,
		// restart from the beginning of the new content.
		offset = 0
		t.pending = nil
	}
	if info.Size() == offset {
		return nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	buf := make([]byte, 64*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			offset += int64(n)
			t.pending = append(t.pending, buf[:n]...)
			if len(t.pending) > maxLineSize {
				// Pathological unterminated line; drop it rather than grow
				// without bound.
				t.pending = nil
			}
			if err := t.emitLines(ctx); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	t.mu.Lock()
	t.offset = offset
	t.mu.Unlock()
	return nil
}

func (t *Tailer) emitLines(ctx context.Context) error {
	for {
		idx := bytes.IndexByte(t.pending, '\n')
		if idx < 0 {
			// Partial trailing line: keep buffered, never parse
			// speculatively.
			return nil
		}
		line := make([]byte, idx)
		copy(line, t.pending[:idx])
		t.pending = t.pending[idx+1:]

		select {
		case t.lines <- line:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
