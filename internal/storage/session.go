package storage

import (
	"fmt"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
)

// LoadSession rebuilds a session's in-memory aggregate by replaying its
// persisted event log. Cached state is never trusted; the log is the
// source of truth.
func (s *Store) LoadSession(sessionID string) (*core.Session, error) {
	entry, err := s.FindEntry(sessionID)
	if err != nil {
		return nil, err
	}
	return LoadSessionLog(s.LogPath(entry.Platform, entry.StartedAt, entry.SessionID))
}

// LoadSessionLog replays one log file into a fresh session.
func LoadSessionLog(path string) (*core.Session, error) {
	sess, red, err := ReplaySession(path)
	if err != nil {
		return nil, err
	}
	red.FlushPending()
	sess.Quality = red.Quality()
	return sess, nil
}

// ReplaySession replays a log without sealing it: pending calls stay
// pending and quality is not derived, so a recovering tracker can keep
// applying live events on top of the replayed state.
func ReplaySession(path string) (*core.Session, *core.Reducer, error) {
	header, err := PeekHeader(path)
	if err != nil {
		return nil, nil, err
	}
	sess := core.NewSession(header.SessionID, header.Platform, header.Project, header.StartedAt)
	red := core.NewReducer(sess)
	if _, err := ReplayLog(path, func(ev core.NormalizedEvent) error {
		red.Apply(ev)
		return nil
	}); err != nil {
		return nil, nil, fmt.Errorf("storage: replaying %s: %w", path, err)
	}
	return sess, red, nil
}
