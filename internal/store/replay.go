package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/axiom/internal/replay"
)

// Recover loads the log, keeps its longest verified and replayable
// prefix, and deletes the rest from disk. A store with no commits returns
// a nil result and no error: there is nothing to resume.
func (s *Store) Recover(ctx context.Context, engine *replay.Engine) (*replay.Recovered, error) {
	commits, loadErr := s.LoadCommits(ctx)
	var corrupt *CorruptRowError
	if loadErr != nil && !errors.As(loadErr, &corrupt) {
		return nil, loadErr
	}
	stored, err := s.CommitCount(ctx)
	if err != nil {
		return nil, err
	}
	if stored == 0 {
		return nil, nil
	}

	r, err := engine.Recover(commits)
	if err != nil {
		return nil, fmt.Errorf("recover store: %w", err)
	}
	if r.Cause == nil && loadErr != nil {
		r.Cause = loadErr
	}
	r.Dropped = stored - len(r.Commits)

	if r.Dropped > 0 {
		removed, err := s.Truncate(ctx, uint64(len(r.Commits)))
		if err != nil {
			return nil, err
		}
		s.logger.Warn("truncated commit log",
			zap.Int("kept", len(r.Commits)),
			zap.Int("removed", removed),
			zap.Error(r.Cause),
		)
	}
	return r, nil
}
