package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/axiom/internal/axiom"
)

// ReadCommits returns every stored commit in seq order.
// Returns an empty slice (not nil) if the log is empty.
func (s *Store) ReadCommits(ctx context.Context) ([]axiom.Commit, error) {
	return s.queryCommits(ctx, `SELECT `+commitColumns+` FROM commits ORDER BY seq ASC`)
}

// ReadRange returns the commits with from <= seq < to, in seq order.
func (s *Store) ReadRange(ctx context.Context, from, to uint64) ([]axiom.Commit, error) {
	if to <= from {
		return []axiom.Commit{}, nil
	}
	return s.queryCommits(ctx, `
		SELECT `+commitColumns+`
		FROM commits
		WHERE seq >= ? AND seq < ?
		ORDER BY seq ASC
	`, int64(from), int64(to))
}

func (s *Store) queryCommits(ctx context.Context, query string, args ...any) ([]axiom.Commit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	commits := []axiom.Commit{}
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return commits, nil
}

// LoadCommits reads the longest decodable prefix of the log. A row that
// does not decode ends the prefix; its error is returned alongside.
func (s *Store) LoadCommits(ctx context.Context) ([]axiom.Commit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+commitColumns+` FROM commits ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	commits := []axiom.Commit{}
	for rows.Next() {
		c, err := scanCommit(rows)
		var corrupt *CorruptRowError
		if errors.As(err, &corrupt) {
			return commits, err
		}
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return commits, nil
}

// CommitCount returns the number of stored commits.
func (s *Store) CommitCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commits`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count commits: %w", err)
	}
	return n, nil
}

// ReadEvents returns a session's SysLog in event order.
func (s *Store) ReadEvents(ctx context.Context, session string) ([]axiom.SysEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM sysevents
		WHERE session = ?
		ORDER BY id ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []axiom.SysEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Sessions lists every SysLog session, in first-seen order.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session FROM sysevents
		GROUP BY session
		ORDER BY MIN(rowid) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var session string
		if err := rows.Scan(&session); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
