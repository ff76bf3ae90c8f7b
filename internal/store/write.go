package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/axiom/internal/axiom"
)

// ErrConflict is returned when a commit's seq is already stored under a
// different id: the log on disk has diverged from the one being written.
var ErrConflict = errors.New("store: conflicting commit")

// CorruptRowError reports a stored commit that cannot be decoded.
type CorruptRowError struct {
	Seq uint64
	Err error
}

func (e *CorruptRowError) Error() string {
	return fmt.Sprintf("corrupt commit row at seq %d: %v", e.Seq, e.Err)
}

func (e *CorruptRowError) Unwrap() error { return e.Err }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WriteCommit inserts a commit. Rewriting an identical commit is a
// no-op, so a restarted kernel may re-persist its history safely.
func (s *Store) WriteCommit(ctx context.Context, c axiom.Commit) error {
	return writeCommit(ctx, s.db, c)
}

// WriteCommits inserts commits in one transaction: either all of them are
// stored or none are.
func (s *Store) WriteCommits(ctx context.Context, commits []axiom.Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, c := range commits {
		if err := writeCommit(ctx, tx, c); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func writeCommit(ctx context.Context, q querier, c axiom.Commit) error {
	payload, err := marshalPayload(c.Type)
	if err != nil {
		return fmt.Errorf("write commit: %w", err)
	}
	var causedBy sql.NullInt64
	if c.CausedBy != nil {
		causedBy = sql.NullInt64{Int64: int64(*c.CausedBy), Valid: true}
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO commits
		(`+commitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		int64(c.Seq),
		c.ID.String(),
		c.Prev.String(),
		int64(c.Timestamp),
		string(c.Type.Kind()),
		payload,
		causedBy,
	)
	if err != nil {
		return fmt.Errorf("write commit: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("write commit: %w", err)
	} else if n == 1 {
		return nil
	}

	var existing string
	if err := q.QueryRowContext(ctx, `SELECT id FROM commits WHERE seq = ?`, int64(c.Seq)).Scan(&existing); err != nil {
		return fmt.Errorf("write commit: %w", err)
	}
	if existing != c.ID.String() {
		return fmt.Errorf("%w: seq %d stored as %q, writing %s", ErrConflict, c.Seq, existing, c.ID.Short())
	}
	return nil
}

// AppendCommit implements axiom.Sink.
func (s *Store) AppendCommit(c axiom.Commit) error {
	return s.WriteCommit(context.Background(), c)
}

// WriteEvent inserts a SysLog event. Duplicate (session, id) pairs are
// ignored.
func (s *Store) WriteEvent(ctx context.Context, e axiom.SysEvent) error {
	var (
		num       sql.NullInt64
		args      sql.NullString
		requestID sql.NullInt64
		result    sql.NullInt64
	)
	switch {
	case e.Request != nil:
		a, err := marshalArgs(e.Request.Args)
		if err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		// Opcodes are stored bit-for-bit; SQLite integers are signed.
		num = sql.NullInt64{Int64: int64(e.Request.Num), Valid: true}
		args = sql.NullString{String: a, Valid: true}
	case e.Response != nil:
		requestID = sql.NullInt64{Int64: int64(e.Response.RequestID), Valid: true}
		result = sql.NullInt64{Int64: e.Response.Result, Valid: true}
	default:
		return fmt.Errorf("write event: event %d has neither request nor response", e.ID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sysevents
		(`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		e.Session,
		int64(e.ID),
		int64(e.Sender),
		int64(e.Timestamp),
		num,
		args,
		requestID,
		result,
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// AppendEvent implements axiom.EventSink.
func (s *Store) AppendEvent(e axiom.SysEvent) error {
	return s.WriteEvent(context.Background(), e)
}

// Truncate deletes every commit with seq >= n. Genesis is never deleted.
// It returns the number of commits removed.
func (s *Store) Truncate(ctx context.Context, n uint64) (int, error) {
	if n == 0 {
		n = 1
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM commits WHERE seq >= ?`, int64(n))
	if err != nil {
		return 0, fmt.Errorf("truncate commits: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("truncate commits: %w", err)
	}
	return int(removed), nil
}
