package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/ir"
	"github.com/roach88/axiom/internal/state"
)

// marshalPayload converts a commit type to JSON TEXT for storage.
func marshalPayload(ct state.CommitType) (string, error) {
	if ct == nil {
		return "", fmt.Errorf("marshal payload: nil commit type")
	}
	data, err := json.Marshal(ct)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// marshalArgs stores syscall argument words as a JSON array.
func marshalArgs(args [4]uint64) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

func unmarshalArgs(data string) ([4]uint64, error) {
	var args [4]uint64
	if err := json.Unmarshal([]byte(data), &args); err != nil {
		return args, fmt.Errorf("unmarshal args: %w", err)
	}
	return args, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanCommit reads one commits row. Column order must match commitColumns.
func scanCommit(row scanner) (axiom.Commit, error) {
	var (
		seq      int64
		id, prev string
		ts       int64
		kind     string
		payload  string
		causedBy sql.NullInt64
	)
	if err := row.Scan(&seq, &id, &prev, &ts, &kind, &payload, &causedBy); err != nil {
		return axiom.Commit{}, fmt.Errorf("scan commit: %w", err)
	}
	return decodeCommit(seq, id, prev, ts, kind, payload, causedBy)
}

func decodeCommit(seq int64, id, prev string, ts int64, kind, payload string, causedBy sql.NullInt64) (axiom.Commit, error) {
	c := axiom.Commit{Seq: uint64(seq), Timestamp: uint64(ts)}
	var err error
	if c.ID, err = ir.ParseHash(id); err != nil {
		return c, &CorruptRowError{Seq: c.Seq, Err: fmt.Errorf("id: %w", err)}
	}
	if c.Prev, err = ir.ParseHash(prev); err != nil {
		return c, &CorruptRowError{Seq: c.Seq, Err: fmt.Errorf("prev: %w", err)}
	}
	if c.Type, err = state.DecodeCommitType(state.Kind(kind), json.RawMessage(payload)); err != nil {
		return c, &CorruptRowError{Seq: c.Seq, Err: err}
	}
	if causedBy.Valid {
		ev := axiom.EventID(causedBy.Int64)
		c.CausedBy = &ev
	}
	return c, nil
}

const commitColumns = `seq, id, prev, timestamp, kind, payload, caused_by`

const eventColumns = `session, id, sender, timestamp, num, args, request_id, result`

func scanEvent(row scanner) (axiom.SysEvent, error) {
	var (
		e         axiom.SysEvent
		id        int64
		sender    int64
		ts        int64
		num       sql.NullInt64
		args      sql.NullString
		requestID sql.NullInt64
		result    sql.NullInt64
	)
	if err := row.Scan(&e.Session, &id, &sender, &ts, &num, &args, &requestID, &result); err != nil {
		return e, fmt.Errorf("scan event: %w", err)
	}
	e.ID = axiom.EventID(id)
	e.Sender = state.PID(sender)
	e.Timestamp = uint64(ts)
	if num.Valid {
		a, err := unmarshalArgs(args.String)
		if err != nil {
			return e, err
		}
		e.Request = &axiom.Request{Num: uint64(num.Int64), Args: a}
	}
	if requestID.Valid {
		e.Response = &axiom.Response{RequestID: axiom.EventID(requestID.Int64), Result: result.Int64}
	}
	return e, nil
}
