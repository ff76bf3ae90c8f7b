package axiom

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/axiom/internal/ir"
	"github.com/roach88/axiom/internal/logging"
	"github.com/roach88/axiom/internal/metrics"
	"github.com/roach88/axiom/internal/state"
)

// EventID identifies a SysEvent. Ids start at 1 and increase by one.
type EventID uint64

// Commit is one entry of the CommitLog.
type Commit struct {
	ID        ir.Hash
	Prev      ir.Hash
	Seq       uint64
	Timestamp uint64
	Type      state.CommitType
	CausedBy  *EventID
}

// ComputeID recomputes the commit's id from its hashed fields.
func (c Commit) ComputeID() (ir.Hash, error) {
	if c.Type == nil {
		return ir.Hash{}, fmt.Errorf("commit %d has no type", c.Seq)
	}
	return ir.CommitID(c.Prev, c.Seq, c.Timestamp, string(c.Type.Kind()), c.Type.Payload())
}

// IsGenesis reports whether c is a well-formed genesis commit.
func (c Commit) IsGenesis() bool {
	_, ok := c.Type.(state.Genesis)
	return ok && c.Seq == 0 && c.Prev.IsZero()
}

type commitRecord struct {
	ID        ir.Hash    `json:"id"`
	Prev      ir.Hash    `json:"prev"`
	Seq       uint64     `json:"seq"`
	Timestamp uint64     `json:"timestamp"`
	Type      typeRecord `json:"type"`
	CausedBy  *EventID   `json:"caused_by"`
}

type typeRecord struct {
	Kind    state.Kind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the persisted record layout: id and prev as hex,
// the type as {kind, payload}.
func (c Commit) MarshalJSON() ([]byte, error) {
	if c.Type == nil {
		return nil, fmt.Errorf("commit %d has no type", c.Seq)
	}
	payload, err := json.Marshal(c.Type)
	if err != nil {
		return nil, err
	}
	return json.Marshal(commitRecord{
		ID:        c.ID,
		Prev:      c.Prev,
		Seq:       c.Seq,
		Timestamp: c.Timestamp,
		Type:      typeRecord{Kind: c.Type.Kind(), Payload: payload},
		CausedBy:  c.CausedBy,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON. It does not verify the id.
func (c *Commit) UnmarshalJSON(data []byte) error {
	var rec commitRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	ct, err := state.DecodeCommitType(rec.Type.Kind, rec.Type.Payload)
	if err != nil {
		return err
	}
	*c = Commit{
		ID:        rec.ID,
		Prev:      rec.Prev,
		Seq:       rec.Seq,
		Timestamp: rec.Timestamp,
		Type:      ct,
		CausedBy:  rec.CausedBy,
	}
	return nil
}

// Sink is the durability collaborator. AppendCommit is called before the
// in-memory head advances; an error aborts the append. Once it returns
// nil the commit is assumed to survive a crash.
type Sink interface {
	AppendCommit(c Commit) error
}

// CommitLog is the append-only, hash-chained sequence of commits. It is
// an arena: commits live in one slice indexed by seq.
//
// Thread-safety: all methods are safe for concurrent use. The Gateway's
// lock is what orders appends across syscalls.
type CommitLog struct {
	mu      sync.RWMutex
	commits []Commit
	sink    Sink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// LogOption configures a CommitLog.
type LogOption func(*CommitLog)

// WithSink persists every appended commit.
func WithSink(s Sink) LogOption {
	return func(l *CommitLog) { l.sink = s }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) LogOption {
	return func(l *CommitLog) { l.logger = logging.OrNop(logger) }
}

// WithMetrics counts appended commits.
func WithMetrics(m *metrics.Metrics) LogOption {
	return func(l *CommitLog) { l.metrics = m }
}

// NewGenesis returns the genesis commit: seq 0, zero prev, timestamp 0.
func NewGenesis() Commit {
	g := Commit{Type: state.Genesis{}}
	id, err := g.ComputeID()
	if err != nil {
		panic(fmt.Sprintf("genesis id: %v", err))
	}
	g.ID = id
	return g
}

// NewCommitLog returns a log holding only the genesis commit. With a sink,
// the genesis commit is persisted first.
func NewCommitLog(opts ...LogOption) (*CommitLog, error) {
	l := newLog(opts)
	g := NewGenesis()
	if l.sink != nil {
		if err := l.sink.AppendCommit(g); err != nil {
			return nil, fmt.Errorf("persist genesis: %w", err)
		}
	}
	l.commits = append(l.commits, g)
	return l, nil
}

// Restore rebuilds a log from previously persisted commits. The whole
// chain must verify; use Recover-style truncation before calling this
// when the source may be damaged. Restored commits are not re-sent to
// the sink.
func Restore(commits []Commit, opts ...LogOption) (*CommitLog, error) {
	if _, err := VerifyChain(commits); err != nil {
		return nil, err
	}
	l := newLog(opts)
	l.commits = append(make([]Commit, 0, len(commits)), commits...)
	return l, nil
}

func newLog(opts []LogOption) *CommitLog {
	l := &CommitLog{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append builds the next commit on top of the head, persists it through
// the sink, advances the head and returns the new id.
func (l *CommitLog) Append(ct state.CommitType, causedBy *EventID, ts uint64) (ir.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	head := l.commits[len(l.commits)-1]
	c := Commit{
		Prev:      head.ID,
		Seq:       head.Seq + 1,
		Timestamp: ts,
		Type:      ct,
		CausedBy:  causedBy,
	}
	id, err := c.ComputeID()
	if err != nil {
		return ir.Hash{}, fmt.Errorf("commit %d: %w", c.Seq, err)
	}
	c.ID = id

	if l.sink != nil {
		if err := l.sink.AppendCommit(c); err != nil {
			return ir.Hash{}, fmt.Errorf("persist commit %d: %w", c.Seq, err)
		}
	}
	l.commits = append(l.commits, c)
	l.metrics.CommitAppended(string(ct.Kind()))
	l.logger.Debug("commit",
		zap.Uint64("seq", c.Seq),
		zap.String("kind", string(ct.Kind())),
		zap.String("id", id.Short()),
	)
	return id, nil
}

// Head returns the newest commit.
func (l *CommitLog) Head() Commit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.commits[len(l.commits)-1]
}

// Len returns the number of commits, genesis included.
func (l *CommitLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.commits)
}

// At returns the commit with the given seq.
func (l *CommitLog) At(seq uint64) (Commit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq >= uint64(len(l.commits)) {
		return Commit{}, false
	}
	return l.commits[seq], true
}

// Commits returns a copy of the whole log.
func (l *CommitLog) Commits() []Commit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Commit(nil), l.commits...)
}

// Range returns commits with from <= seq < to, clamped to the log.
func (l *CommitLog) Range(from, to uint64) []Commit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := uint64(len(l.commits))
	if to > n {
		to = n
	}
	if from >= to {
		return nil
	}
	return append([]Commit(nil), l.commits[from:to]...)
}

// Truncate drops every commit with seq >= n. Genesis is never dropped.
func (l *CommitLog) Truncate(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < 1 {
		n = 1
	}
	if n < len(l.commits) {
		l.logger.Warn("truncating commit log", zap.Int("from", len(l.commits)), zap.Int("to", n))
		clear(l.commits[n:])
		l.commits = l.commits[:n]
	}
}
