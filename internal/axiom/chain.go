package axiom

import (
	"errors"
	"fmt"
)

// ChainError reports the first commit that breaks the hash chain.
type ChainError struct {
	Seq    uint64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain broken at seq %d: %s", e.Seq, e.Reason)
}

// Is matches any *ChainError, so errors.Is(err, ErrChainBroken) works.
func (e *ChainError) Is(target error) bool {
	_, ok := target.(*ChainError)
	return ok
}

// ErrChainBroken matches every *ChainError.
var ErrChainBroken = &ChainError{}

// IsChainError reports whether err is or wraps a *ChainError.
func IsChainError(err error) bool {
	var ce *ChainError
	return errors.As(err, &ce)
}

// VerifyChain recomputes every commit's id and checks the links.
//
// The chain is valid iff commits[0] is a genesis commit and, for every
// i > 0, commits[i].Prev equals the recomputed id of commits[i-1]. Stored
// ids must match their recomputation and seqs must be contiguous.
//
// It returns the length of the longest verified prefix. On success that
// is len(commits); on failure the error is a *ChainError naming the first
// bad seq.
func VerifyChain(commits []Commit) (int, error) {
	if len(commits) == 0 {
		return 0, &ChainError{Seq: 0, Reason: "empty log"}
	}
	if !commits[0].IsGenesis() {
		return 0, &ChainError{Seq: 0, Reason: "first commit is not genesis"}
	}

	for i, c := range commits {
		if c.Seq != uint64(i) {
			return i, &ChainError{Seq: uint64(i), Reason: fmt.Sprintf("seq %d out of order", c.Seq)}
		}
		id, err := c.ComputeID()
		if err != nil {
			return i, &ChainError{Seq: c.Seq, Reason: err.Error()}
		}
		if id != c.ID {
			return i, &ChainError{Seq: c.Seq, Reason: fmt.Sprintf("id %s does not match contents (%s)", c.ID.Short(), id.Short())}
		}
		if i > 0 && c.Prev != commits[i-1].ID {
			return i, &ChainError{Seq: c.Seq, Reason: fmt.Sprintf("prev %s does not match commit %d", c.Prev.Short(), i-1)}
		}
	}
	return len(commits), nil
}
