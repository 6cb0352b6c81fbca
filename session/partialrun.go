package session

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/backend"
)

// PartialRunToken wraps a backend.PartialRunToken and guarantees its
// native handle is released exactly once. PartialRunSetup returns this by
// value rather than through a pass-by-value out-parameter that would lose
// the handle.
type PartialRunToken struct {
	native backend.PartialRunToken

	mu       sync.Mutex
	released bool
}

// Release releases the token's native handle. Safe to call more than
// once; only the first call reaches the backend.
func (t *PartialRunToken) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return nil
	}
	t.released = true
	return t.native.Release()
}

// PartialRunSetup obtains a token enabling stepwise execution across the
// named inputs, outputs, and targets.
func (s *Session) PartialRunSetup(inputs, outputs, targets []string) (*PartialRunToken, error) {
	const op = "session.PartialRunSetup"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	resolve := func(names []string) ([]backend.Node, error) {
		nodes := make([]backend.Node, len(names))
		for i, name := range names {
			n, err := s.graph.Op(name)
			if err != nil {
				return nil, errors.Wrapf(err, "%s", op)
			}
			nodes[i] = n
		}
		return nodes, nil
	}
	inputNodes, err := resolve(inputs)
	if err != nil {
		return nil, err
	}
	outputNodes, err := resolve(outputs)
	if err != nil {
		return nil, err
	}
	targetNodes, err := resolve(targets)
	if err != nil {
		return nil, err
	}
	native, err := s.backend.PartialRunSetup(inputNodes, outputNodes, targetNodes)
	if err != nil {
		return nil, err
	}
	return &PartialRunToken{native: native}, nil
}

// PartialRun executes one step of a partial-run token, feeding feeds
// (keyed by graph node name) and fetching fetches.
func (s *Session) PartialRun(token *PartialRunToken, feeds map[string]backend.Tensor, fetches []string) ([]backend.Tensor, error) {
	const op = "session.PartialRun"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	feedNodes := make(map[backend.Node]backend.Tensor, len(feeds))
	for name, value := range feeds {
		n, err := s.graph.Op(name)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", op)
		}
		feedNodes[n] = value
	}
	fetchNodes := make([]backend.Node, len(fetches))
	for i, name := range fetches {
		n, err := s.graph.Op(name)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", op)
		}
		fetchNodes[i] = n
	}
	return s.backend.PartialRun(token.native, feedNodes, fetchNodes)
}
