package nativebackend

import (
	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/internal/syncmap"
)

// Session executes against a single, already-eagerly-evaluated Graph:
// since every node's value is computed at construction time (this
// backend has no separate compile/run split), Run only needs to look
// fetched/target nodes up and apply any feed overrides. tokens tracks
// this session's outstanding partial-run tokens so Close can invalidate
// them even if other goroutines are issuing PartialRunSetup/Release
// calls concurrently ("thread-safe disposable").
type Session struct {
	graph    *Graph
	platform *Platform
	closed   bool
	tokens   syncmap.Map[*partialRunToken, struct{}]
}

// NewSession returns a session bound to g.
func NewSession(g *Graph) *Session {
	return &Session{graph: g}
}

func (s *Session) checkOpen() error {
	if s.closed {
		return errors.New("nativebackend: operation on a disposed session")
	}
	return nil
}

// Run applies feeds, checks that every target was produced by this
// backend (their values already exist), and returns the current value of
// each fetch.
func (s *Session) Run(feeds map[backend.Node]backend.Tensor, fetches, targets []backend.Node, options []byte, metadata *[]byte, status *backend.Status) ([]backend.Tensor, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	for n, v := range feeds {
		nn, err := asNode(n)
		if err != nil {
			return nil, err
		}
		tv, err := fromBackendTensor(v)
		if err != nil {
			return nil, err
		}
		nn.val = tv
	}
	for _, n := range targets {
		if _, err := asNode(n); err != nil {
			return nil, err
		}
	}
	out := make([]backend.Tensor, len(fetches))
	for i, n := range fetches {
		nn, err := asNode(n)
		if err != nil {
			return nil, err
		}
		out[i] = nn.val
	}
	return out, nil
}

// PartialRunSetup returns a token recording the resolved node sets; this
// backend has no separate incremental executor, so PartialRun below just
// replays Run against them.
func (s *Session) PartialRunSetup(inputs, outputs, targets []backend.Node) (backend.PartialRunToken, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	t := &partialRunToken{session: s, outputs: outputs, targets: targets}
	s.tokens.Store(t, struct{}{})
	return t, nil
}

// PartialRun feeds feeds and fetches fetches for one step of token.
func (s *Session) PartialRun(token backend.PartialRunToken, feeds map[backend.Node]backend.Tensor, fetches []backend.Node) ([]backend.Tensor, error) {
	t, ok := token.(*partialRunToken)
	if !ok {
		return nil, errors.Errorf("nativebackend: partial-run token of type %T not produced by this backend", token)
	}
	if t.released {
		return nil, errors.New("nativebackend: partial-run token already released")
	}
	return s.Run(feeds, fetches, t.targets, nil, nil, &backend.Status{})
}

// Close marks the session unusable and invalidates every partial-run
// token still outstanding against it, then deregisters itself from the
// owning Platform. Nativebackend owns no external resource beyond the
// in-memory graph, so this is otherwise a no-op.
func (s *Session) Close() error {
	s.closed = true
	s.tokens.Range(func(t *partialRunToken, _ struct{}) bool {
		t.released = true
		return true
	})
	if s.platform != nil {
		s.platform.sessions.Delete(s)
	}
	return nil
}

type partialRunToken struct {
	session  *Session
	outputs  []backend.Node
	targets  []backend.Node
	released bool
}

// Release marks the token unusable and drops it from its session's
// outstanding-token registry. Safe to call more than once; only the
// first call has effect, matching the "released exactly once" contract
// as far as this in-memory backend can exercise it.
func (t *partialRunToken) Release() error {
	t.released = true
	if t.session != nil {
		t.session.tokens.Delete(t)
	}
	return nil
}

// Platform is the single-device native platform this backend offers.
// sessions tracks every session this platform has created that has not
// yet been closed, guarded by internal/syncmap for concurrent
// NewSession/Close calls from separate goroutines.
type Platform struct {
	sessions syncmap.Map[*Session, struct{}]
}

// NewPlatform returns a fresh native platform.
func NewPlatform() *Platform { return &Platform{} }

// Devices returns the one in-process CPU device this platform models.
func (p *Platform) Devices() ([]backend.Device, error) {
	return []backend.Device{{Name: "/native:0", Type: "CPU", MemoryBytes: 0}}, nil
}

// NewGraph returns a fresh, empty graph.
func (p *Platform) NewGraph(name string) (backend.Graph, error) {
	return NewGraph(name), nil
}

// NewSession returns a session bound to g and registers it as live.
func (p *Platform) NewSession(g backend.Graph) (backend.Session, error) {
	gg, ok := g.(*Graph)
	if !ok {
		return nil, errors.Errorf("nativebackend: graph of type %T not produced by this backend", g)
	}
	s := NewSession(gg)
	s.platform = p
	p.sessions.Store(s, struct{}{})
	return s, nil
}

// LiveSessions reports how many sessions this platform has created that
// have not yet been closed.
func (p *Platform) LiveSessions() int {
	n := 0
	p.sessions.Range(func(*Session, struct{}) bool {
		n++
		return true
	})
	return n
}
