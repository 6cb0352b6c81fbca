// Package session implements the execution contract: a Session owns a
// backend graph and a backend session, and drives materialization and
// execution of Expr values through a fresh Ctxt per run. Grounded on the
// "owned resource, released exactly once" discipline of gx-org-gx's
// golang/backend/platform device handles, generalized from a single
// native device to any backend.Platform implementation.
package session

import (
	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/dim"
	"github.com/flarelee/tensorgraph/expr"
	"github.com/flarelee/tensorgraph/internal/livecheck"
	"github.com/flarelee/tensorgraph/shape"
)

// Session is an execution context owning a backend graph and its
// session. It must be closed exactly once.
type Session struct {
	graph   backend.Graph
	backend backend.Session
	closed  bool
}

// New builds a fresh graph named name on platform and opens a session
// bound to it.
func New(platform backend.Platform, name string) (*Session, error) {
	g, err := platform.NewGraph(name)
	if err != nil {
		return nil, errors.Wrap(err, "session: creating graph")
	}
	be, err := platform.NewSession(g)
	if err != nil {
		return nil, errors.Wrap(err, "session: creating backend session")
	}
	return &Session{graph: g, backend: be}, nil
}

// Close releases the session's native resources. Calling Close more than
// once is a no-op: "released exactly once" is enforced here, not left to
// the caller to police.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}

func (s *Session) checkOpen(op string) error {
	if s.closed {
		return errors.Errorf("%s: session is disposed", op)
	}
	return nil
}

// Run materializes each of fetches under a fresh Ctxt bound to weights
// and executes them with no feeds or targets, returning one tensor per
// fetch in order. In live-check mode it returns placeholder tensors of
// each fetch's declared shape without touching the backend at all.
func (s *Session) Run(fetches []*expr.Expr, weights map[string]*expr.Expr) ([]backend.Tensor, error) {
	const op = "session.Run"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if livecheck.Enabled() {
		return placeholders(fetches), nil
	}
	ctxt := expr.NewCtxt(s.graph).WithWeights(weights)
	nodes := make([]backend.Node, len(fetches))
	for i, f := range fetches {
		n, err := f.Materialize(ctxt)
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	status := &backend.Status{}
	tensors, err := s.backend.Run(nil, nodes, nil, nil, nil, status)
	if err != nil {
		return nil, err
	}
	if !status.OK() {
		return nil, errors.Errorf("%s: backend status %d: %s", op, status.Code, status.Message)
	}
	return tensors, nil
}

func placeholders(fetches []*expr.Expr) []backend.Tensor {
	out := make([]backend.Tensor, len(fetches))
	for i, f := range fetches {
		out[i] = &placeholderTensor{shape: resolvedDims(f.Shape()), dtype: f.DType()}
	}
	return out
}

func resolvedDims(sh shape.Shape) []int {
	dims := make([]int, sh.Rank())
	for i, d := range sh.Dims {
		n, ok := dim.Resolve(d)
		if !ok {
			n = 0
		}
		dims[i] = n
	}
	return dims
}

// placeholderTensor is the zero-value stand-in Run returns under
// live-check mode: same declared shape and element type, no backend
// storage behind it.
type placeholderTensor struct {
	shape []int
	dtype backend.DType
}

func (t *placeholderTensor) Shape() []int         { return t.shape }
func (t *placeholderTensor) DType() backend.DType { return t.dtype }

func (t *placeholderTensor) Flat() any {
	n := 1
	for _, d := range t.shape {
		n *= d
	}
	switch t.dtype {
	case backend.Float64:
		return make([]float64, n)
	case backend.Int32:
		return make([]int32, n)
	case backend.Int64:
		return make([]int64, n)
	case backend.String:
		return make([]string, n)
	default:
		return make([]float32, n)
	}
}
