package session

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/backend"
)

// Runner is a fluent builder that accumulates feed inputs, fetch
// outputs, and target ops before triggering one execution of a session.
// Grounded on gx-org-gx's nodeRunner (golang/backend/graph/runner.go),
// generalized from a fixed output/traced pair to caller-accumulated
// feeds/fetches/targets.
type Runner struct {
	graph   backend.Graph
	backend backend.Session

	feedNodes  []backend.Node
	feedValues []backend.Tensor

	fetchRefs []backend.OutputNode
	targets   []backend.Node

	options  []byte
	metadata []byte

	err error
}

// NewRunner returns a Runner bound to s.
func (s *Session) NewRunner() *Runner {
	return &Runner{graph: s.graph, backend: s.backend}
}

// AddInput resolves name to a graph node and records value as its feed.
// Unlike a naive port that stores only the value, the port itself is
// resolved here, before storage.
func (r *Runner) AddInput(name string, value backend.Tensor) *Runner {
	if r.err != nil {
		return r
	}
	n, err := r.graph.Op(name)
	if err != nil {
		r.err = errors.Wrapf(err, "runner: AddInput %q", name)
		return r
	}
	r.feedNodes = append(r.feedNodes, n)
	r.feedValues = append(r.feedValues, value)
	return r
}

// AddTarget resolves name to a graph node and records it as a target op,
// run for its side effects only.
func (r *Runner) AddTarget(name string) *Runner {
	if r.err != nil {
		return r
	}
	n, err := r.graph.Op(name)
	if err != nil {
		r.err = errors.Wrapf(err, "runner: AddTarget %q", name)
		return r
	}
	r.targets = append(r.targets, n)
	return r
}

// Fetch parses name as "op" or "op:idx" (":" absent means index 0; a
// non-integer suffix is an error) and records the resolved output
// reference to fetch.
func (r *Runner) Fetch(name string) *Runner {
	if r.err != nil {
		return r
	}
	opName, idx, err := parseFetchName(name)
	if err != nil {
		r.err = err
		return r
	}
	n, err := r.graph.Op(opName)
	if err != nil {
		r.err = errors.Wrapf(err, "runner: Fetch %q", name)
		return r
	}
	r.fetchRefs = append(r.fetchRefs, backend.OutputNode{Node: n, Idx: idx})
	return r
}

func parseFetchName(name string) (op string, idx int, err error) {
	i := strings.LastIndexByte(name, ':')
	if i < 0 {
		return name, 0, nil
	}
	op, suffix := name[:i], name[i+1:]
	idx, convErr := strconv.Atoi(suffix)
	if convErr != nil {
		return "", 0, errors.Errorf("runner: malformed fetch name %q: %q is not an output index", name, suffix)
	}
	return op, idx, nil
}

// SetOptions attaches an opaque run-options buffer the backend may
// interpret, modeled as a caller-overridable sink.
func (r *Runner) SetOptions(options []byte) *Runner {
	r.options = options
	return r
}

// SetMetadata attaches an opaque run-metadata buffer the backend may
// populate, same treatment as SetOptions.
func (r *Runner) SetMetadata(metadata []byte) *Runner {
	r.metadata = metadata
	return r
}

func (r *Runner) resolveFetchNodes() ([]backend.Node, error) {
	nodes := make([]backend.Node, len(r.fetchRefs))
	for i, ref := range r.fetchRefs {
		if ref.Idx == 0 {
			nodes[i] = ref.Node
			continue
		}
		n, err := r.graph.Output(ref.Node, ref.Idx)
		if err != nil {
			return nil, errors.Wrapf(err, "runner: fetch output %d", ref.Idx)
		}
		nodes[i] = n
	}
	return nodes, nil
}

// Run executes the accumulated feeds, fetches, and targets once and
// returns one tensor per fetch, in the order they were added.
func (r *Runner) Run() ([]backend.Tensor, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(r.feedNodes) != len(r.feedValues) {
		return nil, errors.Errorf("runner: %d feed inputs but %d feed values", len(r.feedNodes), len(r.feedValues))
	}
	feeds := make(map[backend.Node]backend.Tensor, len(r.feedNodes))
	for i, n := range r.feedNodes {
		feeds[n] = r.feedValues[i]
	}
	fetchNodes, err := r.resolveFetchNodes()
	if err != nil {
		return nil, err
	}
	status := &backend.Status{}
	tensors, err := r.backend.Run(feeds, fetchNodes, r.targets, r.options, &r.metadata, status)
	if err != nil {
		return nil, err
	}
	if !status.OK() {
		return nil, errors.Errorf("runner: backend status %d: %s", status.Code, status.Message)
	}
	return tensors, nil
}

// RunOne is the convenience form of "Run(op)": it clears any previously
// accumulated fetches, fetches only op, runs once, and returns the single
// resulting tensor.
func (r *Runner) RunOne(op string) (backend.Tensor, error) {
	r.fetchRefs = nil
	r.Fetch(op)
	tensors, err := r.Run()
	if err != nil {
		return nil, err
	}
	if len(tensors) != 1 {
		return nil, errors.Errorf("runner: RunOne %q returned %d tensors, want 1", op, len(tensors))
	}
	return tensors[0], nil
}
