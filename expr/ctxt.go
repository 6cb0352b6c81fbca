package expr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/internal/ordered"
)

// Ctxt is the per-run materialization context: held only for the
// duration of a single run, discarded at run end, holding no state
// across runs.
type Ctxt struct {
	// Graph is the backend graph new nodes are lowered into.
	Graph backend.Graph

	nodes   *ordered.Map[*Expr, backend.Node]
	moments *ordered.Map[*Expr, [2]backend.Node]
	grads   map[gradKey][]backend.Node
	weights map[string]*Expr
}

// NewCtxt returns a fresh materialization context bound to g, with empty
// memoization tables and no weight bindings.
func NewCtxt(g backend.Graph) *Ctxt {
	return &Ctxt{
		Graph:   g,
		nodes:   ordered.NewMap[*Expr, backend.Node](),
		moments: ordered.NewMap[*Expr, [2]backend.Node](),
		grads:   map[gradKey][]backend.Node{},
		weights: map[string]*Expr{},
	}
}

// WithWeights attaches caller-provided variable bindings and returns
// ctxt for chaining.
func (c *Ctxt) WithWeights(weights map[string]*Expr) *Ctxt {
	c.weights = weights
	return c
}

// Weight looks up a caller-provided binding for a named variable.
func (c *Ctxt) Weight(name string) (*Expr, bool) {
	e, ok := c.weights[name]
	return e, ok
}

// WeightNames returns the bound weight names in a deterministic order,
// for diagnostics.
func (c *Ctxt) WeightNames() []string {
	names := maps.Keys(c.weights)
	sort.Strings(names)
	return names
}

func (c *Ctxt) materialize(e *Expr) (backend.Node, error) {
	if n, ok := c.nodes.Load(e); ok {
		return n, nil
	}
	n, err := e.build(c)
	if err != nil {
		return nil, err
	}
	c.nodes.Store(e, n)
	return n, nil
}

// MaterializeMoment memoizes an operator that produces two related
// outputs from a single expression, such as a combined mean/variance
// reduction.
func (c *Ctxt) MaterializeMoment(e *Expr, build func(*Ctxt) (backend.Node, backend.Node, error)) (backend.Node, backend.Node, error) {
	if pair, ok := c.moments.Load(e); ok {
		return pair[0], pair[1], nil
	}
	a, b, err := build(c)
	if err != nil {
		return nil, nil, err
	}
	c.moments.Store(e, [2]backend.Node{a, b})
	return a, b, nil
}

// gradKey is the structural memoization key for gradient subgraphs:
// (y, xs[], dy?). Expr identity (pointer value) is what makes two calls
// "the same" triple, not structural equality of the expressions
// themselves.
type gradKey struct {
	y  *Expr
	xs string
	dy *Expr
}

func newGradKey(y *Expr, xs []*Expr, dy *Expr) gradKey {
	var sb strings.Builder
	for i, x := range xs {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%p", x)
	}
	return gradKey{y: y, xs: sb.String(), dy: dy}
}

// MaterializeGrad memoizes a gradient subgraph keyed structurally on
// (y, xs, dy) rather than on any single Expr's identity.
func (c *Ctxt) MaterializeGrad(y *Expr, xs []*Expr, dy *Expr, build func(*Ctxt) ([]backend.Node, error)) ([]backend.Node, error) {
	key := newGradKey(y, xs, dy)
	if nodes, ok := c.grads[key]; ok {
		return nodes, nil
	}
	nodes, err := build(c)
	if err != nil {
		return nil, err
	}
	if len(nodes) != len(xs) {
		return nil, errors.Errorf("gradients: backend returned %d nodes for %d inputs", len(nodes), len(xs))
	}
	c.grads[key] = nodes
	return nodes, nil
}
