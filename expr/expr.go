// Package expr implements the lazy tensor expression graph: a typed,
// shape-carrying node that defers backend construction until a Ctxt
// materializes it.
package expr

import (
	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/shape"
)

// BuildFunc lowers an expression into a backend node given a
// materialization context. It must be idempotent modulo the memoization
// Ctxt performs — the DSL never calls it directly, only through
// (*Expr).Materialize.
type BuildFunc func(*Ctxt) (backend.Node, error)

// LiteralFunc materializes a constant expression's payload directly,
// side-stepping graph construction.
type LiteralFunc func() (backend.Tensor, error)

// Expr is a lazy, typed tensor expression. Two separately constructed
// Exprs with identical semantics are distinct nodes: identity is by Go
// pointer, not by structural equality.
type Expr struct {
	sh      shape.Shape
	dtype   backend.DType
	cost    int
	build   BuildFunc
	literal LiteralFunc
}

// New returns a compound expression node. cost should be
// 1+sum(inputs.Cost()) for ordinary operators, or a larger constant
// (100 is the convention used by grad and variable) to discourage eager
// display evaluation.
func New(sh shape.Shape, dtype backend.DType, cost int, build BuildFunc) *Expr {
	return &Expr{sh: sh, dtype: dtype, cost: cost, build: build}
}

// NewConstant returns a leaf expression with cost 0 and an optional
// literal payload that lets callers read its value without ever building
// a graph node.
func NewConstant(sh shape.Shape, dtype backend.DType, build BuildFunc, literal LiteralFunc) *Expr {
	return &Expr{sh: sh, dtype: dtype, cost: 0, build: build, literal: literal}
}

// Shape returns the expression's inferred shape.
func (e *Expr) Shape() shape.Shape { return e.sh }

// DType returns the expression's element type tag.
func (e *Expr) DType() backend.DType { return e.dtype }

// Cost returns the heuristic tree weight used to gate eager display
// evaluation.
func (e *Expr) Cost() int { return e.cost }

// Literal returns the expression's constant payload accessor, if any.
func (e *Expr) Literal() (LiteralFunc, bool) {
	return e.literal, e.literal != nil
}

// Materialize lowers e into a backend node within ctxt, memoized by e's
// identity so that repeated references to the same *Expr within one run
// produce exactly one backend node.
func (e *Expr) Materialize(ctxt *Ctxt) (backend.Node, error) {
	return ctxt.materialize(e)
}
