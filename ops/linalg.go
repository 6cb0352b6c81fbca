package ops

import (
	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/dim"
	"github.com/flarelee/tensorgraph/expr"
	"github.com/flarelee/tensorgraph/shape"
)

// MatMul returns the matrix product a !* b: [n1, m] x [m, n2] -> [n1, n2],
// strictly unifying the inner dimension. Unlike pointwise operators,
// ranks must be exactly 2: no broadcasting.
func MatMul(a, b *expr.Expr) (*expr.Expr, error) {
	const op = "matmul"
	if err := requireNotNil(op, "a", a); err != nil {
		return nil, err
	}
	if err := requireNotNil(op, "b", b); err != nil {
		return nil, err
	}
	dt, err := requireSameDType(op, a, b)
	if err != nil {
		return nil, err
	}
	aShape, err := shape.MinDimensions(op, a.Shape(), 2)
	if err != nil {
		return nil, err
	}
	bShape, err := shape.MinDimensions(op, b.Shape(), 2)
	if err != nil {
		return nil, err
	}
	if aShape.Rank() != 2 || bShape.Rank() != 2 {
		return nil, errors.Errorf("%s: both operands must be rank 2, got %d and %d", op, aShape.Rank(), bShape.Rank())
	}
	if err := dim.Unify(op, aShape.Dims[1], bShape.Dims[0]); err != nil {
		return nil, errors.Wrapf(err, "%s: inner dimensions must match", op)
	}
	outShape := shape.Of(aShape.Dims[0], bShape.Dims[1])
	cost := a.Cost() + b.Cost() + 1
	return expr.New(outShape, dt, cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nodes, err := materializeAll(ctxt, a, b)
		if err != nil {
			return nil, err
		}
		return ctxt.Graph.MatMul(nodes[0], nodes[1])
	}), nil
}
