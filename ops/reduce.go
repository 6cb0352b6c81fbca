package ops

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/dim"
	"github.com/flarelee/tensorgraph/expr"
	"github.com/flarelee/tensorgraph/shape"
)

// ReduceFn is a Graph reduction method, e.g. backend.Graph.Sum.
type ReduceFn func(g backend.Graph, x backend.Node, axis []int, keepDims bool) (backend.Node, error)

// axis == nil means "reduce all axes", the default. keepDims defaults to
// false.
func reduceShape(op string, s shape.Shape, axis []int, keepDims bool) (shape.Shape, error) {
	if s.HasFlex() {
		return shape.Shape{}, errors.Errorf("%s: cannot reduce a shape with an open flex tail", op)
	}
	rank := s.Rank()
	if axis == nil {
		if !keepDims {
			return shape.Scalar(), nil
		}
		dims := make([]dim.Dim, rank)
		for i := range dims {
			dims[i] = dim.Known{N: 1}
		}
		return shape.Of(dims...), nil
	}
	reduced := map[int]bool{}
	for _, a := range axis {
		if a < 0 || a >= rank {
			return shape.Shape{}, errors.Errorf("%s: axis %d out of range for rank %d", op, a, rank)
		}
		reduced[a] = true
	}
	var out []dim.Dim
	for i := 0; i < rank; i++ {
		if !reduced[i] {
			out = append(out, s.Dims[i])
			continue
		}
		if keepDims {
			out = append(out, dim.Known{N: 1})
		}
	}
	return shape.Of(out...), nil
}

func reduce(op string, x *expr.Expr, axis []int, keepDims bool, apply ReduceFn) (*expr.Expr, error) {
	if err := requireNotNil(op, "x", x); err != nil {
		return nil, err
	}
	outShape, err := reduceShape(op, x.Shape(), axis, keepDims)
	if err != nil {
		return nil, err
	}
	var sortedAxis []int
	if axis != nil {
		sortedAxis = append([]int{}, axis...)
		sort.Ints(sortedAxis)
	}
	cost := x.Cost() + 1
	return expr.New(outShape, x.DType(), cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nx, err := x.Materialize(ctxt)
		if err != nil {
			return nil, err
		}
		return apply(ctxt.Graph, nx, sortedAxis, keepDims)
	}), nil
}

// Sum reduces x by summation over axis (nil means all axes).
func Sum(x *expr.Expr, axis []int, keepDims bool) (*expr.Expr, error) {
	return reduce("sum", x, axis, keepDims, func(g backend.Graph, x backend.Node, axis []int, keepDims bool) (backend.Node, error) {
		return g.Sum(x, axis, keepDims)
	})
}

// Mean reduces x by averaging over axis (nil means all axes).
func Mean(x *expr.Expr, axis []int, keepDims bool) (*expr.Expr, error) {
	return reduce("mean", x, axis, keepDims, func(g backend.Graph, x backend.Node, axis []int, keepDims bool) (backend.Node, error) {
		return g.Mean(x, axis, keepDims)
	})
}

// Prod reduces x by multiplication over axis (nil means all axes).
func Prod(x *expr.Expr, axis []int, keepDims bool) (*expr.Expr, error) {
	return reduce("prod", x, axis, keepDims, func(g backend.Graph, x backend.Node, axis []int, keepDims bool) (backend.Node, error) {
		return g.Prod(x, axis, keepDims)
	})
}

// DiagPart extracts the diagonal of a rank-2k tensor whose dims satisfy
// dim[i] == dim[k+i], returning the first k dims. Fails on odd rank.
func DiagPart(x *expr.Expr) (*expr.Expr, error) {
	const op = "diagpart"
	if err := requireNotNil(op, "x", x); err != nil {
		return nil, err
	}
	sh := x.Shape()
	if sh.HasFlex() {
		return nil, errors.Errorf("%s: shape must be fully known, got %s", op, sh)
	}
	rank := sh.Rank()
	if rank%2 != 0 {
		return nil, errors.Errorf("%s: rank %d is odd, DiagPart requires an even rank", op, rank)
	}
	k := rank / 2
	for i := 0; i < k; i++ {
		if err := dim.Unify(op, sh.Dims[i], sh.Dims[k+i]); err != nil {
			return nil, errors.Wrapf(err, "%s: dims %d and %d must match", op, i, k+i)
		}
	}
	outShape := shape.Of(sh.Dims[:k]...)
	cost := x.Cost() + 1
	return expr.New(outShape, x.DType(), cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nx, err := x.Materialize(ctxt)
		if err != nil {
			return nil, err
		}
		return ctxt.Graph.DiagPart(nx)
	}), nil
}
