// Package grad implements the differentiation façade: a thin API over
// expr.Expr that delegates the actual gradient
// construction to the backend, memoized structurally per (y, xs, dy)
// triple. Higher-order derivatives are built by repeated gradient
// construction plus stacking, never by a separate symbolic-differentiation
// engine of their own.
package grad

import (
	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/dim"
	"github.com/flarelee/tensorgraph/expr"
	"github.com/flarelee/tensorgraph/ops"
	"github.com/flarelee/tensorgraph/shape"
)

// gradientCost is the fixed cost assigned to every derivative Expr, the
// same convention Variable uses to discourage eager display evaluation.
const gradientCost = 100

// Gradients returns, for each x in xs, a fresh Expr with x's shape whose
// build closure materializes y and all of xs and asks the backend for
// gradient nodes of the triple (y, xs, dy). dy may be nil, meaning "ones
// like y". y must unify with the scalar shape.
func Gradients(y *expr.Expr, xs []*expr.Expr, dy *expr.Expr) ([]*expr.Expr, error) {
	const op = "gradients"
	if y == nil {
		return nil, errors.Errorf("%s: y is required", op)
	}
	if len(xs) == 0 {
		return nil, errors.Errorf("%s: at least one x is required", op)
	}
	if err := shape.Unify(op, y.Shape(), shape.Scalar()); err != nil {
		return nil, errors.Wrapf(err, "%s: y must be scalar", op)
	}
	for i, x := range xs {
		if x == nil {
			return nil, errors.Errorf("%s: xs[%d] is required", op, i)
		}
	}
	out := make([]*expr.Expr, len(xs))
	for i, x := range xs {
		i := i
		out[i] = expr.New(x.Shape(), x.DType(), gradientCost, func(ctxt *expr.Ctxt) (backend.Node, error) {
			nodes, err := gradNodes(ctxt, y, xs, dy)
			if err != nil {
				return nil, err
			}
			return nodes[i], nil
		})
	}
	return out, nil
}

func gradNodes(ctxt *expr.Ctxt, y *expr.Expr, xs []*expr.Expr, dy *expr.Expr) ([]backend.Node, error) {
	return ctxt.MaterializeGrad(y, xs, dy, func(ctxt *expr.Ctxt) ([]backend.Node, error) {
		ny, err := y.Materialize(ctxt)
		if err != nil {
			return nil, err
		}
		nxs := make([]backend.Node, len(xs))
		for i, x := range xs {
			n, err := x.Materialize(ctxt)
			if err != nil {
				return nil, err
			}
			nxs[i] = n
		}
		var ndy backend.Node
		if dy != nil {
			ndy, err = dy.Materialize(ctxt)
			if err != nil {
				return nil, err
			}
		}
		return ctxt.Graph.Gradients(ny, nxs, ndy)
	})
}

// Diff returns dy/dx.
func Diff(y, x *expr.Expr) (*expr.Expr, error) {
	gs, err := Gradients(y, []*expr.Expr{x}, nil)
	if err != nil {
		return nil, err
	}
	return gs[0], nil
}

// DiffN returns the n-th derivative of y with respect to x, applying Diff
// repeatedly. DiffN(y, x, 0) returns y unchanged.
func DiffN(y, x *expr.Expr, n int) (*expr.Expr, error) {
	if n < 0 {
		return nil, errors.Errorf("diffN: n must be >= 0, got %d", n)
	}
	cur := y
	for i := 0; i < n; i++ {
		var err error
		cur, err = Diff(cur, x)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func sliceAt(x *expr.Expr, i int) (*expr.Expr, error) {
	idx := i
	return ops.Slice(x, []ops.SliceAxis{{Index: &idx}})
}

func vectorLen(op, name string, x *expr.Expr) (int, error) {
	sh := x.Shape()
	if sh.HasFlex() || sh.Rank() != 1 {
		return 0, errors.Errorf("%s: %s must be rank 1, got %s", op, name, sh)
	}
	n, ok := dim.Resolve(sh.Dims[0])
	if !ok {
		return 0, errors.Errorf("%s: %s's length must be known", op, name)
	}
	return n, nil
}

// Jacobian returns the matrix whose i-th row is Diff(y[i], x), for
// rank-1 y and x.
func Jacobian(y, x *expr.Expr) (*expr.Expr, error) {
	const op = "jacobian"
	n, err := vectorLen(op, "y", y)
	if err != nil {
		return nil, err
	}
	rows := make([]*expr.Expr, n)
	for i := 0; i < n; i++ {
		yi, err := sliceAt(y, i)
		if err != nil {
			return nil, err
		}
		gi, err := Diff(yi, x)
		if err != nil {
			return nil, err
		}
		rows[i] = gi
	}
	return ops.Stack(rows, 0)
}

// Hessian returns the matrix of second partial derivatives of scalar y
// with respect to vector x: the Jacobian of Diff(y, x).
func Hessian(y, x *expr.Expr) (*expr.Expr, error) {
	g, err := Diff(y, x)
	if err != nil {
		return nil, err
	}
	return Jacobian(g, x)
}

// Laplacian returns the trace of the Hessian of scalar y with respect to
// vector x.
func Laplacian(y, x *expr.Expr) (*expr.Expr, error) {
	h, err := Hessian(y, x)
	if err != nil {
		return nil, err
	}
	diag, err := ops.DiagPart(h)
	if err != nil {
		return nil, err
	}
	return ops.Sum(diag, nil, false)
}

// Divergence returns sum_i dF_i/dx_i for a vector field f defined over
// the same-length variable vector x.
func Divergence(f, x *expr.Expr) (*expr.Expr, error) {
	const op = "divergence"
	n, err := vectorLen(op, "f", f)
	if err != nil {
		return nil, err
	}
	if m, err := vectorLen(op, "x", x); err != nil {
		return nil, err
	} else if m != n {
		return nil, errors.Errorf("%s: f and x must have the same length, got %d and %d", op, n, m)
	}
	var sum *expr.Expr
	for i := 0; i < n; i++ {
		fi, err := sliceAt(f, i)
		if err != nil {
			return nil, err
		}
		gi, err := Diff(fi, x)
		if err != nil {
			return nil, err
		}
		gii, err := sliceAt(gi, i)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = gii
			continue
		}
		sum, err = ops.Add(sum, gii)
		if err != nil {
			return nil, err
		}
	}
	return sum, nil
}

// Curl returns the curl of a 3-component vector field f defined over a
// 3-variable vector x. Undefined outside three dimensions.
func Curl(f, x *expr.Expr) (*expr.Expr, error) {
	const op = "curl"
	n, err := vectorLen(op, "f", f)
	if err != nil {
		return nil, err
	}
	if n != 3 {
		return nil, errors.Errorf("%s: curl is only defined for 3-component fields, got length %d", op, n)
	}
	m, err := vectorLen(op, "x", x)
	if err != nil {
		return nil, err
	}
	if m != 3 {
		return nil, errors.Errorf("%s: curl requires a 3-variable field, got length %d", op, m)
	}
	j, err := Jacobian(f, x) // j[i][k] == dF_i/dx_k
	if err != nil {
		return nil, err
	}
	component := func(i, k int) (*expr.Expr, error) {
		ii, kk := i, k
		return ops.Slice(j, []ops.SliceAxis{{Index: &ii}, {Index: &kk}})
	}
	pairDiff := func(i1, k1, i2, k2 int) (*expr.Expr, error) {
		a, err := component(i1, k1)
		if err != nil {
			return nil, err
		}
		b, err := component(i2, k2)
		if err != nil {
			return nil, err
		}
		return ops.Sub(a, b)
	}
	c0, err := pairDiff(2, 1, 1, 2)
	if err != nil {
		return nil, err
	}
	c1, err := pairDiff(0, 2, 2, 0)
	if err != nil {
		return nil, err
	}
	c2, err := pairDiff(1, 0, 0, 1)
	if err != nil {
		return nil, err
	}
	return ops.Stack([]*expr.Expr{c0, c1, c2}, 0)
}
