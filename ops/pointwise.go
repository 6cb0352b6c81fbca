package ops

import (
	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/expr"
	"github.com/flarelee/tensorgraph/shape"
)

// BinaryFn is a Graph method with the (x, y Node) (Node, error) shape,
// e.g. backend.Graph.Add.
type BinaryFn func(g backend.Graph, x, y backend.Node) (backend.Node, error)

func binary(op string, x, y *expr.Expr, apply BinaryFn) (*expr.Expr, error) {
	if err := requireNotNil(op, "x", x); err != nil {
		return nil, err
	}
	if err := requireNotNil(op, "y", y); err != nil {
		return nil, err
	}
	dt, err := requireSameDType(op, x, y)
	if err != nil {
		return nil, err
	}
	outShape, err := shape.EquivShapes(op, x.Shape(), y.Shape())
	if err != nil {
		return nil, err
	}
	cost := x.Cost() + y.Cost() + 1
	return expr.New(outShape, dt, cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nodes, err := materializeAll(ctxt, x, y)
		if err != nil {
			return nil, err
		}
		return apply(ctxt.Graph, nodes[0], nodes[1])
	}), nil
}

// Add returns x + y, pointwise with broadcasting.
func Add(x, y *expr.Expr) (*expr.Expr, error) {
	return binary("add", x, y, func(g backend.Graph, x, y backend.Node) (backend.Node, error) { return g.Add(x, y) })
}

// Sub returns x - y, pointwise with broadcasting.
func Sub(x, y *expr.Expr) (*expr.Expr, error) {
	return binary("sub", x, y, func(g backend.Graph, x, y backend.Node) (backend.Node, error) { return g.Sub(x, y) })
}

// Mul returns x * y, pointwise with broadcasting.
func Mul(x, y *expr.Expr) (*expr.Expr, error) {
	return binary("mul", x, y, func(g backend.Graph, x, y backend.Node) (backend.Node, error) { return g.Mul(x, y) })
}

// Div returns x / y, pointwise with broadcasting.
func Div(x, y *expr.Expr) (*expr.Expr, error) {
	return binary("div", x, y, func(g backend.Graph, x, y backend.Node) (backend.Node, error) { return g.Div(x, y) })
}

// UnaryFn is a Graph method with the (x Node) (Node, error) shape.
type UnaryFn func(g backend.Graph, x backend.Node) (backend.Node, error)

func unary(op string, x *expr.Expr, apply UnaryFn) (*expr.Expr, error) {
	if err := requireNotNil(op, "x", x); err != nil {
		return nil, err
	}
	cost := x.Cost() + 1
	return expr.New(x.Shape(), x.DType(), cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nx, err := x.Materialize(ctxt)
		if err != nil {
			return nil, err
		}
		return apply(ctxt.Graph, nx)
	}), nil
}

// Neg returns -x.
func Neg(x *expr.Expr) (*expr.Expr, error) {
	return unary("neg", x, func(g backend.Graph, x backend.Node) (backend.Node, error) { return g.Neg(x) })
}

// Abs returns |x|.
func Abs(x *expr.Expr) (*expr.Expr, error) {
	return unary("abs", x, func(g backend.Graph, x backend.Node) (backend.Node, error) { return g.Abs(x) })
}

// Sin returns sin(x).
func Sin(x *expr.Expr) (*expr.Expr, error) {
	return unary("sin", x, func(g backend.Graph, x backend.Node) (backend.Node, error) { return g.Sin(x) })
}

// Exp returns e^x.
func Exp(x *expr.Expr) (*expr.Expr, error) {
	return unary("exp", x, func(g backend.Graph, x backend.Node) (backend.Node, error) { return g.Exp(x) })
}

// Sqrt returns sqrt(x).
func Sqrt(x *expr.Expr) (*expr.Expr, error) {
	return unary("sqrt", x, func(g backend.Graph, x backend.Node) (backend.Node, error) { return g.Sqrt(x) })
}

// Relu returns max(x, 0).
func Relu(x *expr.Expr) (*expr.Expr, error) {
	return unary("relu", x, func(g backend.Graph, x backend.Node) (backend.Node, error) { return g.Relu(x) })
}
