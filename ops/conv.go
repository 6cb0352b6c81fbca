package ops

import (
	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/dim"
	"github.com/flarelee/tensorgraph/expr"
	"github.com/flarelee/tensorgraph/shape"
)

func requireRank4(op, name string, s shape.Shape) error {
	if s.HasFlex() || s.Rank() != 4 {
		return errors.Errorf("%s: %s must have exactly rank 4, got %s", op, name, s)
	}
	return nil
}

// Conv2D infers the output shape of a 2D convolution: input [N,H,W,C],
// filter [F1,F2,C,C'], stride s -> [N, ceil(H/s), ceil(W/s), C'].
// padding is passed through to the backend uninterpreted by shape
// inference; an empty string defaults to "SAME".
func Conv2D(x, filter *expr.Expr, stride int, padding string) (*expr.Expr, error) {
	const op = "conv2d"
	if err := requireNotNil(op, "x", x); err != nil {
		return nil, err
	}
	if err := requireNotNil(op, "filter", filter); err != nil {
		return nil, err
	}
	if stride < 1 {
		return nil, errors.Errorf("%s: stride must be >= 1, got %d", op, stride)
	}
	if padding == "" {
		padding = "SAME"
	}
	xShape := x.Shape()
	fShape := filter.Shape()
	if err := requireRank4(op, "input", xShape); err != nil {
		return nil, err
	}
	if err := requireRank4(op, "filter", fShape); err != nil {
		return nil, err
	}
	if err := dim.Unify(op, xShape.Dims[3], fShape.Dims[2]); err != nil {
		return nil, errors.Wrapf(err, "%s: input channels must match filter's input channels", op)
	}
	outShape := shape.Of(
		xShape.Dims[0],
		dim.Div{D: xShape.Dims[1], K: stride},
		dim.Div{D: xShape.Dims[2], K: stride},
		fShape.Dims[3],
	)
	dt, err := requireSameDType(op, x, filter)
	if err != nil {
		return nil, err
	}
	cost := x.Cost() + filter.Cost() + 1
	return expr.New(outShape, dt, cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nodes, err := materializeAll(ctxt, x, filter)
		if err != nil {
			return nil, err
		}
		return ctxt.Graph.Conv2D(nodes[0], nodes[1], stride, padding)
	}), nil
}

// Conv2DBackpropInput infers the shape of the input gradient of a 2D
// convolution: filter [F1,F2,Cin,Cout], out_backprop [N,H,W,Cout], stride
// s -> [N, H*s, W*s, Cin], unifying the output-channel
// dimension.
func Conv2DBackpropInput(filter, outBackprop *expr.Expr, stride int, padding string) (*expr.Expr, error) {
	const op = "conv2d_backprop_input"
	if err := requireNotNil(op, "filter", filter); err != nil {
		return nil, err
	}
	if err := requireNotNil(op, "out_backprop", outBackprop); err != nil {
		return nil, err
	}
	if stride < 1 {
		return nil, errors.Errorf("%s: stride must be >= 1, got %d", op, stride)
	}
	if padding == "" {
		padding = "SAME"
	}
	fShape := filter.Shape()
	obShape := outBackprop.Shape()
	if err := requireRank4(op, "filter", fShape); err != nil {
		return nil, err
	}
	if err := requireRank4(op, "out_backprop", obShape); err != nil {
		return nil, err
	}
	if err := dim.Unify(op, fShape.Dims[3], obShape.Dims[3]); err != nil {
		return nil, errors.Wrapf(err, "%s: filter output channels must match out_backprop channels", op)
	}
	outShape := shape.Of(
		obShape.Dims[0],
		dim.Mul{D: obShape.Dims[1], K: stride},
		dim.Mul{D: obShape.Dims[2], K: stride},
		fShape.Dims[2],
	)
	dt, err := requireSameDType(op, filter, outBackprop)
	if err != nil {
		return nil, err
	}
	cost := filter.Cost() + outBackprop.Cost() + 1
	return expr.New(outShape, dt, cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nodes, err := materializeAll(ctxt, filter, outBackprop)
		if err != nil {
			return nil, err
		}
		inputShape := make([]int, 4)
		for i, d := range outShape.Dims {
			n, ok := dim.Resolve(d)
			if !ok {
				n = -1
			}
			inputShape[i] = n
		}
		return ctxt.Graph.Conv2DBackpropInput(inputShape, nodes[0], nodes[1], stride, padding)
	}), nil
}
