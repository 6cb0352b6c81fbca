package ops

import (
	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/dim"
	"github.com/flarelee/tensorgraph/expr"
	"github.com/flarelee/tensorgraph/shape"
)

// Reshape returns x reshaped to the caller-supplied dims. There is no
// algebraic check beyond what the backend itself enforces at run time
// (total element count must match); the DSL only records the requested
// output shape.
func Reshape(x *expr.Expr, dims []int) (*expr.Expr, error) {
	const op = "reshape"
	if err := requireNotNil(op, "x", x); err != nil {
		return nil, err
	}
	outShape := shape.Fixed(dims...)
	cost := x.Cost() + 1
	return expr.New(outShape, x.DType(), cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nx, err := x.Materialize(ctxt)
		if err != nil {
			return nil, err
		}
		return ctxt.Graph.Reshape(nx, dims)
	}), nil
}

// BroadcastTo returns x broadcast to the caller-supplied dims.
func BroadcastTo(x *expr.Expr, dims []int) (*expr.Expr, error) {
	const op = "broadcast_to"
	if err := requireNotNil(op, "x", x); err != nil {
		return nil, err
	}
	outShape := shape.Fixed(dims...)
	cost := x.Cost() + 1
	return expr.New(outShape, x.DType(), cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nx, err := x.Materialize(ctxt)
		if err != nil {
			return nil, err
		}
		return ctxt.Graph.BroadcastTo(nx, dims)
	}), nil
}

// Stack concatenates len(xs) equally-shaped expressions along a new axis
// at position axis, inserting Known(len(xs)) there.
func Stack(xs []*expr.Expr, axis int) (*expr.Expr, error) {
	const op = "stack"
	if len(xs) == 0 {
		return nil, errors.Errorf("%s: at least one input is required", op)
	}
	dt, err := requireSameDType(op, xs...)
	if err != nil {
		return nil, err
	}
	common := xs[0].Shape()
	if axis < 0 || axis > common.Rank() {
		return nil, errors.Errorf("%s: axis %d out of range for rank %d", op, axis, common.Rank())
	}
	errs := multiUnify(op, xs)
	if errs != nil {
		return nil, errs
	}
	outDims := append([]dim.Dim{}, common.Dims[:axis]...)
	outDims = append(outDims, dim.Known{N: len(xs)})
	outDims = append(outDims, common.Dims[axis:]...)
	outShape := shape.Of(outDims...)
	cost := 1
	for _, x := range xs {
		cost += x.Cost()
	}
	return expr.New(outShape, dt, cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nodes, err := materializeAll(ctxt, xs...)
		if err != nil {
			return nil, err
		}
		return ctxt.Graph.Stack(nodes, axis)
	}), nil
}

func multiUnify(op string, xs []*expr.Expr) error {
	var errs error
	first := xs[0].Shape()
	for _, x := range xs[1:] {
		if err := shape.Unify(op, first, x.Shape()); err != nil {
			errs = multierrAppend(errs, err)
		}
	}
	return errs
}

// ExpandDims inserts a freshly inferred dimension at position at,
// left for a downstream broadcast to fill.
func ExpandDims(x *expr.Expr, at int) (*expr.Expr, error) {
	const op = "expand_dims"
	if err := requireNotNil(op, "x", x); err != nil {
		return nil, err
	}
	sh := x.Shape()
	if at < 0 || at > sh.Rank() {
		return nil, errors.Errorf("%s: dim %d out of range for rank %d", op, at, sh.Rank())
	}
	outDims := append([]dim.Dim{}, sh.Dims[:at]...)
	outDims = append(outDims, dim.NewVar())
	outDims = append(outDims, sh.Dims[at:]...)
	outShape := shape.Of(outDims...)
	cost := x.Cost() + 1
	return expr.New(outShape, x.DType(), cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nx, err := x.Materialize(ctxt)
		if err != nil {
			return nil, err
		}
		return ctxt.Graph.ExpandDims(nx, at)
	}), nil
}

// SliceAxis describes the slicing request for one axis of Slice.
// Exactly one of Index or (Start, End) applies:
//   - Index != nil: the axis is squeezed out of the result at this
//     concrete position.
//   - otherwise: the axis becomes a range [Start, End). A nil Start
//     means 0; a nil End yields an inferred output length for that axis.
type SliceAxis struct {
	Index      *int
	Start, End *int
}

// Slice reduces rank by the number of squeezed axes and computes each
// kept axis's length from known bounds, or leaves it Inferred otherwise.
func Slice(x *expr.Expr, axes []SliceAxis) (*expr.Expr, error) {
	const op = "slice"
	if err := requireNotNil(op, "x", x); err != nil {
		return nil, err
	}
	sh := x.Shape()
	if len(axes) > sh.Rank() {
		return nil, errors.Errorf("%s: %d slice specs given for rank %d", op, len(axes), sh.Rank())
	}
	var outDims []dim.Dim
	begin := make([]int, sh.Rank())
	end := make([]int, sh.Rank())
	for i := 0; i < sh.Rank(); i++ {
		if i >= len(axes) {
			outDims = append(outDims, sh.Dims[i])
			end[i] = -1 // full axis; resolved by the backend at run time.
			continue
		}
		a := axes[i]
		if a.Index != nil {
			begin[i] = *a.Index
			end[i] = *a.Index + 1
			continue // squeezed: not added to outDims.
		}
		start := 0
		if a.Start != nil {
			start = *a.Start
		}
		begin[i] = start
		if a.End == nil {
			end[i] = -1
			outDims = append(outDims, dim.NewVar())
			continue
		}
		end[i] = *a.End
		outDims = append(outDims, dim.Known{N: *a.End - start})
	}
	outShape := shape.Of(outDims...)
	cost := x.Cost() + 1
	return expr.New(outShape, x.DType(), cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nx, err := x.Materialize(ctxt)
		if err != nil {
			return nil, err
		}
		return ctxt.Graph.Slice(nx, begin, end)
	}), nil
}
