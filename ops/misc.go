package ops

import (
	"log"

	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/dim"
	"github.com/flarelee/tensorgraph/expr"
	"github.com/flarelee/tensorgraph/shape"
)

// Cast returns x reinterpreted under a different element type, shape
// unchanged.
func Cast(x *expr.Expr, dtype backend.DType) (*expr.Expr, error) {
	const op = "cast"
	if err := requireNotNil(op, "x", x); err != nil {
		return nil, err
	}
	cost := x.Cost() + 1
	return expr.New(x.Shape(), dtype, cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nx, err := x.Materialize(ctxt)
		if err != nil {
			return nil, err
		}
		return ctxt.Graph.Cast(nx, dtype)
	}), nil
}

// DecodeJpeg decodes a scalar string expression into a rank-3 image of
// unknown height and width and the requested channel count.
func DecodeJpeg(encoded *expr.Expr, channels int) (*expr.Expr, error) {
	const op = "decode_jpeg"
	if err := requireNotNil(op, "encoded", encoded); err != nil {
		return nil, err
	}
	if !encoded.Shape().IsScalar() {
		return nil, errors.Errorf("%s: encoded input must be a scalar, got %s", op, encoded.Shape())
	}
	if encoded.DType() != backend.String {
		return nil, errors.Errorf("%s: encoded input must be string-typed, got %s", op, encoded.DType())
	}
	if channels < 1 {
		return nil, errors.Errorf("%s: channels must be >= 1, got %d", op, channels)
	}
	outShape := shape.Of(dim.NewVar(), dim.NewVar(), dim.Known{N: channels})
	cost := encoded.Cost() + 1
	return expr.New(outShape, backend.Float32, cost, func(ctxt *expr.Ctxt) (backend.Node, error) {
		nx, err := encoded.Materialize(ctxt)
		if err != nil {
			return nil, err
		}
		return ctxt.Graph.DecodeJpeg(nx, channels)
	}), nil
}

// TruncatedNormal returns a leaf expression sampling a tensor of the
// given fixed shape and element type from a truncated normal
// distribution. Sampling happens once per materialization like any
// other node; there is no separate seed-management surface in this
// module.
func TruncatedNormal(dims []int, dtype backend.DType) (*expr.Expr, error) {
	const op = "truncated_normal"
	for _, n := range dims {
		if n < 0 {
			return nil, errors.Errorf("%s: dims must be non-negative, got %v", op, dims)
		}
	}
	outShape := shape.Fixed(dims...)
	return expr.New(outShape, dtype, 1, func(ctxt *expr.Ctxt) (backend.Node, error) {
		return ctxt.Graph.TruncatedNormal(dims, dtype)
	}), nil
}

// Variable wraps def as a named, potentially trainable node. At
// materialization time it consults ctxt for a caller-supplied binding of
// the same name: if one is bound and shares def's element type, the
// binding is lowered instead of def; on any weight-map miss (no binding
// at all, or a binding with the wrong element type), a diagnostic is
// logged and def is lowered instead. Cost is fixed at 100, the
// convention this module uses to discourage eager display evaluation of
// trainable state.
func Variable(def *expr.Expr, name string) (*expr.Expr, error) {
	const op = "variable"
	if err := requireNotNil(op, "def", def); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.Errorf("%s: name is required", op)
	}
	return expr.New(def.Shape(), def.DType(), 100, func(ctxt *expr.Ctxt) (backend.Node, error) {
		bound, ok := ctxt.Weight(name)
		switch {
		case ok && bound.DType() == def.DType():
			return bound.Materialize(ctxt)
		case ok:
			log.Printf("variable %q: bound value has element type %s, want %s; using default", name, bound.DType(), def.DType())
		default:
			log.Printf("variable %q: no bound value in weight map; using default", name)
		}
		ndef, err := def.Materialize(ctxt)
		if err != nil {
			return nil, err
		}
		return ctxt.Graph.Variable(name, ndef)
	}), nil
}
