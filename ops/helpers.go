// Package ops is the shape-inferring operator library: every constructor
// validates/unifies its input shapes, derives an output shape, and
// returns a new expr.Expr whose build closure lowers the
// operator into the backend graph. No operator ever touches the backend
// until an expr.Ctxt materializes it.
package ops

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/expr"
)

// multierrAppend aggregates independent validation failures from
// variadic-input operators (Stack and friends) so a caller sees every
// mismatched shape at once instead of only the first.
func multierrAppend(errs error, err error) error {
	return multierr.Append(errs, err)
}

func materializeAll(ctxt *expr.Ctxt, xs ...*expr.Expr) ([]backend.Node, error) {
	nodes := make([]backend.Node, len(xs))
	for i, x := range xs {
		n, err := x.Materialize(ctxt)
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return nodes, nil
}

func requireSameDType(op string, xs ...*expr.Expr) (backend.DType, error) {
	if len(xs) == 0 {
		return 0, errors.Errorf("%s: no inputs", op)
	}
	dt := xs[0].DType()
	for _, x := range xs[1:] {
		if x.DType() != dt {
			return 0, errors.Errorf("%s: mismatched element types %s and %s", op, dt, x.DType())
		}
	}
	return dt, nil
}

func requireNotNil(op, argName string, x *expr.Expr) error {
	if x == nil {
		return errors.Errorf("%s: %s is required", op, argName)
	}
	return nil
}
