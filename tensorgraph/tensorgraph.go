// Package tensorgraph is the module's public entry point: tensor-literal
// constructors, the extraction/evaluation convenience surface built on
// top of session.Session, and the
// process-wide live-check toggle. Everything else in this module — dim,
// shape, expr, ops, grad, session — is reachable directly, but this
// package is what a caller typically imports first.
package tensorgraph

import (
	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/expr"
	"github.com/flarelee/tensorgraph/internal/livecheck"
	"github.com/flarelee/tensorgraph/ops"
	"github.com/flarelee/tensorgraph/session"
	"github.com/flarelee/tensorgraph/shape"
)

// LiveCheck reports whether the process is running in live-check mode,
// toggled by the LIVECHECK environment variable.
func LiveCheck() bool { return livecheck.Enabled() }

// literalTensor is the constant payload backing every tensorgraph
// literal constructor: a flat, row-major buffer plus the dims and
// element type that describe it.
type literalTensor struct {
	dims  []int
	dtype backend.DType
	flat  any
}

func (t *literalTensor) Shape() []int         { return t.dims }
func (t *literalTensor) DType() backend.DType { return t.dtype }
func (t *literalTensor) Flat() any            { return t.flat }

func leaf(sh shape.Shape, dims []int, flat []float64) *expr.Expr {
	t := &literalTensor{dims: dims, dtype: backend.Float64, flat: flat}
	build := func(ctxt *expr.Ctxt) (backend.Node, error) { return ctxt.Graph.Constant(t) }
	literal := func() (backend.Tensor, error) { return t, nil }
	return expr.NewConstant(sh, backend.Float64, build, literal)
}

// Scalar returns a rank-0 constant expression. When flex is true its
// shape carries an open flex tail so it can unify with a value of any
// rank during a later operator call.
func Scalar(v float64, flex bool) *expr.Expr {
	sh := shape.Scalar()
	if flex {
		sh = shape.FlexOf()
	}
	return leaf(sh, nil, []float64{v})
}

// Vec returns a rank-1 constant expression from vs.
func Vec(vs []float64) *expr.Expr {
	return leaf(shape.Fixed(len(vs)), []int{len(vs)}, append([]float64{}, vs...))
}

// Matrix returns a rank-2 constant expression from a rectangular slice
// of rows. All rows must share the same length.
func Matrix(rows [][]float64) (*expr.Expr, error) {
	if len(rows) == 0 {
		return nil, errors.New("matrix: at least one row is required")
	}
	cols := len(rows[0])
	flat := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, errors.Errorf("matrix: row %d has length %d, want %d", i, len(row), cols)
		}
		flat = append(flat, row...)
	}
	return leaf(shape.Fixed(len(rows), cols), []int{len(rows), cols}, flat), nil
}

// Tensor3 returns a rank-3 constant expression from a rectangular
// [d0][d1][d2] nested slice.
func Tensor3(data [][][]float64) (*expr.Expr, error) {
	if len(data) == 0 || len(data[0]) == 0 {
		return nil, errors.New("tensor3: empty input")
	}
	d0, d1, d2 := len(data), len(data[0]), len(data[0][0])
	flat := make([]float64, 0, d0*d1*d2)
	for i, plane := range data {
		if len(plane) != d1 {
			return nil, errors.Errorf("tensor3: axis 0 index %d has length %d, want %d", i, len(plane), d1)
		}
		for j, row := range plane {
			if len(row) != d2 {
				return nil, errors.Errorf("tensor3: [%d][%d] has length %d, want %d", i, j, len(row), d2)
			}
			flat = append(flat, row...)
		}
	}
	return leaf(shape.Fixed(d0, d1, d2), []int{d0, d1, d2}, flat), nil
}

// Tensor4 returns a rank-4 constant expression from a rectangular
// [d0][d1][d2][d3] nested slice.
func Tensor4(data [][][][]float64) (*expr.Expr, error) {
	if len(data) == 0 || len(data[0]) == 0 || len(data[0][0]) == 0 {
		return nil, errors.New("tensor4: empty input")
	}
	d0, d1, d2, d3 := len(data), len(data[0]), len(data[0][0]), len(data[0][0][0])
	flat := make([]float64, 0, d0*d1*d2*d3)
	for i, vol := range data {
		if len(vol) != d1 {
			return nil, errors.Errorf("tensor4: axis 0 index %d has length %d, want %d", i, len(vol), d1)
		}
		for j, plane := range vol {
			if len(plane) != d2 {
				return nil, errors.Errorf("tensor4: [%d][%d] has length %d, want %d", i, j, len(plane), d2)
			}
			for k, row := range plane {
				if len(row) != d3 {
					return nil, errors.Errorf("tensor4: [%d][%d][%d] has length %d, want %d", i, j, k, len(row), d3)
				}
				flat = append(flat, row...)
			}
		}
	}
	return leaf(shape.Fixed(d0, d1, d2, d3), []int{d0, d1, d2, d3}, flat), nil
}

// Pixel returns a rank-1 constant expression of channel values for one
// image pixel.
func Pixel(channels []float64) *expr.Expr {
	return Vec(channels)
}

// Image returns a rank-3 [height, width, channels] constant expression.
func Image(data [][][]float64) (*expr.Expr, error) {
	return Tensor3(data)
}

// Video returns a rank-4 [frames, height, width, channels] constant
// expression.
func Video(data [][][][]float64) (*expr.Expr, error) {
	return Tensor4(data)
}

// Batch stacks xs, all of the same shape and element type, along a new
// leading axis, backed by ops.Stack.
func Batch(xs []*expr.Expr) (*expr.Expr, error) {
	return ops.Stack(xs, 0)
}

// Variable declares a named, potentially trainable node whose default
// value is def, backed by ops.Variable.
func Variable(def *expr.Expr, name string) (*expr.Expr, error) {
	return ops.Variable(def, name)
}

// ToScalar evaluates e as a rank-0 expression on platform and returns
// its single float64 value.
func ToScalar(platform backend.Platform, e *expr.Expr) (float64, error) {
	flat, dims, err := evalOne(platform, e)
	if err != nil {
		return 0, err
	}
	if len(dims) != 0 {
		return 0, errors.Errorf("to_scalar: expression has rank %d, want 0", len(dims))
	}
	if len(flat) != 1 {
		return 0, errors.Errorf("to_scalar: expected exactly one value, got %d", len(flat))
	}
	return flat[0], nil
}

// ToArray evaluates e as a rank-1 expression and returns its values.
func ToArray(platform backend.Platform, e *expr.Expr) ([]float64, error) {
	flat, dims, err := evalOne(platform, e)
	if err != nil {
		return nil, err
	}
	if len(dims) != 1 {
		return nil, errors.Errorf("to_array: expression has rank %d, want 1", len(dims))
	}
	return flat, nil
}

// ToArray2D evaluates e as a rank-2 expression and reshapes its values
// into rows.
func ToArray2D(platform backend.Platform, e *expr.Expr) ([][]float64, error) {
	flat, dims, err := evalOne(platform, e)
	if err != nil {
		return nil, err
	}
	if len(dims) != 2 {
		return nil, errors.Errorf("to_array_2d: expression has rank %d, want 2", len(dims))
	}
	return chunk2(flat, dims[0], dims[1]), nil
}

// ToArray3D evaluates e as a rank-3 expression and reshapes its values.
func ToArray3D(platform backend.Platform, e *expr.Expr) ([][][]float64, error) {
	flat, dims, err := evalOne(platform, e)
	if err != nil {
		return nil, err
	}
	if len(dims) != 3 {
		return nil, errors.Errorf("to_array_3d: expression has rank %d, want 3", len(dims))
	}
	out := make([][][]float64, dims[0])
	stride := dims[1] * dims[2]
	for i := range out {
		out[i] = chunk2(flat[i*stride:(i+1)*stride], dims[1], dims[2])
	}
	return out, nil
}

// ToArray4D evaluates e as a rank-4 expression and reshapes its values.
func ToArray4D(platform backend.Platform, e *expr.Expr) ([][][][]float64, error) {
	flat, dims, err := evalOne(platform, e)
	if err != nil {
		return nil, err
	}
	if len(dims) != 4 {
		return nil, errors.Errorf("to_array_4d: expression has rank %d, want 4", len(dims))
	}
	out := make([][][][]float64, dims[0])
	outer := dims[1] * dims[2] * dims[3]
	inner := dims[2] * dims[3]
	for i := range out {
		block := flat[i*outer : (i+1)*outer]
		plane := make([][][]float64, dims[1])
		for j := range plane {
			plane[j] = chunk2(block[j*inner:(j+1)*inner], dims[2], dims[3])
		}
		out[i] = plane
	}
	return out, nil
}

// GetValue evaluates e and returns its raw flat values plus its resolved
// dimensions, for callers that don't know the rank up front.
func GetValue(platform backend.Platform, e *expr.Expr) ([]float64, []int, error) {
	return evalOne(platform, e)
}

func chunk2(flat []float64, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = append([]float64{}, flat[i*cols:(i+1)*cols]...)
	}
	return out
}

func evalOne(platform backend.Platform, e *expr.Expr) ([]float64, []int, error) {
	s, err := session.New(platform, "eval")
	if err != nil {
		return nil, nil, err
	}
	defer s.Close()
	tensors, err := s.Run([]*expr.Expr{e}, nil)
	if err != nil {
		return nil, nil, err
	}
	return flatten(tensors[0])
}

func flatten(t backend.Tensor) ([]float64, []int, error) {
	dims := t.Shape()
	switch flat := t.Flat().(type) {
	case []float64:
		return flat, dims, nil
	case []float32:
		out := make([]float64, len(flat))
		for i, v := range flat {
			out[i] = float64(v)
		}
		return out, dims, nil
	case []int32:
		out := make([]float64, len(flat))
		for i, v := range flat {
			out[i] = float64(v)
		}
		return out, dims, nil
	case []int64:
		out := make([]float64, len(flat))
		for i, v := range flat {
			out[i] = float64(v)
		}
		return out, dims, nil
	default:
		return nil, nil, errors.Errorf("get_value: unsupported element type %T", flat)
	}
}

// Eval runs one expression and returns its flat values.
func Eval(platform backend.Platform, e *expr.Expr) ([]float64, error) {
	flat, _, err := evalOne(platform, e)
	return flat, err
}

// Eval2 runs two expressions in one session and returns their flat
// values.
func Eval2(platform backend.Platform, e1, e2 *expr.Expr) ([]float64, []float64, error) {
	vs, err := evalAll(platform, e1, e2)
	if err != nil {
		return nil, nil, err
	}
	return vs[0], vs[1], nil
}

// Eval3 runs three expressions in one session and returns their flat
// values.
func Eval3(platform backend.Platform, e1, e2, e3 *expr.Expr) ([]float64, []float64, []float64, error) {
	vs, err := evalAll(platform, e1, e2, e3)
	if err != nil {
		return nil, nil, nil, err
	}
	return vs[0], vs[1], vs[2], nil
}

func evalAll(platform backend.Platform, es ...*expr.Expr) ([][]float64, error) {
	s, err := session.New(platform, "eval")
	if err != nil {
		return nil, err
	}
	defer s.Close()
	tensors, err := s.Run(es, nil)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(tensors))
	for i, t := range tensors {
		flat, _, err := flatten(t)
		if err != nil {
			return nil, err
		}
		out[i] = flat
	}
	return out, nil
}

