// Package nativebackend is a minimal, in-tree implementation of the
// backend package's interfaces; the real tensor engine is out of scope.
// It exists solely so this module's own tests can exercise
// session.Session and grad.Gradients end to end; its numerical semantics
// for shape-only operators (Conv2D, DecodeJpeg, TruncatedNormal) are not
// meant to be faithful — only how their shapes compose is. Grounded on
// gx-org-gx's golang/backend/kernels dispatch style (per-dtype array
// factories), reduced to a single float64 array kind.
package nativebackend

import (
	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/backend"
)

// Tensor is a dense, row-major float64 array carrying a declared element
// type tag. Every arithmetic kernel in this package operates on float64
// regardless of dtype; Cast only ever changes the tag.
type Tensor struct {
	dims  []int
	dtype backend.DType
	data  []float64
}

// Shape returns the tensor's dimensions.
func (t *Tensor) Shape() []int { return t.dims }

// DType returns the tensor's element type tag.
func (t *Tensor) DType() backend.DType { return t.dtype }

// Flat returns the tensor's values in row-major order, converted to the
// Go type its DType tag names.
func (t *Tensor) Flat() any {
	switch t.dtype {
	case backend.Float32:
		out := make([]float32, len(t.data))
		for i, v := range t.data {
			out[i] = float32(v)
		}
		return out
	case backend.Int32:
		out := make([]int32, len(t.data))
		for i, v := range t.data {
			out[i] = int32(v)
		}
		return out
	case backend.Int64:
		out := make([]int64, len(t.data))
		for i, v := range t.data {
			out[i] = int64(v)
		}
		return out
	default:
		return append([]float64{}, t.data...)
	}
}

func newTensor(dims []int, dtype backend.DType, data []float64) *Tensor {
	return &Tensor{dims: append([]int{}, dims...), dtype: dtype, data: data}
}

func zeros(dims []int, dtype backend.DType) *Tensor {
	return newTensor(dims, dtype, make([]float64, size(dims)))
}

func size(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

// fromBackendTensor copies an arbitrary backend.Tensor into our own
// representation, for feeds supplied through the low-level Runner path.
func fromBackendTensor(bt backend.Tensor) (*Tensor, error) {
	if t, ok := bt.(*Tensor); ok {
		return t, nil
	}
	dims := bt.Shape()
	n := size(dims)
	data := make([]float64, n)
	switch flat := bt.Flat().(type) {
	case []float64:
		copy(data, flat)
	case []float32:
		for i, v := range flat {
			data[i] = float64(v)
		}
	case []int32:
		for i, v := range flat {
			data[i] = float64(v)
		}
	case []int64:
		for i, v := range flat {
			data[i] = float64(v)
		}
	default:
		return nil, errors.Errorf("nativebackend: unsupported feed element type %T", flat)
	}
	return newTensor(dims, bt.DType(), data), nil
}

// broadcastDims computes the NumPy-style right-aligned broadcast shape
// of a and b, matching shape.EquivShapes's rule (size-1 axes stretch).
func broadcastDims(a, b []int) ([]int, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		ai, bi := 1, 1
		if idx := len(a) - n + i; idx >= 0 {
			ai = a[idx]
		}
		if idx := len(b) - n + i; idx >= 0 {
			bi = b[idx]
		}
		switch {
		case ai == bi:
			out[i] = ai
		case ai == 1:
			out[i] = bi
		case bi == 1:
			out[i] = ai
		default:
			return nil, errors.Errorf("nativebackend: cannot broadcast %v and %v", a, b)
		}
	}
	return out, nil
}

// broadcastIndex maps a flat index in the broadcast shape to the source
// flat index in a tensor of shape dims (row-major, size-1 axes repeat).
func broadcastIndex(idx int, outDims, dims []int) int {
	rank := len(outDims)
	coord := make([]int, rank)
	rem := idx
	for i := rank - 1; i >= 0; i-- {
		coord[i] = rem % outDims[i]
		rem /= outDims[i]
	}
	offset := rank - len(dims)
	srcIdx, stride := 0, 1
	for i := len(dims) - 1; i >= 0; i-- {
		c := coord[offset+i]
		if dims[i] == 1 {
			c = 0
		}
		srcIdx += c * stride
		stride *= dims[i]
	}
	return srcIdx
}

func elementwiseBinary(a, b *Tensor, f func(x, y float64) float64) (*Tensor, error) {
	out, err := broadcastDims(a.dims, b.dims)
	if err != nil {
		return nil, err
	}
	n := size(out)
	data := make([]float64, n)
	for i := 0; i < n; i++ {
		data[i] = f(a.data[broadcastIndex(i, out, a.dims)], b.data[broadcastIndex(i, out, b.dims)])
	}
	return newTensor(out, a.dtype, data), nil
}

func elementwiseUnary(a *Tensor, f func(x float64) float64) *Tensor {
	data := make([]float64, len(a.data))
	for i, v := range a.data {
		data[i] = f(v)
	}
	return newTensor(a.dims, a.dtype, data)
}

// sumTo reduces grad (shaped like the broadcast output) back down to
// dims, summing over every axis that was stretched to produce it —
// the standard reverse-mode rule for a broadcasting binary op.
func sumTo(grad *Tensor, dims []int) *Tensor {
	if len(grad.dims) == len(dims) {
		same := true
		for i := range dims {
			if dims[i] != grad.dims[i] {
				same = false
				break
			}
		}
		if same {
			return grad
		}
	}
	out := zeros(dims, grad.dtype)
	n := size(grad.dims)
	for i := 0; i < n; i++ {
		out.data[broadcastIndex(i, grad.dims, dims)] += grad.data[i]
	}
	return out
}
