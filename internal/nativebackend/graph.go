package nativebackend

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/backend"
)

// node is both a backend.Node and, internally, a tape entry: its value
// is computed eagerly at construction time (every input is already a
// concrete constant by the time an ops.* constructor materializes it),
// and its backward closure is kept around so Graph.Gradients can later
// walk the tape in reverse.
type node struct {
	backend.Sealed
	name   string
	val    *Tensor
	inputs []*node
	// backward computes, given the accumulated output gradient, one
	// gradient tensor per input. nil for leaves and non-differentiable
	// operators (Cast, comparisons, control ops).
	backward func(outGrad *Tensor, inputs []*Tensor) ([]*Tensor, error)
}

// Graph is a single-threaded, eagerly-evaluated tape: every constructor
// method both builds and immediately evaluates its node, then records it
// under an auto-generated or scoped name for later lookup by Op.
type Graph struct {
	name    string
	byName  map[string]*node
	counter int
	scope   []string
}

// NewGraph returns an empty, named graph.
func NewGraph(name string) *Graph {
	return &Graph{name: name, byName: map[string]*node{}}
}

// Name returns the graph's name.
func (g *Graph) Name() string { return g.name }

func (g *Graph) autoName(op string) string {
	g.counter++
	prefix := ""
	if len(g.scope) > 0 {
		prefix = strings.Join(g.scope, "/") + "/"
	}
	return fmt.Sprintf("%s%s_%d", prefix, op, g.counter)
}

func (g *Graph) register(op string, n *node) *node {
	n.name = g.autoName(op)
	g.byName[n.name] = n
	return n
}

// Op resolves a previously constructed node by name.
func (g *Graph) Op(name string) (backend.Node, error) {
	n, ok := g.byName[name]
	if !ok {
		return nil, errors.Errorf("nativebackend: no such op %q", name)
	}
	return n, nil
}

// Output selects one output of n by index. This backend never produces
// multi-output nodes (Gradients returns a slice of independent nodes,
// not one multi-output node), so only index 0 is meaningful.
func (g *Graph) Output(n backend.Node, idx int) (backend.Node, error) {
	if idx != 0 {
		return nil, errors.Errorf("nativebackend: node has no output at index %d", idx)
	}
	return n, nil
}

func asNode(n backend.Node) (*node, error) {
	nn, ok := n.(*node)
	if !ok {
		return nil, errors.Errorf("nativebackend: node of type %T not produced by this backend", n)
	}
	return nn, nil
}

func asNodes(ns []backend.Node) ([]*node, []*Tensor, error) {
	out := make([]*node, len(ns))
	vals := make([]*Tensor, len(ns))
	for i, n := range ns {
		nn, err := asNode(n)
		if err != nil {
			return nil, nil, err
		}
		out[i] = nn
		vals[i] = nn.val
	}
	return out, vals, nil
}

// Constant registers t as a leaf node with no backward function.
func (g *Graph) Constant(t backend.Tensor) (backend.Node, error) {
	tt, err := fromBackendTensor(t)
	if err != nil {
		return nil, err
	}
	return g.register("const", &node{val: tt}), nil
}

func (g *Graph) binary(op string, x, y backend.Node, fwd func(a, b float64) float64, bwd func(outGrad, a, b *Tensor) (*Tensor, *Tensor)) (backend.Node, error) {
	xn, err := asNode(x)
	if err != nil {
		return nil, err
	}
	yn, err := asNode(y)
	if err != nil {
		return nil, err
	}
	val, err := elementwiseBinary(xn.val, yn.val, fwd)
	if err != nil {
		return nil, errors.Wrapf(err, "nativebackend: %s", op)
	}
	n := &node{val: val, inputs: []*node{xn, yn}}
	if bwd != nil {
		n.backward = func(outGrad *Tensor, ins []*Tensor) ([]*Tensor, error) {
			ga, gb := bwd(outGrad, ins[0], ins[1])
			return []*Tensor{sumTo(ga, ins[0].dims), sumTo(gb, ins[1].dims)}, nil
		}
	}
	return g.register(op, n), nil
}

// Add returns x + y.
func (g *Graph) Add(x, y backend.Node) (backend.Node, error) {
	return g.binary("add", x, y, func(a, b float64) float64 { return a + b }, func(outGrad, a, b *Tensor) (*Tensor, *Tensor) {
		return outGrad, outGrad
	})
}

// Sub returns x - y.
func (g *Graph) Sub(x, y backend.Node) (backend.Node, error) {
	return g.binary("sub", x, y, func(a, b float64) float64 { return a - b }, func(outGrad, a, b *Tensor) (*Tensor, *Tensor) {
		return outGrad, elementwiseUnary(outGrad, func(v float64) float64 { return -v })
	})
}

// Mul returns x * y.
func (g *Graph) Mul(x, y backend.Node) (backend.Node, error) {
	return g.binary("mul", x, y, func(a, b float64) float64 { return a * b }, func(outGrad, a, b *Tensor) (*Tensor, *Tensor) {
		ga, _ := elementwiseBinary(outGrad, b, func(og, bv float64) float64 { return og * bv })
		gb, _ := elementwiseBinary(outGrad, a, func(og, av float64) float64 { return og * av })
		return ga, gb
	})
}

// Div returns x / y.
func (g *Graph) Div(x, y backend.Node) (backend.Node, error) {
	return g.binary("div", x, y, func(a, b float64) float64 { return a / b }, func(outGrad, a, b *Tensor) (*Tensor, *Tensor) {
		ga, _ := elementwiseBinary(outGrad, b, func(og, bv float64) float64 { return og / bv })
		gb, _ := elementwiseBinary(outGrad, a, func(og, av float64) float64 { return og * av })
		gb, _ = elementwiseBinary(gb, b, func(v, bv float64) float64 { return -v / (bv * bv) })
		return ga, gb
	})
}

func (g *Graph) unary(op string, x backend.Node, fwd func(v float64) float64, bwd func(outGrad, v *Tensor) *Tensor) (backend.Node, error) {
	xn, err := asNode(x)
	if err != nil {
		return nil, err
	}
	val := elementwiseUnary(xn.val, fwd)
	n := &node{val: val, inputs: []*node{xn}}
	if bwd != nil {
		n.backward = func(outGrad *Tensor, ins []*Tensor) ([]*Tensor, error) {
			return []*Tensor{bwd(outGrad, ins[0])}, nil
		}
	}
	return g.register(op, n), nil
}

// Neg returns -x.
func (g *Graph) Neg(x backend.Node) (backend.Node, error) {
	return g.unary("neg", x, func(v float64) float64 { return -v }, func(outGrad, v *Tensor) *Tensor {
		return elementwiseUnary(outGrad, func(g float64) float64 { return -g })
	})
}

// Abs returns |x|.
func (g *Graph) Abs(x backend.Node) (backend.Node, error) {
	return g.unary("abs", x, math.Abs, func(outGrad, v *Tensor) *Tensor {
		out, _ := elementwiseBinary(outGrad, v, func(og, vv float64) float64 {
			if vv < 0 {
				return -og
			}
			return og
		})
		return out
	})
}

// Sin returns sin(x).
func (g *Graph) Sin(x backend.Node) (backend.Node, error) {
	return g.unary("sin", x, math.Sin, func(outGrad, v *Tensor) *Tensor {
		out, _ := elementwiseBinary(outGrad, v, func(og, vv float64) float64 { return og * math.Cos(vv) })
		return out
	})
}

// Exp returns e^x.
func (g *Graph) Exp(x backend.Node) (backend.Node, error) {
	return g.unary("exp", x, math.Exp, func(outGrad, v *Tensor) *Tensor {
		out, _ := elementwiseBinary(outGrad, v, func(og, vv float64) float64 { return og * math.Exp(vv) })
		return out
	})
}

// Sqrt returns sqrt(x).
func (g *Graph) Sqrt(x backend.Node) (backend.Node, error) {
	return g.unary("sqrt", x, math.Sqrt, func(outGrad, v *Tensor) *Tensor {
		out, _ := elementwiseBinary(outGrad, v, func(og, vv float64) float64 { return og / (2 * math.Sqrt(vv)) })
		return out
	})
}

// Relu returns max(x, 0).
func (g *Graph) Relu(x backend.Node) (backend.Node, error) {
	return g.unary("relu", x, func(v float64) float64 { return math.Max(v, 0) }, func(outGrad, v *Tensor) *Tensor {
		out, _ := elementwiseBinary(outGrad, v, func(og, vv float64) float64 {
			if vv > 0 {
				return og
			}
			return 0
		})
		return out
	})
}

// MatMul returns the rank-2 matrix product x @ y.
func (g *Graph) MatMul(x, y backend.Node) (backend.Node, error) {
	xn, err := asNode(x)
	if err != nil {
		return nil, err
	}
	yn, err := asNode(y)
	if err != nil {
		return nil, err
	}
	a, b := xn.val, yn.val
	if len(a.dims) != 2 || len(b.dims) != 2 || a.dims[1] != b.dims[0] {
		return nil, errors.Errorf("nativebackend: matmul: incompatible shapes %v and %v", a.dims, b.dims)
	}
	n1, m, n2 := a.dims[0], a.dims[1], b.dims[1]
	data := make([]float64, n1*n2)
	for i := 0; i < n1; i++ {
		for j := 0; j < n2; j++ {
			var s float64
			for k := 0; k < m; k++ {
				s += a.data[i*m+k] * b.data[k*n2+j]
			}
			data[i*n2+j] = s
		}
	}
	val := newTensor([]int{n1, n2}, a.dtype, data)
	n := &node{val: val, inputs: []*node{xn, yn}}
	n.backward = func(outGrad *Tensor, ins []*Tensor) ([]*Tensor, error) {
		a, b := ins[0], ins[1]
		ga := zeros(a.dims, a.dtype)
		for i := 0; i < n1; i++ {
			for k := 0; k < m; k++ {
				var s float64
				for j := 0; j < n2; j++ {
					s += outGrad.data[i*n2+j] * b.data[k*n2+j]
				}
				ga.data[i*m+k] = s
			}
		}
		gb := zeros(b.dims, b.dtype)
		for k := 0; k < m; k++ {
			for j := 0; j < n2; j++ {
				var s float64
				for i := 0; i < n1; i++ {
					s += a.data[i*m+k] * outGrad.data[i*n2+j]
				}
				gb.data[k*n2+j] = s
			}
		}
		return []*Tensor{ga, gb}, nil
	}
	return g.register("matmul", n), nil
}

func axesOrAll(rank int, axis []int) []int {
	if axis != nil {
		return axis
	}
	all := make([]int, rank)
	for i := range all {
		all[i] = i
	}
	return all
}

func (g *Graph) reduce(opName string, x backend.Node, axis []int, keepDims bool, init float64, combine func(acc, v float64) float64, finish func(acc float64, count int) float64) (backend.Node, error) {
	xn, err := asNode(x)
	if err != nil {
		return nil, err
	}
	v := xn.val
	reduced := map[int]bool{}
	for _, a := range axesOrAll(len(v.dims), axis) {
		reduced[a] = true
	}
	var outDims []int
	for i, d := range v.dims {
		if reduced[i] {
			if keepDims {
				outDims = append(outDims, 1)
			}
			continue
		}
		outDims = append(outDims, d)
	}
	outSize := size(outDims)
	acc := make([]float64, outSize)
	count := make([]int, outSize)
	for i := range acc {
		acc[i] = init
	}
	strides := make([]int, len(v.dims))
	s := 1
	for i := len(v.dims) - 1; i >= 0; i-- {
		strides[i] = s
		s *= v.dims[i]
	}
	for i, val := range v.data {
		rem := i
		coord := make([]int, len(v.dims))
		for d := 0; d < len(v.dims); d++ {
			coord[d] = rem / strides[d]
			rem %= strides[d]
		}
		outIdx, mult := 0, 1
		for d := len(v.dims) - 1; d >= 0; d-- {
			if reduced[d] {
				continue
			}
			outIdx += coord[d] * mult
			mult *= v.dims[d]
		}
		acc[outIdx] = combine(acc[outIdx], val)
		count[outIdx]++
	}
	for i := range acc {
		acc[i] = finish(acc[i], count[i])
	}
	val := newTensor(outDims, v.dtype, acc)
	n := &node{val: val, inputs: []*node{xn}}
	n.backward = func(outGrad *Tensor, ins []*Tensor) ([]*Tensor, error) {
		grad := zeros(v.dims, v.dtype)
		for i := range grad.data {
			rem := i
			coord := make([]int, len(v.dims))
			for d := 0; d < len(v.dims); d++ {
				coord[d] = rem / strides[d]
				rem %= strides[d]
			}
			outIdx, mult := 0, 1
			for d := len(v.dims) - 1; d >= 0; d-- {
				if reduced[d] {
					continue
				}
				outIdx += coord[d] * mult
				mult *= v.dims[d]
			}
			grad.data[i] = outGrad.data[outIdx]
		}
		return []*Tensor{grad}, nil
	}
	return g.register(opName, n), nil
}

// Sum reduces x by summation over axis.
func (g *Graph) Sum(x backend.Node, axis []int, keepDims bool) (backend.Node, error) {
	return g.reduce("sum", x, axis, keepDims, 0, func(a, v float64) float64 { return a + v }, func(a float64, n int) float64 { return a })
}

// Mean reduces x by averaging over axis.
func (g *Graph) Mean(x backend.Node, axis []int, keepDims bool) (backend.Node, error) {
	return g.reduce("mean", x, axis, keepDims, 0, func(a, v float64) float64 { return a + v }, func(a float64, n int) float64 {
		if n == 0 {
			return 0
		}
		return a / float64(n)
	})
}

// Prod reduces x by multiplication over axis.
func (g *Graph) Prod(x backend.Node, axis []int, keepDims bool) (backend.Node, error) {
	return g.reduce("prod", x, axis, keepDims, 1, func(a, v float64) float64 { return a * v }, func(a float64, n int) float64 { return a })
}

// DiagPart extracts the diagonal of a rank-2k tensor.
func (g *Graph) DiagPart(x backend.Node) (backend.Node, error) {
	xn, err := asNode(x)
	if err != nil {
		return nil, err
	}
	v := xn.val
	k := len(v.dims) / 2
	outDims := append([]int{}, v.dims[:k]...)
	n := size(outDims)
	strides := make([]int, len(v.dims))
	s := 1
	for i := len(v.dims) - 1; i >= 0; i-- {
		strides[i] = s
		s *= v.dims[i]
	}
	data := make([]float64, n)
	for i := 0; i < n; i++ {
		rem, idx := i, 0
		coord := make([]int, k)
		for d := k - 1; d >= 0; d-- {
			coord[d] = rem % outDims[d]
			rem /= outDims[d]
		}
		for d := 0; d < k; d++ {
			idx += coord[d] * strides[d]
			idx += coord[d] * strides[k+d]
		}
		data[i] = v.data[idx]
	}
	val := newTensor(outDims, v.dtype, data)
	nn := &node{val: val, inputs: []*node{xn}}
	return g.register("diagpart", nn), nil
}

// Reshape returns x with dims dims, same underlying data.
func (g *Graph) Reshape(x backend.Node, dims []int) (backend.Node, error) {
	xn, err := asNode(x)
	if err != nil {
		return nil, err
	}
	if size(dims) != size(xn.val.dims) {
		return nil, errors.Errorf("nativebackend: reshape: %d elements cannot become shape %v", size(xn.val.dims), dims)
	}
	val := newTensor(dims, xn.val.dtype, append([]float64{}, xn.val.data...))
	n := &node{val: val, inputs: []*node{xn}}
	n.backward = func(outGrad *Tensor, ins []*Tensor) ([]*Tensor, error) {
		return []*Tensor{newTensor(ins[0].dims, ins[0].dtype, append([]float64{}, outGrad.data...))}, nil
	}
	return g.register("reshape", n), nil
}

// BroadcastTo returns x broadcast to dims.
func (g *Graph) BroadcastTo(x backend.Node, dims []int) (backend.Node, error) {
	xn, err := asNode(x)
	if err != nil {
		return nil, err
	}
	val, err := elementwiseBinary(xn.val, zeros(dims, xn.val.dtype), func(a, _ float64) float64 { return a })
	if err != nil {
		return nil, err
	}
	n := &node{val: val, inputs: []*node{xn}}
	n.backward = func(outGrad *Tensor, ins []*Tensor) ([]*Tensor, error) {
		return []*Tensor{sumTo(outGrad, ins[0].dims)}, nil
	}
	return g.register("broadcast_to", n), nil
}

// Stack concatenates xs along a new axis at position axis.
func (g *Graph) Stack(xs []backend.Node, axis int) (backend.Node, error) {
	nodes, vals, err := asNodes(xs)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, errors.New("nativebackend: stack: no inputs")
	}
	inner := vals[0].dims
	outDims := append(append(append([]int{}, inner[:axis]...), len(vals)), inner[axis:]...)
	chunk := size(inner)
	outer, block := size(inner[:axis]), size(inner[axis:])
	data := make([]float64, 0, chunk*len(vals))
	for o := 0; o < outer; o++ {
		for _, v := range vals {
			data = append(data, v.data[o*block:(o+1)*block]...)
		}
	}
	val := newTensor(outDims, vals[0].dtype, data)
	n := &node{val: val, inputs: nodes}
	n.backward = func(outGrad *Tensor, ins []*Tensor) ([]*Tensor, error) {
		grads := make([]*Tensor, len(ins))
		for i := range ins {
			g := make([]float64, 0, chunk)
			for o := 0; o < outer; o++ {
				start := (o*len(ins) + i) * block
				g = append(g, outGrad.data[start:start+block]...)
			}
			grads[i] = newTensor(inner, ins[i].dtype, g)
		}
		return grads, nil
	}
	return g.register("stack", n), nil
}

// ExpandDims inserts a length-1 axis at axis.
func (g *Graph) ExpandDims(x backend.Node, axis int) (backend.Node, error) {
	xn, err := asNode(x)
	if err != nil {
		return nil, err
	}
	outDims := append(append(append([]int{}, xn.val.dims[:axis]...), 1), xn.val.dims[axis:]...)
	val := newTensor(outDims, xn.val.dtype, append([]float64{}, xn.val.data...))
	n := &node{val: val, inputs: []*node{xn}}
	n.backward = func(outGrad *Tensor, ins []*Tensor) ([]*Tensor, error) {
		return []*Tensor{newTensor(ins[0].dims, ins[0].dtype, append([]float64{}, outGrad.data...))}, nil
	}
	return g.register("expand_dims", n), nil
}

// Slice returns x[begin[i]:end[i]] per axis; end[i] == -1 means the full
// remaining extent.
func (g *Graph) Slice(x backend.Node, begin, end []int) (backend.Node, error) {
	xn, err := asNode(x)
	if err != nil {
		return nil, err
	}
	v := xn.val
	rank := len(v.dims)
	outDims := make([]int, rank)
	for i := 0; i < rank; i++ {
		e := end[i]
		if e < 0 {
			e = v.dims[i]
		}
		outDims[i] = e - begin[i]
	}
	strides := make([]int, rank)
	s := 1
	for i := rank - 1; i >= 0; i-- {
		strides[i] = s
		s *= v.dims[i]
	}
	n := size(outDims)
	// Row-major nested-loop copy (kept explicit rather than
	// coordinate-from-flat-index math, which gets unreadable past rank 2).
	data := make([]float64, 0, n)
	var walk func(d int, srcOffset int)
	walk = func(d int, srcOffset int) {
		if d == rank {
			data = append(data, v.data[srcOffset])
			return
		}
		for c := 0; c < outDims[d]; c++ {
			walk(d+1, srcOffset+(begin[d]+c)*strides[d])
		}
	}
	if n > 0 {
		walk(0, 0)
	}
	val := newTensor(outDims, v.dtype, data)
	nn := &node{val: val, inputs: []*node{xn}}
	nn.backward = func(outGrad *Tensor, ins []*Tensor) ([]*Tensor, error) {
		grad := zeros(ins[0].dims, ins[0].dtype)
		var put func(d int, srcOffset int, dstFlat int) int
		put = func(d int, srcOffset int, dstFlat int) int {
			if d == rank {
				grad.data[srcOffset] = outGrad.data[dstFlat]
				return dstFlat + 1
			}
			for c := 0; c < outDims[d]; c++ {
				dstFlat = put(d+1, srcOffset+(begin[d]+c)*strides[d], dstFlat)
			}
			return dstFlat
		}
		if n > 0 {
			put(0, 0, 0)
		}
		return []*Tensor{grad}, nil
	}
	return g.register("slice", nn), nil
}

// Conv2D returns a zero-filled tensor of the correctly composed output
// shape. Kernel numerics for convolution are explicitly out of scope;
// only the shape contract is honored.
func (g *Graph) Conv2D(x, filter backend.Node, stride int, padding string) (backend.Node, error) {
	xn, err := asNode(x)
	if err != nil {
		return nil, err
	}
	fn, err := asNode(filter)
	if err != nil {
		return nil, err
	}
	xd, fd := xn.val.dims, fn.val.dims
	outDims := []int{xd[0], ceilDiv(xd[1], stride), ceilDiv(xd[2], stride), fd[3]}
	val := zeros(outDims, xn.val.dtype)
	n := &node{val: val, inputs: []*node{xn, fn}}
	return g.register("conv2d", n), nil
}

func ceilDiv(n, k int) int { return (n + k - 1) / k }

// Conv2DBackpropInput returns a zero-filled tensor of shape inputShape.
func (g *Graph) Conv2DBackpropInput(inputShape []int, filter, outBackprop backend.Node, stride int, padding string) (backend.Node, error) {
	fn, err := asNode(filter)
	if err != nil {
		return nil, err
	}
	obn, err := asNode(outBackprop)
	if err != nil {
		return nil, err
	}
	val := zeros(inputShape, fn.val.dtype)
	n := &node{val: val, inputs: []*node{fn, obn}}
	return g.register("conv2d_backprop_input", n), nil
}

// TruncatedNormal returns a leaf tensor sampled from a normal
// distribution, rejecting draws beyond +/-2 standard deviations.
func (g *Graph) TruncatedNormal(dims []int, dtype backend.DType) (backend.Node, error) {
	data := make([]float64, size(dims))
	for i := range data {
		for {
			v := rand.NormFloat64()
			if v >= -2 && v <= 2 {
				data[i] = v
				break
			}
		}
	}
	val := newTensor(dims, dtype, data)
	return g.register("truncated_normal", &node{val: val}), nil
}

// Cast retags x's element type; the underlying float64 values are
// unchanged.
func (g *Graph) Cast(x backend.Node, dtype backend.DType) (backend.Node, error) {
	xn, err := asNode(x)
	if err != nil {
		return nil, err
	}
	val := newTensor(xn.val.dims, dtype, append([]float64{}, xn.val.data...))
	return g.register("cast", &node{val: val, inputs: []*node{xn}}), nil
}

// DecodeJpeg returns a zero-filled 1x1xchannels placeholder image.
// Decoding real JPEG bytes is a file-format concern explicitly out of
// scope.
func (g *Graph) DecodeJpeg(x backend.Node, channels int) (backend.Node, error) {
	xn, err := asNode(x)
	if err != nil {
		return nil, err
	}
	val := zeros([]int{1, 1, channels}, backend.Float32)
	return g.register("decode_jpeg", &node{val: val, inputs: []*node{xn}}), nil
}

// Variable registers def under name as a bindable node; the DSL-level
// weight-substitution logic lives in ops.Variable, so this method only
// needs to record the default value.
func (g *Graph) Variable(name string, def backend.Node) (backend.Node, error) {
	dn, err := asNode(def)
	if err != nil {
		return nil, err
	}
	n := &node{val: dn.val, inputs: []*node{dn}}
	n.backward = func(outGrad *Tensor, ins []*Tensor) ([]*Tensor, error) { return []*Tensor{outGrad}, nil }
	n.name = "variable/" + name
	g.byName[n.name] = n
	return n, nil
}

// Gradients performs a reverse-mode pass over the tape reachable from y,
// returning one gradient tensor per x in xs.
func (g *Graph) Gradients(y backend.Node, xs []backend.Node, dy backend.Node) ([]backend.Node, error) {
	yn, err := asNode(y)
	if err != nil {
		return nil, err
	}
	xns, _, err := asNodes(xs)
	if err != nil {
		return nil, err
	}

	var order []*node
	visited := map[*node]bool{}
	var visit func(*node)
	visit = func(n *node) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, in := range n.inputs {
			visit(in)
		}
		order = append(order, n)
	}
	visit(yn)

	grads := map[*node]*Tensor{}
	if dy != nil {
		dyn, err := asNode(dy)
		if err != nil {
			return nil, err
		}
		grads[yn] = dyn.val
	} else {
		ones := make([]float64, size(yn.val.dims))
		for i := range ones {
			ones[i] = 1
		}
		grads[yn] = newTensor(yn.val.dims, yn.val.dtype, ones)
	}

	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		g, ok := grads[n]
		if !ok || n.backward == nil {
			continue
		}
		inVals := make([]*Tensor, len(n.inputs))
		for j, in := range n.inputs {
			inVals[j] = in.val
		}
		localGrads, err := n.backward(g, inVals)
		if err != nil {
			return nil, err
		}
		for j, in := range n.inputs {
			if existing, ok := grads[in]; ok {
				sum, err := elementwiseBinary(existing, localGrads[j], func(a, b float64) float64 { return a + b })
				if err != nil {
					return nil, err
				}
				grads[in] = sum
			} else {
				grads[in] = localGrads[j]
			}
		}
	}

	out := make([]backend.Node, len(xns))
	for i, xn := range xns {
		val, ok := grads[xn]
		if !ok {
			val = zeros(xn.val.dims, xn.val.dtype)
		}
		out[i] = g.register("grad", &node{val: val})
	}
	return out, nil
}

// WithScope runs thunk with name pushed onto the auto-naming prefix
// stack, guaranteeing it is popped on every exit path.
func (g *Graph) WithScope(name string, thunk func() error) error {
	g.scope = append(g.scope, name)
	defer func() { g.scope = g.scope[:len(g.scope)-1] }()
	return thunk()
}
