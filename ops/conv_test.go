package ops_test

import (
	"testing"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/dim"
	"github.com/flarelee/tensorgraph/expr"
	"github.com/flarelee/tensorgraph/internal/nativebackend"
	"github.com/flarelee/tensorgraph/ops"
	"github.com/flarelee/tensorgraph/shape"
)

func resolvedDims(sh shape.Shape) []int {
	out := make([]int, sh.Rank())
	for i, d := range sh.Dims {
		n, ok := dim.Resolve(d)
		if !ok {
			n = -1
		}
		out[i] = n
	}
	return out
}

func sameDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func leafFixed(dims ...int) *expr.Expr {
	t := &fakeTensor{dims: dims}
	return expr.NewConstant(shape.Fixed(dims...), backend.Float32, func(ctxt *expr.Ctxt) (backend.Node, error) {
		return ctxt.Graph.Constant(t)
	}, func() (backend.Tensor, error) { return t, nil })
}

type fakeTensor struct{ dims []int }

func (t *fakeTensor) Shape() []int         { return t.dims }
func (t *fakeTensor) DType() backend.DType { return backend.Float32 }
func (t *fakeTensor) Flat() any {
	n := 1
	for _, d := range t.dims {
		n *= d
	}
	return make([]float32, n)
}

// TestConv2DStridedOutputShape checks that a [1,8,8,3] input convolved
// with a [3,3,3,16] filter at stride 2 yields a [1,4,4,16] output.
func TestConv2DStridedOutputShape(t *testing.T) {
	x := leafFixed(1, 8, 8, 3)
	filter := leafFixed(3, 3, 3, 16)
	out, err := ops.Conv2D(x, filter, 2, "SAME")
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}
	if got, want := resolvedDims(out.Shape()), []int{1, 4, 4, 16}; !sameDims(got, want) {
		t.Fatalf("Conv2D shape = %v, want %v", got, want)
	}

	platform := nativebackend.NewPlatform()
	g, err := platform.NewGraph("test")
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	ctxt := expr.NewCtxt(g)
	n, err := out.Materialize(ctxt)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	be, err := platform.NewSession(g)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer be.Close()
	tensors, err := be.Run(nil, []backend.Node{n}, nil, nil, nil, &backend.Status{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := tensors[0].Shape(); got[0] != 1 || got[1] != 4 || got[2] != 4 || got[3] != 16 {
		t.Fatalf("Conv2D output tensor shape = %v, want [1 4 4 16]", got)
	}
}

func TestConv2DUnifiesChannels(t *testing.T) {
	x := leafFixed(1, 8, 8, 3)
	filter := leafFixed(3, 3, 5, 16)
	if _, err := ops.Conv2D(x, filter, 2, ""); err == nil {
		t.Fatalf("Conv2D with mismatched channel counts succeeded, want error")
	}
}

func TestConv2DBackpropInputShape(t *testing.T) {
	filter := leafFixed(3, 3, 3, 16)
	outBackprop := leafFixed(1, 4, 4, 16)
	in, err := ops.Conv2DBackpropInput(filter, outBackprop, 2, "SAME")
	if err != nil {
		t.Fatalf("Conv2DBackpropInput: %v", err)
	}
	if got, want := resolvedDims(in.Shape()), []int{1, 8, 8, 3}; !sameDims(got, want) {
		t.Fatalf("Conv2DBackpropInput shape = %v, want %v", got, want)
	}
}

func TestConv2DRequiresRank4(t *testing.T) {
	x := leafFixed(8, 8, 3)
	filter := leafFixed(3, 3, 3, 16)
	if _, err := ops.Conv2D(x, filter, 1, ""); err == nil {
		t.Fatalf("Conv2D with rank-3 input succeeded, want error")
	}
}
