package ops_test

import (
	"testing"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/expr"
	"github.com/flarelee/tensorgraph/internal/nativebackend"
	"github.com/flarelee/tensorgraph/ops"
	"github.com/flarelee/tensorgraph/shape"
	"github.com/flarelee/tensorgraph/tensorgraph"
)

func TestCastChangesDTypeNotShape(t *testing.T) {
	x := tensorgraph.Vec([]float64{1, 2, 3})
	c, err := ops.Cast(x, backend.Int32)
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if c.DType() != backend.Int32 {
		t.Fatalf("Cast(x, Int32).DType() = %s, want int32", c.DType())
	}
	if c.Shape().String() != x.Shape().String() {
		t.Fatalf("Cast changed shape: %s vs %s", c.Shape(), x.Shape())
	}
}

func TestDecodeJpegRequiresScalarString(t *testing.T) {
	notScalar := tensorgraph.Vec([]float64{1, 2})
	if _, err := ops.DecodeJpeg(notScalar, 3); err == nil {
		t.Fatalf("DecodeJpeg on a non-scalar succeeded, want error")
	}

	scalarFloat := tensorgraph.Scalar(1, false)
	if _, err := ops.DecodeJpeg(scalarFloat, 3); err == nil {
		t.Fatalf("DecodeJpeg on a non-string scalar succeeded, want error")
	}
}

func stringConst(v string) *expr.Expr {
	t := &stringTensor{v: v}
	return expr.NewConstant(shape.Scalar(), backend.String, func(ctxt *expr.Ctxt) (backend.Node, error) {
		return ctxt.Graph.Constant(t)
	}, func() (backend.Tensor, error) { return t, nil })
}

type stringTensor struct{ v string }

func (t *stringTensor) Shape() []int         { return nil }
func (t *stringTensor) DType() backend.DType { return backend.String }
func (t *stringTensor) Flat() any            { return []string{t.v} }

func TestDecodeJpegYieldsRank3WithFixedChannels(t *testing.T) {
	enc := stringConst("fake-jpeg-bytes")
	img, err := ops.DecodeJpeg(enc, 3)
	if err != nil {
		t.Fatalf("DecodeJpeg: %v", err)
	}
	if img.Shape().Rank() != 3 {
		t.Fatalf("DecodeJpeg(...).Rank() = %d, want 3", img.Shape().Rank())
	}
	if got := resolvedDims(img.Shape()); got[2] != 3 {
		t.Fatalf("DecodeJpeg(..., 3) channels = %d, want 3", got[2])
	}
	if img.DType() != backend.Float32 {
		t.Fatalf("DecodeJpeg(...).DType() = %s, want float32", img.DType())
	}
}

func TestTruncatedNormalHasRequestedShape(t *testing.T) {
	e, err := ops.TruncatedNormal([]int{2, 3}, backend.Float64)
	if err != nil {
		t.Fatalf("TruncatedNormal: %v", err)
	}
	platform := nativebackend.NewPlatform()
	got, err := tensorgraph.Eval(platform, e)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("TruncatedNormal([2,3]) produced %d values, want 6", len(got))
	}
	for _, v := range got {
		if v < -2 || v > 2 {
			t.Fatalf("TruncatedNormal sample %v outside [-2,2]", v)
		}
	}
}

func TestVariableFallsBackToDefaultWhenUnbound(t *testing.T) {
	def := tensorgraph.Vec([]float64{1, 2, 3})
	v, err := ops.Variable(def, "w")
	if err != nil {
		t.Fatalf("Variable: %v", err)
	}
	platform := nativebackend.NewPlatform()
	got, err := tensorgraph.Eval(platform, v)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	want := []float64{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Variable(def,\"w\") unbound = %v, want %v", got, want)
		}
	}
}

func TestVariableRequiresName(t *testing.T) {
	def := tensorgraph.Scalar(1, false)
	if _, err := ops.Variable(def, ""); err == nil {
		t.Fatalf("Variable with empty name succeeded, want error")
	}
}
