package tensorgraph_test

import (
	"testing"

	"github.com/flarelee/tensorgraph/expr"
	"github.com/flarelee/tensorgraph/grad"
	"github.com/flarelee/tensorgraph/internal/nativebackend"
	"github.com/flarelee/tensorgraph/ops"
	"github.com/flarelee/tensorgraph/tensorgraph"
)

// TestMatMulEndToEnd checks that a [2,2] matrix times a [2,1] matrix
// yields a [2,1] result, evaluated through a real backend.
func TestMatMulEndToEnd(t *testing.T) {
	a, err := tensorgraph.Matrix([][]float64{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	b, err := tensorgraph.Matrix([][]float64{{5}, {6}})
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	prod, err := ops.MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul: %v", err)
	}
	platform := nativebackend.NewPlatform()
	got, err := tensorgraph.ToArray2D(platform, prod)
	if err != nil {
		t.Fatalf("ToArray2D: %v", err)
	}
	want := [][]float64{{17}, {39}}
	for i := range want {
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Fatalf("MatMul result = %v, want %v", got, want)
			}
		}
	}
}

// TestSumToScalar checks that summing a vector yields a scalar.
func TestSumToScalar(t *testing.T) {
	x := tensorgraph.Vec([]float64{1, 2, 3, 4})
	sum, err := ops.Sum(x, nil, false)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	platform := nativebackend.NewPlatform()
	got, err := tensorgraph.ToScalar(platform, sum)
	if err != nil {
		t.Fatalf("ToScalar: %v", err)
	}
	if got != 10 {
		t.Fatalf("sum(vec) = %v, want 10", got)
	}
}

// TestSumAlongAxis checks that summing a [2,2] matrix along axis 0
// yields a rank-1 length-2 vector.
func TestSumAlongAxis(t *testing.T) {
	m, err := tensorgraph.Matrix([][]float64{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	sum, err := ops.Sum(m, []int{0}, false)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if sum.Shape().Rank() != 1 {
		t.Fatalf("Sum(axis=0).Rank() = %d, want 1", sum.Shape().Rank())
	}
	platform := nativebackend.NewPlatform()
	got, err := tensorgraph.ToArray(platform, sum)
	if err != nil {
		t.Fatalf("ToArray: %v", err)
	}
	want := []float64{4, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sum(axis=0) = %v, want %v", got, want)
		}
	}
}

// TestFlexScalarBroadcastsAgainstVector checks that a flex-shaped scalar
// plus a fixed vector broadcasts elementwise. ops.Add compares shapes with
// shape.EquivShapes, so the scalar's flex tail is left unsolved by the
// call.
func TestFlexScalarBroadcastsAgainstVector(t *testing.T) {
	a := tensorgraph.Scalar(3, true)
	b := tensorgraph.Vec([]float64{1, 2, 3})
	sum, err := ops.Add(a, b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	platform := nativebackend.NewPlatform()
	got, err := tensorgraph.ToArray(platform, sum)
	if err != nil {
		t.Fatalf("ToArray: %v", err)
	}
	want := []float64{4, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("a+b = %v, want %v", got, want)
		}
	}
}

// TestGradientOfSumOfSquares checks that for x = [1,2], y = sum(x*x),
// grad(y,x) == [2,4], evaluated through a real backend.
func TestGradientOfSumOfSquares(t *testing.T) {
	x := tensorgraph.Vec([]float64{1, 2})
	sq, err := ops.Mul(x, x)
	if err != nil {
		t.Fatalf("Mul: %v", err)
	}
	y, err := ops.Sum(sq, nil, false)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	dydx, err := grad.Diff(y, x)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	platform := nativebackend.NewPlatform()
	got, err := tensorgraph.ToArray(platform, dydx)
	if err != nil {
		t.Fatalf("ToArray: %v", err)
	}
	want := []float64{2, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("grad(y,x) = %v, want %v", got, want)
		}
	}
}

// TestConv2DOutputShapeEndToEnd checks that a [1,8,8,3] input convolved
// with a [3,3,3,16] filter at stride 2 yields a [1,4,4,16] output.
func TestConv2DOutputShapeEndToEnd(t *testing.T) {
	input := make([][][][]float64, 1)
	input[0] = make([][][]float64, 8)
	for i := range input[0] {
		input[0][i] = make([][]float64, 8)
		for j := range input[0][i] {
			input[0][i][j] = make([]float64, 3)
			for k := range input[0][i][j] {
				input[0][i][j][k] = float64(i + j + k)
			}
		}
	}
	x, err := tensorgraph.Video(input)
	if err != nil {
		t.Fatalf("Video: %v", err)
	}
	filterData := make([][][][]float64, 3)
	for i := range filterData {
		filterData[i] = make([][][]float64, 3)
		for j := range filterData[i] {
			filterData[i][j] = make([][]float64, 3)
			for k := range filterData[i][j] {
				filterData[i][j][k] = make([]float64, 16)
			}
		}
	}
	filter, err := tensorgraph.Tensor4(filterData)
	if err != nil {
		t.Fatalf("Tensor4: %v", err)
	}
	out, err := ops.Conv2D(x, filter, 2, "VALID")
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}
	platform := nativebackend.NewPlatform()
	got, err := tensorgraph.ToArray4D(platform, out)
	if err != nil {
		t.Fatalf("ToArray4D: %v", err)
	}
	if len(got) != 1 || len(got[0]) != 4 || len(got[0][0]) != 4 || len(got[0][0][0]) != 16 {
		t.Fatalf("Conv2D output dims = [%d,%d,%d,%d], want [1,4,4,16]",
			len(got), len(got[0]), len(got[0][0]), len(got[0][0][0]))
	}
}

func TestBatchStacksAlongLeadingAxis(t *testing.T) {
	a := tensorgraph.Vec([]float64{1, 2})
	b := tensorgraph.Vec([]float64{3, 4})
	batched, err := tensorgraph.Batch([]*expr.Expr{a, b})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	platform := nativebackend.NewPlatform()
	got, err := tensorgraph.ToArray2D(platform, batched)
	if err != nil {
		t.Fatalf("ToArray2D: %v", err)
	}
	want := [][]float64{{1, 2}, {3, 4}}
	for i := range want {
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Fatalf("Batch result = %v, want %v", got, want)
			}
		}
	}
}

func TestVariableRoundTripsThroughSession(t *testing.T) {
	def := tensorgraph.Scalar(0, false)
	v, err := tensorgraph.Variable(def, "counter")
	if err != nil {
		t.Fatalf("Variable: %v", err)
	}
	platform := nativebackend.NewPlatform()
	got, err := tensorgraph.ToScalar(platform, v)
	if err != nil {
		t.Fatalf("ToScalar: %v", err)
	}
	if got != 0 {
		t.Fatalf("Variable default = %v, want 0", got)
	}
}

func TestEval2RunsTwoExpressionsInOneSession(t *testing.T) {
	a := tensorgraph.Vec([]float64{1, 2})
	b := tensorgraph.Vec([]float64{10, 20})
	platform := nativebackend.NewPlatform()
	gotA, gotB, err := tensorgraph.Eval2(platform, a, b)
	if err != nil {
		t.Fatalf("Eval2: %v", err)
	}
	if gotA[0] != 1 || gotA[1] != 2 {
		t.Fatalf("Eval2 first result = %v, want [1 2]", gotA)
	}
	if gotB[0] != 10 || gotB[1] != 20 {
		t.Fatalf("Eval2 second result = %v, want [10 20]", gotB)
	}
}

func TestToScalarRejectsNonScalarExpression(t *testing.T) {
	x := tensorgraph.Vec([]float64{1, 2})
	platform := nativebackend.NewPlatform()
	if _, err := tensorgraph.ToScalar(platform, x); err == nil {
		t.Fatalf("ToScalar of a rank-1 expression succeeded, want error")
	}
}
