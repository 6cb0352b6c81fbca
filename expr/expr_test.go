package expr_test

import (
	"testing"

	"github.com/flarelee/tensorgraph/backend"
	"github.com/flarelee/tensorgraph/expr"
	"github.com/flarelee/tensorgraph/shape"
)

type fakeNode struct {
	backend.Sealed
	id int
}

func TestMaterializeMemoizesByIdentity(t *testing.T) {
	builds := 0
	e := expr.New(shape.Scalar(), backend.Float32, 1, func(*expr.Ctxt) (backend.Node, error) {
		builds++
		return &fakeNode{id: builds}, nil
	})
	ctxt := expr.NewCtxt(nil)

	n1, err := e.Materialize(ctxt)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	n2, err := e.Materialize(ctxt)
	if err != nil {
		t.Fatalf("Materialize (again): %v", err)
	}
	if n1 != n2 {
		t.Fatalf("Materialize returned different nodes across calls: %v != %v", n1, n2)
	}
	if builds != 1 {
		t.Fatalf("build closure invoked %d times, want 1", builds)
	}
}

func TestMaterializeDistinctExprsAreDistinctNodes(t *testing.T) {
	build := func(*expr.Ctxt) (backend.Node, error) { return &fakeNode{}, nil }
	a := expr.New(shape.Scalar(), backend.Float32, 0, build)
	b := expr.New(shape.Scalar(), backend.Float32, 0, build)
	ctxt := expr.NewCtxt(nil)

	na, _ := a.Materialize(ctxt)
	nb, _ := b.Materialize(ctxt)
	if na == nb {
		t.Fatalf("two structurally-identical Exprs memoized to the same node")
	}
}

func TestMaterializeGradMemoizesStructurally(t *testing.T) {
	ctxt := expr.NewCtxt(nil)
	y := expr.New(shape.Scalar(), backend.Float32, 1, nil)
	x := expr.New(shape.Fixed(3), backend.Float32, 0, nil)

	calls := 0
	build := func(*expr.Ctxt) ([]backend.Node, error) {
		calls++
		return []backend.Node{&fakeNode{id: calls}}, nil
	}

	n1, err := ctxt.MaterializeGrad(y, []*expr.Expr{x}, nil, build)
	if err != nil {
		t.Fatalf("MaterializeGrad: %v", err)
	}
	n2, err := ctxt.MaterializeGrad(y, []*expr.Expr{x}, nil, build)
	if err != nil {
		t.Fatalf("MaterializeGrad (again): %v", err)
	}
	if n1[0] != n2[0] {
		t.Fatalf("MaterializeGrad rebuilt for the same (y, xs, dy) triple")
	}
	if calls != 1 {
		t.Fatalf("grad build invoked %d times, want 1", calls)
	}
}
