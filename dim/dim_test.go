package dim_test

import (
	"testing"

	"github.com/flarelee/tensorgraph/dim"
)

func TestUnifyKnownEqual(t *testing.T) {
	if err := dim.Unify("test", dim.Known{N: 4}, dim.Known{N: 4}); err != nil {
		t.Fatalf("unify(4,4): %v", err)
	}
}

func TestUnifyKnownMismatch(t *testing.T) {
	if err := dim.Unify("test", dim.Known{N: 4}, dim.Known{N: 5}); err == nil {
		t.Fatalf("unify(4,5) succeeded, want mismatch")
	}
}

func TestUnifySolvesVar(t *testing.T) {
	v := dim.NewVar()
	if err := dim.Unify("test", v, dim.Known{N: 7}); err != nil {
		t.Fatalf("unify(var,7): %v", err)
	}
	got, ok := dim.Resolve(v)
	if !ok || got != 7 {
		t.Fatalf("Resolve(v) = %v, %v; want 7, true", got, ok)
	}
}

func TestUnifyMulWithKnown(t *testing.T) {
	inner := dim.NewVar()
	mul := dim.Mul{D: inner, K: 2}
	if err := dim.Unify("test", mul, dim.Known{N: 10}); err != nil {
		t.Fatalf("unify(2*var, 10): %v", err)
	}
	got, ok := dim.Resolve(inner)
	if !ok || got != 5 {
		t.Fatalf("Resolve(inner) = %v, %v; want 5, true", got, ok)
	}
}

func TestUnifyMulNotDivisible(t *testing.T) {
	mul := dim.Mul{D: dim.NewVar(), K: 3}
	if err := dim.Unify("test", mul, dim.Known{N: 10}); err == nil {
		t.Fatalf("unify(3*var, 10) succeeded, want indivisibility error")
	}
}

func TestResolveDivCeiling(t *testing.T) {
	d := dim.Div{D: dim.Known{N: 9}, K: 2}
	got, ok := dim.Resolve(d)
	if !ok || got != 5 {
		t.Fatalf("Resolve(ceil(9/2)) = %v, %v; want 5, true", got, ok)
	}
}

func TestUnifyReflexive(t *testing.T) {
	v := dim.NewVar()
	if err := dim.Unify("test", v, v); err != nil {
		t.Fatalf("unify(v,v): %v", err)
	}
	if _, ok := dim.Resolve(v); ok {
		t.Fatalf("unify(v,v) resolved v, want it to remain open")
	}
}
