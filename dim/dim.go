// Package dim implements the symbolic dimension algebra: known integers,
// inference variables, and the Mul/Div combinators used to propagate
// stride arithmetic through convolution and slicing without naming every
// intermediate dimension.
package dim

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/ivar"
)

// Dim is a symbolic non-negative integer dimension.
type Dim interface {
	fmt.Stringer
	isDim()
}

// Known is a dimension whose value is already a concrete integer.
type Known struct{ N int }

func (Known) isDim() {}

// String renders the dimension.
func (k Known) String() string { return fmt.Sprintf("%d", k.N) }

// Var is a dimension resolved through an inference variable.
type Var struct{ V *ivar.IVar[Dim] }

func (Var) isDim() {}

// NewVar returns a fresh, unsolved dimension variable.
func NewVar() Var { return Var{V: ivar.New[Dim]()} }

// String renders the dimension.
func (v Var) String() string {
	if val, ok := v.V.Value(); ok {
		return Strip(val).String()
	}
	return "?"
}

// Mul is a dimension whose logical value is d*k, k >= 2.
type Mul struct {
	D Dim
	K int
}

func (Mul) isDim() {}

// String renders the dimension.
func (m Mul) String() string { return fmt.Sprintf("(%s*%d)", m.D, m.K) }

// Div is a dimension whose logical value is ceil(d/k), k >= 2 — striding
// semantics.
type Div struct {
	D Dim
	K int
}

func (Div) isDim() {}

// String renders the dimension.
func (d Div) String() string { return fmt.Sprintf("ceil(%s/%d)", d.D, d.K) }

// Strip follows solved Var chains transitively, returning the innermost
// non-Var-with-a-solution representative. A dimension is "resolved" when
// Strip yields something other than an unsolved Var.
func Strip(d Dim) Dim {
	for {
		v, ok := d.(Var)
		if !ok {
			return d
		}
		val, solved := v.V.Value()
		if !solved {
			return d
		}
		d = val
	}
}

// Resolve computes the logical concrete value of a dimension, if it is
// currently resolved.
func Resolve(d Dim) (int, bool) {
	switch t := Strip(d).(type) {
	case Known:
		return t.N, true
	case Var:
		return 0, false
	case Mul:
		n, ok := Resolve(t.D)
		if !ok {
			return 0, false
		}
		return n * t.K, true
	case Div:
		n, ok := Resolve(t.D)
		if !ok {
			return 0, false
		}
		return (n + t.K - 1) / t.K, true
	default:
		return 0, false
	}
}

func ceilDiv(n, k int) int { return (n + k - 1) / k }

// Unify makes a and b denote the same value, solving inference variables
// where needed. op names the calling
// operator for diagnostics.
func Unify(op string, a, b Dim) error {
	an, aResolved := Resolve(a)
	bn, bResolved := Resolve(b)
	if aResolved && bResolved {
		if an != bn {
			return errors.Errorf("%s: dimension mismatch: unequal values %d vs %d", op, an, bn)
		}
		return nil
	}

	as, bs := Strip(a), Strip(b)

	if av, ok := as.(Var); ok {
		if bv, ok := bs.(Var); ok && av.V == bv.V {
			return nil
		}
	}

	if av, ok := as.(Var); ok {
		if !av.V.Solved() {
			return av.V.Solve(bs, dimEqual)
		}
	}
	if bv, ok := bs.(Var); ok {
		if !bv.V.Solved() {
			return bv.V.Solve(as, dimEqual)
		}
	}

	switch am := as.(type) {
	case Mul:
		if bk, ok := bs.(Known); ok {
			if bk.N%am.K != 0 {
				return errors.Errorf("%s: dimension mismatch: %d not divisible by multiplier %d", op, bk.N, am.K)
			}
			return Unify(op, am.D, Known{N: bk.N / am.K})
		}
		if bm, ok := bs.(Mul); ok {
			if am.K != bm.K {
				return errors.Errorf("%s: dimension mismatch: different multipliers %d vs %d", op, am.K, bm.K)
			}
			return Unify(op, am.D, bm.D)
		}
	case Div:
		if bd, ok := bs.(Div); ok {
			if am.K != bd.K {
				return errors.Errorf("%s: dimension mismatch: different divisors %d vs %d", op, am.K, bd.K)
			}
			return Unify(op, am.D, bd.D)
		}
	}
	switch bm := bs.(type) {
	case Mul:
		if ak, ok := as.(Known); ok {
			if ak.N%bm.K != 0 {
				return errors.Errorf("%s: dimension mismatch: %d not divisible by multiplier %d", op, ak.N, bm.K)
			}
			return Unify(op, Known{N: ak.N / bm.K}, bm.D)
		}
	}

	if !aResolved && !bResolved {
		// Neither side is resolvable yet; remain open.
		return nil
	}
	return errors.Errorf("%s: dimension mismatch: incomplete dimension %s vs %s", op, as, bs)
}

func dimEqual(a, b Dim) bool {
	an, aok := Resolve(a)
	bn, bok := Resolve(b)
	if aok && bok {
		return an == bn
	}
	return false
}
