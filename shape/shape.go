// Package shape implements the shape algebra: ordered sequences of
// symbolic dimensions with an optional inferred "flex" tail, and the
// unification/broadcast rules operators use to type-check tensor
// expressions.
package shape

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/flarelee/tensorgraph/dim"
	"github.com/flarelee/tensorgraph/ivar"
)

// Shape is dims ++ tail, where tail is whatever the flex variable
// resolves to (possibly another flex shape), or nothing if flex is nil.
// Rank 0 with flex == nil is a scalar; rank 0 with flex != nil is a
// scalar broadcastable to any rank.
type Shape struct {
	Dims []dim.Dim
	Flex *ivar.IVar[Shape]
}

// Scalar returns the fixed-rank-0 shape.
func Scalar() Shape { return Shape{} }

// Fixed returns a closed shape (no flex tail) from concrete dimensions.
func Fixed(dims ...int) Shape {
	ds := make([]dim.Dim, len(dims))
	for i, n := range dims {
		ds[i] = dim.Known{N: n}
	}
	return Shape{Dims: ds}
}

// Of builds a shape directly from Dim values, closed (no flex tail).
func Of(dims ...dim.Dim) Shape {
	return Shape{Dims: append([]dim.Dim{}, dims...)}
}

// FlexOf builds a shape with a leading fixed prefix and an open flex tail.
func FlexOf(dims ...dim.Dim) Shape {
	return Shape{Dims: append([]dim.Dim{}, dims...), Flex: ivar.New[Shape]()}
}

// Rank returns the length of the fixed prefix (not counting whatever the
// flex tail may still resolve to).
func (s Shape) Rank() int { return len(s.Dims) }

// IsScalar reports whether the fixed prefix is empty.
func (s Shape) IsScalar() bool { return len(s.Dims) == 0 }

// HasFlex reports whether the shape has an inferred tail.
func (s Shape) HasFlex() bool { return s.Flex != nil }

// String renders the shape for diagnostics.
func (s Shape) String() string {
	parts := make([]string, len(s.Dims))
	for i, d := range s.Dims {
		parts[i] = dim.Strip(d).String()
	}
	suffix := ""
	if s.Flex != nil {
		if tail, ok := s.Flex.Value(); ok {
			suffix = "++" + tail.String()
		} else {
			suffix = "++..."
		}
	}
	return "[" + strings.Join(parts, ",") + "]" + suffix
}

// Equal reports structural equality after resolving flex tails, for use
// as a go-cmp Comparer hook and in tests.
func (s Shape) Equal(o Shape) bool {
	return s.String() == o.String()
}

// resolvedDims returns the full dims slice, expanding a solved flex tail.
func (s Shape) resolvedDims() []dim.Dim {
	dims := append([]dim.Dim{}, s.Dims...)
	flex := s.Flex
	for flex != nil {
		tail, ok := flex.Value()
		if !ok {
			break
		}
		dims = append(dims, tail.Dims...)
		flex = tail.Flex
	}
	return dims
}

// Unify unifies a and b pairwise from the front, extending either side's
// flex variable to absorb a longer remainder.
func Unify(op string, a, b Shape) error {
	n := len(a.Dims)
	if len(b.Dims) < n {
		n = len(b.Dims)
	}
	for i := 0; i < n; i++ {
		if err := dim.Unify(op, a.Dims[i], b.Dims[i]); err != nil {
			return errors.Wrapf(err, "%s: shape mismatch: %s vs %s", op, a, b)
		}
	}
	aRest := a.Dims[n:]
	bRest := b.Dims[n:]
	return unifyTails(op, aRest, a.Flex, bRest, b.Flex)
}

func unifyTails(op string, aRest []dim.Dim, aFlex *ivar.IVar[Shape], bRest []dim.Dim, bFlex *ivar.IVar[Shape]) error {
	switch {
	case len(aRest) == 0 && len(bRest) == 0:
		return unifyBothEmpty(op, aFlex, bFlex)
	case len(aRest) > 0:
		if bFlex == nil {
			return errors.Errorf("%s: shape mismatch: left side has %d extra dimensions and right side cannot grow", op, len(aRest))
		}
		return solveFlexTo(bFlex, aRest)
	default: // len(bRest) > 0
		if aFlex == nil {
			return errors.Errorf("%s: shape mismatch: right side has %d extra dimensions and left side cannot grow", op, len(bRest))
		}
		return solveFlexTo(aFlex, bRest)
	}
}

func freshVars(n int) []dim.Dim {
	vars := make([]dim.Dim, n)
	for i := range vars {
		vars[i] = dim.NewVar()
	}
	return vars
}

// solveFlexTo solves flex to a tail of fresh open vars, one per entry in
// rest, then unifies each fresh var against the corresponding real
// dimension in rest. Only correct when rest holds actual dims to unify
// against (as it does from unifyTails); callers that just need flex
// solved to n *open* dims, with nothing yet to unify against, must solve
// against freshVars(n) directly instead — see MinDimensions.
func solveFlexTo(flex *ivar.IVar[Shape], rest []dim.Dim) error {
	fresh := freshVars(len(rest))
	if err := flex.Solve(Shape{Dims: fresh}, Shape.Equal); err != nil {
		return err
	}
	for i, d := range rest {
		if err := dim.Unify("shape-tail", fresh[i], d); err != nil {
			return err
		}
	}
	return nil
}

func unifyBothEmpty(op string, aFlex, bFlex *ivar.IVar[Shape]) error {
	if aFlex == bFlex {
		return nil
	}
	switch {
	case aFlex == nil && bFlex == nil:
		return nil
	case aFlex == nil:
		return bFlex.Solve(Shape{}, Shape.Equal)
	case bFlex == nil:
		return aFlex.Solve(Shape{}, Shape.Equal)
	default:
		// Both are distinct open flex variables: point one at the other.
		return aFlex.Solve(Shape{Flex: bFlex}, Shape.Equal)
	}
}

// EquivShapes unifies two shapes under the pointwise-with-broadcasting
// convention: shorter shapes are implicitly padded on the left, matching
// NumPy-style broadcasting, rather than requiring one side to carry an
// explicit flex tail. Used by pointwise binary operators.
func EquivShapes(op string, a, b Shape) (Shape, error) {
	aDims := a.resolvedDims()
	bDims := b.resolvedDims()
	n := len(aDims)
	if len(bDims) > n {
		n = len(bDims)
	}
	out := make([]dim.Dim, n)
	for i := 0; i < n; i++ {
		var ad, bd dim.Dim
		aIdx := len(aDims) - 1 - i
		bIdx := len(bDims) - 1 - i
		if aIdx >= 0 {
			ad = aDims[aIdx]
		}
		if bIdx >= 0 {
			bd = bDims[bIdx]
		}
		var resolved dim.Dim
		switch {
		case ad == nil:
			resolved = bd
		case bd == nil:
			resolved = ad
		default:
			an, aok := dim.Resolve(ad)
			bn, bok := dim.Resolve(bd)
			if aok && bok && an != 1 && bn != 1 && an != bn {
				return Shape{}, errors.Errorf("%s: shape mismatch: cannot broadcast %s and %s", op, a, b)
			}
			resolved = broadcastPair(op, ad, bd)
		}
		out[n-1-i] = resolved
	}
	return Shape{Dims: out}, nil
}

func broadcastPair(op string, a, b dim.Dim) dim.Dim {
	an, aok := dim.Resolve(a)
	bn, bok := dim.Resolve(b)
	switch {
	case aok && an == 1:
		return b
	case bok && bn == 1:
		return a
	case aok:
		return a
	case bok:
		return b
	default:
		v := dim.NewVar()
		_ = dim.Unify(op, v, a)
		_ = dim.Unify(op, v, b)
		return v
	}
}

// MinDimensions ensures s has rank >= n, solving the flex tail to the
// n-s.Rank() missing freshly inferred dimensions if s is shorter and open. Fails if s is
// closed and already shorter than n.
func MinDimensions(op string, s Shape, n int) (Shape, error) {
	if len(s.Dims) >= n {
		return s, nil
	}
	missing := n - len(s.Dims)
	if s.Flex == nil {
		return Shape{}, errors.Errorf("%s: shape mismatch: %s has rank %d, need at least %d", op, s, len(s.Dims), n)
	}
	if err := s.Flex.Solve(Shape{Dims: freshVars(missing)}, Shape.Equal); err != nil {
		return Shape{}, err
	}
	tail, _ := s.Flex.Value()
	return Shape{Dims: append(append([]dim.Dim{}, s.Dims...), tail.Dims...), Flex: tail.Flex}, nil
}
