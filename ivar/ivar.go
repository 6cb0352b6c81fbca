// Package ivar implements single-assignment inference variables.
//
// An IVar starts Unsolved and transitions to Solved at most once. Every
// piece of shape/dimension information that flows through unification is
// ultimately carried by an IVar somewhere in the graph: solving one is how
// partial information becomes concrete.
package ivar

import "github.com/pkg/errors"

// IVar is a single-assignment cell holding a symbolic solution of type T.
// The zero value is Unsolved.
type IVar[T any] struct {
	solved bool
	value  T
}

// New returns a fresh, Unsolved inference variable.
func New[T any]() *IVar[T] {
	return &IVar[T]{}
}

// Solved reports whether the variable has a value yet.
func (v *IVar[T]) Solved() bool {
	return v.solved
}

// Value returns the current solution and whether one exists.
func (v *IVar[T]) Value() (T, bool) {
	return v.value, v.solved
}

// Solve assigns v's solution. Solving an already-solved variable is only
// valid when eq reports the new value as equivalent to the existing one
// (solve-once); any other second solve is a programmer error.
func (v *IVar[T]) Solve(value T, eq func(a, b T) bool) error {
	if !v.solved {
		v.value = value
		v.solved = true
		return nil
	}
	if eq != nil && eq(v.value, value) {
		return nil
	}
	return errors.Errorf("inference variable already solved, cannot resolve conflicting value")
}

// MustSolve is Solve without an equivalence check, for callers that know
// the variable is currently Unsolved (e.g. immediately after New()).
func (v *IVar[T]) MustSolve(value T) {
	if v.solved {
		panic("ivar: MustSolve called on an already-solved variable")
	}
	v.value = value
	v.solved = true
}
