package ordered_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/flarelee/tensorgraph/internal/ordered"
)

func TestInsertionOrderPreserved(t *testing.T) {
	m := ordered.NewMap[string, int]()
	m.Store("c", 3)
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("a", 10) // re-storing an existing key does not move it.

	want := []string{"c", "a", "b"}
	if diff := cmp.Diff(want, m.Keys()); diff != "" {
		t.Fatalf("Keys() mismatch (-want +got):\n%s", diff)
	}
	if got, ok := m.Load("a"); !ok || got != 10 {
		t.Fatalf("Load(a) = %v, %v; want 10, true", got, ok)
	}
	if m.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", m.Size())
	}
}
