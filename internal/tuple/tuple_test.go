package tuple

import (
	"testing"
	"time"
)

func TestCanonicalFormatting(t *testing.T) {
	cases := []struct {
		c    Cell
		want string
	}{
		{NullCell(), "NULL"},
		{IntCell(42), "42"},
		{Uint64Cell(7), "7"},
		{StringCell("Anastasia"), "Anastasia"},
		{DoubleCell(33.5), "33.5"},
		{NodeIDCell(3), "n3"},
		{RelIDCell(9), "r9"},
	}
	for _, tc := range cases {
		if got := tc.c.Canonical(); got != tc.want {
			t.Errorf("Canonical(%v) = %q, want %q", tc.c.Kind, got, tc.want)
		}
	}
}

func TestTimestampCanonicalIsISO8601(t *testing.T) {
	ts := time.Date(2026, time.July, 30, 12, 0, 0, 0, time.UTC)
	c := TimestampCell(ts)
	want := "2026-07-30T12:00:00Z"
	if got := c.Canonical(); got != want {
		t.Fatalf("Canonical() = %q, want %q", got, want)
	}
}

func TestTupleAppendAndAt(t *testing.T) {
	tup := New()
	tup.Append(NodeIDCell(1))
	tup.Append(StringCell("John"))
	if tup.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tup.Len())
	}
	last, ok := tup.Last()
	if !ok || last.Kind != KindString || last.Str != "John" {
		t.Fatalf("Last() = %+v, %v", last, ok)
	}
	if _, ok := tup.At(5); ok {
		t.Fatalf("At(5) should be out of range")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tup := New(IntCell(1))
	clone := tup.Clone()
	clone.Append(IntCell(2))
	if tup.Len() != 1 {
		t.Fatalf("original tuple mutated: Len() = %d", tup.Len())
	}
	if clone.Len() != 2 {
		t.Fatalf("clone missing append: Len() = %d", clone.Len())
	}
}

func TestCanonicalKeyDistinguishesTuples(t *testing.T) {
	a := New(IntCell(1), StringCell("x"))
	b := New(IntCell(1), StringCell("y"))
	if a.CanonicalKey() == b.CanonicalKey() {
		t.Fatalf("expected distinct canonical keys")
	}
	c := New(IntCell(1), StringCell("x"))
	if a.CanonicalKey() != c.CanonicalKey() {
		t.Fatalf("expected equal canonical keys for identical tuples")
	}
}
