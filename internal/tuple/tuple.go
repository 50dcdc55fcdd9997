package tuple

import "strings"

// Tuple is an append-only ordered list of Cells. Operators refer to cells by
// positional index (spec.md §4.8).
type Tuple struct {
	cells []Cell
}

// New builds a Tuple from an initial set of cells (may be empty).
func New(cells ...Cell) *Tuple {
	t := &Tuple{}
	t.cells = append(t.cells, cells...)
	return t
}

// Append adds c to the tail of the tuple.
func (t *Tuple) Append(c Cell) { t.cells = append(t.cells, c) }

// Len returns the number of cells.
func (t *Tuple) Len() int { return len(t.cells) }

// At returns the cell at position i, or the null cell and false if i is out
// of range.
func (t *Tuple) At(i int) (Cell, bool) {
	if i < 0 || i >= len(t.cells) {
		return Cell{}, false
	}
	return t.cells[i], true
}

// Last returns the final cell, the position most operators default to
// (spec.md §4.8 "pos?" default), or false if the tuple is empty.
func (t *Tuple) Last() (Cell, bool) {
	if len(t.cells) == 0 {
		return Cell{}, false
	}
	return t.cells[len(t.cells)-1], true
}

// Clone returns a shallow copy whose cell slice is independent (safe to
// Append to without aliasing the original).
func (t *Tuple) Clone() *Tuple {
	c := make([]Cell, len(t.cells))
	copy(c, t.cells)
	return &Tuple{cells: c}
}

// Cells exposes the underlying slice for read-only iteration.
func (t *Tuple) Cells() []Cell { return t.cells }

// String renders the tuple's cells in canonical form, separated by tabs.
// Cells are not padded, so columns are not fixed-width.
func (t *Tuple) String() string {
	parts := make([]string, len(t.cells))
	for i, c := range t.cells {
		parts[i] = c.Canonical()
	}
	return strings.Join(parts, "\t")
}

// CanonicalKey builds a deduplication key from the tuple's cells, used by
// distinct_tuples (spec.md §4.8).
func (t *Tuple) CanonicalKey() string {
	return t.String()
}
