package query

import (
	"context"

	"github.com/dbis-ilm/poseidon/internal/graph"
	"github.com/dbis-ilm/poseidon/internal/tuple"
)

// nodeAt returns the NodeID cell at pos (or the tuple's last cell if pos is
// negative), the position most operators default to (spec.md §4.8 "pos?").
func nodeAt(t *tuple.Tuple, pos int) (uint64, bool) {
	var c tuple.Cell
	var ok bool
	if pos < 0 {
		c, ok = t.Last()
	} else {
		c, ok = t.At(pos)
	}
	if !ok || c.Kind != tuple.KindNodeID {
		return 0, false
	}
	return c.NodeID, true
}

func relAt(t *tuple.Tuple, pos int) (uint64, bool) {
	var c tuple.Cell
	var ok bool
	if pos < 0 {
		c, ok = t.Last()
	} else {
		c, ok = t.At(pos)
	}
	if !ok || c.Kind != tuple.KindRelID {
		return 0, false
	}
	return c.RelID, true
}

// foreachRshipOp implements foreach_from_rship and foreach_to_rship
// (spec.md §4.8): for the NodeID cell at pos, emit one output tuple per
// matching incident relationship, with a RelID cell appended.
type foreachRshipOp struct {
	base
	store  *graph.Store
	label  string
	pos    int
	toward bool // false = outgoing (FromHead), true = incoming (ToHead)
}

func (f *foreachRshipOp) consume(ctx context.Context, t *tuple.Tuple) error {
	id, ok := nodeAt(t, f.pos)
	if !ok {
		return nil
	}
	var err error
	walk := func(relID graph.ID, rel graph.RelRecord) bool {
		out := t.Clone()
		out.Append(tuple.RelIDCell(relID))
		if e := f.emit(ctx, out); e != nil {
			err = e
			return false
		}
		return true
	}
	if f.toward {
		if e := f.store.ForeachToRelationship(ctx, id, f.label, walk); e != nil {
			return e
		}
	} else {
		if e := f.store.ForeachFromRelationship(ctx, id, f.label, walk); e != nil {
			return e
		}
	}
	return err
}

func (f *foreachRshipOp) finish(ctx context.Context) error { return f.emitFinish(ctx) }

// foreachAllRshipOp is foreach_all_rship: both directions of a node's
// adjacency, outgoing first.
type foreachAllRshipOp struct {
	base
	store *graph.Store
	label string
	pos   int
}

func (f *foreachAllRshipOp) consume(ctx context.Context, t *tuple.Tuple) error {
	id, ok := nodeAt(t, f.pos)
	if !ok {
		return nil
	}
	var err error
	walk := func(relID graph.ID, rel graph.RelRecord) bool {
		out := t.Clone()
		out.Append(tuple.RelIDCell(relID))
		if e := f.emit(ctx, out); e != nil {
			err = e
			return false
		}
		return true
	}
	if e := f.store.ForeachFromRelationship(ctx, id, f.label, walk); e != nil {
		return e
	}
	if err != nil {
		return err
	}
	if e := f.store.ForeachToRelationship(ctx, id, f.label, walk); e != nil {
		return e
	}
	return err
}

func (f *foreachAllRshipOp) finish(ctx context.Context) error { return f.emitFinish(ctx) }

// variableHopOp implements the _variable_ hop traversal variants (spec.md
// §4.8): breadth-first expansion within [min, max] hops, emitting a RelID
// cell per matching relationship reached.
type variableHopOp struct {
	base
	store    *graph.Store
	label    string
	pos      int
	min, max int
}

func (v *variableHopOp) consume(ctx context.Context, t *tuple.Tuple) error {
	id, ok := nodeAt(t, v.pos)
	if !ok {
		return nil
	}
	var err error
	walkErr := v.store.VariableHopTraversal(ctx, id, v.label, v.min, v.max, func(relID graph.ID, rel graph.RelRecord, hop int) bool {
		out := t.Clone()
		out.Append(tuple.RelIDCell(relID))
		if e := v.emit(ctx, out); e != nil {
			err = e
			return false
		}
		return true
	})
	if walkErr != nil {
		return walkErr
	}
	return err
}

func (v *variableHopOp) finish(ctx context.Context) error { return v.emitFinish(ctx) }

// getEndpointOp implements get_from_node and get_to_node: given the RelID
// cell at pos, append the relationship's source or destination node.
type getEndpointOp struct {
	base
	store *graph.Store
	pos   int
	src   bool // true: append Src, false: append Dst
}

func (g *getEndpointOp) consume(ctx context.Context, t *tuple.Tuple) error {
	relID, ok := relAt(t, g.pos)
	if !ok {
		return nil
	}
	rel, err := g.store.Relationship(relID)
	if err != nil {
		return err
	}
	out := t.Clone()
	if g.src {
		out.Append(tuple.NodeIDCell(rel.Src))
	} else {
		out.Append(tuple.NodeIDCell(rel.Dst))
	}
	return g.emit(ctx, out)
}

func (g *getEndpointOp) finish(ctx context.Context) error { return g.emitFinish(ctx) }
