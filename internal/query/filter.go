package query

import (
	"context"

	"github.com/dbis-ilm/poseidon/internal/graph"
	"github.com/dbis-ilm/poseidon/internal/tuple"
)

// filterTupleOp implements filter_tuple: evaluate expr against the input
// tuple and pass it through only if the result is truthy (spec.md §4.8).
type filterTupleOp struct {
	base
	store *graph.Store
	expr  compiledExpr
}

func (f *filterTupleOp) consume(ctx context.Context, t *tuple.Tuple) error {
	v, err := eval(evalCtx{ctx: ctx, store: f.store, t: t}, f.expr)
	if err != nil {
		return err
	}
	if !truthy(v) {
		return nil
	}
	return f.emit(ctx, t)
}

func (f *filterTupleOp) finish(ctx context.Context) error { return f.emitFinish(ctx) }

// isPropertyOp implements is_property(key, predicate): a shorthand for
// filter_tuple comparing one named property of the node/relationship at pos
// against a literal value (spec.md §4.8).
type isPropertyOp struct {
	base
	store *graph.Store
	pos   int
	key   string
	op    Op
	value tuple.Cell
}

func (f *isPropertyOp) consume(ctx context.Context, t *tuple.Tuple) error {
	c, ok := t.Last()
	if f.pos >= 0 {
		c, ok = t.At(f.pos)
	}
	if !ok {
		return nil
	}
	val, err := resolveProperty(evalCtx{ctx: ctx, store: f.store, t: t}, c, f.key)
	if err != nil {
		return err
	}
	if !truthy(evalCompare(f.op, val, f.value)) {
		return nil
	}
	return f.emit(ctx, t)
}

func (f *isPropertyOp) finish(ctx context.Context) error { return f.emitFinish(ctx) }

// nodeHasLabelOp implements node_has_label(labels): pass the tuple through
// only if the node at pos carries one of the given labels.
type nodeHasLabelOp struct {
	base
	store  *graph.Store
	pos    int
	labels []string
}

func (f *nodeHasLabelOp) consume(ctx context.Context, t *tuple.Tuple) error {
	id, ok := nodeAt(t, f.pos)
	if !ok {
		return nil
	}
	rec, err := f.store.Node(id)
	if err != nil {
		return err
	}
	label, err := f.store.Label(rec.LabelCode)
	if err != nil {
		return nil
	}
	for _, want := range f.labels {
		if label == want {
			return f.emit(ctx, t)
		}
	}
	return nil
}

func (f *nodeHasLabelOp) finish(ctx context.Context) error { return f.emitFinish(ctx) }
