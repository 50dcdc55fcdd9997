// Package query implements Poseidon's push-based physical operator tree
// (spec.md §4.8): a pipeline of operators threading tuples from a producer
// (scan or index-scan) through transformers to a sink, plus the stack-
// machine expression evaluator used by filter and project.
package query

import (
	"context"

	"github.com/dbis-ilm/poseidon/internal/tuple"
)

// operator is anything that can receive a tuple or a finish signal from its
// upstream. Producers (scan_nodes, index_scan) are not operators in this
// sense — nothing pushes into them, so they only need an OpIndex to push
// out of, via base.
type operator interface {
	consume(ctx context.Context, t *tuple.Tuple) error
	finish(ctx context.Context) error
}

// OpIndex addresses one operator inside an Arena. spec.md §9 asks for this
// in place of the original design's raw downstream pointers: "each operator
// stores an index into a per-pipeline operator arena; the arena is the
// single owner."
type OpIndex int

// NoOp is the sentinel meaning "no downstream" — a pure sink's down field.
const NoOp OpIndex = -1

// Arena owns every consumer-side operator in one or more spliced pipelines.
type Arena struct {
	ops []operator
}

func newArena() *Arena { return &Arena{} }

func (a *Arena) add(op operator) OpIndex {
	a.ops = append(a.ops, op)
	return OpIndex(len(a.ops) - 1)
}

func (a *Arena) consume(ctx context.Context, idx OpIndex, t *tuple.Tuple) error {
	if idx == NoOp {
		return nil
	}
	return a.ops[idx].consume(ctx, t)
}

func (a *Arena) finish(ctx context.Context, idx OpIndex) error {
	if idx == NoOp {
		return nil
	}
	return a.ops[idx].finish(ctx)
}

// base is embedded by every producer and stage operator: it knows its own
// arena and the index of whatever it feeds next.
type base struct {
	arena *Arena
	down  OpIndex
}

func (b *base) emit(ctx context.Context, t *tuple.Tuple) error {
	return b.arena.consume(ctx, b.down, t)
}

func (b *base) emitFinish(ctx context.Context) error {
	return b.arena.finish(ctx, b.down)
}

func (b *base) setDown(idx OpIndex) { b.down = idx }
