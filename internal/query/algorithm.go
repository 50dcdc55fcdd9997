package query

import (
	"context"
	"fmt"

	"github.com/dbis-ilm/poseidon/internal/graph"
	"github.com/dbis-ilm/poseidon/internal/poserr"
	"github.com/dbis-ilm/poseidon/internal/tuple"
)

// algorithmFunc computes one extra cell from the node at pos, appended to
// the input tuple. Grounded on src/query/plan_op/qop_algorithm.cpp's
// tuple-mode algorithm callback; narrowed to this one signature since
// spec.md's operator catalogue (§4.8) doesn't name a general analytics
// registry and GPU-accelerated analytics is an explicit Non-goal.
type algorithmFunc func(ctx context.Context, store *graph.Store, id uint64) (tuple.Cell, error)

var algorithms = map[string]algorithmFunc{
	"degree":     degreeAlgorithm(false, false),
	"out_degree": degreeAlgorithm(true, false),
	"in_degree":  degreeAlgorithm(false, true),
}

// degreeAlgorithm counts a node's relationships. out-only and in-only
// variants walk a single adjacency list; the combined "degree" walks both.
func degreeAlgorithm(outOnly, inOnly bool) algorithmFunc {
	return func(ctx context.Context, store *graph.Store, id uint64) (tuple.Cell, error) {
		var n int64
		if !inOnly {
			if err := store.ForeachFromRelationship(ctx, id, "", func(relID graph.ID, r graph.RelRecord) bool {
				n++
				return true
			}); err != nil {
				return tuple.Cell{}, err
			}
		}
		if !outOnly {
			if err := store.ForeachToRelationship(ctx, id, "", func(relID graph.ID, r graph.RelRecord) bool {
				n++
				return true
			}); err != nil {
				return tuple.Cell{}, err
			}
		}
		return tuple.IntCell(n), nil
	}
}

// algorithmOp implements algorithm(name): look up a named algorithm and
// append its result as one more cell on the node at pos, tuple mode only
// (set mode is left unimplemented — nothing in spec.md's operator
// catalogue needs a whole-result-set analytic).
type algorithmOp struct {
	base
	store *graph.Store
	name  string
	pos   int
	fn    algorithmFunc
}

func (a *algorithmOp) consume(ctx context.Context, t *tuple.Tuple) error {
	id, ok := nodeAt(t, a.pos)
	if !ok {
		return nil
	}
	c, err := a.fn(ctx, a.store, id)
	if err != nil {
		return err
	}
	out := t.Clone()
	out.Append(c)
	return a.emit(ctx, out)
}

func (a *algorithmOp) finish(ctx context.Context) error { return a.emitFinish(ctx) }

// Algorithm is algorithm(name): pos selects the input tuple's node cell
// (-1 meaning its last cell), the name looks up one of the registered
// tuple-mode algorithms ("degree", "out_degree", "in_degree"). An unknown
// name is a malformed-pipeline error surfaced through Run, consistent with
// every other builder method never panicking on bad input.
func (p *Pipeline) Algorithm(name string, pos int) *Pipeline {
	fn, ok := algorithms[name]
	if !ok {
		if p.buildErr == nil {
			p.buildErr = poserr.New(poserr.KindQueryProcessing, fmt.Sprintf("query.Pipeline.Algorithm: unknown algorithm %q", name))
		}
		return p
	}
	op := &algorithmOp{base: base{arena: p.arena, down: NoOp}, store: p.store, name: name, pos: pos, fn: fn}
	return p.connect(op, op.setDown)
}
