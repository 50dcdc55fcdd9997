package query

import (
	"context"

	"github.com/dbis-ilm/poseidon/internal/graph"
	"github.com/dbis-ilm/poseidon/internal/tuple"
)

// concatTuple builds a new tuple whose cells are left's followed by
// right's, the shape every join operator below produces.
func concatTuple(left, right *tuple.Tuple) *tuple.Tuple {
	out := tuple.New(left.Cells()...)
	for _, c := range right.Cells() {
		out.Append(c)
	}
	return out
}

// crossJoinOp implements cross_join: every left row paired with every
// right row (spec.md §4.8). Grounded on the teacher's processCrossJoin:
// the left side is materialized, the right side streamed and probed
// against it.
type crossJoinOp struct {
	base
	left      []*tuple.Tuple
	leftDone  bool
	rightDone bool
}

func (c *crossJoinOp) consumeLeft(ctx context.Context, t *tuple.Tuple) error {
	c.left = append(c.left, t)
	return nil
}

func (c *crossJoinOp) finishLeft(ctx context.Context) error {
	c.leftDone = true
	return c.maybeFinish(ctx)
}

func (c *crossJoinOp) consumeRight(ctx context.Context, t *tuple.Tuple) error {
	for _, l := range c.left {
		if err := c.emit(ctx, concatTuple(l, t)); err != nil {
			return err
		}
	}
	return nil
}

func (c *crossJoinOp) finishRight(ctx context.Context) error {
	c.rightDone = true
	return c.maybeFinish(ctx)
}

func (c *crossJoinOp) maybeFinish(ctx context.Context) error {
	if c.leftDone && c.rightDone {
		return c.emitFinish(ctx)
	}
	return nil
}

// nestedLoopJoinOp implements nested_loop_join: a cross join filtered by an
// arbitrary predicate evaluated over the concatenated tuple (spec.md
// §4.8), grounded on the teacher's processNestedLoopJoin.
type nestedLoopJoinOp struct {
	base
	store     *graph.Store
	pred      compiledExpr
	left      []*tuple.Tuple
	leftDone  bool
	rightDone bool
}

func (n *nestedLoopJoinOp) consumeLeft(ctx context.Context, t *tuple.Tuple) error {
	n.left = append(n.left, t)
	return nil
}

func (n *nestedLoopJoinOp) finishLeft(ctx context.Context) error {
	n.leftDone = true
	return n.maybeFinish(ctx)
}

func (n *nestedLoopJoinOp) consumeRight(ctx context.Context, t *tuple.Tuple) error {
	for _, l := range n.left {
		joined := concatTuple(l, t)
		v, err := eval(evalCtx{ctx: ctx, store: n.store, t: joined}, n.pred)
		if err != nil {
			return err
		}
		if !truthy(v) {
			continue
		}
		if err := n.emit(ctx, joined); err != nil {
			return err
		}
	}
	return nil
}

func (n *nestedLoopJoinOp) finishRight(ctx context.Context) error {
	n.rightDone = true
	return n.maybeFinish(ctx)
}

func (n *nestedLoopJoinOp) maybeFinish(ctx context.Context) error {
	if n.leftDone && n.rightDone {
		return n.emitFinish(ctx)
	}
	return nil
}

// hashJoinOp implements hash_join(left_pos, right_pos): an equi-join
// building a hash table over the left side's join-key cell and probing it
// with each right row (spec.md §4.8), grounded on the teacher's
// HashJoinOptimizer.processHashJoin/getJoinKey.
type hashJoinOp struct {
	base
	leftPos, rightPos int
	buckets           map[string][]*tuple.Tuple
	leftDone          bool
	rightDone         bool
}

func joinKeyOf(t *tuple.Tuple, pos int) (string, bool) {
	c, ok := t.At(pos)
	if !ok {
		return "", false
	}
	return c.Canonical(), true
}

func (h *hashJoinOp) consumeLeft(ctx context.Context, t *tuple.Tuple) error {
	if h.buckets == nil {
		h.buckets = make(map[string][]*tuple.Tuple)
	}
	key, ok := joinKeyOf(t, h.leftPos)
	if !ok {
		return nil
	}
	h.buckets[key] = append(h.buckets[key], t)
	return nil
}

func (h *hashJoinOp) finishLeft(ctx context.Context) error {
	h.leftDone = true
	return h.maybeFinish(ctx)
}

func (h *hashJoinOp) consumeRight(ctx context.Context, t *tuple.Tuple) error {
	key, ok := joinKeyOf(t, h.rightPos)
	if !ok {
		return nil
	}
	for _, l := range h.buckets[key] {
		if err := h.emit(ctx, concatTuple(l, t)); err != nil {
			return err
		}
	}
	return nil
}

func (h *hashJoinOp) finishRight(ctx context.Context) error {
	h.rightDone = true
	return h.maybeFinish(ctx)
}

func (h *hashJoinOp) maybeFinish(ctx context.Context) error {
	if h.leftDone && h.rightDone {
		return h.emitFinish(ctx)
	}
	return nil
}

// leftOuterJoinOp implements left_outer_join(predicate): every left row
// that matches at least one right row is joined; an unmatched left row is
// emitted once, padded with null cells for the right side's width (spec.md
// §4.8), grounded on the teacher's processLeftJoin.
type leftOuterJoinOp struct {
	base
	store     *graph.Store
	pred      compiledExpr
	left      []*tuple.Tuple
	matched   []bool
	rightW    int
	leftDone  bool
	rightDone bool
}

func (l *leftOuterJoinOp) consumeLeft(ctx context.Context, t *tuple.Tuple) error {
	l.left = append(l.left, t)
	l.matched = append(l.matched, false)
	return nil
}

func (l *leftOuterJoinOp) finishLeft(ctx context.Context) error {
	l.leftDone = true
	return l.maybeFinish(ctx)
}

func (l *leftOuterJoinOp) consumeRight(ctx context.Context, t *tuple.Tuple) error {
	if t.Len() > l.rightW {
		l.rightW = t.Len()
	}
	for i, left := range l.left {
		joined := concatTuple(left, t)
		v, err := eval(evalCtx{ctx: ctx, store: l.store, t: joined}, l.pred)
		if err != nil {
			return err
		}
		if !truthy(v) {
			continue
		}
		l.matched[i] = true
		if err := l.emit(ctx, joined); err != nil {
			return err
		}
	}
	return nil
}

func (l *leftOuterJoinOp) finishRight(ctx context.Context) error {
	l.rightDone = true
	return l.maybeFinish(ctx)
}

func (l *leftOuterJoinOp) maybeFinish(ctx context.Context) error {
	if !(l.leftDone && l.rightDone) {
		return nil
	}
	for i, left := range l.left {
		if l.matched[i] {
			continue
		}
		out := left.Clone()
		for j := 0; j < l.rightW; j++ {
			out.Append(tuple.NullCell())
		}
		if err := l.emit(ctx, out); err != nil {
			return err
		}
	}
	return l.emitFinish(ctx)
}

// unionAllOp implements union_all: pass every tuple from either side
// straight through; finish only once both sides have finished (spec.md
// §4.8).
type unionAllOp struct {
	base
	leftDone  bool
	rightDone bool
}

func (u *unionAllOp) consumeLeft(ctx context.Context, t *tuple.Tuple) error  { return u.emit(ctx, t) }
func (u *unionAllOp) consumeRight(ctx context.Context, t *tuple.Tuple) error { return u.emit(ctx, t) }

func (u *unionAllOp) finishLeft(ctx context.Context) error {
	u.leftDone = true
	return u.maybeFinish(ctx)
}

func (u *unionAllOp) finishRight(ctx context.Context) error {
	u.rightDone = true
	return u.maybeFinish(ctx)
}

func (u *unionAllOp) maybeFinish(ctx context.Context) error {
	if u.leftDone && u.rightDone {
		return u.emitFinish(ctx)
	}
	return nil
}
