package query

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/dbis-ilm/poseidon/internal/graph"
	"github.com/dbis-ilm/poseidon/internal/tuple"
)

// limitOp implements limit(n): pass through at most n tuples. The counter
// is atomic so limit stays correct when fed by parallel_nodes (spec.md
// §4.8 "limit").
type limitOp struct {
	base
	n     int64
	count int64
}

func (l *limitOp) consume(ctx context.Context, t *tuple.Tuple) error {
	if atomic.AddInt64(&l.count, 1) > l.n {
		return nil
	}
	return l.emit(ctx, t)
}

func (l *limitOp) finish(ctx context.Context) error { return l.emitFinish(ctx) }

// distinctTuplesOp implements distinct_tuples: suppress tuples whose
// canonical key has already been seen (spec.md §4.8).
type distinctTuplesOp struct {
	base
	seen map[string]bool
}

func (d *distinctTuplesOp) consume(ctx context.Context, t *tuple.Tuple) error {
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	key := t.CanonicalKey()
	if d.seen[key] {
		return nil
	}
	d.seen[key] = true
	return d.emit(ctx, t)
}

func (d *distinctTuplesOp) finish(ctx context.Context) error { return d.emitFinish(ctx) }

// orderByOp implements order_by(spec): buffer every tuple, sort on finish,
// then drain downstream (spec.md §4.8). It is inherently a pipeline
// barrier: nothing can be emitted before the upstream signals finish.
type orderByOp struct {
	base
	store *graph.Store
	keys  []compiledExpr
	desc  []bool
	rows  []*tuple.Tuple
}

func (o *orderByOp) consume(ctx context.Context, t *tuple.Tuple) error {
	o.rows = append(o.rows, t)
	return nil
}

func (o *orderByOp) finish(ctx context.Context) error {
	var sortErr error
	sort.SliceStable(o.rows, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		for k, key := range o.keys {
			vi, err := eval(evalCtx{ctx: ctx, store: o.store, t: o.rows[i]}, key)
			if err != nil {
				sortErr = err
				return false
			}
			vj, err := eval(evalCtx{ctx: ctx, store: o.store, t: o.rows[j]}, key)
			if err != nil {
				sortErr = err
				return false
			}
			lt := truthy(evalCompare(OpLT, vi, vj))
			gt := truthy(evalCompare(OpGT, vi, vj))
			if lt == gt {
				continue
			}
			if k < len(o.desc) && o.desc[k] {
				return gt
			}
			return lt
		}
		return false
	})
	if sortErr != nil {
		return sortErr
	}
	for _, t := range o.rows {
		if err := o.emit(ctx, t); err != nil {
			return err
		}
	}
	return o.emitFinish(ctx)
}

// aggFunc names the aggregate functions spec.md §4.8 lists: count, sum,
// min, max, average.
type aggFunc string

const (
	AggCount   aggFunc = "count"
	AggSum     aggFunc = "sum"
	AggMin     aggFunc = "min"
	AggMax     aggFunc = "max"
	AggAverage aggFunc = "average"
)

// AggSpec describes one output column of aggregate/group_by.
type AggSpec struct {
	Fn   aggFunc
	Expr compiledExpr
}

type aggState struct {
	count int64
	sum   float64
	min   tuple.Cell
	max   tuple.Cell
	set   bool
}

func (a *aggState) update(c tuple.Cell) {
	if c.IsNull() {
		return
	}
	a.count++
	if f, ok := asFloat(c); ok {
		a.sum += f
	}
	if !a.set {
		a.min, a.max, a.set = c, c, true
		return
	}
	if truthy(evalCompare(OpLT, c, a.min)) {
		a.min = c
	}
	if truthy(evalCompare(OpGT, c, a.max)) {
		a.max = c
	}
}

func (a *aggState) result(fn aggFunc) tuple.Cell {
	switch fn {
	case AggCount:
		return tuple.IntCell(a.count)
	case AggSum:
		return tuple.DoubleCell(a.sum)
	case AggAverage:
		if a.count == 0 {
			return tuple.NullCell()
		}
		return tuple.DoubleCell(a.sum / float64(a.count))
	case AggMin:
		if !a.set {
			return tuple.NullCell()
		}
		return a.min
	case AggMax:
		if !a.set {
			return tuple.NullCell()
		}
		return a.max
	default:
		return tuple.NullCell()
	}
}

// aggregateOp implements aggregate(exprs): a single running aggregate over
// the whole input, emitted once on finish (spec.md §4.8).
type aggregateOp struct {
	base
	store *graph.Store
	specs []AggSpec
	state []aggState
}

func (a *aggregateOp) consume(ctx context.Context, t *tuple.Tuple) error {
	if a.state == nil {
		a.state = make([]aggState, len(a.specs))
	}
	for i, spec := range a.specs {
		v, err := eval(evalCtx{ctx: ctx, store: a.store, t: t}, spec.Expr)
		if err != nil {
			return err
		}
		a.state[i].update(v)
	}
	return nil
}

func (a *aggregateOp) finish(ctx context.Context) error {
	if a.state == nil {
		a.state = make([]aggState, len(a.specs))
	}
	out := tuple.New()
	for i, spec := range a.specs {
		out.Append(a.state[i].result(spec.Fn))
	}
	if err := a.emit(ctx, out); err != nil {
		return err
	}
	return a.emitFinish(ctx)
}

// groupByOp implements group_by(keys, agg_exprs): one aggregate state per
// distinct key tuple, emitted on finish (spec.md §4.8). Group order is the
// order each key was first seen, matching how the other stateful operators
// make insertion order the deterministic tie-breaker.
type groupByOp struct {
	base
	store *graph.Store
	keys  []compiledExpr
	specs []AggSpec

	order []string
	key   map[string][]tuple.Cell
	state map[string][]aggState
}

func (g *groupByOp) consume(ctx context.Context, t *tuple.Tuple) error {
	if g.key == nil {
		g.key = make(map[string][]tuple.Cell)
		g.state = make(map[string][]aggState)
	}
	keyCells := make([]tuple.Cell, len(g.keys))
	for i, k := range g.keys {
		v, err := eval(evalCtx{ctx: ctx, store: g.store, t: t}, k)
		if err != nil {
			return err
		}
		keyCells[i] = v
	}
	gk := tuple.New(keyCells...).CanonicalKey()
	if _, ok := g.state[gk]; !ok {
		g.order = append(g.order, gk)
		g.key[gk] = keyCells
		g.state[gk] = make([]aggState, len(g.specs))
	}
	st := g.state[gk]
	for i, spec := range g.specs {
		v, err := eval(evalCtx{ctx: ctx, store: g.store, t: t}, spec.Expr)
		if err != nil {
			return err
		}
		st[i].update(v)
	}
	return nil
}

func (g *groupByOp) finish(ctx context.Context) error {
	for _, gk := range g.order {
		out := tuple.New(g.key[gk]...)
		for i, spec := range g.specs {
			out.Append(g.state[gk][i].result(spec.Fn))
		}
		if err := g.emit(ctx, out); err != nil {
			return err
		}
	}
	return g.emitFinish(ctx)
}
