package query

import (
	"context"
	"io"

	"github.com/dbis-ilm/poseidon/internal/graph"
	"github.com/dbis-ilm/poseidon/internal/poserr"
	"github.com/dbis-ilm/poseidon/internal/tuple"
)

// Pipeline is the builder spec.md §6.2 describes: "one method per
// operator... terminal methods are collect(result_set&), print(), or
// finish()". Each chainable method appends one operator to the shared
// Arena and rewires the previous tail's downstream to it.
type Pipeline struct {
	arena   *Arena
	store   *graph.Store
	runners []func(ctx context.Context) error
	setDown func(OpIndex)
	// buildErr holds a malformed-pipeline error raised by a builder method
	// that cannot itself return error (it must return *Pipeline for
	// chaining); Run surfaces it before driving any producer.
	buildErr error
}

// NewPipeline starts a fresh pipeline reading from store.
func NewPipeline(store *graph.Store) *Pipeline {
	return &Pipeline{arena: newArena(), store: store}
}

// Branch starts a second pipeline over the same arena, used to build the
// right-hand side of a join or union before splicing it in.
func (p *Pipeline) Branch() *Pipeline {
	return &Pipeline{arena: p.arena, store: p.store}
}

func (p *Pipeline) connect(op operator, setDown func(OpIndex)) *Pipeline {
	idx := p.arena.add(op)
	if p.setDown != nil {
		p.setDown(idx)
	}
	p.setDown = setDown
	return p
}

// NamedExpr pairs a property name with the expression that computes it, for
// create_node/create_relationship/update_node.
type NamedExpr struct {
	Name string
	Expr *Expr
}

func compileProps(specs []NamedExpr) []PropExpr {
	out := make([]PropExpr, len(specs))
	for i, s := range specs {
		out[i] = PropExpr{Name: s.Name, Expr: Compile(s.Expr)}
	}
	return out
}

// AggItem pairs an aggregate function with the expression it aggregates,
// for aggregate/group_by.
type AggItem struct {
	Fn   aggFunc
	Expr *Expr
}

func compileAggs(specs []AggItem) []AggSpec {
	out := make([]AggSpec, len(specs))
	for i, s := range specs {
		out[i] = AggSpec{Fn: s.Fn, Expr: Compile(s.Expr)}
	}
	return out
}

func compileAll(exprs []*Expr) []compiledExpr {
	out := make([]compiledExpr, len(exprs))
	for i, e := range exprs {
		out[i] = Compile(e)
	}
	return out
}

// ScanNodes is the producer scan_nodes(label?): label == "" scans every
// node.
func (p *Pipeline) ScanNodes(label string) *Pipeline {
	op := newScanNodes(p.arena, p.store, label)
	p.runners = append(p.runners, op.run)
	p.setDown = op.setDown
	return p
}

// IndexScan is the producer index_scan(index_id, key).
func (p *Pipeline) IndexScan(index string, key graph.Value) *Pipeline {
	op := newIndexScan(p.arena, p.store, index, key)
	p.runners = append(p.runners, op.run)
	p.setDown = op.setDown
	return p
}

// ForeachFromRship is foreach_from_rship(label): pos selects the input
// tuple's node cell, -1 meaning its last cell.
func (p *Pipeline) ForeachFromRship(label string, pos int) *Pipeline {
	op := &foreachRshipOp{base: base{arena: p.arena, down: NoOp}, store: p.store, label: label, pos: pos}
	return p.connect(op, op.setDown)
}

// ForeachToRship is foreach_to_rship(label).
func (p *Pipeline) ForeachToRship(label string, pos int) *Pipeline {
	op := &foreachRshipOp{base: base{arena: p.arena, down: NoOp}, store: p.store, label: label, pos: pos, toward: true}
	return p.connect(op, op.setDown)
}

// ForeachAllRship is foreach_all_rship(label).
func (p *Pipeline) ForeachAllRship(label string, pos int) *Pipeline {
	op := &foreachAllRshipOp{base: base{arena: p.arena, down: NoOp}, store: p.store, label: label, pos: pos}
	return p.connect(op, op.setDown)
}

// VariableHop is the _variable_ hop traversal variant, expanding
// [min, max] hops from the node at pos.
func (p *Pipeline) VariableHop(label string, pos, min, max int) *Pipeline {
	op := &variableHopOp{base: base{arena: p.arena, down: NoOp}, store: p.store, label: label, pos: pos, min: min, max: max}
	return p.connect(op, op.setDown)
}

// GetFromNode is get_from_node: appends the source node of the RelID at
// pos.
func (p *Pipeline) GetFromNode(pos int) *Pipeline {
	op := &getEndpointOp{base: base{arena: p.arena, down: NoOp}, store: p.store, pos: pos, src: true}
	return p.connect(op, op.setDown)
}

// GetToNode is get_to_node: appends the destination node of the RelID at
// pos.
func (p *Pipeline) GetToNode(pos int) *Pipeline {
	op := &getEndpointOp{base: base{arena: p.arena, down: NoOp}, store: p.store, pos: pos}
	return p.connect(op, op.setDown)
}

// IsProperty is is_property(key, predicate): pass through only if the
// property at pos named key compares true against value under op.
func (p *Pipeline) IsProperty(pos int, key string, cmp Op, value tuple.Cell) *Pipeline {
	op := &isPropertyOp{base: base{arena: p.arena, down: NoOp}, store: p.store, pos: pos, key: key, op: cmp, value: value}
	return p.connect(op, op.setDown)
}

// NodeHasLabel is node_has_label(labels): pass through only if the node at
// pos carries one of labels.
func (p *Pipeline) NodeHasLabel(pos int, labels ...string) *Pipeline {
	op := &nodeHasLabelOp{base: base{arena: p.arena, down: NoOp}, store: p.store, pos: pos, labels: labels}
	return p.connect(op, op.setDown)
}

// Filter is filter_tuple(expr).
func (p *Pipeline) Filter(expr *Expr) *Pipeline {
	op := &filterTupleOp{base: base{arena: p.arena, down: NoOp}, store: p.store, expr: Compile(expr)}
	return p.connect(op, op.setDown)
}

// Project is project(expr_list).
func (p *Pipeline) Project(exprs ...*Expr) *Pipeline {
	op := &projectOp{base: base{arena: p.arena, down: NoOp}, store: p.store, exprs: compileAll(exprs)}
	return p.connect(op, op.setDown)
}

// Limit is limit(n).
func (p *Pipeline) Limit(n int64) *Pipeline {
	op := &limitOp{base: base{arena: p.arena, down: NoOp}, n: n}
	return p.connect(op, op.setDown)
}

// Distinct is distinct_tuples.
func (p *Pipeline) Distinct() *Pipeline {
	op := &distinctTuplesOp{base: base{arena: p.arena, down: NoOp}}
	return p.connect(op, op.setDown)
}

// OrderBy is order_by(spec): keys evaluated in order, desc[i] reversing the
// i-th key (defaults to ascending if shorter than keys). An empty spec is
// rejected rather than left to degenerate into a no-op "always equal" sort
// (spec.md §9 "require at least one spec entry").
func (p *Pipeline) OrderBy(keys []*Expr, desc []bool) *Pipeline {
	if len(keys) == 0 {
		if p.buildErr == nil {
			p.buildErr = poserr.New(poserr.KindQueryProcessing, "query.Pipeline.OrderBy: empty sort spec")
		}
		return p
	}
	op := &orderByOp{base: base{arena: p.arena, down: NoOp}, store: p.store, keys: compileAll(keys), desc: desc}
	return p.connect(op, op.setDown)
}

// Aggregate is aggregate(exprs): one running aggregate emitted on finish.
func (p *Pipeline) Aggregate(specs []AggItem) *Pipeline {
	op := &aggregateOp{base: base{arena: p.arena, down: NoOp}, store: p.store, specs: compileAggs(specs)}
	return p.connect(op, op.setDown)
}

// GroupBy is group_by(keys, agg_exprs).
func (p *Pipeline) GroupBy(keys []*Expr, specs []AggItem) *Pipeline {
	op := &groupByOp{base: base{arena: p.arena, down: NoOp}, store: p.store, keys: compileAll(keys), specs: compileAggs(specs)}
	return p.connect(op, op.setDown)
}

// CreateNode is create_node: label fixed, properties computed per input
// tuple.
func (p *Pipeline) CreateNode(label string, props []NamedExpr) *Pipeline {
	op := &createNodeOp{base: base{arena: p.arena, down: NoOp}, store: p.store, label: label, props: compileProps(props)}
	return p.connect(op, op.setDown)
}

// CreateRelationship is create_relationship: label fixed, endpoints read
// from srcPos/dstPos.
func (p *Pipeline) CreateRelationship(label string, srcPos, dstPos int, props []NamedExpr) *Pipeline {
	op := &createRelationshipOp{base: base{arena: p.arena, down: NoOp}, store: p.store, label: label, srcPos: srcPos, dstPos: dstPos, props: compileProps(props)}
	return p.connect(op, op.setDown)
}

// UpdateNode is update_node: rewrite the node at pos's properties.
func (p *Pipeline) UpdateNode(pos int, props []NamedExpr) *Pipeline {
	op := &updateNodeOp{base: base{arena: p.arena, down: NoOp}, store: p.store, pos: pos, props: compileProps(props)}
	return p.connect(op, op.setDown)
}

// RemoveNode is remove_node.
func (p *Pipeline) RemoveNode(pos int) *Pipeline {
	op := &removeNodeOp{base: base{arena: p.arena, down: NoOp}, store: p.store, pos: pos}
	return p.connect(op, op.setDown)
}

// RemoveRelationship is remove_relationship.
func (p *Pipeline) RemoveRelationship(pos int) *Pipeline {
	op := &removeRelationshipOp{base: base{arena: p.arena, down: NoOp}, store: p.store, pos: pos}
	return p.connect(op, op.setDown)
}

// DetachNode is detach_node.
func (p *Pipeline) DetachNode(pos int) *Pipeline {
	op := &detachNodeOp{base: base{arena: p.arena, down: NoOp}, store: p.store, pos: pos}
	return p.connect(op, op.setDown)
}

// CollectResult is the terminal collect(result_set&).
func (p *Pipeline) CollectResult(set *ResultSet) *Pipeline {
	op := &collectResultOp{base: base{arena: p.arena, down: NoOp}, set: set}
	return p.connect(op, op.setDown)
}

// Print is the terminal print().
func (p *Pipeline) Print(w io.Writer) *Pipeline {
	op := &printOp{base: base{arena: p.arena, down: NoOp}, w: w}
	return p.connect(op, op.setDown)
}

// EndPipeline is the terminal finish() sink: run side effects, discard
// output.
func (p *Pipeline) EndPipeline() *Pipeline {
	op := &endPipelineOp{base: base{arena: p.arena, down: NoOp}}
	return p.connect(op, op.setDown)
}

// spliceBinary wires p's and right's current tails into the two halves of
// a binary operator and returns the combined pipeline, whose Run drives
// both upstream producer chains.
func (p *Pipeline) spliceBinary(right *Pipeline, target binaryOperator) *Pipeline {
	leftEnd := &binaryEnd{target: target, left: true}
	rightEnd := &binaryEnd{target: target, left: false}
	leftIdx := p.arena.add(leftEnd)
	if p.setDown != nil {
		p.setDown(leftIdx)
	}
	rightIdx := right.arena.add(rightEnd)
	if right.setDown != nil {
		right.setDown(rightIdx)
	}
	combined := &Pipeline{arena: p.arena, store: p.store}
	combined.runners = append(combined.runners, p.runners...)
	combined.runners = append(combined.runners, right.runners...)
	if p.buildErr != nil {
		combined.buildErr = p.buildErr
	} else {
		combined.buildErr = right.buildErr
	}
	return combined
}

// CrossJoin is cross_join: right must be a Branch() of p (or otherwise
// share its Arena).
func (p *Pipeline) CrossJoin(right *Pipeline) *Pipeline {
	op := &crossJoinOp{base: base{arena: p.arena, down: NoOp}}
	combined := p.spliceBinary(right, op)
	combined.setDown = op.setDown
	return combined
}

// NestedLoopJoin is nested_loop_join(predicate), evaluated over the
// concatenated left+right tuple.
func (p *Pipeline) NestedLoopJoin(right *Pipeline, pred *Expr) *Pipeline {
	op := &nestedLoopJoinOp{base: base{arena: p.arena, down: NoOp}, store: p.store, pred: Compile(pred)}
	combined := p.spliceBinary(right, op)
	combined.setDown = op.setDown
	return combined
}

// HashJoin is hash_join(left_pos, right_pos): an equi-join on the cell at
// leftPos/rightPos.
func (p *Pipeline) HashJoin(right *Pipeline, leftPos, rightPos int) *Pipeline {
	op := &hashJoinOp{base: base{arena: p.arena, down: NoOp}, leftPos: leftPos, rightPos: rightPos}
	combined := p.spliceBinary(right, op)
	combined.setDown = op.setDown
	return combined
}

// LeftOuterJoin is left_outer_join(predicate).
func (p *Pipeline) LeftOuterJoin(right *Pipeline, pred *Expr) *Pipeline {
	op := &leftOuterJoinOp{base: base{arena: p.arena, down: NoOp}, store: p.store, pred: Compile(pred)}
	combined := p.spliceBinary(right, op)
	combined.setDown = op.setDown
	return combined
}

// UnionAll is union_all.
func (p *Pipeline) UnionAll(right *Pipeline) *Pipeline {
	op := &unionAllOp{base: base{arena: p.arena, down: NoOp}}
	combined := p.spliceBinary(right, op)
	combined.setDown = op.setDown
	return combined
}

// Run drives every producer in the pipeline to completion. Producers run
// sequentially: a binary operator's build (left) side finishes, and hence
// is available for probing, before its probe (right) side starts.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.buildErr != nil {
		return p.buildErr
	}
	if len(p.runners) == 0 {
		return poserr.New(poserr.KindQueryProcessing, "query.Pipeline.Run: no producer")
	}
	for _, run := range p.runners {
		if err := run(ctx); err != nil {
			return err
		}
	}
	return nil
}
