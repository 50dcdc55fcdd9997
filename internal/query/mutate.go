package query

import (
	"context"

	"github.com/dbis-ilm/poseidon/internal/graph"
	"github.com/dbis-ilm/poseidon/internal/poserr"
	"github.com/dbis-ilm/poseidon/internal/tuple"
)

// PropExpr names one property to be computed from the input tuple when
// building or updating a node/relationship.
type PropExpr struct {
	Name string
	Expr compiledExpr
}

func cellToValue(c tuple.Cell) (graph.Value, error) {
	switch c.Kind {
	case tuple.KindInt:
		return graph.IntValue(c.Int), nil
	case tuple.KindDouble:
		return graph.DoubleValue(c.Double), nil
	case tuple.KindUint64:
		return graph.Uint64Value(c.Uint64), nil
	case tuple.KindString:
		return graph.StringValue(c.Str), nil
	case tuple.KindTimestamp:
		return graph.TimestampValue(c.Time), nil
	default:
		return graph.Value{}, poserr.New(poserr.KindQueryProcessing, "query: cannot store cell kind as property")
	}
}

func buildProps(ec evalCtx, specs []PropExpr) ([]graph.Property, error) {
	out := make([]graph.Property, 0, len(specs))
	for _, spec := range specs {
		c, err := eval(ec, spec.Expr)
		if err != nil {
			return nil, err
		}
		if c.IsNull() {
			continue
		}
		v, err := cellToValue(c)
		if err != nil {
			return nil, err
		}
		out = append(out, graph.Property{Name: spec.Name, Value: v})
	}
	return out, nil
}

// createNodeOp implements create_node: build a node from the input tuple's
// computed properties and append its NodeID cell (spec.md §4.8).
type createNodeOp struct {
	base
	store *graph.Store
	label string
	props []PropExpr
}

func (c *createNodeOp) consume(ctx context.Context, t *tuple.Tuple) error {
	props, err := buildProps(evalCtx{ctx: ctx, store: c.store, t: t}, c.props)
	if err != nil {
		return err
	}
	id, err := c.store.AddNode(ctx, c.label, props)
	if err != nil {
		return err
	}
	out := t.Clone()
	out.Append(tuple.NodeIDCell(id))
	return c.emit(ctx, out)
}

func (c *createNodeOp) finish(ctx context.Context) error { return c.emitFinish(ctx) }

// createRelationshipOp implements create_relationship: connect the NodeID
// cells at srcPos/dstPos, appending the new RelID cell (spec.md §4.8).
type createRelationshipOp struct {
	base
	store          *graph.Store
	label          string
	srcPos, dstPos int
	props          []PropExpr
}

func (c *createRelationshipOp) consume(ctx context.Context, t *tuple.Tuple) error {
	src, ok := nodeAt(t, c.srcPos)
	if !ok {
		return poserr.New(poserr.KindQueryProcessing, "query.create_relationship: missing source node")
	}
	dst, ok := nodeAt(t, c.dstPos)
	if !ok {
		return poserr.New(poserr.KindQueryProcessing, "query.create_relationship: missing destination node")
	}
	props, err := buildProps(evalCtx{ctx: ctx, store: c.store, t: t}, c.props)
	if err != nil {
		return err
	}
	id, err := c.store.AddRelationship(ctx, src, dst, c.label, props)
	if err != nil {
		return err
	}
	out := t.Clone()
	out.Append(tuple.RelIDCell(id))
	return c.emit(ctx, out)
}

func (c *createRelationshipOp) finish(ctx context.Context) error { return c.emitFinish(ctx) }

// updateNodeOp implements update_node: rewrite the property chain of the
// node at pos with freshly computed values, then pass the tuple through
// unchanged (spec.md §4.8).
type updateNodeOp struct {
	base
	store *graph.Store
	pos   int
	props []PropExpr
}

func (u *updateNodeOp) consume(ctx context.Context, t *tuple.Tuple) error {
	id, ok := nodeAt(t, u.pos)
	if !ok {
		return poserr.New(poserr.KindQueryProcessing, "query.update_node: missing node")
	}
	props, err := buildProps(evalCtx{ctx: ctx, store: u.store, t: t}, u.props)
	if err != nil {
		return err
	}
	if err := u.store.UpdateNode(ctx, id, props); err != nil {
		return err
	}
	return u.emit(ctx, t)
}

func (u *updateNodeOp) finish(ctx context.Context) error { return u.emitFinish(ctx) }

// removeRelationshipOp implements remove_relationship: delete the
// relationship at pos, pass the tuple through (spec.md §4.8).
type removeRelationshipOp struct {
	base
	store *graph.Store
	pos   int
}

func (r *removeRelationshipOp) consume(ctx context.Context, t *tuple.Tuple) error {
	id, ok := relAt(t, r.pos)
	if !ok {
		return poserr.New(poserr.KindQueryProcessing, "query.remove_relationship: missing relationship")
	}
	if err := r.store.DeleteRelationship(ctx, id); err != nil {
		return err
	}
	return r.emit(ctx, t)
}

func (r *removeRelationshipOp) finish(ctx context.Context) error { return r.emitFinish(ctx) }

// removeNodeOp implements remove_node: delete the node at pos, which fails
// if it still has incident relationships (spec.md §4.8 "delete_node"'s
// invariant, surfaced here as the operator's own error).
type removeNodeOp struct {
	base
	store *graph.Store
	pos   int
}

func (r *removeNodeOp) consume(ctx context.Context, t *tuple.Tuple) error {
	id, ok := nodeAt(t, r.pos)
	if !ok {
		return poserr.New(poserr.KindQueryProcessing, "query.remove_node: missing node")
	}
	if err := r.store.DeleteNode(ctx, id); err != nil {
		return err
	}
	return r.emit(ctx, t)
}

func (r *removeNodeOp) finish(ctx context.Context) error { return r.emitFinish(ctx) }

// detachNodeOp implements detach_node: remove every relationship incident
// to the node at pos, then the node itself (spec.md §4.8 "detach_node"),
// unlike remove_node never failing on NodeHasRelationships.
type detachNodeOp struct {
	base
	store *graph.Store
	pos   int
}

func (d *detachNodeOp) consume(ctx context.Context, t *tuple.Tuple) error {
	id, ok := nodeAt(t, d.pos)
	if !ok {
		return poserr.New(poserr.KindQueryProcessing, "query.detach_node: missing node")
	}
	var incident []graph.ID
	collect := func(relID graph.ID, rel graph.RelRecord) bool {
		incident = append(incident, relID)
		return true
	}
	if err := d.store.ForeachFromRelationship(ctx, id, "", collect); err != nil {
		return err
	}
	if err := d.store.ForeachToRelationship(ctx, id, "", collect); err != nil {
		return err
	}
	for _, relID := range incident {
		if err := d.store.DeleteRelationship(ctx, relID); err != nil {
			return err
		}
	}
	if err := d.store.DeleteNode(ctx, id); err != nil {
		return err
	}
	return d.emit(ctx, t)
}

func (d *detachNodeOp) finish(ctx context.Context) error { return d.emitFinish(ctx) }
