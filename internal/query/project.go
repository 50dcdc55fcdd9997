package query

import (
	"context"

	"github.com/dbis-ilm/poseidon/internal/graph"
	"github.com/dbis-ilm/poseidon/internal/tuple"
)

// projectOp implements project(expr_list): build a fresh output tuple from
// one cell per expression, evaluated against the input tuple (spec.md
// §4.8).
type projectOp struct {
	base
	store *graph.Store
	exprs []compiledExpr
}

func (p *projectOp) consume(ctx context.Context, t *tuple.Tuple) error {
	out := tuple.New()
	for _, e := range p.exprs {
		v, err := eval(evalCtx{ctx: ctx, store: p.store, t: t}, e)
		if err != nil {
			return err
		}
		v, err = expandDesc(p.store, v)
		if err != nil {
			return err
		}
		out.Append(v)
	}
	return p.emit(ctx, out)
}

// expandDesc replaces a raw NodeID/RelID cell with its printable
// NodeDesc/RelDesc, the shape a result row is meant to carry once it
// reaches project (spec.md §6.3's node/rship cell kinds exist for exactly
// this). Any other cell kind passes through unchanged.
func expandDesc(store *graph.Store, c tuple.Cell) (tuple.Cell, error) {
	switch c.Kind {
	case tuple.KindNodeID:
		d, err := describeNode(store, c.NodeID)
		if err != nil {
			return tuple.Cell{}, err
		}
		return tuple.NodeDescCell(d), nil
	case tuple.KindRelID:
		d, err := describeRelationship(store, c.RelID)
		if err != nil {
			return tuple.Cell{}, err
		}
		return tuple.RelDescCell(d), nil
	default:
		return c, nil
	}
}

func (p *projectOp) finish(ctx context.Context) error { return p.emitFinish(ctx) }

// describeNode resolves a node id into its printable NodeDesc, used by
// project expressions and the collect_result sink.
func describeNode(store *graph.Store, id uint64) (tuple.NodeDesc, error) {
	rec, err := store.Node(id)
	if err != nil {
		return tuple.NodeDesc{}, err
	}
	label, err := store.Label(rec.LabelCode)
	if err != nil {
		return tuple.NodeDesc{}, err
	}
	props, err := store.Properties(rec.PropHead)
	if err != nil {
		return tuple.NodeDesc{}, err
	}
	m := make(map[string]string, len(props))
	for _, p := range props {
		m[p.Name] = valueToCell(p.Value).Canonical()
	}
	return tuple.NodeDesc{ID: id, Label: label, Properties: m}, nil
}

// describeRelationship resolves a relationship id into its printable
// RelDesc.
func describeRelationship(store *graph.Store, id uint64) (tuple.RelDesc, error) {
	rec, err := store.Relationship(id)
	if err != nil {
		return tuple.RelDesc{}, err
	}
	label, err := store.Label(rec.LabelCode)
	if err != nil {
		return tuple.RelDesc{}, err
	}
	props, err := store.Properties(rec.PropHead)
	if err != nil {
		return tuple.RelDesc{}, err
	}
	m := make(map[string]string, len(props))
	for _, p := range props {
		m[p.Name] = valueToCell(p.Value).Canonical()
	}
	return tuple.RelDesc{ID: id, Label: label, Src: rec.Src, Dst: rec.Dst, Properties: m}, nil
}
