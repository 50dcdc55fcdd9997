package query

import (
	"context"

	"github.com/dbis-ilm/poseidon/internal/graph"
	"github.com/dbis-ilm/poseidon/internal/tuple"
)

// producer drives a pipeline: unlike an operator it is never pushed into,
// it pulls from the graph store itself and pushes into its own downstream
// (spec.md §4.8 "scan_nodes", "index_scan").
type producer interface {
	run(ctx context.Context) error
}

type scanNodesOp struct {
	base
	store *graph.Store
	label string
}

func newScanNodes(arena *Arena, store *graph.Store, label string) *scanNodesOp {
	return &scanNodesOp{base: base{arena: arena, down: NoOp}, store: store, label: label}
}

func (s *scanNodesOp) run(ctx context.Context) error {
	var err error
	walk := func(id graph.ID, rec graph.NodeRecord) bool {
		t := tuple.New(tuple.NodeIDCell(id))
		if e := s.emit(ctx, t); e != nil {
			err = e
			return false
		}
		return true
	}
	if s.label == "" {
		if e := s.store.Nodes(ctx, walk); e != nil {
			return e
		}
	} else {
		if e := s.store.NodesByLabel(ctx, s.label, walk); e != nil {
			return e
		}
	}
	if err != nil {
		return err
	}
	return s.emitFinish(ctx)
}

type indexScanOp struct {
	base
	store *graph.Store
	index string
	key   graph.Value
}

func newIndexScan(arena *Arena, store *graph.Store, index string, key graph.Value) *indexScanOp {
	return &indexScanOp{base: base{arena: arena, down: NoOp}, store: store, index: index, key: key}
}

func (s *indexScanOp) run(ctx context.Context) error {
	var err error
	lookupErr := s.store.IndexLookup(ctx, s.index, s.key, func(id graph.ID, rec graph.NodeRecord) bool {
		t := tuple.New(tuple.NodeIDCell(id))
		if e := s.emit(ctx, t); e != nil {
			err = e
			return false
		}
		return true
	})
	if lookupErr != nil {
		return lookupErr
	}
	if err != nil {
		return err
	}
	return s.emitFinish(ctx)
}
