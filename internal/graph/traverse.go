package graph

import (
	"context"

	"github.com/dbis-ilm/poseidon/internal/bvector"
	"github.com/dbis-ilm/poseidon/internal/workerpool"
)

// Nodes iterates every node visible to ctx's transaction, in vector order
// (spec.md §4.6 "Traversal").
func (s *Store) Nodes(ctx context.Context, consumer func(ID, NodeRecord) bool) error {
	return s.nodes.ForEach(func(off bvector.Offset, rec NodeRecord) bool {
		if !visible(ctx, rec.MVCC.bts, rec.MVCC.cts) {
			return true
		}
		return consumer(ID(off), rec)
	})
}

// NodesByLabel iterates every node carrying label and visible to ctx's
// transaction. An unrecognised label yields no nodes rather than an error,
// matching add_node's lazy label interning.
func (s *Store) NodesByLabel(ctx context.Context, label string, consumer func(ID, NodeRecord) bool) error {
	code := s.dict.Lookup(label)
	if code == 0 {
		return nil
	}
	return s.nodes.ForEach(func(off bvector.Offset, rec NodeRecord) bool {
		if rec.LabelCode != uint64(code) {
			return true
		}
		if !visible(ctx, rec.MVCC.bts, rec.MVCC.cts) {
			return true
		}
		return consumer(ID(off), rec)
	})
}

// ParallelNodes partitions the node vector into fixed-size chunk ranges and
// hands each to a worker-pool task invoking consumer on visible records
// (spec.md §4.6 "parallel_nodes"). Cancelling ctx cancels remaining
// partitions. consumer may be called concurrently from multiple goroutines.
func (s *Store) ParallelNodes(ctx context.Context, consumer func(ID, NodeRecord) bool) error {
	n := s.nodes.NumChunks()
	if n == 0 {
		return nil
	}
	parts := workerpool.Partitions(n, 1)
	return s.workers.Run(ctx, parts, func(ctx context.Context, part workerpool.Partition) error {
		return s.nodes.Range(part.Start, part.End-1, 0, func(off bvector.Offset, rec NodeRecord) bool {
			if ctx.Err() != nil {
				return false
			}
			if !visible(ctx, rec.MVCC.bts, rec.MVCC.cts) {
				return true
			}
			return consumer(ID(off), rec)
		})
	})
}

// ForeachFromRelationship walks node's outgoing adjacency list
// (FromHead/NextSrc) until the sentinel, invoking consumer on each
// relationship. An empty label matches every relationship (spec.md §4.6).
func (s *Store) ForeachFromRelationship(ctx context.Context, node ID, label string, consumer func(ID, RelRecord) bool) error {
	var labelCode uint64
	filterByLabel := label != ""
	if filterByLabel {
		labelCode = uint64(s.dict.Lookup(label))
	}
	rec, err := s.Node(node)
	if err != nil {
		return err
	}
	for cur := rec.FromHead; cur != Unknown; {
		rel, err := s.Relationship(cur)
		if err != nil {
			return err
		}
		next := rel.NextSrc
		if !filterByLabel || rel.LabelCode == labelCode {
			if !consumer(cur, rel) {
				return nil
			}
		}
		cur = next
	}
	return nil
}

// ForeachToRelationship is ForeachFromRelationship's symmetric counterpart
// over ToHead/NextDst.
func (s *Store) ForeachToRelationship(ctx context.Context, node ID, label string, consumer func(ID, RelRecord) bool) error {
	var labelCode uint64
	filterByLabel := label != ""
	if filterByLabel {
		labelCode = uint64(s.dict.Lookup(label))
	}
	rec, err := s.Node(node)
	if err != nil {
		return err
	}
	for cur := rec.ToHead; cur != Unknown; {
		rel, err := s.Relationship(cur)
		if err != nil {
			return err
		}
		next := rel.NextDst
		if !filterByLabel || rel.LabelCode == labelCode {
			if !consumer(cur, rel) {
				return nil
			}
		}
		cur = next
	}
	return nil
}

// VariableHopTraversal performs a breadth-first expansion from start,
// collecting relationships whose hop count falls in [min, max] and whose
// label matches (spec.md §4.6 "Variable-hop traversal"). A visited set
// prevents re-emitting the same relationship; edges whose label does not
// match are not emitted but their destination is still explored, up to
// max hops. Within a node, relationships are visited in adjacency-list
// order (FromHead/NextSrc order, i.e. most-recently-added first) — the
// same order foreach_from_relationship uses, reproducing the source's
// insertion-order tie-breaking (spec.md §9 open question).
func (s *Store) VariableHopTraversal(ctx context.Context, start ID, label string, min, max int, consumer func(relID ID, rel RelRecord, hop int) bool) error {
	var labelCode uint64
	filterByLabel := label != ""
	if filterByLabel {
		labelCode = uint64(s.dict.Lookup(label))
	}
	if max < 1 {
		return nil
	}

	visitedRel := make(map[ID]bool)
	frontier := []ID{start}
	for hop := 1; hop <= max; hop++ {
		var next []ID
		for _, nodeID := range frontier {
			rec, err := s.Node(nodeID)
			if err != nil {
				return err
			}
			for cur := rec.FromHead; cur != Unknown; {
				rel, err := s.Relationship(cur)
				if err != nil {
					return err
				}
				advance := cur
				cur = rel.NextSrc
				if visitedRel[advance] {
					continue
				}
				visitedRel[advance] = true
				next = append(next, rel.Dst)
				if hop < min {
					continue
				}
				if filterByLabel && rel.LabelCode != labelCode {
					continue
				}
				if !consumer(advance, rel, hop) {
					return nil
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return nil
}
