package graph

import (
	"context"

	"github.com/dbis-ilm/poseidon/internal/bvector"
	"github.com/dbis-ilm/poseidon/internal/poserr"
	"github.com/dbis-ilm/poseidon/internal/txn"
)

// UpdateNode rewrites node's property chain, archiving the prior version so
// any transaction whose snapshot predates this one still sees it (spec.md
// §4.6 "update_node"). The archived copy's cts is stamped at commit time,
// same as any other now-superseded record; until then it remains reachable
// only via the new head's prevVersion link, not via id directly.
func (s *Store) UpdateNode(ctx context.Context, id ID, props []Property) error {
	old, err := s.Node(id)
	if err != nil {
		return err
	}
	oldProps, err := s.Properties(old.PropHead)
	if err != nil {
		return err
	}
	bts, tx, hasTx := currentStamps(ctx)

	archived := old
	archivedOff, err := s.nodes.Append(archived)
	if err != nil {
		return err
	}
	archivedID := ID(archivedOff)

	propHead, err := s.buildPropChain(props)
	if err != nil {
		return err
	}
	if err := s.reindexNode(id, old, oldProps, props); err != nil {
		return err
	}
	newRec := NodeRecord{
		LabelCode: old.LabelCode,
		FromHead:  old.FromHead,
		ToHead:    old.ToHead,
		PropHead:  propHead,
		MVCC:      mvcc{bts: bts, cts: txn.Infinity, prevVersion: archivedID},
	}
	if err := s.nodes.StoreAt(bvector.Offset(id), newRec); err != nil {
		return err
	}

	if hasTx {
		tx.MarkDirty(txn.DirtyRecord{
			Commit: func(cts uint64) error {
				archived.MVCC.cts = cts
				return s.nodes.StoreAt(bvector.Offset(archivedID), archived)
			},
			Abort: func() error {
				return s.nodes.StoreAt(bvector.Offset(id), old)
			},
		})
	} else {
		archived.MVCC.cts = bts
		if err := s.nodes.StoreAt(bvector.Offset(archivedID), archived); err != nil {
			return err
		}
	}
	return nil
}

// DeleteNode closes a node's visibility interval, failing with
// NodeHasRelationships if it still has any incident edge (spec.md §4.6
// "delete_node"). The record itself is not reclaimed: older snapshots may
// still be entitled to see it.
func (s *Store) DeleteNode(ctx context.Context, id ID) error {
	rec, err := s.Node(id)
	if err != nil {
		return err
	}
	if rec.FromHead != Unknown || rec.ToHead != Unknown {
		return poserr.New(poserr.KindNodeHasRelationships, "graph.DeleteNode")
	}
	props, err := s.Properties(rec.PropHead)
	if err != nil {
		return err
	}
	if err := s.deindexNode(id, rec, props); err != nil {
		return err
	}
	return s.closeNode(ctx, id, rec)
}

func (s *Store) closeNode(ctx context.Context, id ID, rec NodeRecord) error {
	bts, tx, hasTx := currentStamps(ctx)
	if hasTx {
		tx.MarkDirty(txn.DirtyRecord{
			Commit: func(cts uint64) error {
				rec.MVCC.cts = cts
				return s.nodes.StoreAt(bvector.Offset(id), rec)
			},
			Abort: func() error {
				return nil
			},
		})
		return nil
	}
	rec.MVCC.cts = bts
	return s.nodes.StoreAt(bvector.Offset(id), rec)
}

// DeleteRelationship unlinks rel from both endpoints' adjacency lists in
// O(chain length) and closes its visibility interval (spec.md §4.6
// "delete_relationship").
func (s *Store) DeleteRelationship(ctx context.Context, relID ID) error {
	rel, err := s.Relationship(relID)
	if err != nil {
		return err
	}
	if err := s.unlinkFrom(rel.Src, relID); err != nil {
		return err
	}
	if err := s.unlinkTo(rel.Dst, relID); err != nil {
		return err
	}
	return s.closeRelationship(ctx, relID, rel)
}

func (s *Store) unlinkFrom(nodeID, relID ID) error {
	node, err := s.Node(nodeID)
	if err != nil {
		return err
	}
	if node.FromHead == relID {
		head, err := s.Relationship(relID)
		if err != nil {
			return err
		}
		node.FromHead = head.NextSrc
		return s.nodes.StoreAt(bvector.Offset(nodeID), node)
	}
	prev := node.FromHead
	for prev != Unknown {
		prevRel, err := s.Relationship(prev)
		if err != nil {
			return err
		}
		if prevRel.NextSrc == relID {
			target, err := s.Relationship(relID)
			if err != nil {
				return err
			}
			prevRel.NextSrc = target.NextSrc
			return s.rels.StoreAt(bvector.Offset(prev), prevRel)
		}
		prev = prevRel.NextSrc
	}
	return nil
}

func (s *Store) unlinkTo(nodeID, relID ID) error {
	node, err := s.Node(nodeID)
	if err != nil {
		return err
	}
	if node.ToHead == relID {
		head, err := s.Relationship(relID)
		if err != nil {
			return err
		}
		node.ToHead = head.NextDst
		return s.nodes.StoreAt(bvector.Offset(nodeID), node)
	}
	prev := node.ToHead
	for prev != Unknown {
		prevRel, err := s.Relationship(prev)
		if err != nil {
			return err
		}
		if prevRel.NextDst == relID {
			target, err := s.Relationship(relID)
			if err != nil {
				return err
			}
			prevRel.NextDst = target.NextDst
			return s.rels.StoreAt(bvector.Offset(prev), prevRel)
		}
		prev = prevRel.NextDst
	}
	return nil
}

func (s *Store) closeRelationship(ctx context.Context, id ID, rel RelRecord) error {
	bts, tx, hasTx := currentStamps(ctx)
	if hasTx {
		tx.MarkDirty(txn.DirtyRecord{
			Commit: func(cts uint64) error {
				rel.MVCC.cts = cts
				return s.rels.StoreAt(bvector.Offset(id), rel)
			},
			Abort: func() error {
				return nil
			},
		})
		return nil
	}
	rel.MVCC.cts = bts
	return s.rels.StoreAt(bvector.Offset(id), rel)
}
