package graph

import (
	"context"

	"github.com/dbis-ilm/poseidon/internal/bufpool"
	"github.com/dbis-ilm/poseidon/internal/bvector"
	"github.com/dbis-ilm/poseidon/internal/pageio"
	"github.com/dbis-ilm/poseidon/internal/poserr"
	"github.com/dbis-ilm/poseidon/internal/strdict"
	"github.com/dbis-ilm/poseidon/internal/txn"
	"github.com/dbis-ilm/poseidon/internal/workerpool"
)

// Store is a graph: three buffered vectors of fixed-layout records, a
// string dictionary shared by labels and string properties, and a registry
// of secondary indices keyed by (label, property name) (spec.md §4.6).
type Store struct {
	nodes *bvector.Vector[NodeRecord]
	rels  *bvector.Vector[RelRecord]
	props *bvector.Vector[PropItem]
	dict  *strdict.Dict

	indices map[indexKey]*Index
	byName  map[string]indexKey

	workers *workerpool.Pool
}

// Open wires an already-open set of buffered vectors and a dictionary into
// a Store. Index registration happens separately via RegisterIndex, since
// indices live in their own paged files managed by the owning graph pool.
func Open(nodes *bvector.Vector[NodeRecord], rels *bvector.Vector[RelRecord], props *bvector.Vector[PropItem], dict *strdict.Dict) *Store {
	return &Store{
		nodes:   nodes,
		rels:    rels,
		props:   props,
		dict:    dict,
		indices: make(map[indexKey]*Index),
		byName:  make(map[string]indexKey),
		workers: workerpool.New(),
	}
}

// OpenStore opens the node, relationship, property and string-pool files
// into a ready-to-use Store, the layout every graph (spec.md §4.6) and the
// pool manager's per-graph directory (spec.md §4.9) shares. All four files
// must already be registered with pool.
func OpenStore(nodesFile, relsFile, propsFile, strFile *pageio.File, pool *bufpool.Pool) (*Store, error) {
	nodes := bvector.Open[NodeRecord](nodesFile, pool, nodeCodec{})
	rels := bvector.Open[RelRecord](relsFile, pool, relCodec{})
	props := bvector.Open[PropItem](propsFile, pool, propCodec{})
	strPool := strdict.Open(strFile, pool)
	dict, err := strdict.OpenDict(strPool)
	if err != nil {
		return nil, err
	}
	return Open(nodes, rels, props, dict), nil
}

// visible reports whether a record version with the given (bts, cts)
// interval is visible to ctx's transaction. A context with no active
// transaction sees the latest committed state (autocommit read).
func visible(ctx context.Context, bts, cts uint64) bool {
	tx, ok := txn.Current(ctx)
	if !ok {
		return cts == txn.Infinity
	}
	return tx.Visible(bts, cts)
}

// currentStamps returns the bts a newly created record should carry under
// ctx's transaction (the transaction's snapshot timestamp), the transaction
// itself, and whether ctx carries one; without a transaction it returns
// (0, nil, false). Callers set the record's cts to Infinity themselves.
func currentStamps(ctx context.Context) (bts uint64, dirty *txn.Tx, ok bool) {
	tx, ok := txn.Current(ctx)
	if !ok {
		return 0, nil, false
	}
	return tx.Snapshot(), tx, true
}

// buildPropChain appends each property to the property vector, front-linked
// (each new item's Next points at the previous head), and returns the new
// head (Unknown if props is empty).
func (s *Store) buildPropChain(props []Property) (ID, error) {
	head := ID(Unknown)
	for _, p := range props {
		keyCode, err := s.dict.Insert(p.Name)
		if err != nil {
			return Unknown, err
		}
		raw, err := s.encodeValue(p.Value)
		if err != nil {
			return Unknown, err
		}
		off, err := s.props.Append(PropItem{
			KeyCode: uint64(keyCode),
			Kind:    p.Value.Kind,
			Value:   raw,
			Next:    head,
		})
		if err != nil {
			return Unknown, err
		}
		head = ID(off)
	}
	return head, nil
}

// AddNode interns label, allocates a node record with an empty adjacency
// list and the given properties, and stamps its MVCC header from ctx's
// transaction (spec.md §4.6 "Creation").
func (s *Store) AddNode(ctx context.Context, label string, props []Property) (ID, error) {
	labelCode, err := s.dict.Insert(label)
	if err != nil {
		return Unknown, err
	}
	propHead, err := s.buildPropChain(props)
	if err != nil {
		return Unknown, err
	}

	bts, tx, hasTx := currentStamps(ctx)
	cts := txn.Infinity
	rec := NodeRecord{
		LabelCode: uint64(labelCode),
		FromHead:  Unknown,
		ToHead:    Unknown,
		PropHead:  propHead,
		MVCC:      mvcc{bts: bts, cts: cts, prevVersion: Unknown},
	}
	off, err := s.nodes.Append(rec)
	if err != nil {
		return Unknown, err
	}
	id := ID(off)

	if hasTx {
		tx.MarkDirty(txn.DirtyRecord{
			Abort: func() error {
				rec.MVCC.cts = rec.MVCC.bts
				return s.nodes.StoreAt(bvector.Offset(id), rec)
			},
		})
	}

	if err := s.indexNode(ctx, id, rec, label, props); err != nil {
		return Unknown, err
	}
	return id, nil
}

// AddRelationship appends a relationship record, intrusively pushes it onto
// both endpoints' adjacency lists, and attaches its property chain
// (spec.md §4.6 "Creation").
func (s *Store) AddRelationship(ctx context.Context, src, dst ID, label string, props []Property) (ID, error) {
	labelCode, err := s.dict.Insert(label)
	if err != nil {
		return Unknown, err
	}
	srcNode, err := s.nodes.At(bvector.Offset(src))
	if err != nil {
		return Unknown, poserr.Wrap(poserr.KindUnknownID, "graph.AddRelationship: src", err)
	}
	dstNode, err := s.nodes.At(bvector.Offset(dst))
	if err != nil {
		return Unknown, poserr.Wrap(poserr.KindUnknownID, "graph.AddRelationship: dst", err)
	}
	propHead, err := s.buildPropChain(props)
	if err != nil {
		return Unknown, err
	}

	bts, tx, hasTx := currentStamps(ctx)
	rec := RelRecord{
		LabelCode: uint64(labelCode),
		Src:       src,
		Dst:       dst,
		NextSrc:   srcNode.FromHead,
		NextDst:   dstNode.ToHead,
		PropHead:  propHead,
		MVCC:      mvcc{bts: bts, cts: txn.Infinity, prevVersion: Unknown},
	}
	off, err := s.rels.Append(rec)
	if err != nil {
		return Unknown, err
	}
	id := ID(off)

	srcNode.FromHead = id
	if err := s.nodes.StoreAt(bvector.Offset(src), srcNode); err != nil {
		return Unknown, err
	}
	dstNode.ToHead = id
	if err := s.nodes.StoreAt(bvector.Offset(dst), dstNode); err != nil {
		return Unknown, err
	}

	if hasTx {
		tx.MarkDirty(txn.DirtyRecord{
			Abort: func() error {
				rec.MVCC.cts = rec.MVCC.bts
				return s.rels.StoreAt(bvector.Offset(id), rec)
			},
		})
	}
	return id, nil
}

// Node returns the node record at id, without any visibility check.
func (s *Store) Node(id ID) (NodeRecord, error) {
	return s.nodes.At(bvector.Offset(id))
}

// Relationship returns the relationship record at id, without any
// visibility check.
func (s *Store) Relationship(id ID) (RelRecord, error) {
	return s.rels.At(bvector.Offset(id))
}

// Label resolves a node's or relationship's label code to its string.
func (s *Store) Label(code uint64) (string, error) {
	return s.dict.LookupCode(strdict.Code(code))
}

// Properties walks a property chain, decoding each item into a Property.
func (s *Store) Properties(head ID) ([]Property, error) {
	var out []Property
	for cur := head; cur != Unknown; {
		item, err := s.props.At(bvector.Offset(cur))
		if err != nil {
			return nil, err
		}
		name, err := s.dict.LookupCode(strdict.Code(item.KeyCode))
		if err != nil {
			return nil, err
		}
		val, err := s.decodeValue(item.Kind, item.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, Property{Name: name, Value: val})
		cur = item.Next
	}
	return out, nil
}

// Property looks up a single named property in a chain, reporting whether
// it was found.
func (s *Store) Property(head ID, name string) (Value, bool, error) {
	for cur := head; cur != Unknown; {
		item, err := s.props.At(bvector.Offset(cur))
		if err != nil {
			return Value{}, false, err
		}
		got, err := s.dict.LookupCode(strdict.Code(item.KeyCode))
		if err != nil {
			return Value{}, false, err
		}
		if got == name {
			val, err := s.decodeValue(item.Kind, item.Value)
			return val, true, err
		}
		cur = item.Next
	}
	return Value{}, false, nil
}
