package graph

import (
	"context"
	"encoding/binary"

	"github.com/dbis-ilm/poseidon/internal/btree"
	"github.com/dbis-ilm/poseidon/internal/bufpool"
	"github.com/dbis-ilm/poseidon/internal/bvector"
	"github.com/dbis-ilm/poseidon/internal/pageio"
	"github.com/dbis-ilm/poseidon/internal/poserr"
	"github.com/samber/lo"
)

// compositeKeyWidth is the width of a secondary-index key: an 8-byte
// canonicalized property value followed by an 8-byte node id, so entries
// sharing a value are adjacent and individually distinguishable (spec.md
// §4.6 "Indices"). btree.Tree's key type must satisfy constraints.Ordered,
// which admits no custom struct ordering, so the pair is packed into a
// big-endian string that sorts byte-wise identically to the intended
// (value, id) ordering.
const compositeKeyWidth = 16

func compositeKey(v Value, id ID) string {
	var buf [compositeKeyWidth]byte
	binary.BigEndian.PutUint64(buf[0:8], canonicalUint64(v))
	binary.BigEndian.PutUint64(buf[8:16], id)
	return string(buf[:])
}

func compositeKeyRange(v Value) (lo, hi string) {
	var loBuf, hiBuf [compositeKeyWidth]byte
	canon := canonicalUint64(v)
	binary.BigEndian.PutUint64(loBuf[0:8], canon)
	binary.BigEndian.PutUint64(hiBuf[0:8], canon)
	for i := 8; i < compositeKeyWidth; i++ {
		hiBuf[i] = 0xff
	}
	return string(loBuf[:]), string(hiBuf[:])
}

// indexKey identifies a registered secondary index by the (label, property
// name) pair it covers, per spec.md §4.6: "a registry of B+-tree indices
// keyed by (label, property_name)".
type indexKey struct {
	labelCode uint64
	propCode  uint64
}

// Index is one secondary index: a B+-tree mapping (canonicalized property
// value, node id) to the node id, scoped to nodes carrying a given label.
type Index struct {
	name     string
	label    string
	propName string
	key      indexKey
	tree     *btree.Tree[string, ID]
}

// RegisterIndex opens (or creates) a B+-tree over file and registers it as
// the index for (label, propName) under name. file must already be
// registered with pool; the caller (the owning graph pool) is responsible
// for file lifecycle.
func (s *Store) RegisterIndex(name, label, propName string, file *pageio.File, pool *bufpool.Pool) (*Index, error) {
	labelCode, err := s.dict.Insert(label)
	if err != nil {
		return nil, err
	}
	propCode, err := s.dict.Insert(propName)
	if err != nil {
		return nil, err
	}
	tree := btree.Open[string, ID](file, pool, btree.FixedBytesCodec{Width: compositeKeyWidth}, btree.Uint64Codec{})
	idx := &Index{
		name:     name,
		label:    label,
		propName: propName,
		key:      indexKey{labelCode: uint64(labelCode), propCode: uint64(propCode)},
		tree:     tree,
	}
	if s.indices == nil {
		s.indices = make(map[indexKey]*Index)
		s.byName = make(map[string]indexKey)
	}
	s.indices[idx.key] = idx
	s.byName[name] = idx.key
	return idx, nil
}

// indexNode updates every registered index matching rec's label with an
// entry for the node's current property values, called from AddNode.
func (s *Store) indexNode(ctx context.Context, id ID, rec NodeRecord, label string, props []Property) error {
	if len(s.indices) == 0 {
		return nil
	}
	for _, idx := range s.indices {
		if idx.key.labelCode != rec.LabelCode {
			continue
		}
		for _, p := range props {
			code, err := s.dict.Insert(p.Name)
			if err != nil {
				return err
			}
			if uint64(code) != idx.key.propCode {
				continue
			}
			if err := idx.tree.Insert(compositeKey(p.Value, id), id); err != nil {
				return err
			}
		}
	}
	return nil
}

// reindexNode updates every index matching rec's label to reflect oldProps
// being replaced by newProps on node id: it removes the stale (value, id)
// entry and inserts the fresh one, for whichever property each index is
// keyed on. Called from UpdateNode.
func (s *Store) reindexNode(id ID, rec NodeRecord, oldProps, newProps []Property) error {
	if len(s.indices) == 0 {
		return nil
	}
	oldByName := lo.MapValues(lo.KeyBy(oldProps, func(p Property) string { return p.Name }), func(p Property, _ string) Value { return p.Value })
	newByName := lo.MapValues(lo.KeyBy(newProps, func(p Property) string { return p.Name }), func(p Property, _ string) Value { return p.Value })
	for _, idx := range s.indices {
		if idx.key.labelCode != rec.LabelCode {
			continue
		}
		if ov, ok := oldByName[idx.propName]; ok {
			if err := idx.tree.Erase(compositeKey(ov, id)); err != nil {
				return err
			}
		}
		if nv, ok := newByName[idx.propName]; ok {
			if err := idx.tree.Insert(compositeKey(nv, id), id); err != nil {
				return err
			}
		}
	}
	return nil
}

// deindexNode removes id's entries from every index matching rec's label,
// called from DeleteNode.
func (s *Store) deindexNode(id ID, rec NodeRecord, props []Property) error {
	if len(s.indices) == 0 {
		return nil
	}
	byName := lo.MapValues(lo.KeyBy(props, func(p Property) string { return p.Name }), func(p Property, _ string) Value { return p.Value })
	for _, idx := range s.indices {
		if idx.key.labelCode != rec.LabelCode {
			continue
		}
		if v, ok := byName[idx.propName]; ok {
			if err := idx.tree.Erase(compositeKey(v, id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// IndexLookup returns, via consumer, every node visible to ctx's
// transaction whose indexed property equals value (spec.md §4.6
// "index_lookup(idx, key, consumer)"). consumer returning false stops the
// scan early.
func (s *Store) IndexLookup(ctx context.Context, name string, value Value, consumer func(ID, NodeRecord) bool) error {
	key, ok := s.byName[name]
	if !ok {
		return poserr.New(poserr.KindUnknownIndex, "graph.IndexLookup: "+name)
	}
	idx := s.indices[key]
	lo, hi := compositeKeyRange(value)
	return idx.tree.ScanRange(lo, hi, func(_ string, id ID) bool {
		rec, err := s.nodes.At(bvector.Offset(id))
		if err != nil {
			return true
		}
		if !visible(ctx, rec.MVCC.bts, rec.MVCC.cts) {
			return true
		}
		return consumer(id, rec)
	})
}
