// Package graph implements Poseidon's graph store (spec.md §4.6): nodes,
// relationships and property chains held in three buffered vectors plus a
// string dictionary, linked via intrusive adjacency lists and versioned
// with MVCC headers.
package graph

import "encoding/binary"

// ID is a record id into one of the graph's buffered vectors: a node id, a
// relationship id, or a property-item offset, depending on context (all
// three share the bvector.Offset encoding).
type ID = uint64

// Unknown is the sentinel meaning "no record" (spec.md §3.3's "unknown"),
// distinct from the valid offset 0.
const Unknown ID = ^uint64(0)

// mvcc is the transaction-visibility header carried by every node and
// relationship record (spec.md §3.4).
type mvcc struct {
	bts         uint64
	cts         uint64
	prevVersion ID
}

const mvccSize = 8 + 8 + 8

func (m mvcc) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], m.bts)
	binary.LittleEndian.PutUint64(buf[8:16], m.cts)
	binary.LittleEndian.PutUint64(buf[16:24], m.prevVersion)
}

func decodeMVCC(buf []byte) mvcc {
	return mvcc{
		bts:         binary.LittleEndian.Uint64(buf[0:8]),
		cts:         binary.LittleEndian.Uint64(buf[8:16]),
		prevVersion: binary.LittleEndian.Uint64(buf[16:24]),
	}
}

// NodeRecord is the on-page layout of a node (spec.md §3.3). LabelCode is a
// full strdict.Code rather than the glossary's nominal 32 bits: with 1 MiB
// pages (spec.md §6.1) a string pool's byte-offset code can exceed 32 bits
// well before the file hits its 65,536-page ceiling, so truncating it would
// silently alias unrelated labels.
type NodeRecord struct {
	LabelCode uint64
	FromHead  ID
	ToHead    ID
	PropHead  ID
	MVCC      mvcc
}

// nodeRecordSize is the encoded size: 8 + 8*3 + 24.
const nodeRecordSize = 8 + 8*3 + mvccSize

type nodeCodec struct{}

func (nodeCodec) Size() int { return nodeRecordSize }

func (nodeCodec) Encode(v NodeRecord, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], v.LabelCode)
	binary.LittleEndian.PutUint64(buf[8:16], v.FromHead)
	binary.LittleEndian.PutUint64(buf[16:24], v.ToHead)
	binary.LittleEndian.PutUint64(buf[24:32], v.PropHead)
	v.MVCC.encode(buf[32:56])
}

func (nodeCodec) Decode(buf []byte) NodeRecord {
	return NodeRecord{
		LabelCode: binary.LittleEndian.Uint64(buf[0:8]),
		FromHead:  binary.LittleEndian.Uint64(buf[8:16]),
		ToHead:    binary.LittleEndian.Uint64(buf[16:24]),
		PropHead:  binary.LittleEndian.Uint64(buf[24:32]),
		MVCC:      decodeMVCC(buf[32:56]),
	}
}

// RelRecord is the on-page layout of a relationship (spec.md §3.3). Two
// singly-linked lists thread through the relationship table: NextSrc chains
// from the source node's FromHead, NextDst chains from the destination
// node's ToHead.
type RelRecord struct {
	LabelCode uint64
	Src       ID
	Dst       ID
	NextSrc   ID
	NextDst   ID
	PropHead  ID
	MVCC      mvcc
}

const relRecordSize = 8 + 8*5 + mvccSize

type relCodec struct{}

func (relCodec) Size() int { return relRecordSize }

func (relCodec) Encode(v RelRecord, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], v.LabelCode)
	binary.LittleEndian.PutUint64(buf[8:16], v.Src)
	binary.LittleEndian.PutUint64(buf[16:24], v.Dst)
	binary.LittleEndian.PutUint64(buf[24:32], v.NextSrc)
	binary.LittleEndian.PutUint64(buf[32:40], v.NextDst)
	binary.LittleEndian.PutUint64(buf[40:48], v.PropHead)
	v.MVCC.encode(buf[48:72])
}

func (relCodec) Decode(buf []byte) RelRecord {
	return RelRecord{
		LabelCode: binary.LittleEndian.Uint64(buf[0:8]),
		Src:       binary.LittleEndian.Uint64(buf[8:16]),
		Dst:       binary.LittleEndian.Uint64(buf[16:24]),
		NextSrc:   binary.LittleEndian.Uint64(buf[24:32]),
		NextDst:   binary.LittleEndian.Uint64(buf[32:40]),
		PropHead:  binary.LittleEndian.Uint64(buf[40:48]),
		MVCC:      decodeMVCC(buf[48:72]),
	}
}

// PropKind discriminates a property item's value interpretation.
type PropKind uint8

const (
	PropInt PropKind = iota
	PropDouble
	PropUint64
	PropString
	PropTimestamp
)

// PropItem is one link in a node's or relationship's property chain
// (spec.md §3.3). Value holds the 8-byte encoding appropriate to Kind: a raw
// int64/uint64/float64 bit pattern, a dictionary code (for PropString), or
// Unix nanoseconds (for PropTimestamp). KeyCode is a full strdict.Code for
// the same reason NodeRecord.LabelCode is: see the comment there.
type PropItem struct {
	KeyCode uint64
	Kind    PropKind
	Value   [8]byte
	Next    ID
}

const propItemSize = 8 + 1 + 8 + 8

type propCodec struct{}

func (propCodec) Size() int { return propItemSize }

func (propCodec) Encode(v PropItem, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], v.KeyCode)
	buf[8] = byte(v.Kind)
	copy(buf[9:17], v.Value[:])
	binary.LittleEndian.PutUint64(buf[17:25], v.Next)
}

func (propCodec) Decode(buf []byte) PropItem {
	var p PropItem
	p.KeyCode = binary.LittleEndian.Uint64(buf[0:8])
	p.Kind = PropKind(buf[8])
	copy(p.Value[:], buf[9:17])
	p.Next = binary.LittleEndian.Uint64(buf[17:25])
	return p
}
