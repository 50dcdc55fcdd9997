package btree

import (
	"encoding/binary"

	"github.com/dbis-ilm/poseidon/internal/pageio"
)

type ntype uint8

const (
	ntypeLeaf   ntype = 0
	ntypeBranch ntype = 1
)

// Leaf page layout: [0]=ntype [1:5]=nKeys [5:13]=nextLeaf [13:21]=prevLeaf
// then M keys then M values.
const leafHeaderSize = 21

// Branch page layout: [0]=ntype [1:5]=nKeys then N keys then N+1 children (u64 page ids).
const branchHeaderSize = 5

// fanout computes (N, M): the branch and leaf fanout that fit one page
// given the key/value sizes, per spec.md §4.5 "N (branch fanout) and M
// (leaf fanout) are compile-time" constants — here they are computed once
// at Open time from the codecs instead, since Go generics don't give us
// compile-time-per-instantiation page math for free.
func fanout(keySize, valSize int) (branchN, leafM int) {
	leafM = (pageio.PageSize - leafHeaderSize) / (keySize + valSize)
	branchN = (pageio.PageSize - branchHeaderSize - 8) / (keySize + 8)
	return
}

type nodeBuf struct {
	buf      []byte
	keySize  int
	valSize  int
	branchN  int
	leafM    int
}

func (n nodeBuf) isLeaf() bool { return ntype(n.buf[0]) == ntypeLeaf }

func (n nodeBuf) nKeys() int {
	return int(binary.LittleEndian.Uint32(n.buf[1:5]))
}

func (n nodeBuf) setNKeys(v int) {
	binary.LittleEndian.PutUint32(n.buf[1:5], uint32(v))
}

func (n nodeBuf) setType(leaf bool) {
	if leaf {
		n.buf[0] = byte(ntypeLeaf)
	} else {
		n.buf[0] = byte(ntypeBranch)
	}
}

// --- leaf accessors ---

func (n nodeBuf) nextLeaf() pageio.PageID {
	return pageio.PageID(binary.LittleEndian.Uint64(n.buf[5:13]))
}
func (n nodeBuf) setNextLeaf(p pageio.PageID) {
	binary.LittleEndian.PutUint64(n.buf[5:13], uint64(p))
}
func (n nodeBuf) prevLeaf() pageio.PageID {
	return pageio.PageID(binary.LittleEndian.Uint64(n.buf[13:21]))
}
func (n nodeBuf) setPrevLeaf(p pageio.PageID) {
	binary.LittleEndian.PutUint64(n.buf[13:21], uint64(p))
}

func (n nodeBuf) leafKeyAt(i int) []byte {
	off := leafHeaderSize + i*n.keySize
	return n.buf[off : off+n.keySize]
}
func (n nodeBuf) leafValAt(i int) []byte {
	off := leafHeaderSize + n.leafM*n.keySize + i*n.valSize
	return n.buf[off : off+n.valSize]
}

// --- branch accessors ---

func (n nodeBuf) branchKeyAt(i int) []byte {
	off := branchHeaderSize + i*n.keySize
	return n.buf[off : off+n.keySize]
}
func (n nodeBuf) branchChildAt(i int) pageio.PageID {
	off := branchHeaderSize + n.branchN*n.keySize + i*8
	return pageio.PageID(binary.LittleEndian.Uint64(n.buf[off : off+8]))
}
func (n nodeBuf) setBranchChildAt(i int, pid pageio.PageID) {
	off := branchHeaderSize + n.branchN*n.keySize + i*8
	binary.LittleEndian.PutUint64(n.buf[off:off+8], uint64(pid))
}
