// Package btree implements Poseidon's generic B+-tree: the structure behind
// every secondary index (spec.md §4.5). Leaves are linked for ordered range
// scans; branch fanout and leaf fanout are computed once, at Open time, from
// the key/value codecs so the tree packs as many entries per page as
// PageSize allows.
package btree

import (
	"encoding/binary"
	"sync"

	"github.com/dbis-ilm/poseidon/internal/bufpool"
	"github.com/dbis-ilm/poseidon/internal/pageio"
	"github.com/dbis-ilm/poseidon/internal/poserr"
	"golang.org/x/exp/constraints"
)

// payload layout within the file header: depth(u32) at [0:4], root page id
// (u64) at [4:12].
const (
	payloadDepthOffset = 0
	payloadRootOffset  = 4
)

// Tree is a generic B+-tree over one paged file, keyed by K with values V
// (almost always record ids).
type Tree[K constraints.Ordered, V any] struct {
	mu sync.Mutex

	file     *pageio.File
	pool     *bufpool.Pool
	keyCodec KeyCodec[K]
	valCodec ValueCodec[V]

	keySize int
	valSize int
	branchN int
	leafM   int

	depth uint32
	root  pageio.PageID
}

// Open creates a Tree over an already-open, pool-registered paged file.
func Open[K constraints.Ordered, V any](file *pageio.File, pool *bufpool.Pool, keyCodec KeyCodec[K], valCodec ValueCodec[V]) *Tree[K, V] {
	keySize := keyCodec.Size()
	valSize := valCodec.Size()
	branchN, leafM := fanout(keySize, valSize)
	t := &Tree[K, V]{
		file:     file,
		pool:     pool,
		keyCodec: keyCodec,
		valCodec: valCodec,
		keySize:  keySize,
		valSize:  valSize,
		branchN:  branchN,
		leafM:    leafM,
	}
	file.SetCallback(func(mode pageio.HeaderMode, payload []byte) {
		if mode == pageio.HeaderRead {
			t.depth = binary.LittleEndian.Uint32(payload[payloadDepthOffset : payloadDepthOffset+4])
			t.root = pageio.PageID(binary.LittleEndian.Uint64(payload[payloadRootOffset : payloadRootOffset+8]))
		} else {
			binary.LittleEndian.PutUint32(payload[payloadDepthOffset:payloadDepthOffset+4], t.depth)
			binary.LittleEndian.PutUint64(payload[payloadRootOffset:payloadRootOffset+8], uint64(t.root))
		}
	})
	return t
}

// BranchFanout and LeafFanout report the computed node capacities (N and M).
func (t *Tree[K, V]) BranchFanout() int { return t.branchN }
func (t *Tree[K, V]) LeafFanout() int   { return t.leafM }

func (t *Tree[K, V]) wrap(buf []byte) nodeBuf {
	return nodeBuf{buf: buf, keySize: t.keySize, valSize: t.valSize, branchN: t.branchN, leafM: t.leafM}
}

func (t *Tree[K, V]) fetch(pid pageio.PageID) (nodeBuf, error) {
	buf, err := t.pool.FetchPage(pid)
	if err != nil {
		return nodeBuf{}, err
	}
	return t.wrap(buf), nil
}

func (t *Tree[K, V]) allocLeaf() (pageio.PageID, nodeBuf, error) {
	pid, buf, err := t.pool.AllocatePage(t.file.FileID())
	if err != nil {
		return pageio.Unknown, nodeBuf{}, err
	}
	nb := t.wrap(buf)
	nb.setType(true)
	nb.setNKeys(0)
	nb.setNextLeaf(pageio.Unknown)
	nb.setPrevLeaf(pageio.Unknown)
	t.pool.MarkDirty(pid)
	return pid, nb, nil
}

func (t *Tree[K, V]) allocBranch() (pageio.PageID, nodeBuf, error) {
	pid, buf, err := t.pool.AllocatePage(t.file.FileID())
	if err != nil {
		return pageio.Unknown, nodeBuf{}, err
	}
	nb := t.wrap(buf)
	nb.setType(false)
	nb.setNKeys(0)
	t.pool.MarkDirty(pid)
	return pid, nb, nil
}

func (t *Tree[K, V]) dirty(pid pageio.PageID) { t.pool.MarkDirty(pid) }

// ensureRoot allocates the tree's first leaf on demand.
func (t *Tree[K, V]) ensureRoot() error {
	if t.root.Valid() {
		return nil
	}
	pid, _, err := t.allocLeaf()
	if err != nil {
		return err
	}
	t.root = pid
	t.depth = 1
	return nil
}

// leafSearch returns the index of the first key >= k (insertion point), and
// whether that key equals k exactly.
func leafSearch[K constraints.Ordered](keys func(i int) K, n int, k K) (int, bool) {
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if keys(mid) < k {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < n && keys(lo) == k
}

func (t *Tree[K, V]) leafKeyAt(nb nodeBuf, i int) K { return t.keyCodec.Decode(nb.leafKeyAt(i)) }
func (t *Tree[K, V]) branchKeyAt(nb nodeBuf, i int) K { return t.keyCodec.Decode(nb.branchKeyAt(i)) }

// Lookup returns the value for k, or found=false if k is absent.
func (t *Tree[K, V]) Lookup(k K) (V, bool, error) {
	var zero V
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.root.Valid() {
		return zero, false, nil
	}
	pid := t.root
	for level := uint32(1); level <= t.depth; level++ {
		nb, err := t.fetch(pid)
		if err != nil {
			return zero, false, err
		}
		if nb.isLeaf() {
			n := nb.nKeys()
			idx, ok := leafSearch(func(i int) K { return t.leafKeyAt(nb, i) }, n, k)
			if !ok {
				return zero, false, nil
			}
			return t.valCodec.Decode(nb.leafValAt(idx)), true, nil
		}
		n := nb.nKeys()
		idx := childIndex(func(i int) K { return t.branchKeyAt(nb, i) }, n, k)
		pid = nb.branchChildAt(idx)
	}
	return zero, false, nil
}

// childIndex returns which child to descend into for key k given n separator
// keys: the first i such that k < keys(i), or n if k is >= every key.
func childIndex[K constraints.Ordered](keys func(i int) K, n int, k K) int {
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if keys(mid) <= k {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// splitInfo describes an upward-propagating split: the separator key and the
// new right-hand sibling's page id, to be inserted into the parent.
type splitInfo[K any] struct {
	key     K
	leftPid pageio.PageID
	rightPid pageio.PageID
}

// Insert adds or overwrites the value for k.
func (t *Tree[K, V]) Insert(k K, v V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureRoot(); err != nil {
		return err
	}
	split, err := t.insertRec(t.root, 1, k, v)
	if err != nil {
		return err
	}
	if split != nil {
		pid, nb, err := t.allocBranch()
		if err != nil {
			return err
		}
		nb.setNKeys(1)
		t.keyCodec.Encode(split.key, nb.branchKeyAt(0))
		nb.setBranchChildAt(0, split.leftPid)
		nb.setBranchChildAt(1, split.rightPid)
		t.root = pid
		t.depth++
		t.dirty(pid)
	}
	return nil
}

func (t *Tree[K, V]) insertRec(pid pageio.PageID, level uint32, k K, v V) (*splitInfo[K], error) {
	nb, err := t.fetch(pid)
	if err != nil {
		return nil, err
	}
	if nb.isLeaf() {
		n := nb.nKeys()
		idx, ok := leafSearch(func(i int) K { return t.leafKeyAt(nb, i) }, n, k)
		if ok {
			t.valCodec.Encode(v, nb.leafValAt(idx))
			t.dirty(pid)
			return nil, nil
		}
		if n < t.leafM {
			for i := n; i > idx; i-- {
				copy(nb.leafKeyAt(i), nb.leafKeyAt(i-1))
				copy(nb.leafValAt(i), nb.leafValAt(i-1))
			}
			t.keyCodec.Encode(k, nb.leafKeyAt(idx))
			t.valCodec.Encode(v, nb.leafValAt(idx))
			nb.setNKeys(n + 1)
			t.dirty(pid)
			return nil, nil
		}
		return t.splitLeaf(pid, nb, idx, k, v)
	}

	n := nb.nKeys()
	ci := childIndex(func(i int) K { return t.branchKeyAt(nb, i) }, n, k)
	childPid := nb.branchChildAt(ci)
	split, err := t.insertRec(childPid, level+1, k, v)
	if err != nil {
		return nil, err
	}
	if split == nil {
		return nil, nil
	}
	if n < t.branchN {
		for i := n; i > ci; i-- {
			copy(nb.branchKeyAt(i), nb.branchKeyAt(i-1))
		}
		for i := n + 1; i > ci+1; i-- {
			nb.setBranchChildAt(i, nb.branchChildAt(i-1))
		}
		t.keyCodec.Encode(split.key, nb.branchKeyAt(ci))
		nb.setBranchChildAt(ci+1, split.rightPid)
		nb.setNKeys(n + 1)
		t.dirty(pid)
		return nil, nil
	}
	return t.splitBranch(pid, nb, ci, split)
}

// splitLeaf splits an overfull leaf, inserting (k, v) into whichever half it
// belongs in, per spec.md §4.5's (M+1)/2 split point.
func (t *Tree[K, V]) splitLeaf(pid pageio.PageID, nb nodeBuf, insIdx int, k K, v V) (*splitInfo[K], error) {
	m := t.leafM
	total := m + 1
	leftCount := (total + 1) / 2

	keys := make([]K, 0, total)
	vals := make([]V, 0, total)
	for i := 0; i < m; i++ {
		if i == insIdx {
			keys = append(keys, k)
			vals = append(vals, v)
		}
		keys = append(keys, t.leafKeyAt(nb, i))
		vals = append(vals, t.valCodec.Decode(nb.leafValAt(i)))
	}
	if insIdx == m {
		keys = append(keys, k)
		vals = append(vals, v)
	}

	rightPid, rnb, err := t.allocLeaf()
	if err != nil {
		return nil, err
	}
	rnb.setNextLeaf(nb.nextLeaf())
	rnb.setPrevLeaf(pid)
	if nb.nextLeaf().Valid() {
		next, err := t.fetch(nb.nextLeaf())
		if err != nil {
			return nil, err
		}
		next.setPrevLeaf(rightPid)
		t.dirty(nb.nextLeaf())
	}
	nb.setNextLeaf(rightPid)

	for i := 0; i < leftCount; i++ {
		t.keyCodec.Encode(keys[i], nb.leafKeyAt(i))
		t.valCodec.Encode(vals[i], nb.leafValAt(i))
	}
	nb.setNKeys(leftCount)

	rightCount := total - leftCount
	for i := 0; i < rightCount; i++ {
		t.keyCodec.Encode(keys[leftCount+i], rnb.leafKeyAt(i))
		t.valCodec.Encode(vals[leftCount+i], rnb.leafValAt(i))
	}
	rnb.setNKeys(rightCount)

	t.dirty(pid)
	t.dirty(rightPid)

	return &splitInfo[K]{key: keys[leftCount], leftPid: pid, rightPid: rightPid}, nil
}

// splitBranch splits an overfull branch node after absorbing a child split,
// promoting the median key per spec.md §4.5's (N+1)/2 split point.
func (t *Tree[K, V]) splitBranch(pid pageio.PageID, nb nodeBuf, childIdx int, child *splitInfo[K]) (*splitInfo[K], error) {
	n := t.branchN
	totalKeys := n + 1
	totalChildren := totalKeys + 1

	keys := make([]K, 0, totalKeys)
	children := make([]pageio.PageID, 0, totalChildren)

	for i := 0; i < n; i++ {
		keys = append(keys, t.branchKeyAt(nb, i))
	}
	for i := 0; i <= n; i++ {
		children = append(children, nb.branchChildAt(i))
	}

	keys2 := make([]K, 0, totalKeys)
	children2 := make([]pageio.PageID, 0, totalChildren)
	for i := 0; i < n; i++ {
		if i == childIdx {
			keys2 = append(keys2, child.key)
		}
		keys2 = append(keys2, keys[i])
	}
	if childIdx == n {
		keys2 = append(keys2, child.key)
	}
	for i := 0; i <= n; i++ {
		if i == childIdx+1 {
			children2 = append(children2, child.rightPid)
		}
		children2 = append(children2, children[i])
	}
	if childIdx+1 == n+1 {
		children2 = append(children2, child.rightPid)
	}
	// children[childIdx] must point at child.leftPid (unchanged page id).
	children2[childIdx] = child.leftPid

	leftCount := totalKeys / 2
	medianKey := keys2[leftCount]

	rightPid, rnb, err := t.allocBranch()
	if err != nil {
		return nil, err
	}

	for i := 0; i < leftCount; i++ {
		t.keyCodec.Encode(keys2[i], nb.branchKeyAt(i))
	}
	for i := 0; i <= leftCount; i++ {
		nb.setBranchChildAt(i, children2[i])
	}
	nb.setNKeys(leftCount)

	rightKeyCount := totalKeys - leftCount - 1
	for i := 0; i < rightKeyCount; i++ {
		t.keyCodec.Encode(keys2[leftCount+1+i], rnb.branchKeyAt(i))
	}
	for i := 0; i <= rightKeyCount; i++ {
		rnb.setBranchChildAt(i, children2[leftCount+1+i])
	}
	rnb.setNKeys(rightKeyCount)

	t.dirty(pid)
	t.dirty(rightPid)

	return &splitInfo[K]{key: medianKey, leftPid: pid, rightPid: rightPid}, nil
}

// Erase removes k, rebalancing or merging underfull nodes along the way.
func (t *Tree[K, V]) Erase(k K) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.root.Valid() {
		return poserr.New(poserr.KindUnknownID, "btree.Erase: empty tree")
	}
	_, _, err := t.eraseRec(t.root, 1, k)
	if err != nil {
		return err
	}
	// Shrink the root if it became a branch with a single child.
	for t.depth > 1 {
		nb, err := t.fetch(t.root)
		if err != nil {
			return err
		}
		if nb.nKeys() > 0 {
			break
		}
		oldRoot := t.root
		t.root = nb.branchChildAt(0)
		t.depth--
		if err := t.pool.FreePage(oldRoot); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree[K, V]) minLeaf() int   { return t.leafM / 2 }
func (t *Tree[K, V]) minBranch() int { return t.branchN / 2 }

// eraseRec removes k from the subtree rooted at pid, returning whether a key
// was actually removed and whether the node at pid is now underfull.
func (t *Tree[K, V]) eraseRec(pid pageio.PageID, level uint32, k K) (removed bool, underflow bool, err error) {
	nb, err := t.fetch(pid)
	if err != nil {
		return false, false, err
	}
	if nb.isLeaf() {
		n := nb.nKeys()
		idx, ok := leafSearch(func(i int) K { return t.leafKeyAt(nb, i) }, n, k)
		if !ok {
			return false, false, nil
		}
		for i := idx; i < n-1; i++ {
			copy(nb.leafKeyAt(i), nb.leafKeyAt(i+1))
			copy(nb.leafValAt(i), nb.leafValAt(i+1))
		}
		nb.setNKeys(n - 1)
		t.dirty(pid)
		isRoot := pid == t.root
		return true, !isRoot && n-1 < t.minLeaf(), nil
	}

	n := nb.nKeys()
	ci := childIndex(func(i int) K { return t.branchKeyAt(nb, i) }, n, k)
	childPid := nb.branchChildAt(ci)
	removed, childUnderflow, err := t.eraseRec(childPid, level+1, k)
	if err != nil || !removed {
		return removed, false, err
	}
	if !childUnderflow {
		return true, false, nil
	}
	if err := t.resolveUnderflow(pid, nb, ci); err != nil {
		return true, false, err
	}
	n = nb.nKeys()
	isRoot := pid == t.root
	return true, !isRoot && n < t.minBranch(), nil
}

// resolveUnderflow fixes up child ci of branch node nb (at pid), which has
// fallen below its minimum occupancy, by borrowing from a sibling or merging
// with one. Left sibling is preferred, per spec.md §4.5.
func (t *Tree[K, V]) resolveUnderflow(pid pageio.PageID, nb nodeBuf, ci int) error {
	n := nb.nKeys()
	childPid := nb.branchChildAt(ci)
	child, err := t.fetch(childPid)
	if err != nil {
		return err
	}

	if ci > 0 {
		leftPid := nb.branchChildAt(ci - 1)
		left, err := t.fetch(leftPid)
		if err != nil {
			return err
		}
		if t.canDonate(left) {
			t.donateFromLeft(nb, pid, ci, left, leftPid, child, childPid)
			return nil
		}
	}
	if ci < n {
		rightPid := nb.branchChildAt(ci + 1)
		right, err := t.fetch(rightPid)
		if err != nil {
			return err
		}
		if t.canDonate(right) {
			t.donateFromRight(nb, pid, ci, child, childPid, right, rightPid)
			return nil
		}
	}
	if ci > 0 {
		leftPid := nb.branchChildAt(ci - 1)
		left, err := t.fetch(leftPid)
		if err != nil {
			return err
		}
		if err := t.mergeChildren(nb, ci-1, left, leftPid, child, childPid); err != nil {
			return err
		}
		t.dirty(pid)
		return nil
	}
	rightPid := nb.branchChildAt(ci + 1)
	right, err := t.fetch(rightPid)
	if err != nil {
		return err
	}
	if err := t.mergeChildren(nb, ci, child, childPid, right, rightPid); err != nil {
		return err
	}
	t.dirty(pid)
	return nil
}

func (t *Tree[K, V]) canDonate(sib nodeBuf) bool {
	if sib.isLeaf() {
		return sib.nKeys() > t.minLeaf()
	}
	return sib.nKeys() > t.minBranch()
}

// donateFromLeft moves (donorKeys-receiverKeys)/2 entries (integer division,
// at least one) from the left sibling into the receiver, per spec.md §4.5's
// rebalance transfer count.
func (t *Tree[K, V]) donateFromLeft(parent nodeBuf, parentPid pageio.PageID, ci int, left nodeBuf, leftPid pageio.PageID, recv nodeBuf, recvPid pageio.PageID) {
	if recv.isLeaf() {
		donorN, recvN := left.nKeys(), recv.nKeys()
		moveCount := (donorN - recvN) / 2
		if moveCount < 1 {
			moveCount = 1
		}
		for i := recvN; i > 0; i-- {
			copy(recv.leafKeyAt(i+moveCount-1), recv.leafKeyAt(i-1))
			copy(recv.leafValAt(i+moveCount-1), recv.leafValAt(i-1))
		}
		for i := 0; i < moveCount; i++ {
			srcIdx := donorN - moveCount + i
			copy(recv.leafKeyAt(i), left.leafKeyAt(srcIdx))
			copy(recv.leafValAt(i), left.leafValAt(srcIdx))
		}
		recv.setNKeys(recvN + moveCount)
		left.setNKeys(donorN - moveCount)
		t.keyCodec.Encode(t.leafKeyAt(recv, 0), parent.branchKeyAt(ci-1))
		t.dirty(leftPid)
		t.dirty(recvPid)
		t.dirty(parentPid)
		return
	}
	donorN, recvN := left.nKeys(), recv.nKeys()
	moveCount := (donorN - recvN) / 2
	if moveCount < 1 {
		moveCount = 1
	}
	for i := recvN; i > 0; i-- {
		copy(recv.branchKeyAt(i+moveCount-1), recv.branchKeyAt(i-1))
	}
	for i := recvN + 1; i > 0; i-- {
		recv.setBranchChildAt(i+moveCount-1, recv.branchChildAt(i-1))
	}
	t.keyCodec.Encode(t.branchKeyAt(parent, ci-1), recv.branchKeyAt(moveCount-1))
	for i := 0; i < moveCount-1; i++ {
		srcIdx := donorN - moveCount + 1 + i
		copy(recv.branchKeyAt(i), left.branchKeyAt(srcIdx))
	}
	for i := 0; i < moveCount; i++ {
		srcIdx := donorN - moveCount + 1 + i
		recv.setBranchChildAt(i, left.branchChildAt(srcIdx))
	}
	t.keyCodec.Encode(t.branchKeyAt(left, donorN-moveCount), parent.branchKeyAt(ci-1))
	recv.setNKeys(recvN + moveCount)
	left.setNKeys(donorN - moveCount)
	t.dirty(leftPid)
	t.dirty(recvPid)
	t.dirty(parentPid)
}

func (t *Tree[K, V]) donateFromRight(parent nodeBuf, parentPid pageio.PageID, ci int, recv nodeBuf, recvPid pageio.PageID, right nodeBuf, rightPid pageio.PageID) {
	if recv.isLeaf() {
		donorN, recvN := right.nKeys(), recv.nKeys()
		moveCount := (donorN - recvN) / 2
		if moveCount < 1 {
			moveCount = 1
		}
		for i := 0; i < moveCount; i++ {
			copy(recv.leafKeyAt(recvN+i), right.leafKeyAt(i))
			copy(recv.leafValAt(recvN+i), right.leafValAt(i))
		}
		for i := 0; i < donorN-moveCount; i++ {
			copy(right.leafKeyAt(i), right.leafKeyAt(i+moveCount))
			copy(right.leafValAt(i), right.leafValAt(i+moveCount))
		}
		recv.setNKeys(recvN + moveCount)
		right.setNKeys(donorN - moveCount)
		t.keyCodec.Encode(t.leafKeyAt(right, 0), parent.branchKeyAt(ci))
		t.dirty(recvPid)
		t.dirty(rightPid)
		t.dirty(parentPid)
		return
	}
	donorN, recvN := right.nKeys(), recv.nKeys()
	moveCount := (donorN - recvN) / 2
	if moveCount < 1 {
		moveCount = 1
	}
	t.keyCodec.Encode(t.branchKeyAt(parent, ci), recv.branchKeyAt(recvN))
	for i := 0; i < moveCount-1; i++ {
		copy(recv.branchKeyAt(recvN+1+i), right.branchKeyAt(i))
	}
	for i := 0; i < moveCount; i++ {
		recv.setBranchChildAt(recvN+1+i, right.branchChildAt(i))
	}
	t.keyCodec.Encode(t.branchKeyAt(right, moveCount-1), parent.branchKeyAt(ci))
	for i := 0; i < donorN-moveCount; i++ {
		copy(right.branchKeyAt(i), right.branchKeyAt(i+moveCount))
	}
	for i := 0; i <= donorN-moveCount; i++ {
		right.setBranchChildAt(i, right.branchChildAt(i+moveCount))
	}
	recv.setNKeys(recvN + moveCount)
	right.setNKeys(donorN - moveCount)
	t.dirty(recvPid)
	t.dirty(rightPid)
	t.dirty(parentPid)
}

// mergeChildren folds the right child into the left child (left absorbs
// right, right's page is freed), and removes the separator key+child from
// parent at index leftIdx.
func (t *Tree[K, V]) mergeChildren(parent nodeBuf, leftIdx int, left nodeBuf, leftPid pageio.PageID, right nodeBuf, rightPid pageio.PageID) error {
	if left.isLeaf() {
		ln, rn := left.nKeys(), right.nKeys()
		for i := 0; i < rn; i++ {
			copy(left.leafKeyAt(ln+i), right.leafKeyAt(i))
			copy(left.leafValAt(ln+i), right.leafValAt(i))
		}
		left.setNKeys(ln + rn)
		left.setNextLeaf(right.nextLeaf())
		if right.nextLeaf().Valid() {
			nn, err := t.fetch(right.nextLeaf())
			if err != nil {
				return err
			}
			nn.setPrevLeaf(leftPid)
			t.dirty(right.nextLeaf())
		}
	} else {
		ln, rn := left.nKeys(), right.nKeys()
		t.keyCodec.Encode(t.branchKeyAt(parent, leftIdx), left.branchKeyAt(ln))
		for i := 0; i < rn; i++ {
			copy(left.branchKeyAt(ln+1+i), right.branchKeyAt(i))
		}
		for i := 0; i <= rn; i++ {
			left.setBranchChildAt(ln+1+i, right.branchChildAt(i))
		}
		left.setNKeys(ln + 1 + rn)
	}

	pn := parent.nKeys()
	for i := leftIdx; i < pn-1; i++ {
		copy(parent.branchKeyAt(i), parent.branchKeyAt(i+1))
	}
	for i := leftIdx + 1; i < pn; i++ {
		parent.setBranchChildAt(i, parent.branchChildAt(i+1))
	}
	parent.setNKeys(pn - 1)

	t.dirty(leftPid)
	return t.pool.FreePage(rightPid)
}

// Scan invokes cb with every (key, value) pair in ascending key order,
// stopping early if cb returns false.
func (t *Tree[K, V]) Scan(cb func(k K, v V) bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.root.Valid() {
		return nil
	}
	pid := t.root
	for {
		nb, err := t.fetch(pid)
		if err != nil {
			return err
		}
		if nb.isLeaf() {
			break
		}
		pid = nb.branchChildAt(0)
	}
	for pid.Valid() {
		nb, err := t.fetch(pid)
		if err != nil {
			return err
		}
		n := nb.nKeys()
		for i := 0; i < n; i++ {
			if !cb(t.leafKeyAt(nb, i), t.valCodec.Decode(nb.leafValAt(i))) {
				return nil
			}
		}
		pid = nb.nextLeaf()
	}
	return nil
}

// ScanRange invokes cb with every (key, value) pair with lo <= key <= hi, in
// ascending order.
func (t *Tree[K, V]) ScanRange(lo, hi K, cb func(k K, v V) bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.root.Valid() {
		return nil
	}
	pid := t.root
	for {
		nb, err := t.fetch(pid)
		if err != nil {
			return err
		}
		if nb.isLeaf() {
			break
		}
		n := nb.nKeys()
		ci := childIndex(func(i int) K { return t.branchKeyAt(nb, i) }, n, lo)
		pid = nb.branchChildAt(ci)
	}
	for pid.Valid() {
		nb, err := t.fetch(pid)
		if err != nil {
			return err
		}
		n := nb.nKeys()
		for i := 0; i < n; i++ {
			key := t.leafKeyAt(nb, i)
			if key < lo {
				continue
			}
			if key > hi {
				return nil
			}
			if !cb(key, t.valCodec.Decode(nb.leafValAt(i))) {
				return nil
			}
		}
		pid = nb.nextLeaf()
	}
	return nil
}
