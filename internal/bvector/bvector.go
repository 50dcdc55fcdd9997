// Package bvector implements Poseidon's buffered vector: a typed, slotted
// container of fixed-layout records stored as a sequence of pages behind
// the buffer pool (spec.md §4.3).
//
// What: append/store/store_at/erase/at/range/resize over records of a
// single Codec-described type, N per page.
// How: each page is a chunk holding N records plus a used-slot bitset and a
// first-available-slot hint; the file header payload tracks a global
// available-slot count and a bitset of chunks known to have free slots.
// Why: this is the uniform storage shape nodes, relationships and property
// items all use — the graph store is three of these plus a dictionary.
package bvector

import (
	"sync"

	"github.com/dbis-ilm/poseidon/internal/bufpool"
	"github.com/dbis-ilm/poseidon/internal/pageio"
	"github.com/dbis-ilm/poseidon/internal/poserr"
)

// Codec describes how to encode/decode a fixed-size record of type T.
// Implementations must be stateless and deterministic: Size() is the exact
// number of bytes Encode writes and Decode reads.
type Codec[T any] interface {
	Size() int
	Encode(v T, buf []byte)
	Decode(buf []byte) T
}

// chunkFirstAvailOffset is where the per-page bookkeeping starts: a 4-byte
// first-available-slot hint, followed by the used-slot bitset whose length
// is derived from N at Open time.
const chunkFirstAvailOffset = 0

// Offset is a record id: chunk_index*N + slot_index (spec.md §3.2).
type Offset uint64

// payload layout within the file header: available_slots(u64) at [0:8],
// free-chunks bitset (65536 bits = 8192 bytes) at [8:8200].
const (
	payloadAvailOffset  = 0
	payloadBitmapOffset = 8
	payloadBitmapBytes  = pageio.SlotBits / 8
)

// Vector is a slotted container of T over one paged file.
type Vector[T any] struct {
	mu          sync.Mutex // guards availableSlots
	bitmapMu    sync.RWMutex
	resizeMu    sync.Mutex
	file        *pageio.File
	pool        *bufpool.Pool
	codec       Codec[T]
	recSize     int
	perChunk    int // N: records per page
	bitsetBytes int // bytes of used-slot bitset per page
	dataOffset  int // byte offset of record 0 within a page

	availableSlots uint64
	freeChunks     []byte // 8192-byte bitset mirrored from the header payload
}

// Open creates a Vector over an already-open, pool-registered paged file.
func Open[T any](file *pageio.File, pool *bufpool.Pool, codec Codec[T]) *Vector[T] {
	recSize := codec.Size()
	// Solve N such that 4 (hint) + N*recSize + ceil(N/8) <= PageSize.
	n := (pageio.PageSize - 4) * 8 / (8*recSize + 1)
	for n > 0 && 4+n*recSize+(n+7)/8 > pageio.PageSize {
		n--
	}
	v := &Vector[T]{
		file:        file,
		pool:        pool,
		codec:       codec,
		recSize:     recSize,
		perChunk:    n,
		bitsetBytes: (n + 7) / 8,
		dataOffset:  4 + (n+7)/8,
		freeChunks:  make([]byte, payloadBitmapBytes),
	}
	file.SetCallback(func(mode pageio.HeaderMode, payload []byte) {
		if mode == pageio.HeaderRead {
			v.availableSlots = leU64(payload[payloadAvailOffset : payloadAvailOffset+8])
			copy(v.freeChunks, payload[payloadBitmapOffset:payloadBitmapOffset+payloadBitmapBytes])
		} else {
			putLeU64(payload[payloadAvailOffset:payloadAvailOffset+8], v.availableSlots)
			copy(payload[payloadBitmapOffset:payloadBitmapOffset+payloadBitmapBytes], v.freeChunks)
		}
	})
	return v
}

// PerChunk returns the number of records that fit on one page.
func (v *Vector[T]) PerChunk() int { return v.perChunk }

func (v *Vector[T]) chunkFreeBit(chunk int) bool {
	v.bitmapMu.RLock()
	defer v.bitmapMu.RUnlock()
	return v.freeChunks[chunk/8]&(1<<uint(chunk%8)) != 0
}

func (v *Vector[T]) setChunkFree(chunk int, free bool) {
	v.bitmapMu.Lock()
	defer v.bitmapMu.Unlock()
	if free {
		v.freeChunks[chunk/8] |= 1 << uint(chunk%8)
	} else {
		v.freeChunks[chunk/8] &^= 1 << uint(chunk%8)
	}
}

func (v *Vector[T]) numChunks() int {
	idx := v.file.HighestValidIndex()
	return idx + 1
}

// growOneChunk allocates a fresh page, zeroing its used-slot bitset, and
// marks it free-for-slots.
func (v *Vector[T]) growOneChunk() (int, []byte, error) {
	v.resizeMu.Lock()
	defer v.resizeMu.Unlock()
	pid, buf, err := v.pool.AllocatePage(v.file.FileID())
	if err != nil {
		return 0, nil, err
	}
	chunk := int(pid.Index()) - 1
	putU32(buf[0:4], 0) // first-available-slot hint reset
	v.mu.Lock()
	v.availableSlots += uint64(v.perChunk)
	v.mu.Unlock()
	v.setChunkFree(chunk, true)
	v.pool.MarkDirty(pid)
	return chunk, buf, nil
}

func (v *Vector[T]) pageForChunk(chunk int) (pageio.PageID, []byte, error) {
	pid := pageio.NewPageID(v.file.FileID(), uint64(chunk+1))
	buf, err := v.pool.FetchPage(pid)
	if err != nil {
		return pageio.Unknown, nil, err
	}
	return pid, buf, nil
}

func (v *Vector[T]) usedBit(buf []byte, slot int) bool {
	b := buf[4 : 4+v.bitsetBytes]
	return b[slot/8]&(1<<uint(slot%8)) != 0
}

func (v *Vector[T]) setUsedBit(buf []byte, slot int, used bool) {
	b := buf[4 : 4+v.bitsetBytes]
	if used {
		b[slot/8] |= 1 << uint(slot%8)
	} else {
		b[slot/8] &^= 1 << uint(slot%8)
	}
}

func (v *Vector[T]) recordBytes(buf []byte, slot int) []byte {
	off := v.dataOffset + slot*v.recSize
	return buf[off : off+v.recSize]
}

// firstFreeSlotInChunk returns the first clear slot in buf's used-bitset,
// or -1.
func (v *Vector[T]) firstFreeSlotInChunk(buf []byte) int {
	b := buf[4 : 4+v.bitsetBytes]
	for i := 0; i < v.perChunk; i++ {
		if b[i/8]&(1<<uint(i%8)) == 0 {
			return i
		}
	}
	return -1
}

// Append places record in the last chunk if it has room, else grows by one
// chunk. Returns the new record's offset.
func (v *Vector[T]) Append(rec T) (Offset, error) {
	nChunks := v.numChunks()
	if nChunks > 0 {
		chunk := nChunks - 1
		_, buf, err := v.pageForChunk(chunk)
		if err != nil {
			return 0, err
		}
		if slot := v.firstFreeSlotInChunk(buf); slot >= 0 {
			return v.placeAt(chunk, slot, buf, rec)
		}
	}
	chunk, buf, err := v.growOneChunk()
	if err != nil {
		return 0, err
	}
	return v.placeAt(chunk, 0, buf, rec)
}

// Store places record in any chunk with a free slot (consulting the
// free-chunks bitset), falling back to growing the vector.
func (v *Vector[T]) Store(rec T) (Offset, error) {
	nChunks := v.numChunks()
	for chunk := 0; chunk < nChunks; chunk++ {
		if !v.chunkFreeBit(chunk) {
			continue
		}
		_, buf, err := v.pageForChunk(chunk)
		if err != nil {
			return 0, err
		}
		if slot := v.firstFreeSlotInChunk(buf); slot >= 0 {
			return v.placeAt(chunk, slot, buf, rec)
		}
		v.setChunkFree(chunk, false)
	}
	chunk, buf, err := v.growOneChunk()
	if err != nil {
		return 0, err
	}
	return v.placeAt(chunk, 0, buf, rec)
}

func (v *Vector[T]) placeAt(chunk, slot int, buf []byte, rec T) (Offset, error) {
	v.codec.Encode(rec, v.recordBytes(buf, slot))
	v.setUsedBit(buf, slot, true)
	if v.firstFreeSlotInChunk(buf) < 0 {
		v.setChunkFree(chunk, false)
	}
	v.mu.Lock()
	if v.availableSlots > 0 {
		v.availableSlots--
	}
	v.mu.Unlock()
	pid := pageio.NewPageID(v.file.FileID(), uint64(chunk+1))
	v.pool.MarkDirty(pid)
	return Offset(uint64(chunk)*uint64(v.perChunk) + uint64(slot)), nil
}

// StoreAt places record at a specific offset, growing the vector with empty
// chunks if necessary, and updates bookkeeping.
func (v *Vector[T]) StoreAt(off Offset, rec T) error {
	chunk := int(uint64(off) / uint64(v.perChunk))
	slot := int(uint64(off) % uint64(v.perChunk))
	for v.numChunks() <= chunk {
		if _, _, err := v.growOneChunk(); err != nil {
			return err
		}
	}
	_, buf, err := v.pageForChunk(chunk)
	if err != nil {
		return err
	}
	wasUsed := v.usedBit(buf, slot)
	v.codec.Encode(rec, v.recordBytes(buf, slot))
	v.setUsedBit(buf, slot, true)
	if !wasUsed {
		v.mu.Lock()
		if v.availableSlots > 0 {
			v.availableSlots--
		}
		v.mu.Unlock()
	}
	if v.firstFreeSlotInChunk(buf) < 0 {
		v.setChunkFree(chunk, false)
	} else {
		v.setChunkFree(chunk, true)
	}
	v.pool.MarkDirty(pageio.NewPageID(v.file.FileID(), uint64(chunk+1)))
	return nil
}

// Erase clears the slot at off, making it available for reuse.
func (v *Vector[T]) Erase(off Offset) error {
	chunk := int(uint64(off) / uint64(v.perChunk))
	slot := int(uint64(off) % uint64(v.perChunk))
	if chunk >= v.numChunks() {
		return poserr.New(poserr.KindUnknownID, "bvector.Erase: offset out of range")
	}
	_, buf, err := v.pageForChunk(chunk)
	if err != nil {
		return err
	}
	if !v.usedBit(buf, slot) {
		return poserr.New(poserr.KindUnknownID, "bvector.Erase: already clear")
	}
	v.setUsedBit(buf, slot, false)
	v.setChunkFree(chunk, true)
	v.mu.Lock()
	v.availableSlots++
	v.mu.Unlock()
	v.pool.MarkDirty(pageio.NewPageID(v.file.FileID(), uint64(chunk+1)))
	return nil
}

// At returns the record at off. Fails with UnknownId if the slot is clear.
func (v *Vector[T]) At(off Offset) (T, error) {
	var zero T
	chunk := int(uint64(off) / uint64(v.perChunk))
	slot := int(uint64(off) % uint64(v.perChunk))
	if chunk >= v.numChunks() {
		return zero, poserr.New(poserr.KindUnknownID, "bvector.At: offset out of range")
	}
	_, buf, err := v.pageForChunk(chunk)
	if err != nil {
		return zero, err
	}
	if !v.usedBit(buf, slot) {
		return zero, poserr.New(poserr.KindUnknownID, "bvector.At: slot not set")
	}
	return v.codec.Decode(v.recordBytes(buf, slot)), nil
}

// Exists reports whether off currently holds a live record.
func (v *Vector[T]) Exists(off Offset) bool {
	chunk := int(uint64(off) / uint64(v.perChunk))
	slot := int(uint64(off) % uint64(v.perChunk))
	if chunk >= v.numChunks() {
		return false
	}
	_, buf, err := v.pageForChunk(chunk)
	if err != nil {
		return false
	}
	return v.usedBit(buf, slot)
}

// AvailableSlots returns the number of clear slots across the vector.
func (v *Vector[T]) AvailableSlots() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.availableSlots
}

// Range forwards-iterates live records from firstChunk to lastChunk
// (inclusive, -1 means "to the end"), starting at startPos within
// firstChunk, skipping cleared slots.
func (v *Vector[T]) Range(firstChunk, lastChunk, startPos int, fn func(off Offset, rec T) bool) error {
	n := v.numChunks()
	if lastChunk < 0 || lastChunk >= n {
		lastChunk = n - 1
	}
	for chunk := firstChunk; chunk <= lastChunk; chunk++ {
		_, buf, err := v.pageForChunk(chunk)
		if err != nil {
			return err
		}
		start := 0
		if chunk == firstChunk {
			start = startPos
		}
		for slot := start; slot < v.perChunk; slot++ {
			if !v.usedBit(buf, slot) {
				continue
			}
			off := Offset(uint64(chunk)*uint64(v.perChunk) + uint64(slot))
			if !fn(off, v.codec.Decode(v.recordBytes(buf, slot))) {
				return nil
			}
		}
	}
	return nil
}

// ForEach iterates every live record in the vector, in chunk/slot order.
func (v *Vector[T]) ForEach(fn func(off Offset, rec T) bool) error {
	return v.Range(0, -1, 0, fn)
}

// NumChunks returns the number of pages currently backing the vector.
func (v *Vector[T]) NumChunks() int { return v.numChunks() }

// Resize grows the vector by n empty chunks.
func (v *Vector[T]) Resize(n int) error {
	for i := 0; i < n; i++ {
		if _, _, err := v.growOneChunk(); err != nil {
			return err
		}
	}
	return nil
}

func leU64(b []byte) uint64 {
	var x uint64
	for i := 7; i >= 0; i-- {
		x = x<<8 | uint64(b[i])
	}
	return x
}

func putLeU64(b []byte, x uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(x)
		x >>= 8
	}
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
