// Package bufpool implements Poseidon's buffer pool: an in-memory LRU cache
// of pages shared across every paged file registered with it.
//
// What: fetch/allocate/free/flush of pages, with LRU eviction and dirty-page
// write-back, per spec.md §4.2.
// How: a fixed-capacity set of frames, a page-id → frame map, and an
// intrusive LRU list. A single pool-wide mutex serializes every public
// operation, including I/O — refining this to per-slot latches is left to
// callers that need finer concurrency (spec.md §4.2 "Concurrency").
// Why: every higher container (buffered vector, string pool, B+-tree) reads
// and writes pages exclusively through here, so this is the one place page
// I/O, caching, and dirty tracking need to be correct.
package bufpool

import (
	"fmt"
	"sync"

	"github.com/dbis-ilm/poseidon/internal/pageio"
	"github.com/dbis-ilm/poseidon/internal/poserr"
	humanize "github.com/dustin/go-humanize"
)

// DefaultCapacity is the default number of frames in the pool (spec.md §4.2).
const DefaultCapacity = 5000

// MaxFiles is the number of paged files a pool can register, one per file
// id 0..pageio.MaxFileID (spec.md §4.2).
const MaxFiles = pageio.MaxFileID + 1

// frame is one cached page.
type frame struct {
	id    pageio.PageID
	buf   []byte
	dirty bool
	prev  *frame
	next  *frame
}

// Pool is the shared page cache. Zero value is not usable; use New.
type Pool struct {
	mu       sync.Mutex
	capacity int
	files    [MaxFiles]*pageio.File
	table    map[pageio.PageID]*frame
	head     *frame // most recently used
	tail     *frame // least recently used

	logicalReads  uint64
	physicalReads uint64
}

// New creates a buffer pool with the given frame capacity. Capacity <= 0
// uses DefaultCapacity.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		capacity: capacity,
		table:    make(map[pageio.PageID]*frame, capacity),
	}
}

// RegisterFile attaches an already-open paged file under the given file id
// (0..14), matching the id the file itself was opened with.
func (p *Pool) RegisterFile(f *pageio.File) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := f.FileID()
	if id >= MaxFiles {
		return poserr.New(poserr.KindInvalidPageID, "bufpool.RegisterFile: file id out of range")
	}
	p.files[id] = f
	return nil
}

// File returns the paged file registered under fileID, or nil.
func (p *Pool) File(fileID uint8) *pageio.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fileID >= MaxFiles {
		return nil
	}
	return p.files[fileID]
}

func (p *Pool) fileFor(pid pageio.PageID) (*pageio.File, error) {
	f := p.files[pid.FileID()]
	if f == nil {
		return nil, poserr.New(poserr.KindInvalidPageID, "bufpool: no file registered for page's file id")
	}
	return f, nil
}

// FetchPage returns the bytes for pid, loading it from disk if not cached.
// The returned slice is owned by the pool; callers must not retain it past
// the next call that could evict the page (spec.md §9 "borrowed handle").
func (p *Pool) FetchPage(pid pageio.PageID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetchLocked(pid)
}

func (p *Pool) fetchLocked(pid pageio.PageID) ([]byte, error) {
	p.logicalReads++
	if fr, ok := p.table[pid]; ok {
		p.moveToFront(fr)
		return fr.buf, nil
	}
	f, err := p.fileFor(pid)
	if err != nil {
		return nil, err
	}
	if !f.IsValid(pid) {
		return nil, poserr.New(poserr.KindInvalidPageID, "bufpool.FetchPage")
	}
	if len(p.table) >= p.capacity {
		if !p.evictOne() {
			return nil, poserr.New(poserr.KindNoFreeFrame, "bufpool.FetchPage")
		}
	}
	buf := make([]byte, pageio.PageSize)
	if err := f.ReadPage(pid, buf); err != nil {
		return nil, err
	}
	p.physicalReads++
	fr := &frame{id: pid, buf: buf}
	p.table[pid] = fr
	p.pushFront(fr)
	return fr.buf, nil
}

// AllocatePage asks the paged file registered under fileID for a new page
// id, then fetches it into the cache, zeroes its buffer and marks it dirty.
// The page is not pinned: it can be evicted like any other cached page.
func (p *Pool) AllocatePage(fileID uint8) (pageio.PageID, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fileID >= MaxFiles || p.files[fileID] == nil {
		return pageio.Unknown, nil, poserr.New(poserr.KindInvalidPageID, "bufpool.AllocatePage: no such file")
	}
	pid, err := p.files[fileID].Allocate()
	if err != nil {
		return pageio.Unknown, nil, err
	}
	buf, err := p.fetchLocked(pid)
	if err != nil {
		return pageio.Unknown, nil, err
	}
	for i := range buf {
		buf[i] = 0
	}
	p.markDirtyLocked(pid)
	return pid, buf, nil
}

// FreePage removes pid from the cache, zeroes its buffer, and delegates to
// the owning paged file to clear the slot.
func (p *Pool) FreePage(pid pageio.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fr, ok := p.table[pid]; ok {
		for i := range fr.buf {
			fr.buf[i] = 0
		}
		p.unlink(fr)
		delete(p.table, pid)
	}
	f, err := p.fileFor(pid)
	if err != nil {
		return err
	}
	return f.Free(pid)
}

// MarkDirty flags pid's cached frame as needing write-back.
func (p *Pool) MarkDirty(pid pageio.PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markDirtyLocked(pid)
}

func (p *Pool) markDirtyLocked(pid pageio.PageID) {
	if fr, ok := p.table[pid]; ok {
		fr.dirty = true
	}
}

// FlushPage writes pid back to its paged file if dirty. If evict is true,
// the page is also removed from the cache afterward.
func (p *Pool) FlushPage(pid pageio.PageID, evict bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fr, ok := p.table[pid]
	if !ok {
		return nil
	}
	if fr.dirty {
		f, err := p.fileFor(pid)
		if err != nil {
			return err
		}
		if err := f.WritePage(pid, fr.buf); err != nil {
			return err
		}
		fr.dirty = false
	}
	if evict {
		p.unlink(fr)
		delete(p.table, pid)
	}
	return nil
}

// FlushAll writes every dirty page back to its file, without evicting.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	ids := make([]pageio.PageID, 0, len(p.table))
	for id, fr := range p.table {
		if fr.dirty {
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()
	for _, id := range ids {
		if err := p.FlushPage(id, false); err != nil {
			return err
		}
	}
	return nil
}

// ScanFile iterates every valid page of fileID through a single rotating
// scratch buffer, invoking cb for each. It does not touch the LRU list or
// cache (spec.md §4.2 scan_file "does not pollute the LRU").
func (p *Pool) ScanFile(fileID uint8, cb func(pid pageio.PageID, buf []byte) error) error {
	p.mu.Lock()
	f := p.files[fileID]
	p.mu.Unlock()
	if f == nil {
		return poserr.New(poserr.KindInvalidPageID, "bufpool.ScanFile: no such file")
	}
	scratch := make([]byte, pageio.PageSize)
	highest := f.HighestValidIndex()
	for i := uint64(1); i <= uint64(highest+1); i++ {
		pid := pageio.NewPageID(fileID, i)
		if !f.IsValid(pid) {
			continue
		}
		// Prefer the cached copy if present, so scans observe in-flight
		// writes that haven't been flushed yet.
		p.mu.Lock()
		fr, cached := p.table[pid]
		var buf []byte
		if cached {
			buf = fr.buf
		} else {
			if err := f.ReadPage(pid, scratch); err != nil {
				p.mu.Unlock()
				return err
			}
			buf = scratch
		}
		p.mu.Unlock()
		if err := cb(pid, buf); err != nil {
			return err
		}
	}
	return nil
}

// LastValidPage returns the page id of the last valid page of fileID. If
// the file is empty, a new page is allocated (matching the paged-file
// contract this delegates to).
func (p *Pool) LastValidPage(fileID uint8) (pageio.PageID, []byte, error) {
	p.mu.Lock()
	f := p.files[fileID]
	p.mu.Unlock()
	if f == nil {
		return pageio.Unknown, nil, poserr.New(poserr.KindInvalidPageID, "bufpool.LastValidPage: no such file")
	}
	pid, err := f.LastValidPage()
	if err != nil {
		return pageio.Unknown, nil, err
	}
	p.mu.Lock()
	buf, err := p.fetchLocked(pid)
	p.mu.Unlock()
	return pid, buf, err
}

// HitRatio returns (logical_reads - physical_reads) / logical_reads.
func (p *Pool) HitRatio() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.logicalReads == 0 {
		return 0
	}
	return float64(p.logicalReads-p.physicalReads) / float64(p.logicalReads)
}

// Stats is a diagnostic snapshot of the pool's cache behavior.
type Stats struct {
	Capacity      int
	Cached        int
	LogicalReads  uint64
	PhysicalReads uint64
	HitRatio      float64
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ratio float64
	if p.logicalReads > 0 {
		ratio = float64(p.logicalReads-p.physicalReads) / float64(p.logicalReads)
	}
	return Stats{
		Capacity:      p.capacity,
		Cached:        len(p.table),
		LogicalReads:  p.logicalReads,
		PhysicalReads: p.physicalReads,
		HitRatio:      ratio,
	}
}

// String renders the stats using humanize for readable byte counts.
func (s Stats) String() string {
	bytes := uint64(s.Cached) * pageio.PageSize
	return fmt.Sprintf("bufpool: %s cached (%d/%d frames), hit ratio %.1f%%, %s logical reads",
		humanize.Bytes(bytes), s.Cached, s.Capacity, s.HitRatio*100, humanize.Comma(int64(s.LogicalReads)))
}

// evictOne scans the LRU list from the tail (least recently used); the
// first entry found is written out if dirty, zeroed, and removed. Returns
// false if the pool is empty (nothing to evict).
func (p *Pool) evictOne() bool {
	for fr := p.tail; fr != nil; fr = fr.prev {
		if fr.dirty {
			if f, err := p.fileFor(fr.id); err == nil {
				_ = f.WritePage(fr.id, fr.buf) // best-effort; fatal errors surface on next op
			}
		}
		for i := range fr.buf {
			fr.buf[i] = 0
		}
		p.unlink(fr)
		delete(p.table, fr.id)
		return true
	}
	return false
}

func (p *Pool) pushFront(fr *frame) {
	fr.prev = nil
	fr.next = p.head
	if p.head != nil {
		p.head.prev = fr
	}
	p.head = fr
	if p.tail == nil {
		p.tail = fr
	}
}

func (p *Pool) unlink(fr *frame) {
	if fr.prev != nil {
		fr.prev.next = fr.next
	} else {
		p.head = fr.next
	}
	if fr.next != nil {
		fr.next.prev = fr.prev
	} else {
		p.tail = fr.prev
	}
	fr.prev, fr.next = nil, nil
}

func (p *Pool) moveToFront(fr *frame) {
	if p.head == fr {
		return
	}
	p.unlink(fr)
	p.pushFront(fr)
}
