package pageio

import (
	"os"
	"sync"

	"github.com/dbis-ilm/poseidon/internal/poserr"
	"golang.org/x/sys/unix"
)

// HeaderMode tells a HeaderCallback whether the payload area is being
// populated (on open) or captured for persistence (on close/flush).
type HeaderMode int

const (
	HeaderRead HeaderMode = iota
	HeaderWrite
)

// HeaderCallback is invoked with the file's payload area on open (mode
// HeaderRead, callee may read it) and on close (mode HeaderWrite, callee
// must write into it before it's persisted). See spec.md §4.1.
type HeaderCallback func(mode HeaderMode, payload []byte)

// File is a fixed-size paged file: a disk file holding a header followed by
// a sequence of PageSize-byte pages, per spec.md §4.1/§6.1.
type File struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	fileID   uint8
	hdr      *header
	callback HeaderCallback
}

// Open opens or creates the paged file at path. On an existing file, the
// magic is validated and the header loaded; on a new file, a fresh header is
// written. The header callback, if set via SetCallback, is invoked in
// HeaderRead mode once the payload is available.
func Open(path string, fileID uint8, ftype FileType) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, poserr.Wrap(poserr.KindIOFailure, "pageio.Open", err)
	}
	pf := &File{path: path, f: f, fileID: fileID}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, poserr.Wrap(poserr.KindIOFailure, "pageio.Open: stat", err)
	}
	if info.Size() == 0 {
		pf.hdr = newHeader(ftype)
		if err := pf.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		buf := make([]byte, HeaderSize)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return nil, poserr.Wrap(poserr.KindIOFailure, "pageio.Open: read header", err)
		}
		hdr, err := unmarshalHeader(buf)
		if err != nil {
			f.Close()
			return nil, poserr.Wrap(poserr.KindIOFailure, "pageio.Open: bad header", err)
		}
		pf.hdr = hdr
	}
	return pf, nil
}

// SetCallback registers the header-payload callback and immediately invokes
// it in HeaderRead mode against the current payload, matching the C++
// original's open-time contract (spec.md §4.1).
func (f *File) SetCallback(cb HeaderCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = cb
	if cb != nil {
		cb(HeaderRead, f.hdr.payload[:])
	}
}

// Payload returns the raw payload area for direct manipulation by a
// container that doesn't use the callback mechanism (e.g. reading counters
// before installing a callback).
func (f *File) Payload() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hdr.payload[:]
}

func (f *File) writeHeader() error {
	if f.callback != nil {
		f.callback(HeaderWrite, f.hdr.payload[:])
	}
	if _, err := f.f.WriteAt(f.hdr.marshal(), 0); err != nil {
		return poserr.Wrap(poserr.KindIOFailure, "pageio.writeHeader", err)
	}
	return nil
}

// Allocate finds the first clear bit in the slot bitmap, sets it, and
// returns the corresponding 1-based PageID. If that page lies past the end
// of the file, the file grows to hold it, so the new page reads back as
// zeros (spec.md §4.1 allocate_page). If every bit is set, Allocate fails
// with NoFreeFrame.
func (f *File) Allocate() (PageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.hdr.slots.firstClear()
	if idx < 0 {
		return Unknown, poserr.New(poserr.KindNoFreeFrame, "pageio.Allocate: slot bitmap full")
	}
	end := int64(HeaderSize) + int64(idx+1)*int64(PageSize)
	info, err := f.f.Stat()
	if err != nil {
		return Unknown, poserr.Wrap(poserr.KindIOFailure, "pageio.Allocate: stat", err)
	}
	if info.Size() < end {
		if err := f.f.Truncate(end); err != nil {
			return Unknown, poserr.Wrap(poserr.KindIOFailure, "pageio.Allocate: grow", err)
		}
	}
	f.hdr.slots.set(idx)
	return NewPageID(f.fileID, uint64(idx+1)), nil
}

// Free clears the slot for pid. It fails with InvalidPageId if the slot was
// already clear (spec.md §4.1 free_page).
func (f *File) Free(pid PageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := int(pid.Index()) - 1
	if idx < 0 || idx >= SlotBits || !f.hdr.slots.test(idx) {
		return poserr.New(poserr.KindInvalidPageID, "pageio.Free: already clear or out of range")
	}
	f.hdr.slots.clear(idx)
	return nil
}

// IsValid reports whether pid refers to an in-use page.
func (f *File) IsValid(pid PageID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := int(pid.Index()) - 1
	if idx < 0 || idx >= SlotBits {
		return false
	}
	return f.hdr.slots.test(idx)
}

// LastValidPage returns the PageID of the highest-indexed in-use page in
// the file. If the file is empty, it allocates one page and returns that,
// matching the C++ original's last_valid_page() contract.
func (f *File) LastValidPage() (PageID, error) {
	if idx := f.highestValidIndex(); idx >= 0 {
		return NewPageID(f.fileID, uint64(idx+1)), nil
	}
	return f.Allocate()
}

// HighestValidIndex returns the 0-based index of the highest in-use page,
// or -1 if the file has no valid pages. Unlike LastValidPage, it never
// allocates — callers scanning a possibly-empty file want this instead.
func (f *File) HighestValidIndex() int {
	return f.highestValidIndex()
}

func (f *File) highestValidIndex() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := SlotBits - 1; i >= 0; i-- {
		if f.hdr.slots.test(i) {
			return i
		}
	}
	return -1
}

func (f *File) offsetOf(pid PageID) int64 {
	return int64(HeaderSize) + int64(pid.Index()-1)*int64(PageSize)
}

// ReadPage reads the fixed-size page content for pid into buf, which must be
// at least PageSize bytes. Fails if pid is out of range or its slot clear.
func (f *File) ReadPage(pid PageID, buf []byte) error {
	if !f.IsValid(pid) {
		return poserr.New(poserr.KindInvalidPageID, "pageio.ReadPage")
	}
	if len(buf) < PageSize {
		return poserr.New(poserr.KindInvalidPageID, "pageio.ReadPage: short buffer")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.f.ReadAt(buf[:PageSize], f.offsetOf(pid)); err != nil {
		return poserr.Wrap(poserr.KindIOFailure, "pageio.ReadPage", err)
	}
	return nil
}

// WritePage writes the fixed-size page content buf for pid. Fails if pid is
// out of range or its slot clear.
func (f *File) WritePage(pid PageID, buf []byte) error {
	if !f.IsValid(pid) {
		return poserr.New(poserr.KindInvalidPageID, "pageio.WritePage")
	}
	if len(buf) < PageSize {
		return poserr.New(poserr.KindInvalidPageID, "pageio.WritePage: short buffer")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.f.WriteAt(buf[:PageSize], f.offsetOf(pid)); err != nil {
		return poserr.Wrap(poserr.KindIOFailure, "pageio.WritePage", err)
	}
	return nil
}

// Sync forces dirty pages and the header to stable storage. This is the
// "WAL hook point" from spec.md §4.2/§9: Poseidon defines fsync-on-flush and
// stops there — it does not implement a WAL.
func (f *File) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := unix.Fdatasync(int(f.f.Fd())); err != nil {
		return poserr.Wrap(poserr.KindIOFailure, "pageio.Sync", err)
	}
	return nil
}

// Close flushes the header (re-invoking the callback in HeaderWrite mode)
// and releases the file handle.
func (f *File) Close() error {
	f.mu.Lock()
	if err := f.writeHeader(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	if err := f.Sync(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.f.Close(); err != nil {
		return poserr.Wrap(poserr.KindIOFailure, "pageio.Close", err)
	}
	return nil
}

// Truncate drops all pages and resets the slot bitmap.
func (f *File) Truncate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hdr.slots = newBitmap(SlotBits)
	if err := f.f.Truncate(int64(HeaderSize)); err != nil {
		return poserr.Wrap(poserr.KindIOFailure, "pageio.Truncate", err)
	}
	return nil
}

// FileID returns the 4-bit file selector this paged file was opened with.
func (f *File) FileID() uint8 { return f.fileID }

// FileType returns the application-defined type tag from the header.
func (f *File) FileType() FileType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hdr.ftype
}
