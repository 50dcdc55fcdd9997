// Package strdict implements Poseidon's string pool and dictionary: an
// append-only string heap over a paged file, plus an in-memory hash map
// from string to dictionary code (spec.md §4.4).
//
// Both node labels and string-valued property contents are encoded as
// dictionary codes; they are never inlined into node/relationship/property
// records.
package strdict

import (
	"bytes"

	"github.com/dbis-ilm/poseidon/internal/bufpool"
	"github.com/dbis-ilm/poseidon/internal/pageio"
	"github.com/dbis-ilm/poseidon/internal/poserr"
	"golang.org/x/text/unicode/norm"
)

// Code is a dictionary code: the global byte offset of a string within the
// pool's page sequence (page index * PageSize + in-page offset).
type Code uint64

// Unknown is the sentinel meaning "no code".
const Unknown Code = 0

// writeOffsetSize is the 4-byte "next write offset" stored at the start of
// the current (last) page.
const writeOffsetSize = 4

// Pool is an append-only heap of null-terminated strings over one paged
// file, addressed by Code.
type Pool struct {
	file *pageio.File
	pool *bufpool.Pool
}

// Open wraps an already-open, pool-registered paged file as a string pool.
func Open(file *pageio.File, pool *bufpool.Pool) *Pool {
	return &Pool{file: file, pool: pool}
}

// Normalize canonicalizes s to NFC so that byte-distinct but Unicode
// equivalent strings collapse to the same interned value.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

func (p *Pool) currentPage() (pageIdx int, buf []byte, err error) {
	idx := p.file.HighestValidIndex()
	if idx < 0 {
		pid, b, err := p.pool.AllocatePage(p.file.FileID())
		if err != nil {
			return 0, nil, err
		}
		putU32(b[0:writeOffsetSize], writeOffsetSize)
		p.pool.MarkDirty(pid)
		return int(pid.Index()) - 1, b, nil
	}
	pid := pageio.NewPageID(p.file.FileID(), uint64(idx+1))
	b, err := p.pool.FetchPage(pid)
	if err != nil {
		return 0, nil, err
	}
	return idx, b, nil
}

// Add appends str (NFC-normalized) to the pool and returns its code. If the
// current page lacks room, a new page is allocated and the string restarts
// at offset 4.
func (p *Pool) Add(str string) (Code, error) {
	str = Normalize(str)
	need := len(str) + 1 // null terminator
	pageIdx, buf, err := p.currentPage()
	if err != nil {
		return Unknown, err
	}
	nextOff := int(getU32(buf[0:writeOffsetSize]))
	if nextOff+need > pageio.PageSize {
		pid, b, err := p.pool.AllocatePage(p.file.FileID())
		if err != nil {
			return Unknown, err
		}
		pageIdx = int(pid.Index()) - 1
		buf = b
		nextOff = writeOffsetSize
	}
	copy(buf[nextOff:], str)
	buf[nextOff+len(str)] = 0
	putU32(buf[0:writeOffsetSize], uint32(nextOff+need))
	p.pool.MarkDirty(pageio.NewPageID(p.file.FileID(), uint64(pageIdx+1)))
	return Code(uint64(pageIdx)*pageio.PageSize + uint64(nextOff)), nil
}

// Extract returns the string stored at code.
func (p *Pool) Extract(code Code) (string, error) {
	pid := pageio.NewPageID(p.file.FileID(), uint64(code)/pageio.PageSize+1)
	off := int(uint64(code) % pageio.PageSize)
	buf, err := p.pool.FetchPage(pid)
	if err != nil {
		return "", poserr.Wrap(poserr.KindUnknownID, "strdict.Extract", err)
	}
	end := bytes.IndexByte(buf[off:], 0)
	if end < 0 {
		return "", poserr.New(poserr.KindUnknownID, "strdict.Extract: unterminated string")
	}
	return string(buf[off : off+end]), nil
}

// Equal reports whether the string stored at code equals s (after
// normalization), for callers that hold a Code and want to verify it
// against a candidate string without a round trip through Dict.
func (p *Pool) Equal(code Code, s string) (bool, error) {
	got, err := p.Extract(code)
	if err != nil {
		return false, err
	}
	return got == Normalize(s), nil
}

// Scan invokes cb with every (string, code) pair in page/offset order,
// stopping early if cb returns false.
func (p *Pool) Scan(cb func(s string, code Code) bool) error {
	highest := p.file.HighestValidIndex()
	for pageIdx := 0; pageIdx <= highest; pageIdx++ {
		pid := pageio.NewPageID(p.file.FileID(), uint64(pageIdx+1))
		buf, err := p.pool.FetchPage(pid)
		if err != nil {
			return err
		}
		limit := int(getU32(buf[0:writeOffsetSize]))
		off := writeOffsetSize
		for off < limit {
			end := bytes.IndexByte(buf[off:limit], 0)
			if end < 0 {
				break
			}
			s := string(buf[off : off+end])
			code := Code(uint64(pageIdx)*pageio.PageSize + uint64(off))
			if !cb(s, code) {
				return nil
			}
			off += end + 1
		}
	}
	return nil
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
