package bufpool

import (
	"path/filepath"
	"testing"

	"github.com/dbis-ilm/poseidon/internal/pageio"
)

func openTestFile(t *testing.T, fileID uint8) *pageio.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f.db")
	f, err := pageio.Open(path, fileID, pageio.FileTypeNodes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

// TestLRUEviction mirrors spec.md §8 scenario 2: pool capacity 3, fetch
// 1,2,3,4 in order, then fetch(2); page 1 (not 2, now MRU) is evicted, and
// after the pattern {1,2,3,4,2} the cached set is {2,3,4}.
func TestLRUEviction(t *testing.T) {
	f := openTestFile(t, 0)
	pool := New(3)
	if err := pool.RegisterFile(f); err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}

	var ids []pageio.PageID
	for i := 0; i < 4; i++ {
		pid, err := f.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		ids = append(ids, pid)
	}

	for i := 0; i < 4; i++ {
		if _, err := pool.FetchPage(ids[i]); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	// Cache after 1,2,3,4 with capacity 3 should be {2,3,4}: fetching 4
	// evicted 1 (LRU tail at that point).
	if _, ok := pool.table[ids[0]]; ok {
		t.Fatalf("page 1 should have been evicted")
	}

	if _, err := pool.FetchPage(ids[1]); err != nil {
		t.Fatalf("re-fetch 2: %v", err)
	}
	// {1,2,3,4,2}: cached set must be {2,3,4}.
	for i, want := range []bool{false, true, true, true} {
		_, ok := pool.table[ids[i]]
		if ok != want {
			t.Fatalf("page %d: cached=%v, want %v", i+1, ok, want)
		}
	}
}

func TestFlushAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.db")
	f, err := pageio.Open(path, 0, pageio.FileTypeNodes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pool := New(10)
	if err := pool.RegisterFile(f); err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	pid, buf, err := pool.AllocatePage(0)
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	buf[0] = 0x42
	pool.MarkDirty(pid)
	if err := pool.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f2, err := pageio.Open(path, 0, pageio.FileTypeNodes)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f2.Close()
	pool2 := New(10)
	if err := pool2.RegisterFile(f2); err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	out, err := pool2.FetchPage(pid)
	if err != nil {
		t.Fatalf("FetchPage after reopen: %v", err)
	}
	if out[0] != 0x42 {
		t.Fatalf("expected persisted byte 0x42, got %#x", out[0])
	}
}

func TestFreePageZeroesAndDelegates(t *testing.T) {
	f := openTestFile(t, 0)
	pool := New(10)
	pool.RegisterFile(f)

	pid, buf, _ := pool.AllocatePage(0)
	buf[0] = 1
	if err := pool.FreePage(pid); err != nil {
		t.Fatalf("FreePage: %v", err)
	}
	if buf[0] != 0 {
		t.Fatalf("FreePage should zero the cached buffer, got %#x", buf[0])
	}
	if f.IsValid(pid) {
		t.Fatalf("page should be invalid after FreePage")
	}
}

func TestScanFileSkipsFreedPages(t *testing.T) {
	f := openTestFile(t, 0)
	pool := New(10)
	pool.RegisterFile(f)

	var ids []pageio.PageID
	for i := 0; i < 3; i++ {
		pid, _, err := pool.AllocatePage(0)
		if err != nil {
			t.Fatalf("AllocatePage: %v", err)
		}
		ids = append(ids, pid)
	}
	if err := pool.FreePage(ids[1]); err != nil {
		t.Fatalf("FreePage: %v", err)
	}

	var seen []pageio.PageID
	err := pool.ScanFile(0, func(pid pageio.PageID, buf []byte) error {
		seen = append(seen, pid)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 valid pages, got %d", len(seen))
	}
}

func TestHitRatio(t *testing.T) {
	f := openTestFile(t, 0)
	pool := New(10)
	pool.RegisterFile(f)

	pid, _, _ := pool.AllocatePage(0)
	pool.FetchPage(pid)
	pool.FetchPage(pid)
	ratio := pool.HitRatio()
	if ratio <= 0 || ratio > 1 {
		t.Fatalf("expected a hit ratio in (0,1], got %f", ratio)
	}
}
