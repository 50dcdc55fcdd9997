package pageio

import (
	"path/filepath"
	"testing"
)

// TestAllocateReuse mirrors spec.md §8 scenario 1: allocate five pages,
// free page 3, allocate again (must reuse 3), and check IsValid agrees with
// the slot bitmap throughout.
func TestAllocateReuse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.db")
	f, err := Open(path, 0, FileTypeNodes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	var ids []PageID
	for i := 0; i < 5; i++ {
		pid, err := f.Allocate()
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		ids = append(ids, pid)
	}
	for i, pid := range ids {
		if pid.Index() != uint64(i+1) {
			t.Fatalf("id %d: got index %d, want %d", i, pid.Index(), i+1)
		}
		if !f.IsValid(pid) {
			t.Fatalf("id %d should be valid", i)
		}
	}

	if err := f.Free(ids[2]); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if f.IsValid(ids[2]) {
		t.Fatalf("page 3 should be invalid after Free")
	}

	reused, err := f.Allocate()
	if err != nil {
		t.Fatalf("Allocate after free: %v", err)
	}
	if reused.Index() != 3 {
		t.Fatalf("expected reuse of index 3, got %d", reused.Index())
	}
}

func TestDoubleFreeFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.db")
	f, err := Open(path, 0, FileTypeNodes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	pid, _ := f.Allocate()
	if err := f.Free(pid); err != nil {
		t.Fatalf("first Free: %v", err)
	}
	if err := f.Free(pid); err == nil {
		t.Fatalf("second Free should fail")
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.db")
	f, err := Open(path, 0, FileTypeNodes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	pid, _ := f.Allocate()
	buf := make([]byte, PageSize)
	buf[0] = 0xAB
	buf[PageSize-1] = 0xCD
	if err := f.WritePage(pid, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	out := make([]byte, PageSize)
	if err := f.ReadPage(pid, out); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if out[0] != 0xAB || out[PageSize-1] != 0xCD {
		t.Fatalf("round trip mismatch")
	}
}

func TestHeaderCallbackRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.db")
	f, err := Open(path, 3, FileTypeBTree)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var gotMode HeaderMode
	f.SetCallback(func(mode HeaderMode, payload []byte) {
		gotMode = mode
		if mode == HeaderWrite {
			putU64(payload[0:8], 42)
		}
	})
	if gotMode != HeaderRead {
		t.Fatalf("expected initial callback in HeaderRead mode")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f2, err := Open(path, 3, FileTypeBTree)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f2.Close()
	var reread uint64
	f2.SetCallback(func(mode HeaderMode, payload []byte) {
		if mode == HeaderRead {
			reread = getU64(payload[0:8])
		}
	})
	if reread != 42 {
		t.Fatalf("expected persisted payload value 42, got %d", reread)
	}
}

func TestInvalidPageOps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.db")
	f, err := Open(path, 0, FileTypeNodes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, PageSize)
	if err := f.ReadPage(NewPageID(0, 99), buf); err == nil {
		t.Fatalf("ReadPage on invalid page should fail")
	}
	if err := f.WritePage(NewPageID(0, 99), buf); err == nil {
		t.Fatalf("WritePage on invalid page should fail")
	}
}
