package bvector

import (
	"path/filepath"
	"testing"

	"github.com/dbis-ilm/poseidon/internal/bufpool"
	"github.com/dbis-ilm/poseidon/internal/pageio"
)

type u64Codec struct{}

func (u64Codec) Size() int { return 8 }
func (u64Codec) Encode(v uint64, buf []byte) {
	putLeU64(buf, v)
}
func (u64Codec) Decode(buf []byte) uint64 { return leU64(buf) }

func newTestVector(t *testing.T) *Vector[uint64] {
	t.Helper()
	path := filepath.Join(t.TempDir(), "v.db")
	f, err := pageio.Open(path, 0, pageio.FileTypeNodes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	pool := bufpool.New(200)
	if err := pool.RegisterFile(f); err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	return Open[uint64](f, pool, u64Codec{})
}

func TestAppendAndAt(t *testing.T) {
	v := newTestVector(t)
	var offs []Offset
	for i := uint64(0); i < 10; i++ {
		off, err := v.Append(i * 10)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		offs = append(offs, off)
	}
	for i, off := range offs {
		got, err := v.At(off)
		if err != nil {
			t.Fatalf("At(%d): %v", i, err)
		}
		if got != uint64(i)*10 {
			t.Fatalf("At(%d) = %d, want %d", i, got, uint64(i)*10)
		}
	}
}

func TestEraseAndAvailableSlots(t *testing.T) {
	v := newTestVector(t)
	perChunk := v.PerChunk()

	var offs []Offset
	for i := 0; i < perChunk+5; i++ {
		off, err := v.Append(uint64(i))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		offs = append(offs, off)
	}

	// Erase a handful of records and verify the vector no longer yields them.
	erased := map[Offset]bool{offs[0]: true, offs[3]: true, offs[perChunk+1]: true}
	for off := range erased {
		if err := v.Erase(off); err != nil {
			t.Fatalf("Erase(%d): %v", off, err)
		}
	}

	count := 0
	err := v.ForEach(func(off Offset, rec uint64) bool {
		if erased[off] {
			t.Fatalf("erased offset %d should not be visited", off)
		}
		count++
		return true
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if count != len(offs)-len(erased) {
		t.Fatalf("expected %d live records, got %d", len(offs)-len(erased), count)
	}

	// available_slots must equal the number of clear slots: every chunk's
	// capacity minus what's actually used.
	totalCapacity := uint64(v.NumChunks() * perChunk)
	wantAvailable := totalCapacity - uint64(len(offs)-len(erased))
	if got := v.AvailableSlots(); got != wantAvailable {
		t.Fatalf("AvailableSlots() = %d, want %d", got, wantAvailable)
	}
}

func TestStoreReusesFreedSlot(t *testing.T) {
	v := newTestVector(t)
	first, err := v.Append(1)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := v.Erase(first); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	reused, err := v.Store(2)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if reused != first {
		t.Fatalf("Store should reuse the freed slot %d, got %d", first, reused)
	}
}

func TestStoreAt(t *testing.T) {
	v := newTestVector(t)
	target := Offset(v.PerChunk()*2 + 3) // forces growth across chunks
	if err := v.StoreAt(target, 99); err != nil {
		t.Fatalf("StoreAt: %v", err)
	}
	got, err := v.At(target)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if got != 99 {
		t.Fatalf("got %d, want 99", got)
	}
}

func TestAtOnClearedSlotFails(t *testing.T) {
	v := newTestVector(t)
	off, _ := v.Append(5)
	v.Erase(off)
	if _, err := v.At(off); err == nil {
		t.Fatalf("At on cleared slot should fail")
	}
}
