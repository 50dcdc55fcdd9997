package strdict

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/dbis-ilm/poseidon/internal/bufpool"
	"github.com/dbis-ilm/poseidon/internal/pageio"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strings.db")
	f, err := pageio.Open(path, 0, pageio.FileTypeStringPool)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	bp := bufpool.New(50)
	if err := bp.RegisterFile(f); err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	return Open(f, bp)
}

// TestAddExtractRoundTrip mirrors spec.md §8: for every c = add(s),
// extract(c) = s and equal(c, s) = true.
func TestAddExtractRoundTrip(t *testing.T) {
	p := newTestPool(t)
	strs := []string{"Person", "knows", "firstName", "Anastasia", ""}
	codes := make([]Code, len(strs))
	for i, s := range strs {
		c, err := p.Add(s)
		if err != nil {
			t.Fatalf("Add(%q): %v", s, err)
		}
		codes[i] = c
	}
	for i, s := range strs {
		got, err := p.Extract(codes[i])
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if got != s {
			t.Fatalf("Extract(%d) = %q, want %q", i, got, s)
		}
		ok, err := p.Equal(codes[i], s)
		if err != nil || !ok {
			t.Fatalf("Equal(%d, %q) = %v, %v", i, s, ok, err)
		}
	}
}

func TestAddSpansPages(t *testing.T) {
	p := newTestPool(t)
	big := make([]byte, pageio.PageSize/2)
	for i := range big {
		big[i] = 'x'
	}
	var codes []Code
	for i := 0; i < 5; i++ {
		c, err := p.Add(fmt.Sprintf("%s-%d", big, i))
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		codes = append(codes, c)
	}
	for i, c := range codes {
		got, err := p.Extract(c)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		want := fmt.Sprintf("%s-%d", big, i)
		if got != want {
			t.Fatalf("mismatch at %d", i)
		}
	}
}

func TestDictRebuildOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strings.db")
	f, err := pageio.Open(path, 0, pageio.FileTypeStringPool)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	bp := bufpool.New(50)
	bp.RegisterFile(f)
	pool := Open(f, bp)
	dict, err := OpenDict(pool)
	if err != nil {
		t.Fatalf("OpenDict: %v", err)
	}
	code, err := dict.Insert("Person")
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := bp.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f2, err := pageio.Open(path, 0, pageio.FileTypeStringPool)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f2.Close()
	bp2 := bufpool.New(50)
	bp2.RegisterFile(f2)
	pool2 := Open(f2, bp2)
	dict2, err := OpenDict(pool2)
	if err != nil {
		t.Fatalf("OpenDict after reopen: %v", err)
	}
	if got := dict2.Lookup("Person"); got != code {
		t.Fatalf("code not stable across reopen: got %d, want %d", got, code)
	}
}

func TestDictInsertIsIdempotent(t *testing.T) {
	p := newTestPool(t)
	dict, err := OpenDict(p)
	if err != nil {
		t.Fatalf("OpenDict: %v", err)
	}
	c1, _ := dict.Insert("knows")
	c2, _ := dict.Insert("knows")
	if c1 != c2 {
		t.Fatalf("Insert should be idempotent: %d != %d", c1, c2)
	}
	if dict.Size() != 1 {
		t.Fatalf("expected 1 distinct entry, got %d", dict.Size())
	}
}

func TestDictLookupUnknown(t *testing.T) {
	p := newTestPool(t)
	dict, _ := OpenDict(p)
	if code := dict.Lookup("nope"); code != Unknown {
		t.Fatalf("expected Unknown for unseen string, got %d", code)
	}
}

// TestDictDistinctStringsNeverAlias interns a large batch of distinct
// strings and checks every one resolves back to itself through its own
// code, not some other string's. A hash-keyed dictionary can alias two
// strings that share a truncated hash; a string-keyed one cannot.
func TestDictDistinctStringsNeverAlias(t *testing.T) {
	p := newTestPool(t)
	dict, err := OpenDict(p)
	if err != nil {
		t.Fatalf("OpenDict: %v", err)
	}
	const n = 2000
	codes := make(map[string]Code, n)
	for i := 0; i < n; i++ {
		s := fmt.Sprintf("label-%d", i)
		c, err := dict.Insert(s)
		if err != nil {
			t.Fatalf("Insert(%q): %v", s, err)
		}
		codes[s] = c
	}
	if dict.Size() != n {
		t.Fatalf("Size() = %d, want %d distinct entries", dict.Size(), n)
	}
	for s, c := range codes {
		if got := dict.Lookup(s); got != c {
			t.Fatalf("Lookup(%q) = %d, want %d (its own code)", s, got, c)
		}
		ok, err := p.Equal(c, s)
		if err != nil {
			t.Fatalf("Equal(%q): %v", s, err)
		}
		if !ok {
			t.Fatalf("code for %q resolves to a different string", s)
		}
	}
}
