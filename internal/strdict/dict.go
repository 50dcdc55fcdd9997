package strdict

import (
	"sync"

	"github.com/dbis-ilm/poseidon/internal/poserr"
)

// Dict is an in-memory map from string to Code, rebuilt on open by
// scanning the string pool (spec.md §4.4). Codes are stable across
// reopens. Keyed on the full NFC-normalized string rather than a hash of
// it, per spec.md §9's reimplementation requirement — a hash-only index
// would alias distinct strings that happen to share a hash, corrupting
// every Label/Property lookup built on top of it.
type Dict struct {
	mu   sync.RWMutex
	pool *Pool
	byS  map[string]Code
}

// OpenDict builds a Dict over pool, rebuilding the string→code map by
// scanning every interned string.
func OpenDict(pool *Pool) (*Dict, error) {
	d := &Dict{pool: pool, byS: make(map[string]Code)}
	if err := d.Rebuild(); err != nil {
		return nil, err
	}
	return d, nil
}

// Rebuild clears and repopulates the in-memory map by scanning the backing
// string pool from scratch.
func (d *Dict) Rebuild() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byS = make(map[string]Code)
	return d.pool.Scan(func(s string, code Code) bool {
		d.byS[s] = code
		return true
	})
}

// Insert interns s, returning its Code. If s was already interned, the
// existing code is returned unchanged.
func (d *Dict) Insert(s string) (Code, error) {
	s = Normalize(s)
	d.mu.RLock()
	if code, ok := d.byS[s]; ok {
		d.mu.RUnlock()
		return code, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if code, ok := d.byS[s]; ok {
		return code, nil
	}
	code, err := d.pool.Add(s)
	if err != nil {
		return Unknown, err
	}
	d.byS[s] = code
	return code, nil
}

// Lookup returns the Code for s, or Unknown if not interned.
func (d *Dict) Lookup(s string) Code {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if code, ok := d.byS[Normalize(s)]; ok {
		return code
	}
	return Unknown
}

// LookupCode extracts the string behind code, failing with UnknownLabel if
// the code looks unset.
func (d *Dict) LookupCode(code Code) (string, error) {
	if code == Unknown {
		return "", poserr.New(poserr.KindUnknownLabel, "strdict.LookupCode: unknown code")
	}
	return d.pool.Extract(code)
}

// Size returns the number of distinct strings currently interned.
func (d *Dict) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byS)
}
