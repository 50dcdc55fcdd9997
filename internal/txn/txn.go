// Package txn implements Poseidon's MVCC transaction manager: monotonic
// timestamp allocation, an active/committed/aborted state machine, and
// snapshot visibility (spec.md §3.4/§4.7).
//
// The original design stashes the "current transaction" in thread-local
// storage so operators can discover it implicitly. spec.md §9 explicitly
// asks for a reimplementation that threads `(ctx, txid)` through operator
// calls instead; this package does that via context.Context, the way the
// teacher's own `internal/storage/concurrency.go` threads context through
// its work-request pipeline.
package txn

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dbis-ilm/poseidon/internal/poserr"
)

// State is a transaction's position in the active→{committed,aborted} state
// machine (spec.md §4.7). Both terminal states are sinks.
type State uint8

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Infinity is the commit-timestamp value meaning "still live" (spec.md §3.4).
const Infinity uint64 = ^uint64(0)

// DirtyRecord is a hook a graph store installs for each record a
// transaction touches: Commit stamps the record's cts and files away its
// prior version; Abort discards the in-progress change. Exactly one of the
// two is invoked, exactly once, when the owning Tx terminates.
type DirtyRecord struct {
	Commit func(cts uint64) error
	Abort  func() error
}

// Tx is a single transaction's state: its begin timestamp (also its id and
// its snapshot boundary), its current state, and the set of records it has
// touched.
type Tx struct {
	id    uint64
	mu    sync.Mutex
	state State
	dirty []DirtyRecord
}

// ID returns the transaction's begin-timestamp, used as its identity.
func (t *Tx) ID() uint64 { return t.id }

// Snapshot returns the timestamp that bounds this transaction's visible
// snapshot: any commit at or after this timestamp, other than the
// transaction's own, is invisible.
func (t *Tx) Snapshot() uint64 { return t.id }

// State returns the transaction's current state.
func (t *Tx) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// MarkDirty registers a record the transaction has touched, to be stamped
// or discarded at commit/abort time.
func (t *Tx) MarkDirty(dr DirtyRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty = append(t.dirty, dr)
}

// Visible reports whether a record version with the given (bts, cts)
// interval is visible to this transaction's snapshot, per spec.md §4.6
// "Visibility".
func (t *Tx) Visible(bts, cts uint64) bool {
	return bts <= t.Snapshot() && t.Snapshot() < cts
}

// Manager allocates monotonically increasing timestamps and drives the
// transaction state machine.
type Manager struct {
	clock atomic.Uint64
}

// NewManager returns a Manager whose clock starts just above Infinity's
// complement so real timestamps never collide with the sentinel.
func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) nextTimestamp() uint64 {
	return m.clock.Add(1)
}

type ctxKey struct{}

// Begin allocates a fresh timestamp, creates an active Tx, and returns a
// context carrying it alongside the Tx itself.
func (m *Manager) Begin(ctx context.Context) (context.Context, *Tx) {
	tx := &Tx{id: m.nextTimestamp(), state: Active}
	return context.WithValue(ctx, ctxKey{}, tx), tx
}

// Current extracts the active Tx installed by Begin, if any.
func Current(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(ctxKey{}).(*Tx)
	return tx, ok
}

// Commit stamps every dirty record with a fresh commit timestamp and moves
// tx to the committed state. Commit order (the order timestamps are handed
// out here) defines the serial order (spec.md §4.7).
func (m *Manager) Commit(tx *Tx) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != Active {
		return poserr.New(poserr.KindQueryProcessing, "txn.Commit: transaction is not active")
	}
	cts := m.nextTimestamp()
	for _, dr := range tx.dirty {
		if dr.Commit == nil {
			continue
		}
		if err := dr.Commit(cts); err != nil {
			return err
		}
	}
	tx.state = Committed
	return nil
}

// Abort discards every dirty record and moves tx to the aborted state.
func (m *Manager) Abort(tx *Tx) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != Active {
		return poserr.New(poserr.KindQueryProcessing, "txn.Abort: transaction is not active")
	}
	for i := len(tx.dirty) - 1; i >= 0; i-- {
		dr := tx.dirty[i]
		if dr.Abort == nil {
			continue
		}
		if err := dr.Abort(); err != nil {
			return err
		}
	}
	tx.state = Aborted
	return nil
}

// Run begins a transaction, runs fn with a context carrying it, and commits
// if fn returns true with no error, or aborts otherwise. It returns whether
// the transaction committed.
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context, tx *Tx) (bool, error)) (bool, error) {
	txCtx, tx := m.Begin(ctx)
	commit, err := fn(txCtx, tx)
	if err != nil {
		_ = m.Abort(tx)
		return false, err
	}
	if !commit {
		return false, m.Abort(tx)
	}
	if err := m.Commit(tx); err != nil {
		return false, err
	}
	return true, nil
}
