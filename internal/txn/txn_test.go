package txn

import (
	"context"
	"errors"
	"testing"
)

func TestBeginCommitStampsDirtyRecords(t *testing.T) {
	m := NewManager()
	ctx, tx := m.Begin(context.Background())
	if tx.State() != Active {
		t.Fatalf("new tx state = %v, want Active", tx.State())
	}
	got, ok := Current(ctx)
	if !ok || got != tx {
		t.Fatalf("Current(ctx) did not return the begun tx")
	}

	var stamped uint64
	tx.MarkDirty(DirtyRecord{Commit: func(cts uint64) error {
		stamped = cts
		return nil
	}})

	if err := m.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tx.State() != Committed {
		t.Fatalf("state after commit = %v", tx.State())
	}
	if stamped == 0 {
		t.Fatalf("dirty record was never stamped")
	}
}

func TestAbortDiscardsDirtyRecords(t *testing.T) {
	m := NewManager()
	_, tx := m.Begin(context.Background())
	discarded := false
	tx.MarkDirty(DirtyRecord{Abort: func() error {
		discarded = true
		return nil
	}})
	if err := m.Abort(tx); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if !discarded {
		t.Fatalf("abort hook never ran")
	}
	if tx.State() != Aborted {
		t.Fatalf("state after abort = %v", tx.State())
	}
}

func TestCommitTwiceFails(t *testing.T) {
	m := NewManager()
	_, tx := m.Begin(context.Background())
	if err := m.Commit(tx); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	if err := m.Commit(tx); err == nil {
		t.Fatalf("second Commit should fail")
	}
}

func TestRunCommitsOnTrue(t *testing.T) {
	m := NewManager()
	committed, err := m.Run(context.Background(), func(ctx context.Context, tx *Tx) (bool, error) {
		return true, nil
	})
	if err != nil || !committed {
		t.Fatalf("Run = %v, %v; want true, nil", committed, err)
	}
}

func TestRunAbortsOnError(t *testing.T) {
	m := NewManager()
	wantErr := errors.New("boom")
	committed, err := m.Run(context.Background(), func(ctx context.Context, tx *Tx) (bool, error) {
		return true, wantErr
	})
	if committed || err != wantErr {
		t.Fatalf("Run = %v, %v; want false, %v", committed, err, wantErr)
	}
}

func TestSnapshotVisibility(t *testing.T) {
	m := NewManager()
	_, tx := m.Begin(context.Background())
	if !tx.Visible(0, Infinity) {
		t.Fatalf("record committed before snapshot and still live should be visible")
	}
	if tx.Visible(tx.Snapshot()+1, Infinity) {
		t.Fatalf("record created after the snapshot should not be visible")
	}
}

func TestCommitOrderIsMonotonic(t *testing.T) {
	m := NewManager()
	_, tx1 := m.Begin(context.Background())
	_, tx2 := m.Begin(context.Background())
	if tx2.ID() <= tx1.ID() {
		t.Fatalf("tx2 id %d should be greater than tx1 id %d", tx2.ID(), tx1.ID())
	}
}
