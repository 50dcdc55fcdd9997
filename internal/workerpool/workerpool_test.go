package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestPartitions(t *testing.T) {
	parts := Partitions(10, 3)
	want := []Partition{{0, 3}, {3, 6}, {6, 9}, {9, 10}}
	if len(parts) != len(want) {
		t.Fatalf("got %d partitions, want %d", len(parts), len(want))
	}
	for i, p := range parts {
		if p != want[i] {
			t.Fatalf("partition %d = %v, want %v", i, p, want[i])
		}
	}
}

func TestRunVisitsEveryPartition(t *testing.T) {
	pool := NewSized(4)
	parts := Partitions(100, 7)
	var visited atomic.Int64
	err := pool.Run(context.Background(), parts, func(ctx context.Context, part Partition) error {
		visited.Add(int64(part.End - part.Start))
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if visited.Load() != 100 {
		t.Fatalf("visited %d elements, want 100", visited.Load())
	}
}

func TestRunPropagatesFirstError(t *testing.T) {
	pool := NewSized(2)
	parts := Partitions(20, 5)
	wantErr := errors.New("partition failed")
	err := pool.Run(context.Background(), parts, func(ctx context.Context, part Partition) error {
		if part.Start == 0 {
			return wantErr
		}
		return nil
	})
	if err != wantErr {
		t.Fatalf("Run error = %v, want %v", err, wantErr)
	}
}
