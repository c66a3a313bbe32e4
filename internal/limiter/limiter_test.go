package limiter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapPreservesOrder(t *testing.T) {
	items := []int{5, 3, 8, 1, 9, 2}
	got, err := Map(context.Background(), items, 3, func(ctx context.Context, item, index int) (int, error) {
		// Finish out of order.
		time.Sleep(time.Duration(item) * time.Millisecond)
		return item * 10, nil
	})
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	for i, item := range items {
		if got[i] != item*10 {
			t.Errorf("got[%d] = %d, want %d", i, got[i], item*10)
		}
	}
}

func TestMapBoundsConcurrency(t *testing.T) {
	const maxConcurrency = 2
	var inFlight, peak atomic.Int32

	items := make([]int, 20)
	_, err := Map(context.Background(), items, maxConcurrency, func(ctx context.Context, item, index int) (int, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return 0, nil
	})
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if got := peak.Load(); got > maxConcurrency {
		t.Errorf("peak concurrency = %d, want <= %d", got, maxConcurrency)
	}
}

func TestMapEmptyInput(t *testing.T) {
	var called atomic.Bool
	got, err := Map(context.Background(), nil, 4, func(ctx context.Context, item, index int) (int, error) {
		called.Store(true)
		return 0, nil
	})
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len(got) = %d, want 0", len(got))
	}
	if called.Load() {
		t.Error("mapper invoked for empty input")
	}
}

func TestMapFirstErrorFailsAll(t *testing.T) {
	errBoom := errors.New("boom")
	items := []int{0, 1, 2, 3, 4, 5, 6, 7}
	_, err := Map(context.Background(), items, 2, func(ctx context.Context, item, index int) (int, error) {
		if item == 2 {
			return 0, errBoom
		}
		return item, nil
	})
	if !errors.Is(err, errBoom) {
		t.Errorf("Map() error = %v, want %v", err, errBoom)
	}
}
