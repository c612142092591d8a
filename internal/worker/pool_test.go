package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolSequentialOrder(t *testing.T) {
	p := NewPool()
	if p.Workers() != 1 {
		t.Fatalf("expected sequential default, got %d workers", p.Workers())
	}

	var (
		mu    sync.Mutex
		order []int
	)
	err := p.Run(context.Background(), 5, func(ctx context.Context, i int) {
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("expected index order, got %v", order)
		}
	}
}

func TestPoolParallelBoundedAndIndexed(t *testing.T) {
	p := NewPool(WithWorkerCount(3))

	var inflight, peak atomic.Int32
	out := make([]int, 12)
	err := p.Run(context.Background(), len(out), func(ctx context.Context, i int) {
		cur := inflight.Add(1)
		for {
			prev := peak.Load()
			if cur <= prev || peak.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(time.Duration(len(out)-i) * time.Millisecond)
		out[i] = i * i
		inflight.Add(-1)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak.Load() > 3 {
		t.Fatalf("expected at most 3 concurrent tasks, saw %d", peak.Load())
	}
	for i, v := range out {
		if v != i*i {
			t.Fatalf("unexpected value at %d: %d", i, v)
		}
	}
}

func TestPoolStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool()

	calls := 0
	err := p.Run(ctx, 10, func(ctx context.Context, i int) {
		calls++
		if i == 2 {
			cancel()
		}
	})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls before stop, got %d", calls)
	}
}
