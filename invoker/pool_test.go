package invoker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingRunnable struct {
	counter *int64
}

func (r countingRunnable) Run() error {
	atomic.AddInt64(r.counter, 1)
	return nil
}

func TestPoolRunsAllInvocations(t *testing.T) {
	p := New(4, 8)
	var n int64
	const total = 100
	for i := 0; i < total; i++ {
		p.Invoke(countingRunnable{counter: &n})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := atomic.LoadInt64(&n); got != total {
		t.Fatalf("expected %d runs, got %d", total, got)
	}
}

func TestPoolShutdownIsIdempotent(t *testing.T) {
	p := New(1, 1)
	ctx := context.Background()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestPoolDefaultsInvalidSizes(t *testing.T) {
	p := New(0, 0)
	var n int64
	p.Invoke(countingRunnable{counter: &n})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.Shutdown(ctx)
	if atomic.LoadInt64(&n) != 1 {
		t.Fatalf("expected the single invocation to run")
	}
}
