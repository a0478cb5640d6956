// Package invoker provides a concrete, bounded-concurrency implementation
// of machine.Invoker: a fixed pool of worker goroutines draining a
// buffered queue of runnable threads, modelled on the teacher's
// GoroutineExecutor/WaitGroup pattern in vm/concurrent_test.go.
package invoker

import (
	"context"
	"sync"

	"github.com/teal-lang/tealvm/machine"
)

// PoolInvoker schedules machine.Runnable.Run() calls onto a bounded
// number of worker goroutines. Invoke never blocks the caller: an
// invocation that cannot be queued immediately is handed to a goroutine
// that waits for queue room, so a full queue degrades to one extra
// goroutine rather than deadlocking a forking thread. Every accepted
// invocation results in exactly one Run call, including invocations
// enqueued by threads already running on the pool.
type PoolInvoker struct {
	queue   chan machine.Runnable
	workers sync.WaitGroup

	// pending counts invocations whose Run has not yet completed.
	// Shutdown drains on it, so continuation invokes made from inside a
	// running thread extend the drain instead of being dropped.
	pending sync.WaitGroup

	closeOnce sync.Once
}

// New starts a PoolInvoker with workers goroutines consuming a queue of
// the given capacity.
func New(workers, queueCapacity int) *PoolInvoker {
	if workers < 1 {
		workers = 1
	}
	if queueCapacity < 1 {
		queueCapacity = 1
	}
	p := &PoolInvoker{
		queue: make(chan machine.Runnable, queueCapacity),
	}
	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go p.worker()
	}
	return p
}

func (p *PoolInvoker) worker() {
	defer p.workers.Done()
	for r := range p.queue {
		_ = r.Run()
		p.pending.Done()
	}
}

// Invoke schedules r to run on the pool. Must not be called once
// Shutdown has begun, except from within a thread still running on the
// pool (a Return re-invoking its waiters).
func (p *PoolInvoker) Invoke(r machine.Runnable) {
	p.pending.Add(1)
	select {
	case p.queue <- r:
	default:
		go func() { p.queue <- r }()
	}
}

// Shutdown waits for every accepted invocation, and any continuations
// they enqueue, to finish running, then stops the workers — or returns
// early with ctx's error if it is cancelled first.
func (p *PoolInvoker) Shutdown(ctx context.Context) error {
	waited := make(chan struct{})
	go func() {
		p.pending.Wait()
		p.closeOnce.Do(func() { close(p.queue) })
		p.workers.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
