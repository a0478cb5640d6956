// Package controller implements the single shared-mutable-state owner
// every machine in a Teal program talks to: the activation-record arena,
// the future table, the thread registry, and the serialized stdout
// sink. Every exported method is atomic from the caller's perspective; the
// implementation uses one coarse sync.Mutex guarding the arena, futures,
// and thread registry, in the style of the teacher's CallStackManager and
// ExecutionContext (one mutex per shared structure rather than per-field
// locking).
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/teal-lang/tealvm/executable"
	"github.com/teal-lang/tealvm/probe"
	"github.com/teal-lang/tealvm/state"
	"github.com/teal-lang/tealvm/teallog"
	"github.com/teal-lang/tealvm/values"
)

// ErrNotCallable is returned when a fork target is not a function pointer.
var ErrNotCallable = errors.New("value is not callable")

// NoCallSite marks an activation record with no return address: either
// the program's root thread, or the root frame of a forked thread. The
// reference implementation tests call_site for truthiness, which
// misclassifies a legitimate call site of 0 as terminal; a dedicated
// sentinel avoids that bug entirely.
const NoCallSite = -1

// ActivationRecord is the 5-tuple from the data model: the function being
// executed, the dynamic-chain parent, the call site to resume at (or
// NoCallSite), the frame's local bindings, and its liveness refcount.
type ActivationRecord struct {
	Function     *values.Value
	DynamicChain state.ARPtr
	CallSite     int
	Bindings     map[string]*values.Value
	RefCount     int
}

// Waiter is one (thread id, stack offset) pair recorded against a future.
type Waiter struct {
	ThreadID values.ThreadID
	Offset   int
}

// Future is the producing thread id (its map key), whether it has
// resolved, its value once resolved, and its waiter set. settled closes
// when no further progress is possible for the producing thread —
// resolution, a recorded error, or a forced halt — so external callers
// can block on the outcome without polling; it says nothing about
// whether a value exists (an abandoned future settles unresolved).
type Future struct {
	Resolved bool
	Value    *values.Value
	Waiters  []Waiter

	settled chan struct{}
	done    bool
}

func newFuture() *Future {
	return &Future{settled: make(chan struct{})}
}

func (f *Future) settleLocked() {
	if !f.done {
		f.done = true
		close(f.settled)
	}
}

// Kind classifies why a thread stopped with an error, mirroring the
// three outcomes Run() distinguishes.
type Kind int

const (
	KindForeign Kind = iota
	KindUnhandled
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindForeign:
		return "foreign-error"
	case KindUnhandled:
		return "unhandled-error"
	default:
		return "unexpected-error"
	}
}

// StopRecord is what Stop persists about a finished thread: its final
// serialised state and its probe's accumulated log.
type StopRecord struct {
	State state.Serialised
	Log   []string
}

// Controller is the shared state every machine in a program talks to.
type Controller struct {
	mu sync.Mutex

	exe          *executable.Executable
	logger       *teallog.Logger
	probeFactory func() probe.Probe

	states  map[values.ThreadID]*state.State
	probes  map[values.ThreadID]probe.Probe
	arena   map[state.ARPtr]*ActivationRecord
	nextAR  state.ARPtr
	futures map[values.ThreadID]*Future
	errors  map[values.ThreadID]error
	kinds   map[values.ThreadID]Kind
	stopped map[values.ThreadID]StopRecord

	stdout strings.Builder

	// foreignMu serialises process-wide os.Stdout redirection across
	// concurrent foreign calls from any thread (see machine/foreigncall.go).
	foreignMu sync.Mutex
}

// New builds a Controller for running exe. probeFactory mints a Probe for
// each new thread; pass nil to use probe.Noop for all threads.
func New(exe *executable.Executable, logger *teallog.Logger, probeFactory func() probe.Probe) *Controller {
	if probeFactory == nil {
		probeFactory = func() probe.Probe { return probe.Noop{} }
	}
	return &Controller{
		exe:          exe,
		logger:       logger,
		probeFactory: probeFactory,
		states:       map[values.ThreadID]*state.State{},
		probes:       map[values.ThreadID]probe.Probe{},
		arena:        map[state.ARPtr]*ActivationRecord{},
		futures:      map[values.ThreadID]*Future{},
		errors:       map[values.ThreadID]error{},
		kinds:        map[values.ThreadID]Kind{},
		stopped:      map[values.ThreadID]StopRecord{},
	}
}

func (c *Controller) Executable() *executable.Executable { return c.exe }

func (c *Controller) GetState(id values.ThreadID) *state.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[id]
}

func (c *Controller) GetProbe(id values.ThreadID) probe.Probe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probes[id]
}

// ForeignMutex exposes the controller-wide lock that serialises os.Stdout
// capture around foreign calls (see machine/foreigncall.go).
func (c *Controller) ForeignMutex() *sync.Mutex { return &c.foreignMu }

// NewRootThread registers the program's initial thread: ip starts at 0,
// its root activation record has no dynamic-chain parent and no call
// site, so its eventual Return is always the thread-terminal case.
func (c *Controller) NewRootThread(args []*values.Value) values.ThreadID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := values.NewThreadID()
	st := state.New(args)
	rootPtr := c.pushArecLocked(&ActivationRecord{
		DynamicChain: state.NoArec,
		CallSite:     NoCallSite,
		Bindings:     map[string]*values.Value{},
	})
	st.SetCurrentArec(rootPtr)
	c.states[id] = st
	c.probes[id] = c.probeFactory()
	c.futures[id] = newFuture()
	return id
}

// ThreadMachine forks a new thread that will run fn(args...), its root
// activation record's dynamic chain set to parentArec (the forking
// thread's current AR, which gains a liveness edge). Returns the new
// thread's id, used to build its future pointer.
func (c *Controller) ThreadMachine(parentArec state.ARPtr, fn *values.Value, args []*values.Value) (values.ThreadID, error) {
	fp, ok := fn.AsFunctionPtr()
	if !ok {
		return "", fmt.Errorf("%w: fork target must be a function pointer", ErrNotCallable)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.exe.LocationOf(fp.Identifier)
	if err != nil {
		return "", err
	}
	id := values.NewThreadID()
	st := state.New(args)
	st.SetIP(entry)
	rootPtr := c.pushArecLocked(&ActivationRecord{
		Function:     fn,
		DynamicChain: parentArec,
		CallSite:     NoCallSite,
		Bindings:     map[string]*values.Value{},
	})
	st.SetCurrentArec(rootPtr)
	c.states[id] = st
	c.probes[id] = c.probeFactory()
	c.futures[id] = newFuture()
	return id, nil
}

// PushArec allocates a new local-call activation record (dynamic chain the
// caller's current AR, call site the caller's return address). callerBindings
// is snapshotted into the caller's own AR (dynamicChain) so that a later
// PopArec of the new record can hand it back to restore the caller's frame —
// the new record itself starts with fresh, empty bindings per §4.4's Call.
func (c *Controller) PushArec(dynamicChain state.ARPtr, callSite int, fn *values.Value, callerBindings map[string]*values.Value) state.ARPtr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dynamicChain != state.NoArec {
		if parent, ok := c.arena[dynamicChain]; ok {
			parent.Bindings = callerBindings
		}
	}
	return c.pushArecLocked(&ActivationRecord{
		Function:     fn,
		DynamicChain: dynamicChain,
		CallSite:     callSite,
		Bindings:     map[string]*values.Value{},
	})
}

func (c *Controller) pushArecLocked(rec *ActivationRecord) state.ARPtr {
	ptr := c.nextAR
	c.nextAR++
	rec.RefCount = 1
	c.arena[ptr] = rec
	if rec.DynamicChain != state.NoArec {
		if parent, ok := c.arena[rec.DynamicChain]; ok {
			parent.RefCount++
		}
	}
	return ptr
}

// PopArec detaches ptr from its thread's current-AR pointer and returns the
// record that was popped (DynamicChain/CallSite tell the caller whether
// this was a local return or a thread-terminal one) along with the parent
// record's local bindings, read out before any reclamation — the caller
// restores its frame from this map on a local return. Refcounts are
// decremented per I3; an AR whose refcount reaches zero is reclaimed,
// recursively decrementing its own dynamic-chain parent.
func (c *Controller) PopArec(ptr state.ARPtr) (rec *ActivationRecord, parentBindings map[string]*values.Value, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.arena[ptr]
	if !ok {
		return nil, nil, fmt.Errorf("unknown activation record %d", ptr)
	}
	if rec.DynamicChain != state.NoArec {
		if parent, ok := c.arena[rec.DynamicChain]; ok {
			parentBindings = parent.Bindings
		}
	}
	c.reclaimLocked(ptr)
	return rec, parentBindings, nil
}

func (c *Controller) reclaimLocked(ptr state.ARPtr) {
	rec, ok := c.arena[ptr]
	if !ok {
		return
	}
	rec.RefCount--
	if rec.RefCount <= 0 {
		delete(c.arena, ptr)
		if rec.DynamicChain != state.NoArec {
			c.reclaimLocked(rec.DynamicChain)
		}
	}
}

// GetOrWait checks whether futureID has already resolved. If so it
// returns the value immediately; otherwise it registers (waiterID,
// offset) as a waiter and marks the waiter's state stopped, all under
// the controller lock, so a concurrent Finish either sees the waiter
// registered or happens first and resolves the fast path.
func (c *Controller) GetOrWait(waiterID values.ThreadID, futureID values.ThreadID, offset int) (resolved bool, value *values.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.futureLocked(futureID)
	if f.Resolved {
		return true, f.Value
	}
	f.Waiters = append(f.Waiters, Waiter{ThreadID: waiterID, Offset: offset})
	if st := c.states[waiterID]; st != nil {
		st.SetStopped(true)
	}
	return false, nil
}

func (c *Controller) futureLocked(id values.ThreadID) *Future {
	f := c.futures[id]
	if f == nil {
		f = newFuture()
		c.futures[id] = f
	}
	return f
}

// Finish resolves producerID's future to value and returns the set of
// waiters whose stack slots must now be patched and whose threads must be
// re-invoked. Idempotent: a second Finish on an already-resolved future
// is a no-op returning no waiters, since I4 guarantees at most one
// resolution event.
func (c *Controller) Finish(producerID values.ThreadID, value *values.Value) []Waiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.futureLocked(producerID)
	if f.Resolved {
		return nil
	}
	f.Resolved = true
	f.Value = value
	f.settleLocked()
	waiters := f.Waiters
	f.Waiters = nil
	return waiters
}

// SetFutureValue patches a waiter's stack slot with a resolved future's
// value and clears its stopped flag so the re-invoked machine actually
// runs. The thread is known-stopped here: GetOrWait stopped it before
// the producer could have collected it from Finish's waiter list.
func (c *Controller) SetFutureValue(threadID values.ThreadID, offset int, value *values.Value) error {
	c.mu.Lock()
	st := c.states[threadID]
	c.mu.Unlock()
	if st == nil {
		return fmt.Errorf("unknown thread %s", threadID)
	}
	if err := st.Set(offset, value); err != nil {
		return err
	}
	st.SetStopped(false)
	return nil
}

// WriteStdout appends text to the program-wide stdout buffer.
func (c *Controller) WriteStdout(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdout.WriteString(text)
	if c.logger != nil {
		c.logger.Debugf("stdout: %q", text)
	}
}

// Stdout returns everything written so far.
func (c *Controller) Stdout() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout.String()
}

func (c *Controller) recordError(threadID values.ThreadID, kind Kind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.errors[threadID]; !ok {
		c.errors[threadID] = err
		c.kinds[threadID] = kind
	}
	if st := c.states[threadID]; st != nil {
		st.SetError(err)
		st.SetStopped(true)
	}
	if c.logger != nil {
		c.logger.Errorf("thread %s: %s: %v", threadID, kind, err)
	}
}

// ForeignError records that threadID's most recent foreign call raised.
func (c *Controller) ForeignError(threadID values.ThreadID, err error) {
	c.recordError(threadID, KindForeign, err)
}

// TealError records that threadID raised an unhandled `signal` error.
func (c *Controller) TealError(threadID values.ThreadID, err error) {
	c.recordError(threadID, KindUnhandled, err)
}

// UnexpectedError records any other error the dispatch loop surfaced.
func (c *Controller) UnexpectedError(threadID values.ThreadID, err error) {
	c.recordError(threadID, KindUnexpected, err)
}

// Error returns the recorded error (and its kind) for threadID, if any.
func (c *Controller) Error(threadID values.ThreadID) (error, Kind, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	err, ok := c.errors[threadID]
	return err, c.kinds[threadID], ok
}

// Stop persists threadID's state and its probe's log each time the
// thread's Run loop exits. suspended distinguishes a Wait suspension
// (the thread will be re-invoked once its future resolves) from a final
// stop; on a final stop with an unresolved future — an error or a
// probe-forced halt — the future is settled unresolved so Await callers
// are not left hanging. VM-level waiters on such a future stay blocked,
// per the no-cross-thread-error-propagation rule.
func (c *Controller) Stop(threadID values.ThreadID, log []string, suspended bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.states[threadID]
	if st == nil {
		return fmt.Errorf("unknown thread %s", threadID)
	}
	c.stopped[threadID] = StopRecord{State: st.Serialise(), Log: log}
	if !suspended {
		c.futureLocked(threadID).settleLocked()
	}
	if c.logger != nil {
		c.logger.Infof("thread %s stopped", threadID)
	}
	return nil
}

// Await blocks until threadID's future settles — resolved by its
// terminal Return, or abandoned by an error or forced halt — or ctx is
// cancelled. It returns the resolved value, the thread's recorded
// error, or (nil, nil) for a halt that produced neither.
func (c *Controller) Await(ctx context.Context, threadID values.ThreadID) (*values.Value, error) {
	c.mu.Lock()
	f := c.futureLocked(threadID)
	c.mu.Unlock()

	select {
	case <-f.settled:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.errors[threadID]; ok {
		return nil, err
	}
	return f.Value, nil
}

// Result returns the stop record for threadID, if it has finished.
func (c *Controller) Result(threadID values.ThreadID) (StopRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.stopped[threadID]
	return r, ok
}

// Listing renders a one-line diagnostic summary of live controller state.
func (c *Controller) Listing() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("threads=%d live-arecs=%d futures=%d finished=%d",
		len(c.states), len(c.arena), len(c.futures), len(c.stopped))
}
