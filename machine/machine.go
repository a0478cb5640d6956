// Package machine implements the fetch-decode-execute loop: the thread
// state plus the instruction dispatch table for the ten-opcode Teal
// instruction set and the closed built-in operator table.
package machine

import (
	"errors"
	"fmt"

	"github.com/teal-lang/tealvm/controller"
	"github.com/teal-lang/tealvm/executable"
	"github.com/teal-lang/tealvm/opcodes"
	"github.com/teal-lang/tealvm/probe"
	"github.com/teal-lang/tealvm/state"
	"github.com/teal-lang/tealvm/values"
)

// Runnable is anything an Invoker can schedule a run of — satisfied by
// *Machine.
type Runnable interface {
	Run() error
}

// Invoker schedules a deferred Run() of a thread. ACall and the
// thread-terminal path of Return both call Invoke exactly once per
// continuation, per the "invoke eventually causes exactly one run() call"
// contract.
type Invoker interface {
	Invoke(r Runnable)
}

// Callable is a host function a Foreign Resolver hands back: plain Go
// values in, a plain Go value (or error) out.
type Callable func(args []interface{}) (interface{}, error)

// ForeignResolver looks up a (module, identifier) pair's host
// implementation.
type ForeignResolver interface {
	Resolve(module, identifier string) (Callable, error)
}

// Machine runs one thread: it owns no state of its own beyond what the
// controller already tracks for ThreadID, so a Machine can be freely
// reconstructed to resume a previously suspended thread.
type Machine struct {
	ThreadID values.ThreadID
	Ctrl     *controller.Controller
	Invoker  Invoker
	Foreign  ForeignResolver

	state     *state.State
	probe     probe.Probe
	exe       *executable.Executable
	instrText string
}

// New builds a Machine for threadID, looking up its already-registered
// state, probe, and executable from ctrl. The same constructor is used
// both to start a brand new thread and to resume a suspended one — the
// controller is the only place thread state actually lives.
func New(threadID values.ThreadID, ctrl *controller.Controller, invoker Invoker, foreign ForeignResolver) *Machine {
	return &Machine{
		ThreadID: threadID,
		Ctrl:     ctrl,
		Invoker:  invoker,
		Foreign:  foreign,
		state:    ctrl.GetState(threadID),
		probe:    ctrl.GetProbe(threadID),
		exe:      ctrl.Executable(),
	}
}

// probe.MachineView implementation.

func (m *Machine) ThreadLabel() string        { return string(m.ThreadID) }
func (m *Machine) CurrentIP() int             { return m.state.IP() }
func (m *Machine) CurrentInstruction() string { return m.instrText }
func (m *Machine) Stop()                      { m.state.SetStopped(true) }

func (m *Machine) StackSnapshot() []string {
	snap := m.state.Snapshot()
	out := make([]string, len(snap))
	for i, v := range snap {
		out[i] = v.Display()
	}
	return out
}

// Run steps the machine until it stops (normally, on error, on a Wait
// suspension, or on probe force-stop), records the outcome with the
// controller, and returns the thread's terminal error, if any. A
// suspension exits the loop directly rather than through the stopped
// flag: the producer may clear that flag and re-invoke this thread the
// instant GetOrWait releases the controller lock, and the suspending
// run must not race the resumed one for further steps.
func (m *Machine) Run() error {
	m.probe.OnRun(m)
	suspended := false
	for !m.state.Stopped() {
		if err := m.Step(); err != nil {
			if errors.Is(err, errSuspended) {
				suspended = true
				break
			}
			m.classifyAndRecord(err)
			break
		}
	}
	terminated := m.state.Error() == nil && !suspended
	m.probe.OnStopped(m, terminated)
	_ = m.Ctrl.Stop(m.ThreadID, m.probe.Logs(), suspended)
	return m.state.Error()
}

func (m *Machine) classifyAndRecord(err error) {
	switch e := err.(type) {
	case *ForeignError:
		m.Ctrl.ForeignError(m.ThreadID, e)
	case *UnhandledError:
		m.Ctrl.TealError(m.ThreadID, e)
	default:
		m.Ctrl.UnexpectedError(m.ThreadID, err)
	}
}

// Step fetches the instruction at ip, advances ip (so relative jumps
// address the post-increment position), and dispatches it.
func (m *Machine) Step() error {
	ip := m.state.IP()
	instr, err := m.exe.CodeAt(ip)
	if err != nil {
		return &MachineError{Kind: KindUnexpected, Err: fmt.Errorf("%w: %v", ErrIPOutOfBounds, err), ThreadID: m.ThreadID, IP: ip, Op: "fetch"}
	}
	m.instrText = instr.String()
	m.probe.OnStep(m)
	m.state.AdvanceIP(1)

	if err := m.dispatch(instr); err != nil {
		if errors.Is(err, errSuspended) {
			return err
		}
		switch err.(type) {
		case *ForeignError, *UnhandledError, *MachineError:
			return err
		default:
			return &MachineError{Kind: classifyKind(err), Err: err, ThreadID: m.ThreadID, IP: ip, Op: instr.Op.String()}
		}
	}
	return nil
}

func (m *Machine) dispatch(instr *opcodes.Instruction) error {
	switch instr.Op {
	case opcodes.PushV:
		m.state.Push(instr.Value)
		return nil
	case opcodes.Pop:
		_, err := m.state.Pop()
		return err
	case opcodes.Bind:
		return m.execBind(instr.Name)
	case opcodes.PushB:
		return m.execPushB(instr.Name)
	case opcodes.Jump:
		m.state.AdvanceIP(instr.Offset)
		return nil
	case opcodes.JumpIf:
		return m.execJumpIf(instr.Offset)
	case opcodes.Call:
		return m.execCall(instr.Arity)
	case opcodes.ACall:
		return m.execACall(instr.Arity)
	case opcodes.Return:
		return m.execReturn()
	case opcodes.Wait:
		return m.execWait()
	default:
		return fmt.Errorf("unknown opcode %v", instr.Op)
	}
}

// execBind peeks the top of stack (leaving it in place) and binds name to
// it locally — the callee's own code, not Call, is what installs its
// parameter bindings.
func (m *Machine) execBind(name string) error {
	v, err := m.state.Peek(0)
	if err != nil {
		return err
	}
	m.state.Bind(name, v)
	return nil
}

// execPushB resolves name to a value — local binding, then the
// executable's top-level bindings, then the built-in table — and pushes
// it. A built-in resolves to an instruction-token value, not the result
// of calling it; calling happens only via Call.
func (m *Machine) execPushB(name string) error {
	if v, ok := m.state.Lookup(name); ok {
		m.state.Push(v)
		return nil
	}
	if v, ok := m.exe.Binding(name); ok {
		m.state.Push(v)
		return nil
	}
	if _, ok := builtins[name]; ok {
		m.state.Push(values.NewInstruction(name))
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownName, name)
}

func (m *Machine) execJumpIf(offset int) error {
	v, err := m.state.Pop()
	if err != nil {
		return err
	}
	if v.Truthy() {
		m.state.AdvanceIP(offset)
	}
	return nil
}

// execCall pops the callee and dispatches on its tag: a function pointer
// pushes a new local activation record and jumps into it, leaving its n
// arguments on the data stack for the callee's own Bind instructions to
// consume; a foreign pointer invokes a host callable; an instruction
// token invokes a built-in; anything else is not callable. Calling a
// function snapshots the caller's local bindings into its own activation
// record and clears the live map so the callee starts with an empty frame;
// Return hands the snapshot back to restore the caller's frame.
func (m *Machine) execCall(n int) error {
	f, err := m.state.Pop()
	if err != nil {
		return err
	}
	switch {
	case f.IsFunctionPtr():
		fp, _ := f.AsFunctionPtr()
		entry, err := m.exe.LocationOf(fp.Identifier)
		if err != nil {
			return err
		}
		callSite := m.state.IP()
		newPtr := m.Ctrl.PushArec(m.state.CurrentArec(), callSite, f, m.state.Bindings())
		m.state.SetCurrentArec(newPtr)
		m.state.ClearBindings()
		m.probe.OnEnter(m, fp.Identifier)
		m.state.SetIP(entry)
		return nil
	case f.IsForeignPtr():
		return m.callForeign(f, n)
	case f.IsInstruction():
		name, _ := f.AsString()
		fn, ok := builtins[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownName, name)
		}
		return fn(m, n)
	default:
		return fmt.Errorf("%w: %s", ErrNotCallable, f.Display())
	}
}

// execACall pops the fork target (which must be a function pointer) and
// its n arguments, preserving their source order, and asks the
// controller to stand up a new thread running it. It pushes a future
// pointer for the new thread and schedules it via the Invoker.
func (m *Machine) execACall(n int) error {
	f, err := m.state.Pop()
	if err != nil {
		return err
	}
	if !f.IsFunctionPtr() {
		return fmt.Errorf("%w: fork target must be a function pointer, got %s", ErrNotCallable, f.Display())
	}
	args := make([]*values.Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := m.state.Pop()
		if err != nil {
			return err
		}
		args[i] = v
	}
	newID, err := m.Ctrl.ThreadMachine(m.state.CurrentArec(), f, args)
	if err != nil {
		return err
	}
	m.state.Push(values.NewFuturePtr(newID))
	m.Invoker.Invoke(New(newID, m.Ctrl, m.Invoker, m.Foreign))
	return nil
}

// execReturn pops the thread's current activation record. If it carried
// a real call site, this is a local return: jump back into the caller,
// restore its local bindings, leaving the return value on top of the data
// stack. Otherwise it is thread-terminal: the top of stack is the thread's
// final value, which resolves this thread's future and wakes every waiter.
func (m *Machine) execReturn() error {
	popped, parentBindings, err := m.Ctrl.PopArec(m.state.CurrentArec())
	if err != nil {
		return err
	}
	m.probe.OnReturn(m)

	if popped.CallSite != controller.NoCallSite {
		m.state.SetCurrentArec(popped.DynamicChain)
		m.state.SetIP(popped.CallSite)
		m.state.SetBindings(parentBindings)
		return nil
	}

	retVal, err := m.state.Peek(0)
	if err != nil {
		return err
	}
	waiters := m.Ctrl.Finish(m.ThreadID, retVal)
	m.state.SetStopped(true)
	for _, w := range waiters {
		if err := m.Ctrl.SetFutureValue(w.ThreadID, w.Offset, retVal); err != nil {
			continue
		}
		m.Invoker.Invoke(New(w.ThreadID, m.Ctrl, m.Invoker, m.Foreign))
	}
	return nil
}

// containsFuture reports whether v is, or (recursively, through lists) ever
// contains, a future pointer — used to reject composite waits at any depth.
func containsFuture(v *values.Value) bool {
	if v.IsFuturePtr() {
		return true
	}
	if elts, ok := v.AsList(); ok {
		for _, e := range elts {
			if containsFuture(e) {
				return true
			}
		}
	}
	return false
}

// execWait peeks the top of stack. A future pointer either resolves
// immediately (the value is patched in place) or suspends this thread
// until the producer's Return wakes it. A list is only a no-op if none of
// its elements, at any depth, is itself a future pointer — a composite
// wait is not supported and raises cleanly, unlike the reference
// implementation's unbound-name bug on the same path. Anything else
// passes through.
func (m *Machine) execWait() error {
	v, err := m.state.Peek(0)
	if err != nil {
		return err
	}
	switch {
	case v.IsFuturePtr():
		fid, _ := v.AsFuturePtr()
		resolved, val := m.Ctrl.GetOrWait(m.ThreadID, fid, 0)
		if resolved {
			return m.state.Set(0, val)
		}
		// GetOrWait marked this thread stopped under the controller lock.
		return errSuspended
	case v.IsList():
		elts, _ := v.AsList()
		for _, e := range elts {
			if containsFuture(e) {
				return ErrWaitOnCompositeFutures
			}
		}
		return nil
	default:
		return nil
	}
}
