package machine

import (
	"context"
	"errors"
	"testing"

	"github.com/teal-lang/tealvm/controller"
	"github.com/teal-lang/tealvm/executable"
	"github.com/teal-lang/tealvm/opcodes"
	"github.com/teal-lang/tealvm/values"
)

// inlineInvoker runs every invocation synchronously on the calling
// goroutine, which keeps the scenario tests deterministic and easy to
// assert on without a real scheduler.
type inlineInvoker struct{}

func (inlineInvoker) Invoke(r Runnable) {
	_ = r.Run()
}

type noResolver struct{}

func (noResolver) Resolve(module, identifier string) (Callable, error) {
	return nil, errors.New("no foreign functions registered")
}

func runProgram(t *testing.T, exe *executable.Executable, args []*values.Value) (*controller.Controller, values.ThreadID) {
	t.Helper()
	ctrl := controller.New(exe, nil, nil)
	id := ctrl.NewRootThread(args)
	m := New(id, ctrl, inlineInvoker{}, noResolver{})
	_ = m.Run()
	return ctrl, id
}

// Scenario 1: straight-line arithmetic, no control flow.
func TestScenarioArithmetic(t *testing.T) {
	code := []*opcodes.Instruction{
		opcodes.NewPushV(values.NewInt(2)),
		opcodes.NewPushV(values.NewInt(3)),
		opcodes.NewPushB("+"),
		opcodes.NewCall(2),
		opcodes.NewReturn(),
	}
	exe := executable.New(code, nil, nil)
	ctrl, id := runProgram(t, exe, nil)

	res, ok := ctrl.Result(id)
	if !ok {
		t.Fatal("expected a stop record")
	}
	if res.State.Error != "" {
		t.Fatalf("unexpected error: %s", res.State.Error)
	}
	top := res.State.Stack[len(res.State.Stack)-1]
	if top["tag"] != "int" || top["value"].(int64) != 5 {
		t.Fatalf("expected terminal value 5, got %v", top)
	}
}

// Scenario 2: JumpIf-based conditional.
func TestScenarioConditional(t *testing.T) {
	code := []*opcodes.Instruction{
		opcodes.NewPushV(values.False),
		opcodes.NewJumpIf(2), // not taken
		opcodes.NewPushV(values.NewInt(1)),
		opcodes.NewJump(1),
		opcodes.NewPushV(values.NewInt(2)),
		opcodes.NewReturn(),
	}
	exe := executable.New(code, nil, nil)
	ctrl, id := runProgram(t, exe, nil)

	res, _ := ctrl.Result(id)
	top := res.State.Stack[len(res.State.Stack)-1]
	if top["value"].(int64) != 1 {
		t.Fatalf("expected branch-not-taken value 1, got %v", top)
	}
}

// Scenario 3: list construction and traversal builtins.
func TestScenarioListOps(t *testing.T) {
	code := []*opcodes.Instruction{
		opcodes.NewPushV(values.NewInt(1)),
		opcodes.NewPushV(values.NewInt(2)),
		opcodes.NewPushV(values.NewInt(3)),
		opcodes.NewPushB("list"),
		opcodes.NewCall(3),
		opcodes.NewPushB("rest"),
		opcodes.NewCall(1),
		opcodes.NewPushB("first"),
		opcodes.NewCall(1),
		opcodes.NewReturn(),
	}
	exe := executable.New(code, nil, nil)
	ctrl, id := runProgram(t, exe, nil)

	res, _ := ctrl.Result(id)
	top := res.State.Stack[len(res.State.Stack)-1]
	if top["value"].(int64) != 2 {
		t.Fatalf("expected (first (rest (list 1 2 3))) == 2, got %v", top)
	}
}

// Scenario 4: a local function call via Bind/PushB/Call, computing
// (sq 4) == 16 within a single thread.
func TestScenarioLocalCall(t *testing.T) {
	// sq: BIND n; PUSHB n; PUSHB n; PUSHB *; CALL 2; RETURN
	sq := []*opcodes.Instruction{
		opcodes.NewBind("n"),
		opcodes.NewPushB("n"),
		opcodes.NewPushB("n"),
		opcodes.NewPushB("*"),
		opcodes.NewCall(2),
		opcodes.NewReturn(),
	}
	main := []*opcodes.Instruction{
		opcodes.NewPushV(values.NewInt(4)),
		opcodes.NewPushB("sq"),
		opcodes.NewCall(1),
		opcodes.NewReturn(),
	}
	code := append(append([]*opcodes.Instruction{}, main...), sq...)
	locations := map[string]int{"sq": len(main)}
	bindings := map[string]*values.Value{"sq": values.NewFunctionPtr("sq")}
	exe := executable.New(code, locations, bindings)

	ctrl, id := runProgram(t, exe, nil)
	res, _ := ctrl.Result(id)
	top := res.State.Stack[len(res.State.Stack)-1]
	if top["value"].(int64) != 16 {
		t.Fatalf("expected (sq 4) == 16, got %v", top)
	}
}

// A caller's local binding must survive a nested call that binds the same
// name to something else: Call saves the caller's frame into its
// activation record and Return restores it, per §4.4.
func TestLocalBindingsRestoredAcrossCall(t *testing.T) {
	// identity(n): BIND n; PUSHB n; RETURN  -> echoes its argument
	identity := []*opcodes.Instruction{
		opcodes.NewBind("n"),
		opcodes.NewPushB("n"),
		opcodes.NewReturn(),
	}
	main := []*opcodes.Instruction{
		opcodes.NewPushV(values.NewInt(1)),
		opcodes.NewBind("n"), // main's own "n" == 1
		opcodes.NewPushV(values.NewInt(99)),
		opcodes.NewPushB("identity"),
		opcodes.NewCall(1), // identity shadows "n" with 99 internally
		opcodes.NewPop(),   // discard identity's result
		opcodes.NewPushB("n"),
		opcodes.NewReturn(),
	}
	code := append(append([]*opcodes.Instruction{}, main...), identity...)
	locations := map[string]int{"identity": len(main)}
	bindings := map[string]*values.Value{"identity": values.NewFunctionPtr("identity")}
	exe := executable.New(code, locations, bindings)

	ctrl, id := runProgram(t, exe, nil)
	res, _ := ctrl.Result(id)
	top := res.State.Stack[len(res.State.Stack)-1]
	if top["value"].(int64) != 1 {
		t.Fatalf("expected caller's own binding n == 1 to survive the nested call, got %v", top)
	}
}

// Scenario 5: fork a thread with ACall and Wait on its future, the one
// cross-thread happens-before edge in the whole system.
func TestScenarioForkAndWait(t *testing.T) {
	// worker(n): BIND n; PUSHV 10; PUSHB n; PUSHB +; CALL 2; RETURN  -> n+10
	worker := []*opcodes.Instruction{
		opcodes.NewBind("n"),
		opcodes.NewPushV(values.NewInt(10)),
		opcodes.NewPushB("n"),
		opcodes.NewPushB("+"),
		opcodes.NewCall(2),
		opcodes.NewReturn(),
	}
	main := []*opcodes.Instruction{
		opcodes.NewPushV(values.NewInt(5)),
		opcodes.NewPushB("worker"),
		opcodes.NewACall(1),
		opcodes.NewWait(),
		opcodes.NewReturn(),
	}
	code := append(append([]*opcodes.Instruction{}, main...), worker...)
	locations := map[string]int{"worker": len(main)}
	bindings := map[string]*values.Value{"worker": values.NewFunctionPtr("worker")}
	exe := executable.New(code, locations, bindings)

	ctrl, id := runProgram(t, exe, nil)
	res, ok := ctrl.Result(id)
	if !ok {
		t.Fatal("expected root thread to have a stop record")
	}
	top := res.State.Stack[len(res.State.Stack)-1]
	if top["tag"] != "int" || top["value"].(int64) != 15 {
		t.Fatalf("expected forked result 15, got %v", top)
	}
}

// queueInvoker defers every invocation into a slice the test drains by
// hand, forcing the root thread to reach Wait before its forked worker
// has run a single instruction — the genuine suspend/resume path, which
// inlineInvoker's run-to-completion ordering never exercises.
type queueInvoker struct{ q []Runnable }

func (qi *queueInvoker) Invoke(r Runnable) { qi.q = append(qi.q, r) }

func TestWaitSuspendsAndResumeDeliversValue(t *testing.T) {
	// sq(n) = n*n, forked with 6.
	sq := []*opcodes.Instruction{
		opcodes.NewBind("n"),
		opcodes.NewPushB("n"),
		opcodes.NewPushB("n"),
		opcodes.NewPushB("*"),
		opcodes.NewCall(2),
		opcodes.NewReturn(),
	}
	main := []*opcodes.Instruction{
		opcodes.NewPushV(values.NewInt(6)),
		opcodes.NewPushB("sq"),
		opcodes.NewACall(1),
		opcodes.NewWait(),
		opcodes.NewReturn(),
	}
	code := append(append([]*opcodes.Instruction{}, main...), sq...)
	exe := executable.New(code,
		map[string]int{"sq": len(main)},
		map[string]*values.Value{"sq": values.NewFunctionPtr("sq")})

	ctrl := controller.New(exe, nil, nil)
	qi := &queueInvoker{}
	id := ctrl.NewRootThread(nil)
	if err := New(id, ctrl, qi, noResolver{}).Run(); err != nil {
		t.Fatalf("root run: %v", err)
	}

	st := ctrl.GetState(id)
	if !st.Stopped() {
		t.Fatal("expected root thread suspended on the unresolved future")
	}
	top, err := st.Peek(0)
	if err != nil {
		t.Fatal(err)
	}
	if !top.IsFuturePtr() {
		t.Fatalf("expected a future pointer on the suspended stack, got %s", top.Display())
	}
	if len(qi.q) != 1 {
		t.Fatalf("expected only the forked worker queued, got %d invocations", len(qi.q))
	}

	// Drain: the worker's terminal Return publishes 36 into the root's
	// top slot, clears its stopped flag, and re-queues it.
	for len(qi.q) > 0 {
		r := qi.q[0]
		qi.q = qi.q[1:]
		_ = r.Run()
	}

	top, err = st.Peek(0)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := top.AsInt(); got != 36 {
		t.Fatalf("expected resumed root to finish with 36, got %s", top.Display())
	}
	value, err := ctrl.Await(context.Background(), id)
	if err != nil {
		t.Fatalf("await root: %v", err)
	}
	if got, _ := value.AsInt(); got != 36 {
		t.Fatalf("expected root future resolved to 36, got %s", value.Display())
	}
}

// Scenario 6: signal with val "error" raises an unhandled error that
// stops the thread and is classified as a teal/unhandled error.
func TestScenarioSignalError(t *testing.T) {
	code := []*opcodes.Instruction{
		opcodes.NewPushV(values.NewString("error")),
		opcodes.NewPushV(values.NewString("boom")),
		opcodes.NewPushB("signal"),
		opcodes.NewCall(2),
		opcodes.NewReturn(),
	}
	exe := executable.New(code, nil, nil)
	ctrl, id := runProgram(t, exe, nil)

	err, kind, ok := ctrl.Error(id)
	if !ok {
		t.Fatal("expected an error to be recorded")
	}
	if kind != controller.KindUnhandled {
		t.Fatalf("expected KindUnhandled, got %v: %v", kind, err)
	}
}

func TestWaitOnCompositeFuturesRaisesCleanly(t *testing.T) {
	worker := []*opcodes.Instruction{
		opcodes.NewPushV(values.NewInt(1)),
		opcodes.NewReturn(),
	}
	main := []*opcodes.Instruction{
		opcodes.NewPushB("worker"),
		opcodes.NewACall(0),
		opcodes.NewPushB("list"),
		opcodes.NewCall(1),
		opcodes.NewWait(),
		opcodes.NewReturn(),
	}
	code := append(append([]*opcodes.Instruction{}, main...), worker...)
	locations := map[string]int{"worker": len(main)}
	bindings := map[string]*values.Value{"worker": values.NewFunctionPtr("worker")}
	exe := executable.New(code, locations, bindings)

	ctrl, id := runProgram(t, exe, nil)
	err, _, ok := ctrl.Error(id)
	if !ok {
		t.Fatal("expected an error from waiting on a composite future list")
	}
	if !errors.Is(err, ErrWaitOnCompositeFutures) {
		t.Fatalf("expected ErrWaitOnCompositeFutures, got %v", err)
	}
}
