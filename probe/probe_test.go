package probe

import "testing"

type fakeMachine struct {
	stopped bool
}

func (f *fakeMachine) ThreadLabel() string        { return "t-1" }
func (f *fakeMachine) CurrentIP() int             { return 0 }
func (f *fakeMachine) CurrentInstruction() string { return "PUSHV 1" }
func (f *fakeMachine) StackSnapshot() []string    { return nil }
func (f *fakeMachine) Stop()                      { f.stopped = true }

func TestStepBudgetForcesStop(t *testing.T) {
	p := NewStepBudget(3, nil)
	m := &fakeMachine{}
	for i := 0; i < 5; i++ {
		p.OnStep(m)
	}
	if !m.stopped {
		t.Fatal("expected machine to be stopped after exceeding max steps")
	}
	if !p.EarlyStop() {
		t.Fatal("expected EarlyStop to be true")
	}
}

func TestStepBudgetUnbounded(t *testing.T) {
	p := NewStepBudget(0, nil)
	m := &fakeMachine{}
	for i := 0; i < 10; i++ {
		p.OnStep(m)
	}
	if m.stopped {
		t.Fatal("expected unbounded probe to never force a stop")
	}
}

func TestLogsAccumulate(t *testing.T) {
	p := NewStepBudget(100, nil)
	p.Log("hello")
	logs := p.Logs()
	if len(logs) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(logs))
	}
}
