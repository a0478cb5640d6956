// Package probe defines the debugging hook a Machine calls at each
// lifecycle event, plus a concrete step-budget implementation modelled
// directly on the reference machine's Probe class (on_run/on_step/
// on_enter/on_return/on_stopped, a named logs list, and early_stop).
package probe

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/teal-lang/tealvm/teallog"
)

// MachineView is the minimal view of a running machine a Probe needs —
// implemented by *machine.Machine. Kept here (rather than importing
// package machine) to avoid a controller/machine/probe import cycle.
type MachineView interface {
	ThreadLabel() string
	CurrentIP() int
	CurrentInstruction() string
	StackSnapshot() []string
	Stop()
}

// Probe is the consumed debugging interface: a Machine calls these at
// each lifecycle event, in implementation-defined ways (logging, step
// budgets, breakpoints).
type Probe interface {
	OnRun(m MachineView)
	OnEnter(m MachineView, fnName string)
	OnReturn(m MachineView)
	OnStep(m MachineView)
	OnStopped(m MachineView, terminated bool)
	Log(text string)
	Logs() []string
}

var probeCount int64

// StepBudget is a Probe that logs every step and force-stops the machine
// once MaxSteps steps have been taken, the direct analogue of the reference
// machine's Probe(max_steps=...).
type StepBudget struct {
	MaxSteps int

	mu        sync.Mutex
	name      string
	step      int
	logs      []string
	earlyStop bool
	logger    *teallog.Logger
}

// NewStepBudget builds a StepBudget with the given step ceiling. A zero
// or negative maxSteps disables the ceiling (treated as unbounded, though
// callers should generally pass a real limit — an unbounded probe cannot
// protect against a runaway program).
func NewStepBudget(maxSteps int, logger *teallog.Logger) *StepBudget {
	n := atomic.AddInt64(&probeCount, 1)
	return &StepBudget{
		MaxSteps: maxSteps,
		name:     fmt.Sprintf("P%d", n),
		logger:   logger,
	}
}

func (p *StepBudget) OnRun(m MachineView) {
	p.Log(fmt.Sprintf("run %s", m.ThreadLabel()))
}

func (p *StepBudget) Log(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line := fmt.Sprintf("*** <%s> %s", p.name, text)
	p.logs = append(p.logs, line)
	if p.logger != nil {
		p.logger.Debugf("%s", line)
	}
}

func (p *StepBudget) OnEnter(m MachineView, fnName string) {
	p.Log(fmt.Sprintf("===> %s", fnName))
}

func (p *StepBudget) OnReturn(m MachineView) {
	p.Log("<===")
}

func (p *StepBudget) OnStep(m MachineView) {
	p.mu.Lock()
	p.step++
	step := p.step
	max := p.MaxSteps
	p.mu.Unlock()

	preface := fmt.Sprintf("[step=%d, ip=%d] %s", step, m.CurrentIP(), m.CurrentInstruction())
	p.Log(fmt.Sprintf("%-40.40s | %v", preface, m.StackSnapshot()))

	if max > 0 && step >= max {
		p.mu.Lock()
		p.earlyStop = true
		p.mu.Unlock()
		p.Log(fmt.Sprintf("MAX STEPS (%d) REACHED!!", max))
		m.Stop()
	}
}

func (p *StepBudget) OnStopped(m MachineView, terminated bool) {
	kind := "Stopped"
	if terminated {
		kind = "Terminated"
	}
	p.mu.Lock()
	step := p.step
	p.mu.Unlock()
	p.Log(fmt.Sprintf("%s after %d steps.", kind, step))
}

func (p *StepBudget) Logs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.logs))
	copy(out, p.logs)
	return out
}

// EarlyStop reports whether the step ceiling forced a stop.
func (p *StepBudget) EarlyStop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.earlyStop
}

// Noop is a Probe that does nothing, for tests that don't care about
// debugging output.
type Noop struct{}

func (Noop) OnRun(MachineView)           {}
func (Noop) OnEnter(MachineView, string) {}
func (Noop) OnReturn(MachineView)        {}
func (Noop) OnStep(MachineView)          {}
func (Noop) OnStopped(MachineView, bool) {}
func (Noop) Log(string)                  {}
func (Noop) Logs() []string              { return nil }
