// Package state holds the per-thread execution state a Machine steps:
// instruction pointer, data stack, local bindings, the current
// activation-record handle, and the stopped/error flags. State is the
// unit a Machine externalises across suspension and resumption.
package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/teal-lang/tealvm/values"
)

// ErrStackUnderflow is raised by Pop/Peek/Set when the data stack does not
// have enough elements for the requested offset.
var ErrStackUnderflow = errors.New("stack underflow")

// ARPtr is an opaque handle into a controller's activation-record arena.
// NoArec marks "no parent" — the dynamic chain of the program's root
// activation record — and is also the current-AR pointer of a State not
// yet attached to any record. A frame with no call site to return to is
// marked by its call site, not by NoArec.
type ARPtr int

const NoArec ARPtr = -1

// State is the 6-tuple from the data model: ip, data stack, local
// bindings, current AR pointer, stopped, and error.
type State struct {
	mu sync.Mutex

	ip          int
	stack       []*values.Value
	bindings    map[string]*values.Value
	currentArec ARPtr
	stopped     bool
	err         error
}

// New builds a fresh State whose data stack is preloaded with args so
// that popping retrieves them in the order the callee expects: args[0]
// first.
func New(args []*values.Value) *State {
	stack := make([]*values.Value, len(args))
	for i, a := range args {
		stack[len(args)-1-i] = a
	}
	return &State{
		stack:       stack,
		bindings:    map[string]*values.Value{},
		currentArec: NoArec,
	}
}

func (s *State) IP() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ip
}

func (s *State) SetIP(ip int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ip = ip
}

// AdvanceIP applies a relative offset to ip (offset 1 for a plain ip++).
func (s *State) AdvanceIP(offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ip += offset
}

func (s *State) Push(v *values.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack = append(s.stack, v)
}

func (s *State) Pop() (*values.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return top, nil
}

// Peek returns the value offset slots from the top without removing it;
// offset 0 is the top of stack.
func (s *State) Peek(offset int) (*values.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.stack) - 1 - offset
	if idx < 0 || idx >= len(s.stack) {
		return nil, fmt.Errorf("%w: peek offset %d, depth %d", ErrStackUnderflow, offset, len(s.stack))
	}
	return s.stack[idx], nil
}

// Set overwrites the value offset slots from the top, used to patch a
// waiting thread's stack slot with a resolved future's value.
func (s *State) Set(offset int, v *values.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.stack) - 1 - offset
	if idx < 0 || idx >= len(s.stack) {
		return fmt.Errorf("%w: set offset %d, depth %d", ErrStackUnderflow, offset, len(s.stack))
	}
	s.stack[idx] = v
	return nil
}

func (s *State) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}

// Snapshot returns a copy of the data stack, bottom first, for debugging
// and probe display. It never aliases the live stack.
func (s *State) Snapshot() []*values.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]*values.Value, len(s.stack))
	copy(cp, s.stack)
	return cp
}

func (s *State) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *State) SetStopped(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = v
}

func (s *State) Error() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *State) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *State) CurrentArec() ARPtr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentArec
}

func (s *State) SetCurrentArec(p ARPtr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentArec = p
}

// Bind installs or updates a local binding.
func (s *State) Bind(name string, v *values.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[name] = v
}

// Lookup resolves a local binding by name.
func (s *State) Lookup(name string) (*values.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.bindings[name]
	return v, ok
}

// Bindings returns a snapshot of the current local bindings map, used to
// save a caller's frame into its activation record before a Call switches
// to the callee's fresh bindings.
func (s *State) Bindings() map[string]*values.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]*values.Value, len(s.bindings))
	for k, v := range s.bindings {
		cp[k] = v
	}
	return cp
}

// SetBindings replaces the local bindings map wholesale, used by Return to
// restore the caller's frame from its activation record. A nil map is
// treated as empty.
func (s *State) SetBindings(b map[string]*values.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b == nil {
		b = map[string]*values.Value{}
	}
	s.bindings = b
}

// ClearBindings installs a fresh, empty local bindings map — what Call does
// to the caller's frame before jumping into the callee.
func (s *State) ClearBindings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = map[string]*values.Value{}
}

// Serialised is the plain-data rendering of a State used by Serialise and
// Deserialise, matching the field set ip/stopped/ds/bindings/error/
// current_arec_ptr.
type Serialised struct {
	IP          int                               `json:"ip" yaml:"ip"`
	Stopped     bool                              `json:"stopped" yaml:"stopped"`
	Stack       []map[string]interface{}          `json:"ds" yaml:"ds"`
	Bindings    map[string]map[string]interface{} `json:"bindings" yaml:"bindings"`
	Error       string                            `json:"error,omitempty" yaml:"error,omitempty"`
	CurrentArec int                               `json:"current_arec_ptr" yaml:"current_arec_ptr"`

	// Traceback is reserved: stack-trace reconstruction is not
	// implemented, but the wire format keeps the key.
	Traceback []string `json:"traceback,omitempty" yaml:"traceback,omitempty"`
}

// Serialise snapshots s into its plain-data form.
func (s *State) Serialise() Serialised {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := make([]map[string]interface{}, len(s.stack))
	for i, v := range s.stack {
		ds[i] = v.Serialise()
	}
	bindings := make(map[string]map[string]interface{}, len(s.bindings))
	for k, v := range s.bindings {
		bindings[k] = v.Serialise()
	}
	errText := ""
	if s.err != nil {
		errText = s.err.Error()
	}
	return Serialised{
		IP:          s.ip,
		Stopped:     s.stopped,
		Stack:       ds,
		Bindings:    bindings,
		Error:       errText,
		CurrentArec: int(s.currentArec),
	}
}

// Deserialise rebuilds a State from its plain-data form. The rebuilt
// State carries no live error beyond its textual record, since the
// original error value's type cannot be round-tripped.
func Deserialise(data Serialised) (*State, error) {
	stack := make([]*values.Value, len(data.Stack))
	for i, raw := range data.Stack {
		v, err := values.Deserialise(raw)
		if err != nil {
			return nil, fmt.Errorf("deserialise stack[%d]: %w", i, err)
		}
		stack[i] = v
	}
	bindings := make(map[string]*values.Value, len(data.Bindings))
	for k, raw := range data.Bindings {
		v, err := values.Deserialise(raw)
		if err != nil {
			return nil, fmt.Errorf("deserialise binding %q: %w", k, err)
		}
		bindings[k] = v
	}
	var err error
	if data.Error != "" {
		err = errors.New(data.Error)
	}
	return &State{
		ip:          data.IP,
		stack:       stack,
		bindings:    bindings,
		currentArec: ARPtr(data.CurrentArec),
		stopped:     data.Stopped,
		err:         err,
	}, nil
}
