package machine

import (
	"errors"
	"fmt"

	"github.com/teal-lang/tealvm/controller"
	"github.com/teal-lang/tealvm/executable"
	"github.com/teal-lang/tealvm/state"
	"github.com/teal-lang/tealvm/values"
)

// Sentinel errors, mirroring the teacher's vm/errors.go base-error-plus-
// wrapper pattern: callers match with errors.Is against these, never
// against *MachineError directly.
var (
	ErrStackUnderflow         = state.ErrStackUnderflow
	ErrTypeMismatch           = values.ErrTypeMismatch
	ErrUnknownName            = errors.New("unknown name")
	ErrNotCallable            = errors.New("value is not callable")
	ErrUnknownLocation        = executable.ErrUnknownLocation
	ErrIPOutOfBounds          = errors.New("instruction pointer out of bounds")
	ErrWaitOnCompositeFutures = errors.New("cannot wait on a list containing futures")
	ErrArity                  = errors.New("builtin called with the wrong number of arguments")
)

// errSuspended signals a clean Wait suspension out of the dispatch loop.
// It is never recorded as a thread error and never escapes Run: the loop
// exits and control returns to the invoker, which re-invokes the thread
// once its future resolves.
var errSuspended = errors.New("suspended on unresolved future")

// Kind classifies a stopped thread's error the way §7 does.
type Kind int

const (
	KindCompileTimeShouldHaveCaught Kind = iota
	KindTypeMismatch
	KindForeignError
	KindUnhandledError
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindCompileTimeShouldHaveCaught:
		return "compile-time-should-have-caught"
	case KindTypeMismatch:
		return "type-mismatch"
	case KindForeignError:
		return "foreign-error"
	case KindUnhandledError:
		return "unhandled-error"
	default:
		return "unexpected"
	}
}

// MachineError wraps any error the dispatch loop surfaced with the thread,
// instruction pointer, and opcode/builtin context it happened at.
type MachineError struct {
	Kind     Kind
	Err      error
	ThreadID values.ThreadID
	IP       int
	Op       string
}

func (e *MachineError) Error() string {
	return fmt.Sprintf("thread %s ip=%d [%s]: %s: %v", e.ThreadID, e.IP, e.Op, e.Kind, e.Err)
}

func (e *MachineError) Unwrap() error { return e.Err }

// ForeignError distinguishes an error raised by a foreign callable from
// every other failure mode, so Run()'s classifier can route it to
// Controller.ForeignError.
type ForeignError struct{ Err error }

func (e *ForeignError) Error() string { return "foreign error: " + e.Err.Error() }
func (e *ForeignError) Unwrap() error { return e.Err }

// UnhandledError distinguishes a `signal` builtin raised with val "error"
// from every other failure mode, routed to Controller.TealError.
type UnhandledError struct{ Err error }

func (e *UnhandledError) Error() string { return "unhandled error: " + e.Err.Error() }
func (e *UnhandledError) Unwrap() error { return e.Err }

// classifyKind maps a raw sentinel error to the §7 error kind used when
// wrapping it in a MachineError. Stack-shape and unknown-name/location
// errors are classified as compile-time-should-have-caught, since a real
// compiler would never emit code that triggers them.
func classifyKind(err error) Kind {
	switch {
	case errors.Is(err, ErrStackUnderflow),
		errors.Is(err, ErrUnknownName),
		errors.Is(err, ErrNotCallable),
		errors.Is(err, ErrUnknownLocation),
		errors.Is(err, controller.ErrNotCallable),
		errors.Is(err, ErrArity):
		return KindCompileTimeShouldHaveCaught
	case errors.Is(err, ErrTypeMismatch),
		errors.Is(err, ErrWaitOnCompositeFutures):
		return KindTypeMismatch
	default:
		return KindUnexpected
	}
}
