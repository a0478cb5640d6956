// Package foreign provides a concrete machine.ForeignResolver: an
// in-process registry of (module, identifier) host functions, modelled on
// the teacher's builtin_context.go module-table lookup.
package foreign

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/teal-lang/tealvm/machine"
)

// ErrModuleNotFound and ErrFunctionNotFound are returned by Resolve when
// the requested module or identifier is not registered.
var (
	ErrModuleNotFound   = fmt.Errorf("foreign module not found")
	ErrFunctionNotFound = fmt.Errorf("foreign function not found")
)

// enableImportBuiltinEnv gates the __builtins__ module behind an environment
// variable, the same opt-in convention the teacher uses for anything
// that can reach outside the sandboxed interpreter.
const enableImportBuiltinEnv = "ENABLE_IMPORT_BUILTIN"

// Resolver is a mutable, concurrency-safe registry of foreign modules.
type Resolver struct {
	mu      sync.RWMutex
	modules map[string]map[string]machine.Callable
}

// New builds a Resolver pre-populated with the demo "mathx" module, and
// with "__builtins__" registered only when ENABLE_IMPORT_BUILTIN is truthy
// (non-empty and not "0" or "false").
func New() *Resolver {
	r := &Resolver{modules: make(map[string]map[string]machine.Callable)}
	r.Register("mathx", "sqrt", mathxSqrt)
	r.Register("mathx", "upper", mathxUpper)
	if v := os.Getenv(enableImportBuiltinEnv); v != "" && v != "0" && !strings.EqualFold(v, "false") {
		r.Register("__builtins__", "len", builtinLen)
	}
	return r
}

// Register installs fn under module/identifier, overwriting any previous
// registration.
func (r *Resolver) Register(module, identifier string, fn machine.Callable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[module]
	if !ok {
		m = make(map[string]machine.Callable)
		r.modules[module] = m
	}
	m[identifier] = fn
}

// Resolve implements machine.ForeignResolver.
func (r *Resolver) Resolve(module, identifier string) (machine.Callable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[module]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModuleNotFound, module)
	}
	fn, ok := m[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrFunctionNotFound, module, identifier)
	}
	return fn, nil
}

func mathxSqrt(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("mathx.sqrt expects 1 argument, got %d", len(args))
	}
	f, ok := toFloat(args[0])
	if !ok {
		return nil, fmt.Errorf("mathx.sqrt expects a number")
	}
	if f < 0 {
		return nil, fmt.Errorf("mathx.sqrt of a negative number")
	}
	return math.Sqrt(f), nil
}

func mathxUpper(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("mathx.upper expects 1 argument, got %d", len(args))
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("mathx.upper expects a string")
	}
	return strings.ToUpper(s), nil
}

func builtinLen(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("__builtins__.len expects 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case string:
		return int64(len(v)), nil
	case []interface{}:
		return int64(len(v)), nil
	default:
		return nil, fmt.Errorf("__builtins__.len expects a string or list")
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
