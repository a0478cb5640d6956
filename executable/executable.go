// Package executable holds the Teal "image": a flat instruction stream
// plus the function-name-to-offset table and the binding table that
// resolve top-level identifiers to function and foreign pointers.
package executable

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teal-lang/tealvm/opcodes"
	"github.com/teal-lang/tealvm/values"
)

// namesAt returns, in sorted order, every identifier whose location is i —
// normally zero or one, but kept as a slice so a pathological executable
// with aliased entry points still prints deterministically.
func namesAt(locations map[string]int, i int) []string {
	var names []string
	for name, loc := range locations {
		if loc == i {
			names = append(names, name)
		}
	}
	return values.SortStrings(names)
}

// ErrUnknownLocation is returned by LocationOf for an identifier with no
// entry in the locations table.
var ErrUnknownLocation = errors.New("unknown function location")

// Executable is the triple (code, locations, bindings) shared read-only
// by every machine running against it.
type Executable struct {
	Code      []*opcodes.Instruction
	Locations map[string]int
	Bindings  map[string]*values.Value
}

// New builds an Executable from the given code and name tables.
func New(code []*opcodes.Instruction, locations map[string]int, bindings map[string]*values.Value) *Executable {
	if locations == nil {
		locations = map[string]int{}
	}
	if bindings == nil {
		bindings = map[string]*values.Value{}
	}
	return &Executable{Code: code, Locations: locations, Bindings: bindings}
}

// CodeAt returns the instruction at ip, or an error if ip is out of
// bounds.
func (e *Executable) CodeAt(ip int) (*opcodes.Instruction, error) {
	if ip < 0 || ip >= len(e.Code) {
		return nil, fmt.Errorf("code offset %d out of bounds (len %d)", ip, len(e.Code))
	}
	return e.Code[ip], nil
}

// LocationOf resolves a top-level function identifier to its entry offset
// in Code.
func (e *Executable) LocationOf(identifier string) (int, error) {
	ip, ok := e.Locations[identifier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLocation, identifier)
	}
	return ip, nil
}

// Binding resolves a top-level identifier (other than a builtin name) to
// its bound value — typically a function or foreign pointer.
func (e *Executable) Binding(identifier string) (*values.Value, bool) {
	v, ok := e.Bindings[identifier]
	return v, ok
}

// Listing renders the instruction stream with function-entry headers,
// in the bracketed style of the reference machine's executable dump.
func (e *Executable) Listing() string {
	var b strings.Builder
	b.WriteString(" /\n")
	for i, instr := range e.Code {
		for _, name := range namesAt(e.Locations, i) {
			fmt.Fprintf(&b, " | ;; %s:\n", name)
		}
		fmt.Fprintf(&b, " | %4d | %s\n", i, instr)
	}
	b.WriteString(" \\\n")
	return b.String()
}
