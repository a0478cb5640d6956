package main

import (
	"fmt"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/teal-lang/tealvm/executable"
	"github.com/teal-lang/tealvm/opcodes"
	"github.com/teal-lang/tealvm/values"
)

// demoYAML describes the built-in demo programs in a small, hand-written
// assembly form: one entry per named program, each a flat instruction
// list plus optional entry-point locations for functions reachable only
// via PUSHB/CALL, mirroring the six scenarios exercised by the machine
// package's tests. This is the teal-vm CLI's config format, not a general
// Teal source language.
const demoYAML = `
arithmetic:
  code:
    - {op: pushv, tag: int, value: 2}
    - {op: pushv, tag: int, value: 3}
    - {op: pushb, name: "+"}
    - {op: call, arity: 2}
    - {op: return}

conditional:
  code:
    - {op: pushv, tag: bool, value: false}
    - {op: jumpif, offset: 2}
    - {op: pushv, tag: int, value: 1}
    - {op: jump, offset: 1}
    - {op: pushv, tag: int, value: 2}
    - {op: return}

listops:
  code:
    - {op: pushv, tag: int, value: 1}
    - {op: pushv, tag: int, value: 2}
    - {op: pushv, tag: int, value: 3}
    - {op: pushb, name: list}
    - {op: call, arity: 3}
    - {op: pushb, name: rest}
    - {op: call, arity: 1}
    - {op: pushb, name: first}
    - {op: call, arity: 1}
    - {op: return}

localcall:
  entry: main
  locations:
    main:
      - {op: pushv, tag: int, value: 4}
      - {op: pushb, name: sq}
      - {op: call, arity: 1}
      - {op: return}
    sq:
      - {op: bind, name: n}
      - {op: pushb, name: n}
      - {op: pushb, name: n}
      - {op: pushb, name: "*"}
      - {op: call, arity: 2}
      - {op: return}
  bindings:
    sq: {function_ptr: sq}

forkwait:
  entry: main
  locations:
    main:
      - {op: pushv, tag: int, value: 5}
      - {op: pushb, name: worker}
      - {op: acall, arity: 1}
      - {op: wait}
      - {op: return}
    worker:
      - {op: bind, name: n}
      - {op: pushv, tag: int, value: 10}
      - {op: pushb, name: n}
      - {op: pushb, name: "+"}
      - {op: call, arity: 2}
      - {op: return}
  bindings:
    worker: {function_ptr: worker}

signalerror:
  code:
    - {op: pushv, tag: string, value: error}
    - {op: pushv, tag: string, value: "demo failure"}
    - {op: pushb, name: signal}
    - {op: call, arity: 2}
    - {op: return}
`

type demoInstr struct {
	Op     string      `yaml:"op"`
	Tag    string      `yaml:"tag,omitempty"`
	Value  interface{} `yaml:"value,omitempty"`
	Name   string      `yaml:"name,omitempty"`
	Offset int         `yaml:"offset,omitempty"`
	Arity  int         `yaml:"arity,omitempty"`
}

type demoBinding struct {
	FunctionPtr string `yaml:"function_ptr"`
}

type demoProgram struct {
	Entry     string                 `yaml:"entry,omitempty"`
	Code      []demoInstr            `yaml:"code,omitempty"`
	Locations map[string][]demoInstr `yaml:"locations,omitempty"`
	Bindings  map[string]demoBinding `yaml:"bindings,omitempty"`
}

// loadDemos parses demoYAML into ready-to-run Executables, keyed by name.
func loadDemos() (map[string]*executable.Executable, error) {
	var raw map[string]demoProgram
	if err := yaml.Unmarshal([]byte(demoYAML), &raw); err != nil {
		return nil, fmt.Errorf("parsing built-in demos: %w", err)
	}

	out := make(map[string]*executable.Executable, len(raw))
	for name, prog := range raw {
		exe, err := buildExecutable(prog)
		if err != nil {
			return nil, fmt.Errorf("demo %q: %w", name, err)
		}
		out[name] = exe
	}
	return out, nil
}

// demoNames returns the built-in demo names in sorted order.
func demoNames(demos map[string]*executable.Executable) []string {
	names := make([]string, 0, len(demos))
	for n := range demos {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func buildExecutable(prog demoProgram) (*executable.Executable, error) {
	if len(prog.Code) > 0 {
		code, err := assemble(prog.Code)
		if err != nil {
			return nil, err
		}
		return executable.New(code, nil, nil), nil
	}

	// Multi-location program: lay out functions back to back in a stable
	// order, "main" (or the declared entry) first, so its offset 0 matches
	// the thread's initial IP.
	order := make([]string, 0, len(prog.Locations))
	for name := range prog.Locations {
		order = append(order, name)
	}
	sort.Strings(order)
	entry := prog.Entry
	if entry == "" {
		entry = "main"
	}
	idx := slices.Index(order, entry)
	if idx > 0 {
		order = append(append([]string{entry}, order[:idx]...), order[idx+1:]...)
	}

	var code []*opcodes.Instruction
	locations := make(map[string]int, len(order))
	for _, name := range order {
		locations[name] = len(code)
		instrs, err := assemble(prog.Locations[name])
		if err != nil {
			return nil, fmt.Errorf("location %q: %w", name, err)
		}
		code = append(code, instrs...)
	}

	bindings := make(map[string]*values.Value, len(prog.Bindings))
	for name, b := range prog.Bindings {
		bindings[name] = values.NewFunctionPtr(b.FunctionPtr)
	}

	return executable.New(code, locations, bindings), nil
}

func assemble(in []demoInstr) ([]*opcodes.Instruction, error) {
	out := make([]*opcodes.Instruction, 0, len(in))
	for _, d := range in {
		switch d.Op {
		case "pushv":
			v, err := demoValue(d.Tag, d.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, opcodes.NewPushV(v))
		case "pop":
			out = append(out, opcodes.NewPop())
		case "bind":
			out = append(out, opcodes.NewBind(d.Name))
		case "pushb":
			out = append(out, opcodes.NewPushB(d.Name))
		case "jump":
			out = append(out, opcodes.NewJump(d.Offset))
		case "jumpif":
			out = append(out, opcodes.NewJumpIf(d.Offset))
		case "call":
			out = append(out, opcodes.NewCall(d.Arity))
		case "acall":
			out = append(out, opcodes.NewACall(d.Arity))
		case "return":
			out = append(out, opcodes.NewReturn())
		case "wait":
			out = append(out, opcodes.NewWait())
		default:
			return nil, fmt.Errorf("unknown demo opcode %q", d.Op)
		}
	}
	return out, nil
}

func demoValue(tag string, raw interface{}) (*values.Value, error) {
	switch tag {
	case "int":
		switch n := raw.(type) {
		case int:
			return values.NewInt(int64(n)), nil
		case int64:
			return values.NewInt(n), nil
		}
		return nil, fmt.Errorf("pushv int: unexpected value %v (%T)", raw, raw)
	case "float":
		f, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("pushv float: unexpected value %v (%T)", raw, raw)
		}
		return values.NewFloat(f), nil
	case "string":
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("pushv string: unexpected value %v (%T)", raw, raw)
		}
		return values.NewString(s), nil
	case "symbol":
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("pushv symbol: unexpected value %v (%T)", raw, raw)
		}
		return values.NewSymbol(s), nil
	case "bool":
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("pushv bool: unexpected value %v (%T)", raw, raw)
		}
		return values.NewBool(b), nil
	case "null", "":
		return values.Null, nil
	default:
		return nil, fmt.Errorf("pushv: unknown tag %q", tag)
	}
}
