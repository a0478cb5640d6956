// Package opcodes defines the Teal instruction set: a small, closed
// collection of stack-machine opcodes with compile-time operands carried
// as tagged values, relative jump offsets, or small integer arities.
package opcodes

import (
	"fmt"

	"github.com/teal-lang/tealvm/values"
)

// Opcode is the closed set of instruction kinds the machine dispatches.
type Opcode byte

const (
	PushV Opcode = iota
	Pop
	Bind
	PushB
	Jump
	JumpIf
	Call
	ACall
	Return
	Wait
)

var opcodeNames = map[Opcode]string{
	PushV:  "PUSHV",
	Pop:    "POP",
	Bind:   "BIND",
	PushB:  "PUSHB",
	Jump:   "JUMP",
	JumpIf: "JUMPIF",
	Call:   "CALL",
	ACall:  "ACALL",
	Return: "RETURN",
	Wait:   "WAIT",
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("OP(%d)", byte(o))
}

// Instruction is one bytecode instruction. Only the operand field(s)
// relevant to Op are populated; the zero values of the others are
// ignored by the machine.
type Instruction struct {
	Op     Opcode
	Value  *values.Value // PushV: literal to push
	Name   string        // Bind, PushB: identifier
	Offset int           // Jump, JumpIf: relative offset applied after ip++
	Arity  int           // Call, ACall: number of arguments
}

func NewPushV(v *values.Value) *Instruction { return &Instruction{Op: PushV, Value: v} }
func NewPop() *Instruction                  { return &Instruction{Op: Pop} }
func NewBind(name string) *Instruction      { return &Instruction{Op: Bind, Name: name} }
func NewPushB(name string) *Instruction     { return &Instruction{Op: PushB, Name: name} }
func NewJump(offset int) *Instruction       { return &Instruction{Op: Jump, Offset: offset} }
func NewJumpIf(offset int) *Instruction     { return &Instruction{Op: JumpIf, Offset: offset} }
func NewCall(arity int) *Instruction        { return &Instruction{Op: Call, Arity: arity} }
func NewACall(arity int) *Instruction       { return &Instruction{Op: ACall, Arity: arity} }
func NewReturn() *Instruction               { return &Instruction{Op: Return} }
func NewWait() *Instruction                 { return &Instruction{Op: Wait} }

// String renders the instruction the way Executable.Listing prints each
// code line.
func (i *Instruction) String() string {
	switch i.Op {
	case PushV:
		return fmt.Sprintf("PUSHV %s", i.Value.Display())
	case Bind:
		return fmt.Sprintf("BIND %s", i.Name)
	case PushB:
		return fmt.Sprintf("PUSHB %s", i.Name)
	case Jump:
		return fmt.Sprintf("JUMP %+d", i.Offset)
	case JumpIf:
		return fmt.Sprintf("JUMPIF %+d", i.Offset)
	case Call:
		return fmt.Sprintf("CALL %d", i.Arity)
	case ACall:
		return fmt.Sprintf("ACALL %d", i.Arity)
	default:
		return i.Op.String()
	}
}
