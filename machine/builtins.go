package machine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teal-lang/tealvm/values"
)

// builtin is one entry in the closed built-in operator table. n is the
// arity the call site supplied (validated against the table's own
// expectation except for "list", which is variadic).
type builtin func(m *Machine, n int) error

func checkArity(expected, got int) error {
	if got != expected {
		return fmt.Errorf("%w: expected %d args, got %d", ErrArity, expected, got)
	}
	return nil
}

// popPair pops the top two values, returning them as (a, b) where a was
// pushed first (the left operand in source order) and b was pushed second
// (the top of stack, the right operand): source pushes a then b, so the
// first pop yields b and the second yields a.
func popPair(m *Machine) (a, b *values.Value, err error) {
	if b, err = m.state.Pop(); err != nil {
		return nil, nil, err
	}
	if a, err = m.state.Pop(); err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func numAdd(a, b *values.Value) *values.Value {
	if a.IsFloat() || b.IsFloat() {
		af, _ := a.AsNumber()
		bf, _ := b.AsNumber()
		return values.NewFloat(af + bf)
	}
	ai, _ := a.AsInt()
	bi, _ := b.AsInt()
	return values.NewInt(ai + bi)
}

func numMul(a, b *values.Value) *values.Value {
	if a.IsFloat() || b.IsFloat() {
		af, _ := a.AsNumber()
		bf, _ := b.AsNumber()
		return values.NewFloat(af * bf)
	}
	ai, _ := a.AsInt()
	bi, _ := b.AsInt()
	return values.NewInt(ai * bi)
}

var builtins = map[string]builtin{
	"==": func(m *Machine, n int) error {
		if err := checkArity(2, n); err != nil {
			return err
		}
		a, b, err := popPair(m)
		if err != nil {
			return err
		}
		m.state.Push(values.NewBool(a.Equal(b)))
		return nil
	},
	">": func(m *Machine, n int) error {
		if err := checkArity(2, n); err != nil {
			return err
		}
		a, b, err := popPair(m)
		if err != nil {
			return err
		}
		cmp, err := a.Compare(b)
		if err != nil {
			return err
		}
		m.state.Push(values.NewBool(cmp > 0))
		return nil
	},
	"<": func(m *Machine, n int) error {
		if err := checkArity(2, n); err != nil {
			return err
		}
		a, b, err := popPair(m)
		if err != nil {
			return err
		}
		cmp, err := a.Compare(b)
		if err != nil {
			return err
		}
		m.state.Push(values.NewBool(cmp < 0))
		return nil
	},
	"+": func(m *Machine, n int) error {
		if err := checkArity(2, n); err != nil {
			return err
		}
		a, b, err := popPair(m)
		if err != nil {
			return err
		}
		if !a.IsNumeric() || !b.IsNumeric() {
			return fmt.Errorf("%w: + requires two numbers", values.ErrTypeMismatch)
		}
		m.state.Push(numAdd(a, b))
		return nil
	},
	"*": func(m *Machine, n int) error {
		if err := checkArity(2, n); err != nil {
			return err
		}
		a, b, err := popPair(m)
		if err != nil {
			return err
		}
		if !a.IsNumeric() || !b.IsNumeric() {
			return fmt.Errorf("%w: * requires two numbers", values.ErrTypeMismatch)
		}
		m.state.Push(numMul(a, b))
		return nil
	},
	"list": func(m *Machine, n int) error {
		elts := make([]*values.Value, n)
		for i := 0; i < n; i++ {
			v, err := m.state.Pop()
			if err != nil {
				return err
			}
			elts[i] = v
		}
		for i, j := 0, len(elts)-1; i < j; i, j = i+1, j-1 {
			elts[i], elts[j] = elts[j], elts[i]
		}
		m.state.Push(values.NewList(elts))
		return nil
	},
	"conc": func(m *Machine, n int) error {
		if err := checkArity(2, n); err != nil {
			return err
		}
		a, b, err := popPair(m)
		if err != nil {
			return err
		}
		if b.IsNull() {
			b = values.NewList(nil)
		}
		bl, ok := b.AsList()
		if !ok {
			return fmt.Errorf("%w: conc second argument must be a list", values.ErrTypeMismatch)
		}
		if al, ok := a.AsList(); ok {
			m.state.Push(values.NewList(append(append([]*values.Value{}, al...), bl...)))
			return nil
		}
		m.state.Push(values.NewList(append([]*values.Value{a}, bl...)))
		return nil
	},
	"append": func(m *Machine, n int) error {
		if err := checkArity(2, n); err != nil {
			return err
		}
		a, b, err := popPair(m)
		if err != nil {
			return err
		}
		if a.IsNull() {
			a = values.NewList(nil)
		}
		al, ok := a.AsList()
		if !ok {
			return fmt.Errorf("%w: append first argument must be a list", values.ErrTypeMismatch)
		}
		m.state.Push(values.NewList(append(append([]*values.Value{}, al...), b)))
		return nil
	},
	"first": func(m *Machine, n int) error {
		if err := checkArity(1, n); err != nil {
			return err
		}
		v, err := m.state.Pop()
		if err != nil {
			return err
		}
		l, ok := v.AsList()
		if !ok {
			return fmt.Errorf("%w: first requires a list", values.ErrTypeMismatch)
		}
		if len(l) == 0 {
			return fmt.Errorf("%w: first of an empty list", values.ErrTypeMismatch)
		}
		m.state.Push(l[0])
		return nil
	},
	"rest": func(m *Machine, n int) error {
		if err := checkArity(1, n); err != nil {
			return err
		}
		v, err := m.state.Pop()
		if err != nil {
			return err
		}
		l, ok := v.AsList()
		if !ok {
			return fmt.Errorf("%w: rest requires a list", values.ErrTypeMismatch)
		}
		if len(l) == 0 {
			m.state.Push(values.NewList(nil))
			return nil
		}
		m.state.Push(values.NewList(l[1:]))
		return nil
	},
	"nth": func(m *Machine, n int) error {
		if err := checkArity(2, n); err != nil {
			return err
		}
		idxV, err := m.state.Pop()
		if err != nil {
			return err
		}
		listV, err := m.state.Pop()
		if err != nil {
			return err
		}
		idx, ok := idxV.AsInt()
		if !ok {
			return fmt.Errorf("%w: nth index must be an int", values.ErrTypeMismatch)
		}
		l, ok := listV.AsList()
		if !ok {
			return fmt.Errorf("%w: nth requires a list", values.ErrTypeMismatch)
		}
		if idx < 0 || int(idx) >= len(l) {
			return fmt.Errorf("%w: nth index %d out of range (len %d)", values.ErrTypeMismatch, idx, len(l))
		}
		m.state.Push(l[idx])
		return nil
	},
	"atomp": func(m *Machine, n int) error {
		if err := checkArity(1, n); err != nil {
			return err
		}
		v, err := m.state.Pop()
		if err != nil {
			return err
		}
		m.state.Push(values.NewBool(v.IsAtom()))
		return nil
	},
	"nullp": func(m *Machine, n int) error {
		if err := checkArity(1, n); err != nil {
			return err
		}
		v, err := m.state.Pop()
		if err != nil {
			return err
		}
		isNull := v.IsNull()
		if l, ok := v.AsList(); ok && len(l) == 0 {
			isNull = true
		}
		m.state.Push(values.NewBool(isNull))
		return nil
	},
	"parse_float": func(m *Machine, n int) error {
		if err := checkArity(1, n); err != nil {
			return err
		}
		v, err := m.state.Pop()
		if err != nil {
			return err
		}
		switch {
		case v.IsString() || v.IsSymbol():
			s, _ := v.AsString()
			f, convErr := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if convErr != nil {
				return fmt.Errorf("%w: cannot parse %q as a float", values.ErrTypeMismatch, s)
			}
			m.state.Push(values.NewFloat(f))
		case v.IsNumeric():
			f, _ := v.AsNumber()
			m.state.Push(values.NewFloat(f))
		default:
			return fmt.Errorf("%w: parse_float requires a string or number", values.ErrTypeMismatch)
		}
		return nil
	},
	"sleep": func(m *Machine, n int) error {
		if err := checkArity(1, n); err != nil {
			return err
		}
		v, err := m.state.Peek(0)
		if err != nil {
			return err
		}
		secs, ok := v.AsNumber()
		if !ok {
			return fmt.Errorf("%w: sleep requires a number", values.ErrTypeMismatch)
		}
		time.Sleep(time.Duration(secs * float64(time.Second)))
		return nil
	},
	"print": func(m *Machine, n int) error {
		if err := checkArity(1, n); err != nil {
			return err
		}
		v, err := m.state.Peek(0)
		if err != nil {
			return err
		}
		m.Ctrl.WriteStdout(v.Display() + "\n")
		return nil
	},
	"signal": func(m *Machine, n int) error {
		if err := checkArity(2, n); err != nil {
			return err
		}
		msg, err := m.state.Peek(0)
		if err != nil {
			return err
		}
		val, err := m.state.Peek(1)
		if err != nil {
			return err
		}
		valStr, _ := val.AsString()
		m.Ctrl.WriteStdout(fmt.Sprintf("\n%s: %s\n", strings.ToUpper(valStr), msg.Display()))
		if strings.EqualFold(valStr, "error") {
			return &UnhandledError{Err: fmt.Errorf("%s", msg.Display())}
		}
		return nil
	},
	"wait": func(m *Machine, n int) error {
		if err := checkArity(1, n); err != nil {
			return err
		}
		return m.execWait()
	},
}
