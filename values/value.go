// Package values defines the tagged value universe shared by every Teal
// thread: integers, floats, the two boolean tags, null, symbols, strings,
// lists, quoted atoms, function pointers, foreign pointers, future
// pointers, and instruction tokens. Values are immutable; list-producing
// operations always return a new list.
package values

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrTypeMismatch is the sentinel for value-conversion failures raised by
// this package (host adapter, serialisation). The machine package
// re-exports this same sentinel as machine.ErrTypeMismatch, so errors.Is
// against either name matches the same errors.
var ErrTypeMismatch = errors.New("value type mismatch")

// ThreadID identifies a machine/thread within a controller. Future
// pointers carry the id of the thread that will produce their value.
type ThreadID string

// NewThreadID mints a fresh, globally unique thread identifier.
func NewThreadID() ThreadID {
	return ThreadID(uuid.NewString())
}

// Tag is the closed set of value kinds in the tagged universe.
type Tag byte

const (
	TagNull Tag = iota
	TagTrue
	TagFalse
	TagInt
	TagFloat
	TagSymbol
	TagString
	TagList
	TagQuote
	TagFunctionPtr
	TagForeignPtr
	TagFuturePtr
	TagInstruction
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagTrue:
		return "true"
	case TagFalse:
		return "false"
	case TagInt:
		return "int"
	case TagFloat:
		return "float"
	case TagSymbol:
		return "symbol"
	case TagString:
		return "string"
	case TagList:
		return "list"
	case TagQuote:
		return "quote"
	case TagFunctionPtr:
		return "function-ptr"
	case TagForeignPtr:
		return "foreign-ptr"
	case TagFuturePtr:
		return "future-ptr"
	case TagInstruction:
		return "instruction"
	default:
		return "unknown"
	}
}

// Value is a single tagged value. Data holds the tag-specific payload; its
// concrete type is determined entirely by Tag, mirroring the teacher's
// Type+Data struct shape.
type Value struct {
	Tag  Tag
	Data interface{}
}

// FunctionPtr is the payload of a TagFunctionPtr value: the identifier of
// an entry point in an Executable's locations table.
type FunctionPtr struct {
	Identifier string
}

// ForeignPtr is the payload of a TagForeignPtr value: a (module,
// identifier) pair resolved by a Foreign Resolver at call time.
type ForeignPtr struct {
	Module     string
	Identifier string
}

var (
	Null  = &Value{Tag: TagNull}
	True  = &Value{Tag: TagTrue}
	False = &Value{Tag: TagFalse}
)

func NewInt(i int64) *Value  { return &Value{Tag: TagInt, Data: i} }
func NewFloat(f float64) *Value { return &Value{Tag: TagFloat, Data: f} }
func NewSymbol(s string) *Value { return &Value{Tag: TagSymbol, Data: s} }
func NewString(s string) *Value { return &Value{Tag: TagString, Data: s} }

func NewInstruction(name string) *Value {
	return &Value{Tag: TagInstruction, Data: name}
}

func NewBool(b bool) *Value {
	if b {
		return True
	}
	return False
}

// NewList copies elts so later mutation of the caller's slice cannot
// violate list immutability.
func NewList(elts []*Value) *Value {
	cp := make([]*Value, len(elts))
	copy(cp, elts)
	return &Value{Tag: TagList, Data: cp}
}

func NewQuote(v *Value) *Value {
	return &Value{Tag: TagQuote, Data: v}
}

func NewFunctionPtr(identifier string) *Value {
	return &Value{Tag: TagFunctionPtr, Data: FunctionPtr{Identifier: identifier}}
}

func NewForeignPtr(module, identifier string) *Value {
	return &Value{Tag: TagForeignPtr, Data: ForeignPtr{Module: module, Identifier: identifier}}
}

func NewFuturePtr(id ThreadID) *Value {
	return &Value{Tag: TagFuturePtr, Data: id}
}

func (v *Value) IsNull() bool  { return v.Tag == TagNull }
func (v *Value) IsTrue() bool  { return v.Tag == TagTrue }
func (v *Value) IsFalse() bool { return v.Tag == TagFalse }
func (v *Value) IsBool() bool  { return v.Tag == TagTrue || v.Tag == TagFalse }
func (v *Value) IsInt() bool   { return v.Tag == TagInt }
func (v *Value) IsFloat() bool { return v.Tag == TagFloat }
func (v *Value) IsNumeric() bool {
	return v.Tag == TagInt || v.Tag == TagFloat
}
func (v *Value) IsSymbol() bool      { return v.Tag == TagSymbol }
func (v *Value) IsString() bool      { return v.Tag == TagString }
func (v *Value) IsList() bool        { return v.Tag == TagList }
func (v *Value) IsQuote() bool       { return v.Tag == TagQuote }
func (v *Value) IsFunctionPtr() bool { return v.Tag == TagFunctionPtr }
func (v *Value) IsForeignPtr() bool  { return v.Tag == TagForeignPtr }
func (v *Value) IsFuturePtr() bool   { return v.Tag == TagFuturePtr }
func (v *Value) IsInstruction() bool { return v.Tag == TagInstruction }

// IsAtom reports whether v is anything other than a list — the `atomp`
// builtin, true for both empty and non-empty non-list values.
func (v *Value) IsAtom() bool { return v.Tag != TagList }

// Truthy implements the VM's truthiness rule: everything is truthy except
// Null and False.
func (v *Value) Truthy() bool {
	return v.Tag != TagNull && v.Tag != TagFalse
}

func (v *Value) AsInt() (int64, bool) {
	i, ok := v.Data.(int64)
	return i, ok && v.Tag == TagInt
}

func (v *Value) AsFloat() (float64, bool) {
	f, ok := v.Data.(float64)
	return f, ok && v.Tag == TagFloat
}

// AsNumber returns v's numeric value as a float64 regardless of whether it
// is tagged int or float.
func (v *Value) AsNumber() (float64, bool) {
	switch v.Tag {
	case TagInt:
		return float64(v.Data.(int64)), true
	case TagFloat:
		return v.Data.(float64), true
	default:
		return 0, false
	}
}

func (v *Value) AsString() (string, bool) {
	s, ok := v.Data.(string)
	return s, ok && (v.Tag == TagString || v.Tag == TagSymbol)
}

func (v *Value) AsList() ([]*Value, bool) {
	l, ok := v.Data.([]*Value)
	return l, ok && v.Tag == TagList
}

func (v *Value) AsFunctionPtr() (FunctionPtr, bool) {
	f, ok := v.Data.(FunctionPtr)
	return f, ok && v.Tag == TagFunctionPtr
}

func (v *Value) AsForeignPtr() (ForeignPtr, bool) {
	f, ok := v.Data.(ForeignPtr)
	return f, ok && v.Tag == TagForeignPtr
}

func (v *Value) AsFuturePtr() (ThreadID, bool) {
	id, ok := v.Data.(ThreadID)
	return id, ok && v.Tag == TagFuturePtr
}

// Equal implements the `==` builtin's comparison rule: numeric values
// compare by value across int/float, lists compare deep-structurally,
// everything else compares by tag and payload.
func (v *Value) Equal(o *Value) bool {
	if v == nil || o == nil {
		return v == o
	}
	if v.IsNumeric() && o.IsNumeric() {
		a, _ := v.AsNumber()
		b, _ := o.AsNumber()
		return a == b
	}
	if v.Tag != o.Tag {
		return false
	}
	switch v.Tag {
	case TagNull, TagTrue, TagFalse:
		return true
	case TagString, TagSymbol, TagInstruction:
		return v.Data.(string) == o.Data.(string)
	case TagList:
		va, _ := v.AsList()
		vb, _ := o.AsList()
		if len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !va[i].Equal(vb[i]) {
				return false
			}
		}
		return true
	case TagQuote:
		return v.Data.(*Value).Equal(o.Data.(*Value))
	case TagFunctionPtr:
		return v.Data.(FunctionPtr) == o.Data.(FunctionPtr)
	case TagForeignPtr:
		return v.Data.(ForeignPtr) == o.Data.(ForeignPtr)
	case TagFuturePtr:
		return v.Data.(ThreadID) == o.Data.(ThreadID)
	default:
		return false
	}
}

// Compare orders two values for the `<`/`>` builtins. Only numeric-numeric
// and string-string pairs are ordered; anything else is a type mismatch.
func (v *Value) Compare(o *Value) (int, error) {
	if v.IsNumeric() && o.IsNumeric() {
		a, _ := v.AsNumber()
		b, _ := o.AsNumber()
		switch {
		case a < b:
			return -1, nil
		case a > b:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if v.Tag == TagString && o.Tag == TagString {
		return strings.Compare(v.Data.(string), o.Data.(string)), nil
	}
	return 0, fmt.Errorf("%w: cannot compare %s and %s", ErrTypeMismatch, v.Tag, o.Tag)
}

// Display renders v the way the `print` builtin writes it to stdout.
func (v *Value) Display() string {
	switch v.Tag {
	case TagNull:
		return "null"
	case TagTrue:
		return "true"
	case TagFalse:
		return "false"
	case TagInt:
		return strconv.FormatInt(v.Data.(int64), 10)
	case TagFloat:
		return strconv.FormatFloat(v.Data.(float64), 'g', -1, 64)
	case TagSymbol:
		return v.Data.(string)
	case TagString:
		return v.Data.(string)
	case TagInstruction:
		return "#<instr:" + v.Data.(string) + ">"
	case TagList:
		elts, _ := v.AsList()
		parts := make([]string, len(elts))
		for i, e := range elts {
			parts[i] = e.Display()
		}
		return "(" + strings.Join(parts, " ") + ")"
	case TagQuote:
		return "'" + v.Data.(*Value).Display()
	case TagFunctionPtr:
		fp, _ := v.AsFunctionPtr()
		return "#<fn:" + fp.Identifier + ">"
	case TagForeignPtr:
		fp, _ := v.AsForeignPtr()
		return "#<foreign:" + fp.Module + "." + fp.Identifier + ">"
	case TagFuturePtr:
		id, _ := v.AsFuturePtr()
		return "#<future:" + string(id) + ">"
	default:
		return "#<?>"
	}
}

// ToHost converts a Teal value into a plain Go value for consumption by a
// foreign (host) callable. Function/foreign/future pointers and
// instruction tokens have no host representation and are a type mismatch.
func ToHost(v *Value) (interface{}, error) {
	switch v.Tag {
	case TagNull:
		return nil, nil
	case TagTrue:
		return true, nil
	case TagFalse:
		return false, nil
	case TagInt:
		return v.Data.(int64), nil
	case TagFloat:
		return v.Data.(float64), nil
	case TagSymbol, TagString:
		return v.Data.(string), nil
	case TagList:
		elts, _ := v.AsList()
		out := make([]interface{}, len(elts))
		for i, e := range elts {
			h, err := ToHost(e)
			if err != nil {
				return nil, err
			}
			out[i] = h
		}
		return out, nil
	case TagQuote:
		return ToHost(v.Data.(*Value))
	default:
		return nil, fmt.Errorf("%w: value tag %s has no host representation", ErrTypeMismatch, v.Tag)
	}
}

// FromHost converts a plain Go value returned by a foreign callable back
// into a tagged Value.
func FromHost(x interface{}) (*Value, error) {
	switch t := x.(type) {
	case nil:
		return Null, nil
	case bool:
		return NewBool(t), nil
	case int:
		return NewInt(int64(t)), nil
	case int64:
		return NewInt(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%w: non-finite float from host", ErrTypeMismatch)
		}
		return NewFloat(t), nil
	case string:
		return NewString(t), nil
	case []interface{}:
		elts := make([]*Value, len(t))
		for i, e := range t {
			v, err := FromHost(e)
			if err != nil {
				return nil, err
			}
			elts[i] = v
		}
		return NewList(elts), nil
	default:
		return nil, fmt.Errorf("%w: cannot convert host value %T", ErrTypeMismatch, x)
	}
}

// Serialise produces a plain-data rendering of v suitable for JSON/YAML
// encoding, matching the field layout in the round-trip contract.
func (v *Value) Serialise() map[string]interface{} {
	out := map[string]interface{}{"tag": v.Tag.String()}
	switch v.Tag {
	case TagInt:
		out["value"] = v.Data.(int64)
	case TagFloat:
		out["value"] = v.Data.(float64)
	case TagSymbol, TagString, TagInstruction:
		out["value"] = v.Data.(string)
	case TagList:
		elts, _ := v.AsList()
		ser := make([]map[string]interface{}, len(elts))
		for i, e := range elts {
			ser[i] = e.Serialise()
		}
		out["value"] = ser
	case TagQuote:
		out["value"] = v.Data.(*Value).Serialise()
	case TagFunctionPtr:
		fp, _ := v.AsFunctionPtr()
		out["identifier"] = fp.Identifier
	case TagForeignPtr:
		fp, _ := v.AsForeignPtr()
		out["module"] = fp.Module
		out["identifier"] = fp.Identifier
	case TagFuturePtr:
		id, _ := v.AsFuturePtr()
		out["thread_id"] = string(id)
	}
	return out
}

// Deserialise is the inverse of Serialise.
func Deserialise(m map[string]interface{}) (*Value, error) {
	tagName, _ := m["tag"].(string)
	switch tagName {
	case "null":
		return Null, nil
	case "true":
		return True, nil
	case "false":
		return False, nil
	case "int":
		switch n := m["value"].(type) {
		case int64:
			return NewInt(n), nil
		case float64:
			return NewInt(int64(n)), nil
		}
		return nil, fmt.Errorf("%w: malformed int payload", ErrTypeMismatch)
	case "float":
		f, ok := m["value"].(float64)
		if !ok {
			return nil, fmt.Errorf("%w: malformed float payload", ErrTypeMismatch)
		}
		return NewFloat(f), nil
	case "symbol":
		s, _ := m["value"].(string)
		return NewSymbol(s), nil
	case "string":
		s, _ := m["value"].(string)
		return NewString(s), nil
	case "instruction":
		s, _ := m["value"].(string)
		return NewInstruction(s), nil
	case "list":
		raw, _ := m["value"].([]map[string]interface{})
		elts := make([]*Value, len(raw))
		for i, r := range raw {
			v, err := Deserialise(r)
			if err != nil {
				return nil, err
			}
			elts[i] = v
		}
		return NewList(elts), nil
	case "quote":
		inner, ok := m["value"].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: malformed quote payload", ErrTypeMismatch)
		}
		v, err := Deserialise(inner)
		if err != nil {
			return nil, err
		}
		return NewQuote(v), nil
	case "function-ptr":
		id, _ := m["identifier"].(string)
		return NewFunctionPtr(id), nil
	case "foreign-ptr":
		mod, _ := m["module"].(string)
		id, _ := m["identifier"].(string)
		return NewForeignPtr(mod, id), nil
	case "future-ptr":
		id, _ := m["thread_id"].(string)
		return NewFuturePtr(ThreadID(id)), nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %q", ErrTypeMismatch, tagName)
	}
}

// SortStrings is a small helper used by diagnostics (e.g. the entry-point
// headers of Executable.Listing()) to print deterministic output over map
// keys.
func SortStrings(ss []string) []string {
	cp := append([]string(nil), ss...)
	sort.Strings(cp)
	return cp
}
