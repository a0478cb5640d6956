package state

import (
	"errors"
	"testing"

	"github.com/teal-lang/tealvm/values"
)

func TestArgPreloadOrder(t *testing.T) {
	s := New([]*values.Value{values.NewInt(1), values.NewInt(2), values.NewInt(3)})
	first, err := s.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := first.AsInt(); got != 1 {
		t.Fatalf("expected first pop to yield first arg, got %d", got)
	}
}

func TestPushPopPeekSet(t *testing.T) {
	s := New(nil)
	s.Push(values.NewInt(10))
	s.Push(values.NewInt(20))
	top, err := s.Peek(0)
	if err != nil || top.Data.(int64) != 20 {
		t.Fatalf("Peek(0) = %v, %v", top, err)
	}
	if err := s.Set(0, values.NewInt(99)); err != nil {
		t.Fatal(err)
	}
	v, _ := s.Pop()
	if got, _ := v.AsInt(); got != 99 {
		t.Fatalf("expected patched value 99, got %d", got)
	}
}

func TestPopUnderflow(t *testing.T) {
	s := New(nil)
	if _, err := s.Pop(); !errors.Is(err, ErrStackUnderflow) {
		t.Fatalf("expected ErrStackUnderflow, got %v", err)
	}
}

func TestAdvanceIPRelative(t *testing.T) {
	s := New(nil)
	s.SetIP(5)
	s.AdvanceIP(1)  // the machine's ip++ before dispatch
	s.AdvanceIP(-2) // a JUMP -2
	if s.IP() != 4 {
		t.Fatalf("expected ip 4, got %d", s.IP())
	}
}

func TestSerialiseRoundTrip(t *testing.T) {
	s := New(nil)
	s.Push(values.NewInt(7))
	s.Bind("x", values.NewString("hi"))
	s.SetIP(3)
	s.SetCurrentArec(ARPtr(2))
	s.SetStopped(true)

	back, err := Deserialise(s.Serialise())
	if err != nil {
		t.Fatal(err)
	}
	if back.IP() != 3 || !back.Stopped() || back.CurrentArec() != 2 {
		t.Fatalf("scalar fields did not round trip: %+v", back)
	}
	v, err := back.Pop()
	if err != nil || v.Data.(int64) != 7 {
		t.Fatalf("stack did not round trip: %v, %v", v, err)
	}
	if bound, ok := back.Lookup("x"); !ok || bound.Data.(string) != "hi" {
		t.Fatalf("bindings did not round trip: %v, %v", bound, ok)
	}
}
