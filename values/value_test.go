package values

import "testing"

func TestTruthy(t *testing.T) {
	cases := []struct {
		v    *Value
		want bool
	}{
		{Null, false},
		{False, false},
		{True, true},
		{NewInt(0), true},
		{NewList(nil), true},
		{NewString(""), true},
	}
	for _, c := range cases {
		if got := c.v.Truthy(); got != c.want {
			t.Errorf("%s.Truthy() = %v, want %v", c.v.Display(), got, c.want)
		}
	}
}

func TestEqualCrossNumeric(t *testing.T) {
	if !NewInt(3).Equal(NewFloat(3.0)) {
		t.Fatal("expected 3 == 3.0")
	}
	if NewInt(3).Equal(NewInt(4)) {
		t.Fatal("expected 3 != 4")
	}
}

func TestEqualLists(t *testing.T) {
	a := NewList([]*Value{NewInt(1), NewString("x")})
	b := NewList([]*Value{NewInt(1), NewString("x")})
	c := NewList([]*Value{NewInt(1), NewString("y")})
	if !a.Equal(b) {
		t.Fatal("expected deep-equal lists to be Equal")
	}
	if a.Equal(c) {
		t.Fatal("expected differing lists to not be Equal")
	}
}

func TestListImmutableFromCaller(t *testing.T) {
	src := []*Value{NewInt(1), NewInt(2)}
	v := NewList(src)
	src[0] = NewInt(99)
	elts, _ := v.AsList()
	if got, _ := elts[0].AsInt(); got != 1 {
		t.Fatalf("mutating caller slice leaked into list: got %d", got)
	}
}

func TestCompareTypeMismatch(t *testing.T) {
	_, err := NewInt(1).Compare(NewString("x"))
	if err == nil {
		t.Fatal("expected type mismatch comparing int and string")
	}
}

func TestHostRoundTrip(t *testing.T) {
	orig := NewList([]*Value{NewInt(1), NewString("a"), NewBool(true), Null})
	h, err := ToHost(orig)
	if err != nil {
		t.Fatalf("ToHost: %v", err)
	}
	back, err := FromHost(h)
	if err != nil {
		t.Fatalf("FromHost: %v", err)
	}
	if !orig.Equal(back) {
		t.Fatalf("round trip mismatch: %s != %s", orig.Display(), back.Display())
	}
}

func TestSerialiseRoundTrip(t *testing.T) {
	samples := []*Value{
		Null,
		True,
		False,
		NewInt(42),
		NewFloat(2.5),
		NewSymbol("sq"),
		NewString("hello"),
		NewList([]*Value{NewInt(1), NewInt(2)}),
		NewQuote(NewSymbol("x")),
		NewFunctionPtr("sq"),
		NewForeignPtr("mathx", "sqrt"),
		NewFuturePtr(ThreadID("t-1")),
		NewInstruction("+"),
	}
	for _, v := range samples {
		back, err := Deserialise(v.Serialise())
		if err != nil {
			t.Fatalf("Deserialise(%s): %v", v.Display(), err)
		}
		if !v.Equal(back) {
			t.Errorf("round trip mismatch for %s: got %s", v.Display(), back.Display())
		}
	}
}
