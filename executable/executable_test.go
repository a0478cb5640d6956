package executable

import (
	"errors"
	"strings"
	"testing"

	"github.com/teal-lang/tealvm/opcodes"
	"github.com/teal-lang/tealvm/values"
)

func buildSquare() *Executable {
	code := []*opcodes.Instruction{
		opcodes.NewBind("n"),
		opcodes.NewPushB("n"),
		opcodes.NewPushB("n"),
		opcodes.NewPushB("*"),
		opcodes.NewCall(2),
		opcodes.NewReturn(),
	}
	locations := map[string]int{"sq": 0}
	bindings := map[string]*values.Value{"sq": values.NewFunctionPtr("sq")}
	return New(code, locations, bindings)
}

func TestLocationOf(t *testing.T) {
	e := buildSquare()
	ip, err := e.LocationOf("sq")
	if err != nil || ip != 0 {
		t.Fatalf("LocationOf(sq) = %d, %v", ip, err)
	}
	if _, err := e.LocationOf("nope"); !errors.Is(err, ErrUnknownLocation) {
		t.Fatalf("expected ErrUnknownLocation, got %v", err)
	}
}

func TestCodeAtBounds(t *testing.T) {
	e := buildSquare()
	if _, err := e.CodeAt(len(e.Code)); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
	if _, err := e.CodeAt(0); err != nil {
		t.Fatalf("CodeAt(0): %v", err)
	}
}

func TestListingHasEntryHeader(t *testing.T) {
	e := buildSquare()
	listing := e.Listing()
	if !strings.Contains(listing, ";; sq:") {
		t.Fatalf("listing missing function header: %s", listing)
	}
	if !strings.Contains(listing, "RETURN") {
		t.Fatalf("listing missing instruction text: %s", listing)
	}
}
