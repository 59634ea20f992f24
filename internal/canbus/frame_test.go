package canbus_test

import (
	"testing"

	"github.com/vdatab/canrm/internal/canbus"
)

func TestFrameIDMasking(t *testing.T) {
	f := canbus.Frame{CanID: 0x12345678 | canbus.EFF}
	if !f.IsExtended() {
		t.Fatal("expected extended frame")
	}
	if got := f.ID(); got != 0x12345678 {
		t.Fatalf("ID() = %#x, want %#x", got, 0x12345678)
	}

	sff := canbus.Frame{CanID: 0x123}
	if sff.IsExtended() {
		t.Fatal("expected standard frame")
	}
	if got := sff.ID(); got != 0x123 {
		t.Fatalf("ID() = %#x, want %#x", got, 0x123)
	}
}

func TestFilterDisabledPassesAll(t *testing.T) {
	filt := canbus.DisabledFilter()
	if !filt.Accepts(canbus.Frame{CanID: 0x7FF}) {
		t.Fatal("disabled filter must accept everything")
	}
}

func TestFilterMaskMatch(t *testing.T) {
	filt := canbus.Filter{Mode: canbus.FilterMaskMatch, First: 0x7FF, Second: 0x123}
	if !filt.Accepts(canbus.Frame{CanID: 0x123}) {
		t.Fatal("expected match")
	}
	if filt.Accepts(canbus.Frame{CanID: 0x124}) {
		t.Fatal("expected no match")
	}
}

func TestFilterMaskMatchInverse(t *testing.T) {
	filt := canbus.Filter{Mode: canbus.FilterMaskMatch, First: 0x7FF, Second: 0x123 | canbus.INV}
	if filt.Accepts(canbus.Frame{CanID: 0x123}) {
		t.Fatal("inverse filter should reject the would-be match")
	}
	if !filt.Accepts(canbus.Frame{CanID: 0x124}) {
		t.Fatal("inverse filter should accept the would-be non-match")
	}
}

func TestFilterRange(t *testing.T) {
	filt := canbus.Filter{Mode: canbus.FilterRange, First: 0x100, Second: 0x200}
	if !filt.Accepts(canbus.Frame{CanID: 0x150}) {
		t.Fatal("expected in-range match")
	}
	if filt.Accepts(canbus.Frame{CanID: 0x300}) {
		t.Fatal("expected out-of-range rejection")
	}
}

func TestFrameStringRoundTrip(t *testing.T) {
	f := canbus.Frame{CanID: 0x123, Len: 3, Data: [8]byte{0xAA, 0xBB, 0xCC}}
	if got, want := f.String(), "123#AABBCC"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
