package interrupt

import "testing"

func TestRequestInterruptTouchesOnlyIF(t *testing.T) {
	c := New()
	c.SetIE(0x00)
	c.RequestInterrupt(Timer)
	if c.IE() != 0x00 {
		t.Fatalf("RequestInterrupt modified IE: got %#02x want 0x00", c.IE())
	}
	if c.IF()&0x1F != 1<<uint(Timer) {
		t.Fatalf("IF bit not set: got %#02x", c.IF())
	}
}

func TestNextInterruptPriority(t *testing.T) {
	c := New()
	c.SetIE(0x1F)
	c.SetIF(0x14) // bits 2 (Timer) and 4 (Joypad) set, not VBlank
	src, ok := c.NextInterrupt()
	if !ok || src != Timer {
		t.Fatalf("expected Timer (lowest set bit in 0x14), got %v ok=%v", src, ok)
	}
}

func TestNextInterruptRespectsIE(t *testing.T) {
	c := New()
	c.SetIE(0x10) // only Joypad enabled
	c.SetIF(0x1F) // everything pending
	src, ok := c.NextInterrupt()
	if !ok || src != Joypad {
		t.Fatalf("expected Joypad, got %v ok=%v", src, ok)
	}
}

func TestAcknowledgeClearsBit(t *testing.T) {
	c := New()
	c.SetIE(0x01)
	c.RequestInterrupt(VBlank)
	if !c.HasPending() {
		t.Fatal("expected pending interrupt")
	}
	c.Acknowledge(VBlank)
	if c.HasPending() {
		t.Fatal("expected no pending interrupt after acknowledge")
	}
}

func TestVectorAddresses(t *testing.T) {
	cases := map[Source]uint16{VBlank: 0x40, LCDStat: 0x48, Timer: 0x50, Serial: 0x58, Joypad: 0x60}
	for src, want := range cases {
		if got := src.Vector(); got != want {
			t.Fatalf("%v vector got %#04x want %#04x", src, got, want)
		}
	}
}
