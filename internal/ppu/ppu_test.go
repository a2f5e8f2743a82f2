package ppu

import "testing"

// statMode reads the mode bits from STAT (FF41).
func statMode(p *PPU) byte { return p.CPURead(0xFF41) & 0x03 }

func TestPPUModeSequenceOneLine(t *testing.T) {
	p := New(func(bit int) {})
	p.CPUWrite(0xFF40, 0x80) // LCD on
	if m := statMode(p); m != 2 {
		t.Fatalf("expected mode 2 after LCD on, got %d", m)
	}
	p.Tick(80)
	if m := statMode(p); m != 3 {
		t.Fatalf("expected mode 3 at dot 80, got %d", m)
	}
	p.Tick(172)
	if m := statMode(p); m != 0 {
		t.Fatalf("expected mode 0 at dot 252, got %d", m)
	}
	p.Tick(456 - 252)
	if ly := p.CPURead(0xFF44); ly != 1 {
		t.Fatalf("expected LY=1, got %d", ly)
	}
	if m := statMode(p); m != 2 {
		t.Fatalf("expected mode 2 at new line, got %d", m)
	}
}

func TestPPUVBlankAndSTATOnVBlank(t *testing.T) {
	var got []int
	p := New(func(bit int) { got = append(got, bit) })
	p.CPUWrite(0xFF41, 1<<4) // STAT enable on VBlank
	p.CPUWrite(0xFF40, 0x80) // LCD on
	p.Tick(144 * 456)

	vb, st := 0, 0
	for _, b := range got {
		if b == 0 {
			vb++
		} else if b == 1 {
			st++
		}
	}
	if vb == 0 {
		t.Fatalf("expected at least one VBlank IRQ at LY=144")
	}
	if st == 0 {
		t.Fatalf("expected STAT IRQ on VBlank entry when enabled")
	}
}

func TestSTATHBlankFiresOncePerLine(t *testing.T) {
	var stats int
	p := New(func(bit int) {
		if bit == 1 {
			stats++
		}
	})
	p.CPUWrite(0xFF41, 1<<3) // STAT enable on HBlank only
	p.CPUWrite(0xFF40, 0x80)
	p.Tick(456 * 3) // three full lines
	if stats != 3 {
		t.Fatalf("expected exactly 3 HBlank STAT IRQs, got %d", stats)
	}
}

func TestSTATLYCCoincidenceEdgeTriggered(t *testing.T) {
	var stats int
	p := New(func(bit int) {
		if bit == 1 {
			stats++
		}
	})
	p.CPUWrite(0xFF41, 1<<6) // STAT enable on LYC only
	p.CPUWrite(0xFF45, 2)    // LYC = 2
	p.CPUWrite(0xFF40, 0x80) // LCD on, LY starts at 0

	// LY passes through 0 and 1 (no match) before reaching 2 (match): exactly
	// one rising edge, not one per dot the condition holds.
	p.Tick(456 * 3)
	if stats != 1 {
		t.Fatalf("expected exactly 1 STAT IRQ for LYC coincidence, got %d", stats)
	}
}

func TestSTATOverlappingSourcesFireOnce(t *testing.T) {
	// HBlank and OAM-scan STAT both enabled: the combined STAT line stays
	// high across the HBlank->OAM boundary (no intervening low dot), so a
	// correct edge-triggered implementation must not double-fire there.
	var stats int
	p := New(func(bit int) {
		if bit == 1 {
			stats++
		}
	})
	p.CPUWrite(0xFF41, (1<<3)|(1<<5))
	p.CPUWrite(0xFF40, 0x80) // LCD on enters OAM mode, itself a rising edge
	stats = 0
	p.Tick(456) // one full line: HBlank rising edge, then OAM of next line (no new edge)
	if stats != 1 {
		t.Fatalf("expected exactly 1 STAT IRQ across overlapping HBlank/OAM sources, got %d", stats)
	}
}
