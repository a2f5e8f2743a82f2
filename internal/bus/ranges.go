package bus

// addrRange names a contiguous, inclusive CPU address region and whether it
// accepts writes. It exists purely for conflict-checking and introspection;
// the hot Read/Write path below still dispatches with a plain switch, the
// way the teacher's bus does, but every region it switches on must first be
// registered here so a newly added range can't silently overlap an existing
// one.
type addrRange struct {
	name       string
	start, end uint16
	writable   bool
}

// regionTable lists every CPU-visible address region. Order doesn't matter;
// registerRegions checks all pairs for overlap.
var regionTable = []addrRange{
	{"cart-rom", 0x0000, 0x7FFF, true}, // true: MBC control writes, not ROM itself
	{"vram", 0x8000, 0x9FFF, true},
	{"cart-ram", 0xA000, 0xBFFF, true},
	{"wram", 0xC000, 0xDFFF, true},
	{"echo", 0xE000, 0xFDFF, true},
	{"oam", 0xFE00, 0xFE9F, true},
	{"unusable", 0xFEA0, 0xFEFF, false},
	{"joypad", 0xFF00, 0xFF00, true},
	{"serial", 0xFF01, 0xFF02, true},
	{"timer", 0xFF04, 0xFF07, true},
	{"ifreg", 0xFF0F, 0xFF0F, true},
	{"apu-unimplemented", 0xFF10, 0xFF3F, false},
	{"ppu-regs", 0xFF40, 0xFF45, true},
	{"dma", 0xFF46, 0xFF46, true},
	{"ppu-regs2", 0xFF47, 0xFF4B, true},
	{"cgb-unmapped-1", 0xFF4C, 0xFF4F, false},
	{"boot-disable", 0xFF50, 0xFF50, true},
	{"cgb-unmapped-2", 0xFF51, 0xFF7F, false},
	{"hram", 0xFF80, 0xFFFE, true},
	{"ie", 0xFFFF, 0xFFFF, true},
}

// registerRegions verifies regionTable is free of overlaps. Called once from
// New/NewWithCartridge; a conflict means two regions were registered for the
// same address and is a programming error, so it panics.
func registerRegions(regions []addrRange) {
	for i := 0; i < len(regions); i++ {
		for j := i + 1; j < len(regions); j++ {
			a, b := regions[i], regions[j]
			if a.start <= b.end && b.start <= a.end {
				panic(&BusMappingConflict{Start: maxU16(a.start, b.start), End: minU16(a.end, b.end)})
			}
		}
	}
}

// findRegion returns the region addr falls into, if any.
func findRegion(addr uint16) (addrRange, bool) {
	for _, r := range regionTable {
		if addr >= r.start && addr <= r.end {
			return r, true
		}
	}
	return addrRange{}, false
}

func maxU16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}
