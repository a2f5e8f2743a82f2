// Package bus implements the DMG 16-bit address space: cartridge, work RAM,
// high RAM, the PPU's VRAM/OAM windows, and the IO register block, wired to
// the timer and interrupt controller sub-components.
package bus

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/andresmanz/gbcore/internal/cart"
	"github.com/andresmanz/gbcore/internal/interrupt"
	"github.com/andresmanz/gbcore/internal/ppu"
	"github.com/andresmanz/gbcore/internal/timer"
)

// Bus wires CPU-visible address space to cartridge, WRAM, HRAM, PPU, timer
// and interrupt controller.
type Bus struct {
	cart cart.Cartridge

	// Work RAM (WRAM) 8 KiB at 0xC000–0xDFFF; Echo 0xE000–0xFDFF mirrors C000–DDFF.
	wram [0x2000]byte

	// High RAM (HRAM) 0xFF80–0xFFFE (127 bytes)
	hram [0x7F]byte

	ppu *ppu.PPU
	tm  *timer.Timer
	ic  *interrupt.Controller

	// JOYP
	joypSelect byte // bits 5-4 as last written
	joypad     byte // bitmask of pressed buttons (1=pressed), see constants below
	joypLower4 byte // last computed lower 4 bits (active-low) for interrupt edge detection

	// Serial
	sb byte      // FF01 data
	sc byte      // FF02 control (bit7 start, bit0 clock source; external clock completes immediately)
	sw io.Writer // sink for serial output (optional)

	dma       byte // FF46
	dmaActive bool
	dmaSrc    uint16
	dmaIndex  int

	bootROM     []byte
	bootEnabled bool

	debugTimer bool
}

// New constructs a Bus with a cartridge implementation chosen from the ROM header.
func New(rom []byte) *Bus {
	return NewWithCartridge(cart.NewCartridge(rom))
}

// NewWithCartridge wires a provided cartridge implementation.
func NewWithCartridge(c cart.Cartridge) *Bus {
	registerRegions(regionTable)

	b := &Bus{cart: c, ic: interrupt.New()}
	b.ppu = ppu.New(func(bit int) { b.ic.RequestInterrupt(interrupt.Source(bit)) })
	b.tm = timer.New(func() { b.ic.RequestInterrupt(interrupt.Timer) })
	if os.Getenv("GB_DEBUG_TIMER") != "" {
		b.debugTimer = true
	}
	return b
}

// PPU returns the internal PPU for renderer access.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// Cart returns the underlying cartridge for optional battery operations.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// Interrupts returns the interrupt controller so the CPU can poll/service it.
func (b *Bus) Interrupts() *interrupt.Controller { return b.ic }

func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return b.wram[addr-0xC000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		return b.wram[mirror-0xC000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return 0xFF
		}
		return b.ppu.CPURead(addr)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		return 0xFF
	case addr == 0xFF00:
		return b.readJoyp()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | (b.sc & 0x81)
	case addr == 0xFF04:
		return b.tm.DIV()
	case addr == 0xFF05:
		return b.tm.TIMA()
	case addr == 0xFF06:
		return b.tm.TMA()
	case addr == 0xFF07:
		return b.tm.TAC()
	case addr == 0xFF0F:
		return b.ic.IF()
	case addr >= 0xFF10 && addr <= 0xFF3F:
		return 0xFF
	case addr >= 0xFF40 && addr <= 0xFF45, addr >= 0xFF47 && addr <= 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return b.dma
	case addr == 0xFF50:
		return 0xFF
	case addr >= 0xFF4C && addr <= 0xFF7F:
		return 0xFF
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFFFF:
		return b.ic.IE()
	}
	return 0xFF
}

func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
	case addr >= 0xC000 && addr <= 0xDFFF:
		b.wram[addr-0xC000] = value
	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		if mirror >= 0xC000 && mirror <= 0xDDFF {
			b.wram[mirror-0xC000] = value
		}
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if !b.dmaActive {
			b.ppu.CPUWrite(addr, value)
		}
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		// unusable region, writes dropped
	case addr == 0xFF00:
		b.joypSelect = value & 0x30
		b.updateJoypadIRQ()
	case addr == 0xFF01:
		b.sb = value
	case addr == 0xFF02:
		b.sc = value & 0x81
		if (b.sc & 0x80) != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.ic.RequestInterrupt(interrupt.Serial)
			b.sc &^= 0x80
		}
	case addr == 0xFF04:
		b.tm.WriteDIV()
		if b.debugTimer {
			fmt.Printf("[TMR] DIV write -> reset tima=%02X tma=%02X tac=%02X\n", b.tm.TIMA(), b.tm.TMA(), b.tm.TAC())
		}
	case addr == 0xFF05:
		b.tm.WriteTIMA(value)
		if b.debugTimer {
			fmt.Printf("[TMR] TIMA write %02X\n", value)
		}
	case addr == 0xFF06:
		b.tm.WriteTMA(value)
		if b.debugTimer {
			fmt.Printf("[TMR] TMA write %02X\n", value)
		}
	case addr == 0xFF07:
		b.tm.WriteTAC(value)
		if b.debugTimer {
			fmt.Printf("[TMR] TAC write %02X\n", value)
		}
	case addr == 0xFF0F:
		b.ic.SetIF(value)
	case addr >= 0xFF10 && addr <= 0xFF3F:
		// sound hardware not implemented; writes accepted but discarded
	case addr >= 0xFF40 && addr <= 0xFF45, addr >= 0xFF47 && addr <= 0xFF4B:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF46:
		b.dma = value
		b.dmaActive = true
		b.dmaSrc = uint16(value) << 8
		b.dmaIndex = 0
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
	case addr >= 0xFF4C && addr <= 0xFF7F:
		// CGB-only registers, not implemented
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	case addr == 0xFFFF:
		b.ic.SetIE(value)
	}
}

// ReadStrict is like Read but reports BusInvalidAddress for addresses that
// fall outside the registered region table. Intended for debugger/test use;
// the hot CPU path uses Read.
func (b *Bus) ReadStrict(addr uint16) (byte, error) {
	if _, ok := findRegion(addr); !ok {
		return 0, &BusInvalidAddress{Addr: addr}
	}
	return b.Read(addr), nil
}

// WriteStrict is like Write but reports BusWriteRejected for regions marked
// non-writable in the region table (unusable RAM, unimplemented APU/CGB
// registers).
func (b *Bus) WriteStrict(addr uint16, value byte) error {
	r, ok := findRegion(addr)
	if !ok {
		return &BusInvalidAddress{Addr: addr}
	}
	if !r.writable {
		return &BusWriteRejected{Addr: addr}
	}
	b.Write(addr, value)
	return nil
}

// Joypad button bitmasks for SetJoypadState. Bits set mean "pressed".
const (
	JoypRight     = 1 << 0
	JoypLeft      = 1 << 1
	JoypUp        = 1 << 2
	JoypDown      = 1 << 3
	JoypA         = 1 << 4
	JoypB         = 1 << 5
	JoypSelectBtn = 1 << 6
	JoypStart     = 1 << 7
)

func (b *Bus) readJoyp() byte {
	res := byte(0xC0 | (b.joypSelect & 0x30) | 0x0F)
	if (b.joypSelect & 0x10) == 0 { // P14 low selects D-Pad
		if b.joypad&JoypRight != 0 {
			res &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			res &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			res &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			res &^= 0x08
		}
	}
	if (b.joypSelect & 0x20) == 0 { // P15 low selects Buttons
		if b.joypad&JoypA != 0 {
			res &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			res &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			res &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			res &^= 0x08
		}
	}
	return res
}

// SetJoypadState sets which buttons are currently pressed. Pass a mask
// built from the Joyp* constants; set bits mean pressed.
func (b *Bus) SetJoypadState(mask byte) {
	b.joypad = mask
	b.updateJoypadIRQ()
}

// updateJoypadIRQ recomputes JOYP's lower 4 bits (active-low) and raises
// the joypad interrupt on any 1->0 transition.
func (b *Bus) updateJoypadIRQ() {
	prev := b.joypLower4
	b.joypLower4 = b.readJoyp() & 0x0F
	if prev&^b.joypLower4 != 0 {
		b.ic.RequestInterrupt(interrupt.Joypad)
	}
}

// SetSerialWriter sets a sink that receives bytes written via the serial port.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM loads a DMG boot ROM to be mapped at 0x0000-0x00FF until disabled via a 0xFF50 write.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// Tick advances the timer, PPU, and OAM DMA by the given number of T-cycles.
func (b *Bus) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	b.tm.Tick(cycles)
	for i := 0; i < cycles; i++ {
		b.ppu.Tick(1)
		if b.dmaActive {
			// dmaIndex counts T-cycles: a 2 M-cycle start delay, then one
			// byte per M-cycle (4 T-cycles) for 0xA0 bytes.
			if t := b.dmaIndex - 8; t >= 0 && t%4 == 0 {
				i := uint16(t / 4)
				b.ppu.CPUWrite(0xFE00+i, b.Read(b.dmaSrc+i))
			}
			b.dmaIndex++
			if b.dmaIndex >= 8+0xA0*4 {
				b.dmaActive = false
			}
		}
	}
}

// --- Save/Load state ---

type busState struct {
	WRAM      [0x2000]byte
	HRAM      [0x7F]byte
	JoypSel   byte
	Joypad    byte
	JoypL4    byte
	SB, SC    byte
	DMA       byte
	DMAActive bool
	DMASrc    uint16
	DMAIdx    int
	BootEn    bool

	TimerDiv     uint16
	TimerTIMA    byte
	TimerTMA     byte
	TimerTAC     byte
	TimerReload  int
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	div, tima, tma, tac, reload := b.tm.Snapshot()
	s := busState{
		WRAM: b.wram, HRAM: b.hram,
		JoypSel: b.joypSelect, Joypad: b.joypad, JoypL4: b.joypLower4,
		SB: b.sb, SC: b.sc,
		DMA: b.dma, DMAActive: b.dmaActive, DMASrc: b.dmaSrc, DMAIdx: b.dmaIndex,
		BootEn: b.bootEnabled,
		TimerDiv: div, TimerTIMA: tima, TimerTMA: tma, TimerTAC: tac, TimerReload: reload,
	}
	_ = enc.Encode(s)
	_ = enc.Encode(b.ic.IE())
	_ = enc.Encode(b.ic.IF())
	if b.ppu != nil {
		_ = enc.Encode(b.ppu.SaveState())
	} else {
		_ = enc.Encode([]byte(nil))
	}
	if bb, ok := b.cart.(interface{ SaveState() []byte }); ok {
		_ = enc.Encode(bb.SaveState())
	} else {
		_ = enc.Encode([]byte(nil))
	}
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var s busState
	if err := dec.Decode(&s); err != nil {
		return
	}
	b.wram = s.WRAM
	b.hram = s.HRAM
	b.joypSelect, b.joypad, b.joypLower4 = s.JoypSel, s.Joypad, s.JoypL4
	b.sb, b.sc = s.SB, s.SC
	b.dma, b.dmaActive, b.dmaSrc, b.dmaIndex = s.DMA, s.DMAActive, s.DMASrc, s.DMAIdx
	b.bootEnabled = s.BootEn
	b.tm.Restore(s.TimerDiv, s.TimerTIMA, s.TimerTMA, s.TimerTAC, s.TimerReload)

	var ie, ifr byte
	if err := dec.Decode(&ie); err == nil {
		b.ic.SetIE(ie)
	}
	if err := dec.Decode(&ifr); err == nil {
		b.ic.SetIF(ifr)
	}

	var ps []byte
	if err := dec.Decode(&ps); err == nil && b.ppu != nil {
		b.ppu.LoadState(ps)
	}
	var cs []byte
	if err := dec.Decode(&cs); err == nil {
		if bb, ok := b.cart.(interface{ LoadState([]byte) }); ok {
			bb.LoadState(cs)
		}
	}
}
