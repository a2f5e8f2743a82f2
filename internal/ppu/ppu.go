// Package ppu implements the DMG picture processing unit: VRAM/OAM storage,
// the LCDC/STAT/LY/LYC/palette/scroll register file, per-dot mode timing,
// and scanline composition of background, window, and sprite layers into an
// RGBA framebuffer.
package ppu

import "bytes"
import "encoding/gob"

// InterruptRequester raises an interrupt source by IF bit index
// (0:VBlank, 1:STAT, ...).
type InterruptRequester func(bit int)

const (
	screenW = 160
	screenH = 144
)

// LineRegs captures the registers that affected composition of one scanline,
// for introspection and testing.
type LineRegs struct {
	WinLine byte
}

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, dot-accurate mode timing, and
// scanline rendering into an RGBA framebuffer.
type PPU struct {
	vram [0x2000]byte // 0x8000–0x9FFF
	oam  [0xA0]byte   // 0xFE00–0xFE9F

	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot int // dots within current line [0..455]

	statLine bool // combined OR of every enabled STAT condition; edge-detected

	winLineCounter byte // internal window-line counter, advances only on lines where the window was drawn
	lineRegs       [screenH]LineRegs

	fb [screenW * screenH]byte // composited shade index (0..3) per pixel, row-major

	req InterruptRequester
}

func New(req InterruptRequester) *PPU { return &PPU{req: req} }

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			p.ly = 0
			p.dot = 0
			p.winLineCounter = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			p.ly = 0
			p.dot = 0
			p.winLineCounter = 0
			p.fb = [screenW * screenH]byte{}
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
		p.evalStatLine()
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// Tick advances PPU state by the given number of dots (T-cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++

		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		wasMode := p.stat & 0x03
		p.setMode(mode)
		if wasMode != 3 && mode == 3 {
			p.renderScanline()
		}

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				p.winLineCounter = 0
				if p.req != nil {
					p.req(0) // VBlank
				}
			} else if p.ly > 153 {
				p.ly = 0
			}
			p.updateLYC()
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	p.evalStatLine()
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
	} else {
		p.stat &^= 1 << 2
	}
	p.evalStatLine()
}

// evalStatLine recomputes the combined STAT interrupt condition (the OR of
// every currently-enabled source) and raises the interrupt only on its
// rising edge, once, regardless of how many sources are simultaneously true.
// Evaluating each source independently and firing one IRQ per source would
// raise duplicate interrupts when e.g. HBlank and LYC coincide.
func (p *PPU) evalStatLine() {
	mode := p.stat & 0x03
	lycMatch := p.stat&(1<<2) != 0
	line := false
	if mode == 0 && p.stat&(1<<3) != 0 {
		line = true
	}
	if mode == 2 && p.stat&(1<<5) != 0 {
		line = true
	}
	if mode == 1 && p.stat&(1<<4) != 0 {
		line = true
	}
	if lycMatch && p.stat&(1<<6) != 0 {
		line = true
	}
	if p.lcdc&0x80 == 0 { // LCD off: no STAT sources are live
		line = false
	}
	if line && !p.statLine {
		if p.req != nil {
			p.req(1)
		}
	}
	p.statLine = line
}

// LineRegs returns the registers captured when scanline y was composed.
func (p *PPU) LineRegs(y int) LineRegs {
	if y < 0 || y >= screenH {
		return LineRegs{}
	}
	return p.lineRegs[y]
}

// Framebuffer returns the current frame as packed RGBA (160*144*4 bytes),
// 0=lightest shade, 3=darkest, alpha always opaque.
func (p *PPU) Framebuffer() []byte {
	out := make([]byte, screenW*screenH*4)
	for i, ci := range p.fb {
		shade := shadeToRGB(ci)
		o := i * 4
		out[o], out[o+1], out[o+2], out[o+3] = shade, shade, shade, 0xFF
	}
	return out
}

func shadeToRGB(ci byte) byte {
	switch ci & 0x03 {
	case 0:
		return 0xFF
	case 1:
		return 0xAA
	case 2:
		return 0x55
	default:
		return 0x00
	}
}

// Expose registers for renderer convenience.
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }

// --- Save/Load state ---

type ppuState struct {
	VRAM           [0x2000]byte
	OAM            [0xA0]byte
	LCDC, STAT     byte
	SCY, SCX       byte
	LY, LYC        byte
	BGP, OBP0      byte
	OBP1           byte
	WY, WX         byte
	Dot            int
	StatLine       bool
	WinLineCounter byte
	FB             [screenW * screenH]byte
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := ppuState{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat,
		SCY: p.scy, SCX: p.scx,
		LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1,
		WY: p.wy, WX: p.wx,
		Dot: p.dot, StatLine: p.statLine,
		WinLineCounter: p.winLineCounter, FB: p.fb,
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	if len(data) == 0 {
		return
	}
	dec := gob.NewDecoder(bytes.NewReader(data))
	var s ppuState
	if err := dec.Decode(&s); err != nil {
		return
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat = s.LCDC, s.STAT
	p.scy, p.scx = s.SCY, s.SCX
	p.ly, p.lyc = s.LY, s.LYC
	p.bgp, p.obp0, p.obp1 = s.BGP, s.OBP0, s.OBP1
	p.wy, p.wx = s.WY, s.WX
	p.dot, p.statLine = s.Dot, s.StatLine
	p.winLineCounter, p.fb = s.WinLineCounter, s.FB
}
