// Package emu wires the CPU, bus, timer, interrupt controller, and PPU into
// a single orchestrator exposing the host-facing surface: ROM loading,
// frame-paced stepping, and the framebuffer/serial/joypad/battery hooks a
// demo shell needs.
package emu

import (
	"fmt"
	"io"

	"github.com/andresmanz/gbcore/internal/bus"
	"github.com/andresmanz/gbcore/internal/cart"
	"github.com/andresmanz/gbcore/internal/cpu"
)

// CyclesPerFrame is the fixed DMG frame length: 154 scanlines * 456 dots.
const CyclesPerFrame = 154 * 456

// Machine owns the wired-together CPU/bus/cart and drives Step-based
// emulation, dispatching the framebuffer to a registered callback once per
// VBlank.
type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU

	romPath string

	onFrame func([]byte)
	lastVB  byte // previous LY to detect the 143->144 VBlank-entry edge
}

// New constructs a Machine with no cartridge loaded; LoadROM must be called
// before Step produces meaningful output.
func New(cfg Config) *Machine {
	b := bus.New(make([]byte, 0x8000))
	c := cpu.New(b)
	c.ResetNoBoot()
	return &Machine{cfg: cfg, bus: b, cpu: c}
}

// LoadROM parses the cartridge header, attaches the matching MBC
// implementation to the bus, and resets the CPU to its post-boot state.
// The machine is left unchanged if the header cannot be parsed.
func (m *Machine) LoadROM(rom []byte) error {
	c, h, err := cart.Load(rom)
	if err != nil {
		return err
	}
	m.bus = bus.NewWithCartridge(c)
	m.cpu = cpu.New(m.bus)
	m.cpu.ResetNoBoot()
	m.lastVB = 0
	if m.cfg.Trace && h != nil {
		fmt.Printf("loaded cartridge: %q type=%s banks=%d ram=%dB\n", h.Title, h.CartTypeStr, h.ROMBanks, h.RAMSizeBytes)
	}
	return nil
}

// LoadROMFromFile records the backing path so battery RAM can be located
// relative to it; it does not read the file itself.
func (m *Machine) LoadROMFromFile(path string) error {
	m.romPath = path
	return nil
}

// ROMPath returns the path set by LoadROMFromFile, or "" if none.
func (m *Machine) ROMPath() string { return m.romPath }

// SetBootROM is a no-op: boot ROM emulation is out of scope, and the CPU is
// always reset to the documented post-boot register state.
func (m *Machine) SetBootROM(data []byte) {}

// RegisterFrameCallback installs fn to be invoked with the 160x144x4 RGBA
// framebuffer once per VBlank.
func (m *Machine) RegisterFrameCallback(fn func(fb []byte)) { m.onFrame = fn }

// RegisterSerialSink directs the SB (0xFF01) byte to w each time a write to
// SC (0xFF02) sets the transfer-start bit.
func (m *Machine) RegisterSerialSink(w io.Writer) { m.bus.SetSerialWriter(w) }

// SetJoypadState updates the joypad input latches (bit layout: bus.Joyp*).
func (m *Machine) SetJoypadState(mask byte) { m.bus.SetJoypadState(mask) }

// ReadByte/WriteByte expose the bus for debug UIs.
func (m *Machine) ReadByte(addr uint16) byte     { return m.bus.Read(addr) }
func (m *Machine) WriteByte(addr uint16, v byte) { m.bus.Write(addr, v) }

// Step executes instructions (and services interrupts) until at least
// minCycles T-cycles have elapsed, invoking the frame callback on each
// VBlank entry crossed along the way. It returns the actual cycles consumed
// and stops immediately, without advancing further, on the first fatal CPU
// error (illegal opcode or invalid bus access via ReadStrict/WriteStrict
// paths the CPU itself does not take, so in practice CpuIllegalOpcode).
func (m *Machine) Step(minCycles int) (int, error) {
	total := 0
	for total < minCycles {
		cycles, err := m.cpu.Step()
		total += cycles
		m.checkVBlank()
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// StepFrame runs exactly one video frame's worth of cycles.
func (m *Machine) StepFrame() (int, error) { return m.Step(CyclesPerFrame) }

func (m *Machine) checkVBlank() {
	ly := m.bus.Read(0xFF44)
	if ly == 144 && m.lastVB != 144 {
		if m.onFrame != nil {
			m.onFrame(m.bus.PPU().Framebuffer())
		}
	}
	m.lastVB = ly
}

// Framebuffer returns the PPU's current composited frame (RGBA).
func (m *Machine) Framebuffer() []byte { return m.bus.PPU().Framebuffer() }

// SaveBattery returns the cartridge's external RAM for persistence, and
// false if the cartridge carries none.
func (m *Machine) SaveBattery() ([]byte, bool) {
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	data := bb.SaveRAM()
	return data, len(data) > 0
}

// LoadBattery restores previously-saved external RAM, returning false if
// the cartridge accepts no battery RAM.
func (m *Machine) LoadBattery(data []byte) bool {
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveState serializes the bus-owned device state (WRAM/HRAM/timer/
// interrupts/PPU/cartridge) for later restoration via LoadState; CPU
// registers are not included.
func (m *Machine) SaveState() []byte { return m.bus.SaveState() }

// LoadState restores a snapshot previously produced by SaveState. CPU
// registers are not touched by bus.LoadState, so the caller resumes from
// wherever the CPU currently sits; this matches the teacher's save-state
// scope of "device state", not full CPU register capture.
func (m *Machine) LoadState(data []byte) { m.bus.LoadState(data) }
