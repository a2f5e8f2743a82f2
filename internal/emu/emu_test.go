package emu

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/andresmanz/gbcore/internal/bus"
)

func TestMachine_LoadROMAndStep(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0100] = 0x00 // NOP at entry
	m := New(Config{})
	if err := m.LoadROM(rom); err != nil {
		t.Fatalf("LoadROM: %v", err)
	}
	cycles, err := m.Step(4)
	if err != nil {
		t.Fatalf("Step returned error: %v", err)
	}
	if cycles < 4 {
		t.Fatalf("Step(4) consumed %d cycles, want at least 4", cycles)
	}
}

func TestMachine_IllegalOpcodeStopsStep(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0100] = 0xD3 // undefined opcode
	m := New(Config{})
	if err := m.LoadROM(rom); err != nil {
		t.Fatalf("LoadROM: %v", err)
	}
	_, err := m.Step(1000)
	if err == nil {
		t.Fatalf("expected an error from stepping into an illegal opcode")
	}
}

func TestMachine_FrameCallbackFiresOnVBlank(t *testing.T) {
	rom := make([]byte, 0x8000)
	// tight JR -2 loop at entry so the CPU just spins while PPU/timer advance
	rom[0x0100] = 0x18
	rom[0x0101] = 0xFE
	m := New(Config{})
	if err := m.LoadROM(rom); err != nil {
		t.Fatalf("LoadROM: %v", err)
	}
	m.WriteByte(0xFF40, 0x80) // LCD on

	frames := 0
	m.RegisterFrameCallback(func(fb []byte) {
		frames++
		if len(fb) != 160*144*4 {
			t.Fatalf("framebuffer size got %d want %d", len(fb), 160*144*4)
		}
	})
	if _, err := m.Step(CyclesPerFrame * 2); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if frames == 0 {
		t.Fatalf("expected at least one frame callback after two frames' worth of cycles")
	}
}

func TestMachine_SetJoypadState(t *testing.T) {
	m := New(Config{})
	m.WriteByte(0xFF00, 0x20) // select D-pad
	m.SetJoypadState(bus.JoypRight | bus.JoypUp)
	if got := m.ReadByte(0xFF00) & 0x0F; got != 0x0A {
		t.Fatalf("JOYP lower nibble got %#02x want 0x0A", got)
	}
}

func TestMachine_SaveAndLoadStateRoundTrip(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := New(Config{})
	if err := m.LoadROM(rom); err != nil {
		t.Fatalf("LoadROM: %v", err)
	}
	m.WriteByte(0xC000, 0x42)
	snap := m.SaveState()

	m.WriteByte(0xC000, 0x99)
	m.LoadState(snap)
	if got := m.ReadByte(0xC000); got != 0x42 {
		t.Fatalf("WRAM after LoadState got %#02x want 0x42", got)
	}
}

// findROMs recursively collects .gb/.gbc files under dir.
func findROMs(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		low := strings.ToLower(d.Name())
		if strings.HasSuffix(low, ".gb") || strings.HasSuffix(low, ".gbc") {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// runBlargg executes a test ROM until it reports via serial or times out.
func runBlargg(t *testing.T, romPath string, maxFrames int) {
	t.Helper()
	rom, err := os.ReadFile(romPath)
	if err != nil {
		t.Fatalf("read ROM: %v", err)
	}
	m := New(Config{})
	if err := m.LoadROM(rom); err != nil {
		t.Fatalf("load ROM: %v", err)
	}
	var buf bytes.Buffer
	m.RegisterSerialSink(&buf)

	for i := 0; i < maxFrames; i++ {
		if _, err := m.StepFrame(); err != nil {
			t.Fatalf("%s: step error: %v", filepath.Base(romPath), err)
		}
		out := buf.String()
		if strings.Contains(out, "Passed") || strings.Contains(out, "passed") {
			return
		}
		if strings.Contains(out, "Failed") || strings.Contains(out, "failed") {
			t.Fatalf("%s reported failure via serial:\n%s", filepath.Base(romPath), out)
		}
	}
	t.Fatalf("timeout waiting for serial 'Passed' in %s; last output:\n%s", filepath.Base(romPath), buf.String())
}

// TestBlargg scans testroms/blargg (or BLARGG_DIR) and runs all .gb/.gbc found.
func TestBlargg(t *testing.T) {
	if os.Getenv("RUN_BLARGG") == "" {
		t.Skip("set RUN_BLARGG=1 and place ROMs under testroms/blargg or set BLARGG_DIR to run")
	}

	base := os.Getenv("BLARGG_DIR")
	if base == "" {
		var root string
		if _, file, _, ok := runtime.Caller(0); ok {
			dir := filepath.Dir(file)
			for {
				if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
					root = dir
					break
				}
				parent := filepath.Dir(dir)
				if parent == dir {
					break
				}
				dir = parent
			}
		}
		if root == "" {
			if wd, err := os.Getwd(); err == nil {
				root = wd
			} else {
				root = "."
			}
		}
		base = filepath.Join(root, "testroms", "blargg")
	}
	if _, err := os.Stat(base); err != nil {
		t.Skipf("blargg ROM dir missing: %s", base)
	}

	roms, err := findROMs(base)
	if err != nil {
		t.Fatalf("scan ROMs: %v", err)
	}
	if len(roms) == 0 {
		t.Skipf("no ROMs found in %s", base)
	}

	maxFrames := 1800
	if v := os.Getenv("BLARGG_MAX_FRAMES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxFrames = n
		}
	}

	for _, rom := range roms {
		rom := rom
		name := strings.TrimSuffix(filepath.Base(rom), filepath.Ext(rom))
		t.Run(name, func(t *testing.T) { runBlargg(t, rom, maxFrames) })
	}
}
