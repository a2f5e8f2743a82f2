package main

import (
	"flag"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"strings"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/andresmanz/gbcore/internal/bus"
	"github.com/andresmanz/gbcore/internal/cart"
	"github.com/andresmanz/gbcore/internal/emu"
)

type cliFlags struct {
	ROMPath string
	Scale   int
	Title   string
	Trace   bool
	SaveRAM bool

	Headless bool
	Frames   int
	PNGOut   string
	Expect   string
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.ROMPath, "rom", "", "path to ROM (.gb)")
	flag.IntVar(&f.Scale, "scale", 3, "window scale")
	flag.StringVar(&f.Title, "title", "gbemu", "window title")
	flag.BoolVar(&f.Trace, "trace", false, "log the cartridge header on load")
	flag.BoolVar(&f.SaveRAM, "save", true, "persist battery RAM to ROM.sav on exit and load on start")

	flag.BoolVar(&f.Headless, "headless", false, "run without a window")
	flag.IntVar(&f.Frames, "frames", 300, "frames to run in headless mode")
	flag.StringVar(&f.PNGOut, "outpng", "", "write last framebuffer to PNG at path")
	flag.StringVar(&f.Expect, "expect", "", "assert framebuffer CRC32 (hex)")
	flag.Parse()
	return f
}

func runHeadless(m *emu.Machine, frames int, pngPath, expectCRC string) error {
	if frames <= 0 {
		frames = 1
	}
	start := time.Now()
	for i := 0; i < frames; i++ {
		if _, err := m.StepFrame(); err != nil {
			return fmt.Errorf("step frame %d: %w", i, err)
		}
	}
	dur := time.Since(start)

	fb := m.Framebuffer()
	crc := crc32.ChecksumIEEE(fb)
	fps := float64(frames) / dur.Seconds()
	log.Printf("headless: frames=%d elapsed=%s fps=%.2f fb_crc32=%08x",
		frames, dur.Truncate(time.Millisecond), fps, crc)

	if pngPath != "" {
		if err := saveFramePNG(fb, 160, 144, pngPath); err != nil {
			return fmt.Errorf("write PNG: %w", err)
		}
		log.Printf("wrote %s", pngPath)
	}
	if expectCRC != "" {
		want := strings.TrimPrefix(strings.ToLower(expectCRC), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}
	return nil
}

func saveFramePNG(pix []byte, w, h int, path string) error {
	img := &image.RGBA{
		Pix:    make([]byte, len(pix)),
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	copy(img.Pix, pix)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// game implements ebiten.Game, driving the Machine in lockstep with the
// host's display refresh and forwarding keyboard state as joypad input.
type game struct {
	m         *emu.Machine
	tex       *ebiten.Image
	frames    int
	lastTick  time.Time
	fps       float64
	showStats bool

	hud    *image.RGBA
	hudTex *ebiten.Image
}

func (g *game) Update() error {
	var mask byte
	if ebiten.IsKeyPressed(ebiten.KeyRight) {
		mask |= bus.JoypRight
	}
	if ebiten.IsKeyPressed(ebiten.KeyLeft) {
		mask |= bus.JoypLeft
	}
	if ebiten.IsKeyPressed(ebiten.KeyUp) {
		mask |= bus.JoypUp
	}
	if ebiten.IsKeyPressed(ebiten.KeyDown) {
		mask |= bus.JoypDown
	}
	if ebiten.IsKeyPressed(ebiten.KeyZ) {
		mask |= bus.JoypA
	}
	if ebiten.IsKeyPressed(ebiten.KeyX) {
		mask |= bus.JoypB
	}
	if ebiten.IsKeyPressed(ebiten.KeyEnter) {
		mask |= bus.JoypStart
	}
	if ebiten.IsKeyPressed(ebiten.KeyShiftRight) {
		mask |= bus.JoypSelectBtn
	}
	g.m.SetJoypadState(mask)

	if _, err := g.m.StepFrame(); err != nil {
		return err
	}
	g.frames++
	now := time.Now()
	if !g.lastTick.IsZero() {
		if d := now.Sub(g.lastTick).Seconds(); d > 0 {
			g.fps = 1 / d
		}
	}
	g.lastTick = now
	if ebiten.IsKeyPressed(ebiten.KeyF1) {
		g.showStats = true
	}
	return nil
}

var hudFace = basicfont.Face7x13

// drawHUD rasterizes text with x/image/font onto g.hud, replacing a
// hand-rolled bitmap font, then uploads the result as an overlay texture.
func (g *game) drawHUD(text string) {
	const w, h = 160, 13
	if g.hud == nil {
		g.hud = image.NewRGBA(image.Rect(0, 0, w, h))
		g.hudTex = ebiten.NewImage(w, h)
	}
	for i := range g.hud.Pix {
		g.hud.Pix[i] = 0
	}
	d := &font.Drawer{
		Dst:  g.hud,
		Src:  image.White,
		Face: hudFace,
		Dot:  fixed.P(1, 10),
	}
	d.DrawString(text)
	g.hudTex.WritePixels(g.hud.Pix)
}

func (g *game) Draw(screen *ebiten.Image) {
	if g.tex == nil {
		g.tex = ebiten.NewImage(160, 144)
	}
	g.tex.WritePixels(g.m.Framebuffer())
	screen.DrawImage(g.tex, nil)

	if g.showStats {
		g.drawHUD(fmt.Sprintf("frame %d  %.0f fps", g.frames, g.fps))
		screen.DrawImage(g.hudTex, nil)
	}
}

func (g *game) Layout(outsideWidth, outsideHeight int) (int, int) { return 160, 144 }

func main() {
	f := parseFlags()
	var rom []byte
	if f.ROMPath != "" {
		var err error
		rom, err = os.ReadFile(f.ROMPath)
		if err != nil {
			log.Fatalf("read %s: %v", f.ROMPath, err)
		}
	}

	if f.Trace && len(rom) >= 0x150 {
		if h, err := cart.ParseHeader(rom); err == nil {
			log.Printf("ROM: %q type=%s banks=%d ram=%dB", h.Title, h.CartTypeStr, h.ROMBanks, h.RAMSizeBytes)
		}
	}

	m := emu.New(emu.Config{Trace: f.Trace})
	if len(rom) > 0 {
		if err := m.LoadROM(rom); err != nil {
			log.Fatalf("load cart: %v", err)
		}
		_ = m.LoadROMFromFile(f.ROMPath)
	}

	var savPath string
	if f.SaveRAM && f.ROMPath != "" {
		savPath = strings.TrimSuffix(f.ROMPath, ".gb") + ".sav"
		if data, err := os.ReadFile(savPath); err == nil {
			if m.LoadBattery(data) {
				log.Printf("loaded save RAM: %s (%d bytes)", savPath, len(data))
			}
		}
	}

	persistBattery := func() {
		if !f.SaveRAM || savPath == "" {
			return
		}
		if data, ok := m.SaveBattery(); ok {
			if err := os.WriteFile(savPath, data, 0644); err == nil {
				log.Printf("wrote %s", savPath)
			}
		}
	}

	if f.Headless {
		if err := runHeadless(m, f.Frames, f.PNGOut, f.Expect); err != nil {
			log.Fatal(err)
		}
		persistBattery()
		return
	}

	ebiten.SetWindowTitle(f.Title)
	ebiten.SetWindowSize(160*f.Scale, 144*f.Scale)
	g := &game{m: m}
	if err := ebiten.RunGame(g); err != nil {
		log.Fatal(err)
	}
	persistBattery()
}
