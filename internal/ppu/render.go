package ppu

// rawVRAMRead satisfies VRAMReader for the fetcher helpers without the CPU's
// mode-3 VRAM lockout, since the PPU itself must be able to fetch tile data
// while mode 3 is active.
type rawVRAMRead struct{ p *PPU }

func (r rawVRAMRead) Read(addr uint16) byte { return r.p.vram[addr-0x8000] }

// renderScanline composes background, window, and sprites for the current
// LY into the framebuffer. Called once, at the dot the PPU enters mode 3
// for that line.
func (p *PPU) renderScanline() {
	y := int(p.ly)
	if y < 0 || y >= screenH {
		return
	}
	mem := rawVRAMRead{p}

	bgWinEnabled := p.lcdc&0x01 != 0
	tileData8000 := p.lcdc&0x10 != 0

	var bgIdx [screenW]byte
	if bgWinEnabled {
		bgMapBase := uint16(0x9800)
		if p.lcdc&0x08 != 0 {
			bgMapBase = 0x9C00
		}
		bgIdx = RenderBGScanlineUsingFetcher(mem, bgMapBase, tileData8000, p.scx, p.scy, byte(y))
	}

	winActive := bgWinEnabled && p.lcdc&0x20 != 0 && int(p.wy) <= y && p.wx <= 166
	var winLineUsed byte
	if winActive {
		winMapBase := uint16(0x9800)
		if p.lcdc&0x40 != 0 {
			winMapBase = 0x9C00
		}
		wxStart := int(p.wx) - 7
		winLineUsed = p.winLineCounter
		winRow := RenderWindowScanlineUsingFetcher(mem, winMapBase, tileData8000, wxStart, winLineUsed)
		start := wxStart
		if start < 0 {
			start = 0
		}
		for x := start; x < screenW; x++ {
			bgIdx[x] = winRow[x]
		}
		p.winLineCounter++
	}

	row := y * screenW
	for x := 0; x < screenW; x++ {
		p.fb[row+x] = applyPalette(p.bgp, bgIdx[x])
	}
	p.lineRegs[y] = LineRegs{WinLine: winLineUsed}

	if p.lcdc&0x02 != 0 {
		p.renderSprites(y, bgIdx[:])
	}
}

func applyPalette(pal, idx byte) byte {
	return (pal >> (uint(idx&0x03) * 2)) & 0x03
}

type oamEntry struct {
	y, x, tile, attr byte
	index            int
}

// renderSprites draws up to 10 sprites on scanline y over the already
// BG/window-composited bgIdx, respecting OBJ-to-BG priority and the
// smaller-X-wins / lower-OAM-index tie-break rule for sprite-sprite overlap.
func (p *PPU) renderSprites(y int, bgIdx []byte) {
	height := 8
	if p.lcdc&0x04 != 0 {
		height = 16
	}

	var candidates []oamEntry
	for i := 0; i < 40 && len(candidates) < 10; i++ {
		base := i * 4
		sy := int(p.oam[base]) - 16
		if y < sy || y >= sy+height {
			continue
		}
		candidates = append(candidates, oamEntry{
			y:     p.oam[base],
			x:     p.oam[base+1],
			tile:  p.oam[base+2],
			attr:  p.oam[base+3],
			index: i,
		})
	}

	// Highest priority first: smaller X wins; ties broken by lower OAM index.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0; j-- {
			a, b := candidates[j-1], candidates[j]
			if a.x > b.x || (a.x == b.x && a.index > b.index) {
				candidates[j-1], candidates[j] = candidates[j], candidates[j-1]
			} else {
				break
			}
		}
	}

	// Draw lowest priority first so higher-priority sprites overwrite.
	for i := len(candidates) - 1; i >= 0; i-- {
		s := candidates[i]
		spriteX := int(s.x) - 8
		spriteY := int(s.y) - 16
		row := y - spriteY
		yFlip := s.attr&0x40 != 0
		xFlip := s.attr&0x20 != 0
		behindBG := s.attr&0x80 != 0
		usePal1 := s.attr&0x10 != 0

		if yFlip {
			row = height - 1 - row
		}
		tile := s.tile
		if height == 16 {
			if row < 8 {
				tile &^= 0x01
			} else {
				tile |= 0x01
				row -= 8
			}
		}

		addr := 0x8000 + uint16(tile)*16 + uint16(row)*2
		lo := p.vram[addr-0x8000]
		hi := p.vram[addr+1-0x8000]

		pal := p.obp0
		if usePal1 {
			pal = p.obp1
		}

		for c := 0; c < 8; c++ {
			x := spriteX + c
			if x < 0 || x >= screenW {
				continue
			}
			bit := 7 - c
			if xFlip {
				bit = c
			}
			ci := ((hi>>uint(bit))&1)<<1 | ((lo >> uint(bit)) & 1)
			if ci == 0 {
				continue
			}
			if behindBG && bgIdx[x] != 0 {
				continue
			}
			p.fb[y*screenW+x] = applyPalette(pal, ci)
		}
	}
}
