package cart

import "fmt"

// RomParseError is returned by ParseHeader (and surfaced from Load and
// emu.Machine.LoadROM) when
// the supplied ROM image is too small to contain a valid cartridge header.
type RomParseError struct {
	Reason string
}

func (e *RomParseError) Error() string {
	return fmt.Sprintf("rom parse error: %s", e.Reason)
}
