package mem

import "fmt"

// PageSize is the granularity of memory gates and mappings.
const PageSize = 0x1000

// ModID identifies a memory module.
type ModID uint16

const (
	modShift = 48
	offMask  = (uint64(1) << modShift) - 1
)

// GlobAddr is a physical address: module id in the upper 16 bits, byte
// offset within the module in the lower 48 bits.
type GlobAddr uint64

// NewGlobAddr builds the global address of off within module mod.
func NewGlobAddr(mod ModID, off uint64) GlobAddr {
	return GlobAddr(uint64(mod)<<modShift | off&offMask)
}

// Mod returns the module id
func (g GlobAddr) Mod() ModID {
	return ModID(uint64(g) >> modShift)
}

// Offset returns the byte offset within the module
func (g GlobAddr) Offset() uint64 {
	return uint64(g) & offMask
}

// Add returns the address off bytes behind g in the same module.
func (g GlobAddr) Add(off uint64) GlobAddr {
	return NewGlobAddr(g.Mod(), g.Offset()+off)
}

func (g GlobAddr) String() string {
	return fmt.Sprintf("G[mod%d+%#x]", g.Mod(), g.Offset())
}

func roundUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}
