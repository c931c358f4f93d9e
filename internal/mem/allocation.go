package mem

import "fmt"

type allocState uint8

const (
	allocLive allocState = iota
	allocClaimed
	allocReleased
)

// Allocation exclusively owns a region handed out by MainMemory until it is
// either released or claimed.
type Allocation struct {
	mem   *MainMemory
	addr  GlobAddr
	size  uint64
	state allocState
}

func newAllocation(mem *MainMemory, addr GlobAddr, size uint64) *Allocation {
	return &Allocation{mem: mem, addr: addr, size: size}
}

// Addr returns the global address of the region
func (a *Allocation) Addr() GlobAddr { return a.addr }

// Size returns the size the allocation is still responsible for. It is zero
// once the allocation was claimed or released.
func (a *Allocation) Size() uint64 {
	if a.state != allocLive {
		return 0
	}
	return a.size
}

// Claim transfers responsibility for the region to the caller, who must
// eventually pass it to MainMemory.Free. A later Release is a no-op.
func (a *Allocation) Claim() (GlobAddr, uint64) {
	if a.state != allocLive {
		panic(fmt.Sprintf("mem: claim of %s which is no longer live", a))
	}
	a.state = allocClaimed
	return a.addr, a.size
}

// Release returns the region to its module unless it was claimed.
func (a *Allocation) Release() {
	if a.state != allocLive {
		return
	}
	a.state = allocReleased
	a.mem.Free(a.addr, a.size)
}

func (a *Allocation) String() string {
	return fmt.Sprintf("Alloc[addr=%s, size=%#x]", a.addr, a.Size())
}
