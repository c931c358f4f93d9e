package mem

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

// MainMemory is the kernel-wide pool of physical memory modules.
type MainMemory struct {
	mu     sync.Mutex
	mods   []*Module
	logger *zap.Logger
}

// ModuleInfo is a read-only view of a module.
type ModuleInfo struct {
	ID        ModID  `json:"id"`
	Addr      string `json:"addr"`
	Capacity  uint64 `json:"capacity"`
	Available uint64 `json:"available"`
}

// New creates an empty pool. Modules must be added before allocating.
func New(logger *zap.Logger) *MainMemory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MainMemory{logger: logger.Named("mem")}
}

// Add registers a module. Allocation scans modules in registration order.
func (mm *MainMemory) Add(m *Module) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	for _, o := range mm.mods {
		if o.id == m.id {
			return kif.NewError(kif.AlreadyExists, "mem.add", "module %d", m.id)
		}
	}
	mm.mods = append(mm.mods, m)
	mm.logger.Info("Added memory module",
		zap.Uint16("module", uint16(m.id)),
		zap.Uint64("size", m.size),
	)
	return nil
}

// Allocate reserves size bytes aligned to align in the first module that has
// room for them.
func (mm *MainMemory) Allocate(size, align uint64) (*Allocation, error) {
	if size == 0 {
		return nil, kif.NewError(kif.InvArgs, "mem.allocate", "zero size")
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	for _, m := range mm.mods {
		off, ok := m.free.Allocate(size, align)
		if !ok {
			continue
		}
		addr := NewGlobAddr(m.id, off)
		mm.logger.Debug("Allocated memory",
			zap.Stringer("addr", addr),
			zap.Uint64("size", size),
		)
		return newAllocation(mm, addr, size), nil
	}
	return nil, kif.NewError(kif.OutOfMem, "mem.allocate", "%#x bytes aligned to %#x", size, align)
}

// AllocateAt reserves [offset, offset+size) of the first module. The range is
// removed from the module's free space, so it can never be handed out twice.
func (mm *MainMemory) AllocateAt(offset, size uint64) (*Allocation, error) {
	if size == 0 {
		return nil, kif.NewError(kif.InvArgs, "mem.allocate_at", "zero size")
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if len(mm.mods) == 0 {
		return nil, kif.NewError(kif.OutOfMem, "mem.allocate_at", "no memory modules")
	}
	m := mm.mods[0]
	if offset+size < offset || offset+size > m.size {
		return nil, kif.NewError(kif.InvArgs, "mem.allocate_at", "[%#x, %#x) outside module %d", offset, offset+size, m.id)
	}
	if !m.free.AllocateAt(offset, size) {
		return nil, kif.NewError(kif.OutOfMem, "mem.allocate_at", "[%#x, %#x) is in use", offset, offset+size)
	}

	addr := NewGlobAddr(m.id, offset)
	mm.logger.Debug("Allocated fixed memory",
		zap.Stringer("addr", addr),
		zap.Uint64("size", size),
	)
	return newAllocation(mm, addr, size), nil
}

// Free returns a region to its module. Freeing a region no module owns, or
// one that is already free, is a programming error and panics.
func (mm *MainMemory) Free(addr GlobAddr, size uint64) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	for _, m := range mm.mods {
		if !m.owns(addr, size) {
			continue
		}
		if err := m.free.Free(addr.Offset(), size); err != nil {
			panic(fmt.Sprintf("mem: %v", err))
		}
		m.scrub(addr.Offset(), size)
		mm.logger.Debug("Freed memory",
			zap.Stringer("addr", addr),
			zap.Uint64("size", size),
		)
		return
	}
	panic(fmt.Sprintf("mem: free of %s+%#x: no module owns the range", addr, size))
}

// Capacity returns the total size of all modules.
func (mm *MainMemory) Capacity() uint64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	var total uint64
	for _, m := range mm.mods {
		total += m.Capacity()
	}
	return total
}

// Available returns the number of unallocated bytes over all modules.
func (mm *MainMemory) Available() uint64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	var total uint64
	for _, m := range mm.mods {
		total += m.Available()
	}
	return total
}

// Modules returns a snapshot of all modules in registration order.
func (mm *MainMemory) Modules() []ModuleInfo {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	infos := make([]ModuleInfo, 0, len(mm.mods))
	for _, m := range mm.mods {
		infos = append(infos, ModuleInfo{
			ID:        m.id,
			Addr:      m.Addr().String(),
			Capacity:  m.Capacity(),
			Available: m.Available(),
		})
	}
	return infos
}

// Read copies memory at addr into buf.
func (mm *MainMemory) Read(addr GlobAddr, buf []byte) error {
	m, err := mm.module(addr, uint64(len(buf)), "mem.read")
	if err != nil {
		return err
	}
	m.read(addr.Offset(), buf)
	return nil
}

// Write copies buf to memory at addr.
func (mm *MainMemory) Write(addr GlobAddr, buf []byte) error {
	m, err := mm.module(addr, uint64(len(buf)), "mem.write")
	if err != nil {
		return err
	}
	m.write(addr.Offset(), buf)
	return nil
}

func (mm *MainMemory) module(addr GlobAddr, size uint64, op string) (*Module, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	for _, m := range mm.mods {
		if m.owns(addr, size) {
			return m, nil
		}
	}
	return nil, kif.NewError(kif.InvArgs, op, "%s+%#x is not backed by a module", addr, size)
}

func (mm *MainMemory) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "size: %d MiB, available: %d MiB, mods: [\n",
		mm.Capacity()/(1024*1024), mm.Available()/(1024*1024))

	mm.mu.Lock()
	for _, m := range mm.mods {
		fmt.Fprintf(&sb, "  %s\n", m)
	}
	mm.mu.Unlock()

	sb.WriteString("]")
	return sb.String()
}
