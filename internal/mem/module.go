package mem

import (
	"fmt"
	"sync"
)

// Module is one physical memory module.
type Module struct {
	id   ModID
	size uint64
	free *MemoryMap

	// content is backed lazily, one page at a time
	pagesMu sync.RWMutex
	pages   map[uint64][]byte
}

// NewModule creates a module with the given id and capacity in bytes.
func NewModule(id ModID, size uint64) *Module {
	return &Module{
		id:    id,
		size:  size,
		free:  NewMemoryMap(0, size),
		pages: make(map[uint64][]byte),
	}
}

// ID returns the module id
func (m *Module) ID() ModID { return m.id }

// Addr returns the global address of the module's first byte
func (m *Module) Addr() GlobAddr { return NewGlobAddr(m.id, 0) }

// Capacity returns the module size in bytes
func (m *Module) Capacity() uint64 { return m.size }

// Available returns the number of unallocated bytes
func (m *Module) Available() uint64 { return m.free.Available() }

// owns reports whether [addr, addr+size) lies inside the module.
func (m *Module) owns(addr GlobAddr, size uint64) bool {
	if addr.Mod() != m.id {
		return false
	}
	off := addr.Offset()
	return off+size >= off && off+size <= m.size
}

func (m *Module) read(off uint64, buf []byte) {
	m.pagesMu.RLock()
	defer m.pagesMu.RUnlock()

	for len(buf) > 0 {
		page, poff := off/PageSize, off%PageSize
		n := copy(buf, zeroPage[poff:])
		if p, ok := m.pages[page]; ok {
			copy(buf[:n], p[poff:])
		}
		buf = buf[n:]
		off += uint64(n)
	}
}

func (m *Module) write(off uint64, buf []byte) {
	m.pagesMu.Lock()
	defer m.pagesMu.Unlock()

	for len(buf) > 0 {
		page, poff := off/PageSize, off%PageSize
		p, ok := m.pages[page]
		if !ok {
			p = make([]byte, PageSize)
			m.pages[page] = p
		}
		n := copy(p[poff:], buf)
		buf = buf[n:]
		off += uint64(n)
	}
}

// scrub drops the content of the pages fully covered by [off, off+size) and
// zeroes partially covered ones, so freed memory reads back as zero.
func (m *Module) scrub(off, size uint64) {
	m.pagesMu.Lock()
	defer m.pagesMu.Unlock()

	end := off + size
	for page := off / PageSize; page*PageSize < end; page++ {
		p, ok := m.pages[page]
		if !ok {
			continue
		}
		start, stop := page*PageSize, (page+1)*PageSize
		if start >= off && stop <= end {
			delete(m.pages, page)
			continue
		}
		lo, hi := max(start, off), min(stop, end)
		clear(p[lo-start : hi-start])
	}
}

func (m *Module) String() string {
	return fmt.Sprintf("Module[id=%d, addr=%s, size=%#x, available=%#x]",
		m.id, m.Addr(), m.size, m.Available())
}

var zeroPage = make([]byte, PageSize)
