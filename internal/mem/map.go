package mem

import (
	"fmt"
	"sort"
)

type area struct {
	addr uint64
	size uint64
}

// MemoryMap tracks the free parts of an address range. Areas are kept sorted
// by address and never overlap or touch.
type MemoryMap struct {
	areas []area
}

// NewMemoryMap creates a map where [addr, addr+size) is free.
func NewMemoryMap(addr, size uint64) *MemoryMap {
	m := &MemoryMap{}
	if size > 0 {
		m.areas = []area{{addr: addr, size: size}}
	}
	return m
}

// Allocate carves size bytes aligned to align out of the first area that can
// hold them. Alignment padding in front of the result stays free as its own
// area.
func (m *MemoryMap) Allocate(size, align uint64) (uint64, bool) {
	if size == 0 {
		return 0, false
	}
	for i := 0; i < len(m.areas); i++ {
		a := m.areas[i]
		diff := roundUp(a.addr, align) - a.addr
		if a.size <= diff || a.size-diff < size {
			continue
		}

		if diff > 0 {
			m.areas = append(m.areas, area{})
			copy(m.areas[i+1:], m.areas[i:])
			m.areas[i] = area{addr: a.addr, size: diff}
			i++
			m.areas[i].addr += diff
			m.areas[i].size -= diff
		}

		res := m.areas[i].addr
		m.areas[i].addr += size
		m.areas[i].size -= size
		if m.areas[i].size == 0 {
			m.areas = append(m.areas[:i], m.areas[i+1:]...)
		}
		return res, true
	}
	return 0, false
}

// AllocateAt reserves exactly [addr, addr+size). It fails if any part of the
// range is not free.
func (m *MemoryMap) AllocateAt(addr, size uint64) bool {
	if size == 0 || addr+size < addr {
		return false
	}
	for i, a := range m.areas {
		if addr < a.addr || addr+size > a.addr+a.size {
			continue
		}

		front := area{addr: a.addr, size: addr - a.addr}
		back := area{addr: addr + size, size: a.addr + a.size - (addr + size)}

		var repl []area
		if front.size > 0 {
			repl = append(repl, front)
		}
		if back.size > 0 {
			repl = append(repl, back)
		}

		rest := append([]area(nil), m.areas[i+1:]...)
		m.areas = append(append(m.areas[:i], repl...), rest...)
		return true
	}
	return false
}

// Free returns [addr, addr+size) to the map, merging with adjacent areas.
func (m *MemoryMap) Free(addr, size uint64) error {
	if size == 0 {
		return nil
	}

	// index of the first area behind ours
	n := sort.Search(len(m.areas), func(i int) bool {
		return m.areas[i].addr >= addr
	})

	if n < len(m.areas) && addr+size > m.areas[n].addr {
		return fmt.Errorf("free of [%#x, %#x) overlaps free area at %#x", addr, addr+size, m.areas[n].addr)
	}
	if n > 0 {
		p := m.areas[n-1]
		if p.addr+p.size > addr {
			return fmt.Errorf("free of [%#x, %#x) overlaps free area at %#x", addr, addr+size, p.addr)
		}
	}

	mergePrev := n > 0 && m.areas[n-1].addr+m.areas[n-1].size == addr
	mergeNext := n < len(m.areas) && addr+size == m.areas[n].addr

	switch {
	case mergePrev && mergeNext:
		m.areas[n-1].size += size + m.areas[n].size
		m.areas = append(m.areas[:n], m.areas[n+1:]...)
	case mergePrev:
		m.areas[n-1].size += size
	case mergeNext:
		m.areas[n].addr -= size
		m.areas[n].size += size
	default:
		m.areas = append(m.areas, area{})
		copy(m.areas[n+1:], m.areas[n:])
		m.areas[n] = area{addr: addr, size: size}
	}
	return nil
}

// Available returns the number of free bytes.
func (m *MemoryMap) Available() uint64 {
	var total uint64
	for _, a := range m.areas {
		total += a.size
	}
	return total
}

// Areas returns the number of free areas.
func (m *MemoryMap) Areas() int {
	return len(m.areas)
}
