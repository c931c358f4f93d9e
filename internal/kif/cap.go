package kif

import "fmt"

// CapSel is a selector: an index into a VPE's capability table.
type CapSel uint32

const (
	// InvalidSel asks the callee to pick a selector, or denotes "none".
	InvalidSel CapSel = 0xFFFF

	// SelVPE refers to the calling VPE itself.
	SelVPE CapSel = 0
	// SelMem is reserved for the VPE's own memory.
	SelMem CapSel = 1
	// FirstFreeSel is the first selector handed out by selector allocators.
	FirstFreeSel CapSel = 2
)

// CapType distinguishes the two capability spaces of a VPE.
type CapType uint8

const (
	CapObject CapType = iota
	CapMapping
)

// String returns the string representation of the type
func (t CapType) String() string {
	switch t {
	case CapObject:
		return "object"
	case CapMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// CapRngDesc describes a contiguous run of selectors of one type.
type CapRngDesc struct {
	Type  CapType
	Start CapSel
	Count uint32
}

// NewCapRngDesc creates a range descriptor
func NewCapRngDesc(typ CapType, start CapSel, count uint32) CapRngDesc {
	return CapRngDesc{Type: typ, Start: start, Count: count}
}

// End returns the first selector behind the range.
func (c CapRngDesc) End() uint64 {
	return uint64(c.Start) + uint64(c.Count)
}

// Contains reports whether sel lies within the range.
func (c CapRngDesc) Contains(sel CapSel) bool {
	return sel >= c.Start && uint64(sel) < c.End()
}

func (c CapRngDesc) String() string {
	return fmt.Sprintf("CRD[%s: %d:%d]", c.Type, c.Start, c.Count)
}

// Perm is a set of memory access permissions.
type Perm uint8

const (
	PermR Perm = 1 << iota
	PermW
	PermX

	PermRW  = PermR | PermW
	PermRWX = PermRW | PermX
)

// Subset reports whether every bit of p is also set in of.
func (p Perm) Subset(of Perm) bool {
	return p&^of == 0
}

// Valid reports whether p only uses known bits.
func (p Perm) Valid() bool {
	return p.Subset(PermRWX)
}

func (p Perm) String() string {
	b := []byte("---")
	if p&PermR != 0 {
		b[0] = 'r'
	}
	if p&PermW != 0 {
		b[1] = 'w'
	}
	if p&PermX != 0 {
		b[2] = 'x'
	}
	return string(b)
}
