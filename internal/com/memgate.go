package com

import (
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

// MemGate accesses a window of physical memory.
type MemGate struct {
	Gate
	size uint64
	perm kif.Perm
}

// NewMemGate allocates size bytes of memory.
func NewMemGate(env *Env, size uint64, perm kif.Perm) (*MemGate, error) {
	return NewMemGateAt(env, kif.InvalidAddr, size, perm)
}

// NewMemGateAt creates a memory gate for size bytes at physical offset addr
// of the first memory module.
func NewMemGateAt(env *Env, addr, size uint64, perm kif.Perm) (*MemGate, error) {
	sel := env.AllocSel()
	if err := env.sys.CreateMGate(sel, addr, size, perm); err != nil {
		env.FreeSel(sel)
		return nil, err
	}
	return &MemGate{Gate: newGate(env, sel, true), size: size, perm: perm}, nil
}

// BindMemGate wraps a memory gate capability the VPE received from elsewhere.
func BindMemGate(env *Env, sel kif.CapSel, size uint64, perm kif.Perm) *MemGate {
	return &MemGate{Gate: newGate(env, sel, false), size: size, perm: perm}
}

// Size returns the window size in bytes
func (m *MemGate) Size() uint64 { return m.size }

// Perm returns the access permissions
func (m *MemGate) Perm() kif.Perm { return m.perm }

// Derive creates a gate for [off, off+size) of m with at most perm.
func (m *MemGate) Derive(off, size uint64, perm kif.Perm) (*MemGate, error) {
	sel := m.env.AllocSel()
	if err := m.env.sys.DeriveMem(sel, m.sel, off, size, perm); err != nil {
		m.env.FreeSel(sel)
		return nil, err
	}
	return &MemGate{Gate: newGate(m.env, sel, true), size: size, perm: perm}, nil
}

// Read copies the memory at off into buf.
func (m *MemGate) Read(buf []byte, off uint64) error {
	if err := m.activate(0); err != nil {
		return err
	}
	return m.env.dtu.Read(m.ep, buf, off)
}

// Write copies buf to the memory at off.
func (m *MemGate) Write(buf []byte, off uint64) error {
	if err := m.activate(0); err != nil {
		return err
	}
	return m.env.dtu.Write(m.ep, buf, off)
}

// Close revokes the gate and all gates derived from it.
func (m *MemGate) Close() error {
	return m.close()
}
