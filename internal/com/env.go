package com

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/dtu"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/mem"
)

// Syscalls is the kernel interface a VPE uses.
type Syscalls interface {
	Noop() error
	Activate(ep kif.EpID, sel kif.CapSel, addr uint64) error
	CreateRGate(dst kif.CapSel, order, msgOrder uint) error
	CreateSGate(dst, rgate kif.CapSel, label kif.Label, credits uint32) error
	CreateMGate(dst kif.CapSel, addr, size uint64, perm kif.Perm) error
	CreateMap(dst, vpe, mgate kif.CapSel, first, pages uint64, perm kif.Perm) error
	CreateSrv(dst, rgate kif.CapSel, name string) error
	OpenSess(dst kif.CapSel, name string, arg uint64) error
	DeriveMem(dst, src kif.CapSel, off, size uint64, perm kif.Perm) error
	Exchange(vpe kif.CapSel, own kif.CapRngDesc, other kif.CapSel, obtain bool) error
	Revoke(vpe kif.CapSel, crd kif.CapRngDesc, own bool) error
}

const (
	// DefaultRecvBufSize is the receive buffer space of an Env.
	DefaultRecvBufSize = 1 << 20
	// DefRecvOrder and DefRecvMsgOrder size the default receive gate.
	DefRecvOrder    = 12
	DefRecvMsgOrder = 8
)

// Env is the communication environment of one VPE.
type Env struct {
	sys    Syscalls
	dtu    *dtu.DTU
	logger *zap.Logger

	recvBufSize uint64

	mu       sync.Mutex
	nextSel  kif.CapSel
	freeSels []kif.CapSel
	usedEPs []bool
	recvBuf *mem.MemoryMap

	defRecv *RecvGate
}

// EnvOption configures an Env.
type EnvOption func(*Env)

// WithRecvBufSize sets the receive buffer space shared by all RecvGates
func WithRecvBufSize(size uint64) EnvOption {
	return func(e *Env) { e.recvBufSize = size }
}

// WithEnvLogger sets the logger
func WithEnvLogger(l *zap.Logger) EnvOption {
	return func(e *Env) { e.logger = l }
}

// NewEnv sets up the environment of the VPE behind sys and d, including its
// default receive gate.
func NewEnv(sys Syscalls, d *dtu.DTU, opts ...EnvOption) (*Env, error) {
	e := &Env{
		sys:         sys,
		dtu:         d,
		recvBufSize: DefaultRecvBufSize,
		nextSel:     kif.FirstFreeSel,
		usedEPs:     make([]bool, d.EpCount()),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.Uint16("vpe", d.VPE()))
	e.recvBuf = mem.NewMemoryMap(0, e.recvBufSize)

	for ep := kif.EpID(0); ep < kif.FirstFreeEP; ep++ {
		e.usedEPs[ep] = true
	}

	rg, err := newRecvGate(e, DefRecvMsgOrder, DefRecvOrder)
	if err != nil {
		return nil, err
	}
	if err := rg.activateOn(kif.DefRecvEP); err != nil {
		return nil, err
	}
	e.defRecv = rg
	return e, nil
}

// Syscalls returns the kernel interface
func (e *Env) Syscalls() Syscalls { return e.sys }

// DTU returns the DTU of the VPE
func (e *Env) DTU() *dtu.DTU { return e.dtu }

// DefRecvGate returns the receive gate on kif.DefRecvEP, used for replies
// unless the caller names another one.
func (e *Env) DefRecvGate() *RecvGate { return e.defRecv }

// AllocSel reserves a capability selector. Selectors given back with FreeSel
// are handed out again first.
func (e *Env) AllocSel() kif.CapSel {
	e.mu.Lock()
	if n := len(e.freeSels); n > 0 {
		sel := e.freeSels[n-1]
		e.freeSels = e.freeSels[:n-1]
		e.mu.Unlock()
		return sel
	}
	e.mu.Unlock()
	return e.AllocSels(1)
}

// AllocSels reserves count consecutive selectors and returns the first.
// Ranges always come from fresh selectors; the kernel refuses selectors at or
// beyond its selector limit.
func (e *Env) AllocSels(count uint32) kif.CapSel {
	e.mu.Lock()
	defer e.mu.Unlock()

	sel := e.nextSel
	e.nextSel += kif.CapSel(count)
	return sel
}

// FreeSel returns an empty selector for reuse. Selectors the Env never
// handed out are ignored.
func (e *Env) FreeSel(sel kif.CapSel) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sel < kif.FirstFreeSel || sel >= e.nextSel {
		return
	}
	for _, s := range e.freeSels {
		if s == sel {
			return
		}
	}
	e.freeSels = append(e.freeSels, sel)
}

// AllocEP reserves a free endpoint.
func (e *Env) AllocEP() (kif.EpID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for ep := kif.FirstFreeEP; int(ep) < len(e.usedEPs); ep++ {
		if !e.usedEPs[ep] {
			e.usedEPs[ep] = true
			return ep, nil
		}
	}
	return kif.InvalidEP, kif.NewError(kif.NoFreeEps, "env.alloc_ep", "all %d endpoints in use", len(e.usedEPs))
}

// FreeEP returns ep to the pool.
func (e *Env) FreeEP(ep kif.EpID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ep >= kif.FirstFreeEP && int(ep) < len(e.usedEPs) {
		e.usedEPs[ep] = false
	}
}

func (e *Env) allocRecvBuf(size uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	addr, ok := e.recvBuf.Allocate(size, size)
	if !ok {
		return 0, kif.NewError(kif.NoSpace, "env.alloc_rbuf", "no room for %#x bytes", size)
	}
	return addr, nil
}

func (e *Env) freeRecvBuf(addr, size uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.recvBuf.Free(addr, size); err != nil {
		e.logger.Warn("Failed to free receive buffer", zap.Error(err))
	}
}

func (e *Env) revoke(sel kif.CapSel) error {
	return e.sys.Revoke(kif.SelVPE, kif.NewCapRngDesc(kif.CapObject, sel, 1), true)
}
