package dtu

import (
	"sync"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/mem"
)

// MaxEndpoints is the largest endpoint count a DTU can have.
const MaxEndpoints = int(kif.InvalidEP)

// Op names a transfer kind reported to observers.
type Op string

const (
	OpSend  Op = "send"
	OpReply Op = "reply"
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// Observer is notified about the outcome of every transfer.
type Observer interface {
	ObserveTransfer(op Op, code kif.Code)
}

// Memory is the physical memory behind memory endpoints.
type Memory interface {
	Read(addr mem.GlobAddr, buf []byte) error
	Write(addr mem.GlobAddr, buf []byte) error
}

// NoC connects the DTUs of all PEs.
type NoC struct {
	mem      Memory
	observer Observer

	mu   sync.RWMutex
	dtus map[PEId]*DTU
}

// NewNoC creates a network without PEs. observer may be nil.
func NewNoC(memory Memory, observer Observer) *NoC {
	return &NoC{
		mem:      memory,
		observer: observer,
		dtus:     make(map[PEId]*DTU),
	}
}

// Attach creates the DTU of pe, which runs the VPE vpe.
func (n *NoC) Attach(pe PEId, vpe uint16, epCount int) (*DTU, error) {
	if epCount <= int(kif.FirstFreeEP) || epCount > MaxEndpoints {
		return nil, kif.NewError(kif.InvArgs, "noc.attach", "%d endpoints", epCount)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.dtus[pe]; ok {
		return nil, kif.NewError(kif.AlreadyExists, "noc.attach", "PE%d", pe)
	}
	d := &DTU{noc: n, pe: pe, vpe: vpe, eps: make([]endpoint, epCount)}
	n.dtus[pe] = d
	return d, nil
}

// Detach invalidates all endpoints of pe and removes its DTU.
func (n *NoC) Detach(pe PEId) {
	n.mu.Lock()
	d := n.dtus[pe]
	delete(n.dtus, pe)
	n.mu.Unlock()

	if d == nil {
		return
	}
	for ep := range d.eps {
		d.Invalidate(kif.EpID(ep))
	}
}

// DTU returns the DTU of pe or nil.
func (n *NoC) DTU(pe PEId) *DTU {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.dtus[pe]
}

func (n *NoC) deliver(pe PEId, ep kif.EpID, id uint64, h Header, data []byte) error {
	d := n.DTU(pe)
	if d == nil {
		return kif.NewError(kif.RecvGone, "dtu.deliver", "no PE%d", pe)
	}
	return d.deliver(ep, id, h, data)
}

func (n *NoC) observe(op Op, err error) {
	if n.observer != nil {
		n.observer.ObserveTransfer(op, kif.CodeOf(err))
	}
}
