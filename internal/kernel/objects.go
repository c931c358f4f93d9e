package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/cap"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/dtu"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/mem"
)

// binding records where a gate is activated.
type binding struct {
	owner *VPE
	ep    kif.EpID
}

func (b *binding) state() *binding { return b }

// gate is an object that can be activated on an endpoint.
type gate interface {
	cap.Object
	state() *binding
}

// RGate is a receive buffer of 2^order bytes in 2^msgOrder byte slots.
type RGate struct {
	cap.Header
	binding

	k         *Kernel
	id        uint64
	order     uint
	msgOrder  uint
	addr      uint64
	destroyed bool
}

// Kind implements cap.Object
func (g *RGate) Kind() cap.Kind { return cap.KindRGate }

// Destroy implements cap.Destroyer
func (g *RGate) Destroy() {
	g.k.unbind(g)
	g.destroyed = true
}

func (g *RGate) String() string {
	return fmt.Sprintf("RGate[order=%d, msg_order=%d, ep=%s]", g.order, g.msgOrder, epString(&g.binding))
}

// SGate sends labeled messages to an RGate.
type SGate struct {
	cap.Header
	binding

	k       *Kernel
	rgate   *RGate
	label   kif.Label
	credits *dtu.Credits
}

// Kind implements cap.Object
func (g *SGate) Kind() cap.Kind { return cap.KindSGate }

// Destroy implements cap.Destroyer
func (g *SGate) Destroy() { g.k.unbind(g) }

func (g *SGate) String() string {
	return fmt.Sprintf("SGate[label=%#x, credits=%s, ep=%s]", uint64(g.label), g.credits, epString(&g.binding))
}

// MGate is a window onto physical memory. The root window of an allocation
// owns the memory and frees it when destroyed.
type MGate struct {
	cap.Header
	binding

	k     *Kernel
	addr  mem.GlobAddr
	size  uint64
	perm  kif.Perm
	owned bool
}

// Kind implements cap.Object
func (g *MGate) Kind() cap.Kind { return cap.KindMGate }

// Destroy implements cap.Destroyer
func (g *MGate) Destroy() {
	g.k.unbind(g)
	if g.owned {
		g.k.mem.Free(g.addr, g.size)
	}
}

func (g *MGate) String() string {
	return fmt.Sprintf("MGate[addr=%s, size=%#x, perm=%s]", g.addr, g.size, g.perm)
}

// Service is a named server reachable through an RGate.
type Service struct {
	cap.Header

	k     *Kernel
	name  string
	owner *VPE
	rgate *RGate
	self  *cap.Capability
}

// Kind implements cap.Object
func (s *Service) Kind() cap.Kind { return cap.KindService }

// Destroy implements cap.Destroyer
func (s *Service) Destroy() {
	if s.k.services[s.name] == s {
		delete(s.k.services, s.name)
	}
	s.k.logger.Info("Service unregistered",
		zap.String("name", s.name),
		zap.Uint16("vpe", s.owner.id),
	)
}

func (s *Service) String() string {
	return fmt.Sprintf("Service[name=%s, vpe=%d]", s.name, s.owner.id)
}

// Session is a client connection to a service.
type Session struct {
	cap.Header

	srv *Service
	arg uint64
}

// Kind implements cap.Object
func (s *Session) Kind() cap.Kind { return cap.KindSession }

func (s *Session) String() string {
	return fmt.Sprintf("Session[srv=%s, arg=%#x]", s.srv.name, s.arg)
}

// Map maps pages of an MGate into the virtual address space of a VPE.
type Map struct {
	cap.Header

	mgate *MGate
	virt  kif.CapSel
	first uint64
	pages uint64
	perm  kif.Perm
}

// Kind implements cap.Object
func (m *Map) Kind() cap.Kind { return cap.KindMap }

func (m *Map) String() string {
	return fmt.Sprintf("Map[virt=%#x, phys=%s, pages=%d, perm=%s]",
		uint64(m.virt)*mem.PageSize, m.mgate.addr.Add(m.first*mem.PageSize), m.pages, m.perm)
}

func epString(b *binding) string {
	if b.owner == nil {
		return "-"
	}
	return fmt.Sprintf("%d@vpe%d", b.ep, b.owner.id)
}
