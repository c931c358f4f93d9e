package kernel

import (
	"github.com/GriffinCanCode/AgentOS/capcore/internal/cap"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/dtu"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/mem"
)

// Syscalls is the kernel interface of one VPE.
type Syscalls struct {
	k   *Kernel
	vpe *VPE
}

// VPE returns the calling VPE
func (s *Syscalls) VPE() *VPE { return s.vpe }

// Noop does nothing. It measures the syscall path.
func (s *Syscalls) Noop() error {
	return s.k.syscall(s.vpe, kif.SysNoop, func() error { return nil })
}

// Activate binds the gate at sel to endpoint ep. addr is the address of the
// receive buffer when the gate is an RGate. Passing kif.InvalidSel
// invalidates ep.
func (s *Syscalls) Activate(ep kif.EpID, sel kif.CapSel, addr uint64) error {
	return s.k.syscall(s.vpe, kif.SysActivate, func() error {
		return s.k.activate(s.vpe, ep, sel, addr)
	})
}

// CreateRGate creates a receive gate with a buffer of 2^order bytes split into
// 2^msgOrder byte slots. Slots smaller than dtu.HeaderSize are accepted but
// cannot hold a message.
func (s *Syscalls) CreateRGate(dst kif.CapSel, order, msgOrder uint) error {
	return s.k.syscall(s.vpe, kif.SysCreateRGate, func() error {
		const op = "create_rgate"
		if msgOrder > order {
			return kif.NewError(kif.InvArgs, op, "slot order %d exceeds buffer order %d", msgOrder, order)
		}
		if order > s.k.cfg.MaxRecvOrder {
			return kif.NewError(kif.InvArgs, op, "buffer order %d exceeds %d", order, s.k.cfg.MaxRecvOrder)
		}

		g := &RGate{
			k:        s.k,
			id:       s.k.objectID(),
			order:    order,
			msgOrder: msgOrder,
			binding:  binding{ep: kif.InvalidEP},
		}
		_, err := s.vpe.objs.Create(dst, g)
		return err
	})
}

// CreateSGate creates a send gate for the RGate at rgate. Every message
// carries label. credits limits the number of messages, zero means unlimited.
func (s *Syscalls) CreateSGate(dst, rgate kif.CapSel, label kif.Label, credits uint32) error {
	return s.k.syscall(s.vpe, kif.SysCreateSGate, func() error {
		rc := s.vpe.objs.Get(rgate)
		if rc == nil {
			return kif.NewError(kif.InvArgs, "create_sgate", "no receive gate at %d", rgate)
		}
		rg, ok := rc.Object().(*RGate)
		if !ok {
			return kif.NewError(kif.InvArgs, "create_sgate", "%s at %d is no receive gate", rc.Object().Kind(), rgate)
		}

		g := &SGate{
			k:       s.k,
			rgate:   rg,
			label:   label,
			credits: dtu.NewCredits(credits),
			binding: binding{ep: kif.InvalidEP},
		}
		_, err := s.vpe.objs.Derive(dst, rc, g)
		return err
	})
}

// CreateMGate allocates size bytes of physical memory and creates a memory
// gate for them. With addr set to kif.InvalidAddr the kernel picks the
// location, otherwise the memory at offset addr of the first module is used.
func (s *Syscalls) CreateMGate(dst kif.CapSel, addr, size uint64, perm kif.Perm) error {
	return s.k.syscall(s.vpe, kif.SysCreateMGate, func() error {
		if size == 0 || perm == 0 || !perm.Valid() {
			return kif.NewError(kif.InvArgs, "create_mgate", "size %#x, perm %s", size, perm)
		}

		var alloc *mem.Allocation
		var err error
		if addr == kif.InvalidAddr {
			alloc, err = s.k.mem.Allocate(size, mem.PageSize)
		} else {
			alloc, err = s.k.mem.AllocateAt(addr, size)
		}
		if err != nil {
			return err
		}
		defer alloc.Release()

		g := &MGate{
			k:       s.k,
			addr:    alloc.Addr(),
			size:    size,
			perm:    perm,
			owned:   true,
			binding: binding{ep: kif.InvalidEP},
		}
		if _, err := s.vpe.objs.Create(dst, g); err != nil {
			return err
		}
		alloc.Claim()
		return nil
	})
}

// CreateMap maps pages [first, first+pages) of the memory gate at mgate into
// the VPE at vpe, starting at virtual page dst.
func (s *Syscalls) CreateMap(dst, vpe, mgate kif.CapSel, first, pages uint64, perm kif.Perm) error {
	return s.k.syscall(s.vpe, kif.SysCreateMap, func() error {
		const op = "create_map"
		target, err := s.vpeAt(vpe, op)
		if err != nil {
			return err
		}
		mc, mg, err := s.mgateAt(mgate, op)
		if err != nil {
			return err
		}

		if pages == 0 || first+pages < first || (first+pages)*mem.PageSize > mg.size {
			return kif.NewError(kif.InvArgs, op, "pages [%d, %d) outside %s", first, first+pages, mg)
		}
		if !perm.Subset(mg.perm) || perm == 0 {
			return kif.NewError(kif.InvArgs, op, "perm %s exceeds %s", perm, mg.perm)
		}

		m := &Map{mgate: mg, virt: dst, first: first, pages: pages, perm: perm}
		_, err = target.maps.Derive(dst, mc, m)
		return err
	})
}

// CreateSrv registers a service under name that receives requests on the
// RGate at rgate.
func (s *Syscalls) CreateSrv(dst, rgate kif.CapSel, name string) error {
	return s.k.syscall(s.vpe, kif.SysCreateSrv, func() error {
		const op = "create_srv"
		if name == "" {
			return kif.NewError(kif.InvArgs, op, "empty service name")
		}
		rc := s.vpe.objs.Get(rgate)
		if rc == nil {
			return kif.NewError(kif.NoSuchCap, op, "selector %d", rgate)
		}
		rg, ok := rc.Object().(*RGate)
		if !ok {
			return kif.NewError(kif.InvArgs, op, "%s at %d is no receive gate", rc.Object().Kind(), rgate)
		}
		if _, ok := s.k.services[name]; ok {
			return kif.NewError(kif.AlreadyExists, op, "service %q", name)
		}

		srv := &Service{k: s.k, name: name, owner: s.vpe, rgate: rg}
		c, err := s.vpe.objs.Create(dst, srv)
		if err != nil {
			return err
		}
		srv.self = c
		s.k.services[name] = srv
		return nil
	})
}

// OpenSess opens a session at the service name. arg is passed to the service.
func (s *Syscalls) OpenSess(dst kif.CapSel, name string, arg uint64) error {
	return s.k.syscall(s.vpe, kif.SysOpenSess, func() error {
		srv, ok := s.k.services[name]
		if !ok {
			return kif.NewError(kif.InvArgs, "open_sess", "unknown service %q", name)
		}
		_, err := s.vpe.objs.Derive(dst, srv.self, &Session{srv: srv, arg: arg})
		return err
	})
}

// CreateVPE starts a new VPE on a free PE. The caller receives the capability
// for it at dst; revoking that capability kills the VPE.
func (s *Syscalls) CreateVPE(dst kif.CapSel, name string) (*VPE, error) {
	var child *VPE
	err := s.k.syscall(s.vpe, kif.SysCreateVPE, func() error {
		if dst >= s.k.cfg.MaxSels {
			return kif.NewError(kif.InvArgs, "create_vpe", "selector %d out of range", dst)
		}
		if s.vpe.objs.Get(dst) != nil {
			return kif.NewError(kif.AlreadyExists, "create_vpe", "selector %d", dst)
		}

		v, err := s.k.newVPE(name, s.vpe)
		if err != nil {
			return err
		}
		c, err := s.vpe.objs.Create(dst, v)
		if err != nil {
			s.k.discardVPE(v)
			return err
		}
		if _, err := v.objs.Derive(kif.SelVPE, c, v); err != nil {
			return err
		}
		child = v
		return nil
	})
	return child, err
}

// DeriveMem creates a memory gate for [off, off+size) of the memory gate at
// src with at most its permissions.
func (s *Syscalls) DeriveMem(dst, src kif.CapSel, off, size uint64, perm kif.Perm) error {
	return s.k.syscall(s.vpe, kif.SysDeriveMem, func() error {
		const op = "derive_mem"
		sc, sg, err := s.mgateAt(src, op)
		if err != nil {
			return err
		}
		if size == 0 || off+size < off || off+size > sg.size {
			return kif.NewError(kif.InvArgs, op, "[%#x, %#x) outside %s", off, off+size, sg)
		}
		if !perm.Subset(sg.perm) {
			return kif.NewError(kif.InvArgs, op, "perm %s exceeds %s", perm, sg.perm)
		}

		g := &MGate{
			k:       s.k,
			addr:    sg.addr.Add(off),
			size:    size,
			perm:    perm,
			binding: binding{ep: kif.InvalidEP},
		}
		_, err = s.vpe.objs.Derive(dst, sc, g)
		return err
	})
}

// Exchange hands the capabilities in own to the VPE at vpe, placing them at
// other and the following selectors. With obtain set the receiver gets
// derived copies, otherwise the capabilities are moved.
func (s *Syscalls) Exchange(vpe kif.CapSel, own kif.CapRngDesc, other kif.CapSel, obtain bool) error {
	return s.k.syscall(s.vpe, kif.SysExchange, func() error {
		target, err := s.vpeAt(vpe, "exchange")
		if err != nil {
			return err
		}
		if !obtain && own.Type == kif.CapObject && own.Contains(kif.SelVPE) {
			return kif.NewError(kif.InvArgs, "exchange", "cannot give away the own VPE capability")
		}
		return cap.Exchange(s.vpe.table(own.Type), own, target.table(own.Type), other, obtain)
	})
}

// Revoke revokes the capabilities in crd of the VPE at vpe together with all
// capabilities derived from them. Without own the addressed capabilities
// stay and only their descendants are revoked.
func (s *Syscalls) Revoke(vpe kif.CapSel, crd kif.CapRngDesc, own bool) error {
	return s.k.syscall(s.vpe, kif.SysRevoke, func() error {
		target, err := s.vpeAt(vpe, "revoke")
		if err != nil {
			return err
		}
		if own && target == s.vpe && crd.Type == kif.CapObject && crd.Contains(kif.SelVPE) {
			return kif.NewError(kif.InvArgs, "revoke", "cannot revoke the own VPE capability")
		}
		return cap.Revoke(target.table(crd.Type), crd, own)
	})
}

func (s *Syscalls) vpeAt(sel kif.CapSel, op string) (*VPE, error) {
	c := s.vpe.objs.Get(sel)
	if c == nil {
		return nil, kif.NewError(kif.NoSuchCap, op, "selector %d", sel)
	}
	v, ok := c.Object().(*VPE)
	if !ok {
		return nil, kif.NewError(kif.InvArgs, op, "%s at %d is no VPE", c.Object().Kind(), sel)
	}
	return v, nil
}

func (s *Syscalls) mgateAt(sel kif.CapSel, op string) (*cap.Capability, *MGate, error) {
	c := s.vpe.objs.Get(sel)
	if c == nil {
		return nil, nil, kif.NewError(kif.NoSuchCap, op, "selector %d", sel)
	}
	g, ok := c.Object().(*MGate)
	if !ok {
		return nil, nil, kif.NewError(kif.InvArgs, op, "%s at %d is no memory gate", c.Object().Kind(), sel)
	}
	return c, g, nil
}
