package kernel

import (
	"github.com/GriffinCanCode/AgentOS/capcore/internal/dtu"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

// activate binds the gate at sel to ep of v. An InvalidSel gate clears ep.
func (k *Kernel) activate(v *VPE, ep kif.EpID, sel kif.CapSel, addr uint64) error {
	const op = "activate"

	if sel == kif.InvalidSel {
		if int(ep) >= k.cfg.EpCount || ep < kif.DefRecvEP {
			return kif.NewError(kif.InvArgs, op, "endpoint %d", ep)
		}
		if old := v.eps[ep]; old != nil {
			k.unbind(old)
			return nil
		}
		return v.dtu.Invalidate(ep)
	}

	c := v.objs.Get(sel)
	if c == nil {
		return kif.NewError(kif.NoSuchCap, op, "selector %d", sel)
	}
	g, ok := c.Object().(gate)
	if !ok {
		return kif.NewError(kif.InvArgs, op, "%s is not a gate", c.Object().Kind())
	}

	_, isRecv := g.(*RGate)
	switch {
	case ep == kif.DefRecvEP && isRecv:
	case ep < kif.FirstFreeEP || int(ep) >= k.cfg.EpCount:
		return kif.NewError(kif.InvArgs, op, "endpoint %d", ep)
	}

	st := g.state()
	if st.owner == v && st.ep == ep {
		return nil
	}

	configure, err := k.endpointConfig(g, addr)
	if err != nil {
		return err
	}

	if old := v.eps[ep]; old != nil {
		k.unbind(old)
	}
	k.unbind(g)

	if err := configure(v.dtu, ep); err != nil {
		return err
	}
	st.owner, st.ep = v, ep
	v.eps[ep] = g
	return nil
}

// endpointConfig validates g for activation and returns the function that
// programs the endpoint.
func (k *Kernel) endpointConfig(g gate, addr uint64) (func(*dtu.DTU, kif.EpID) error, error) {
	switch g := g.(type) {
	case *RGate:
		cfg := dtu.RecvConfig{ID: g.id, Addr: addr, Order: g.order, MsgOrder: g.msgOrder}
		return func(d *dtu.DTU, ep kif.EpID) error {
			g.addr = addr
			return d.ConfigRecv(ep, cfg)
		}, nil

	case *SGate:
		rg := g.rgate
		if rg.destroyed {
			return nil, kif.NewError(kif.RecvGone, "activate", "receive gate of %s is gone", g)
		}
		if rg.owner == nil {
			return nil, kif.NewError(kif.InvArgs, "activate", "receive gate of %s is not activated", g)
		}
		cfg := dtu.SendConfig{
			DstPE:    rg.owner.dtu.PE(),
			DstEP:    rg.ep,
			DstID:    rg.id,
			Label:    g.label,
			MsgOrder: rg.msgOrder,
			Credits:  g.credits,
		}
		return func(d *dtu.DTU, ep kif.EpID) error {
			return d.ConfigSend(ep, cfg)
		}, nil

	case *MGate:
		cfg := dtu.MemConfig{Addr: g.addr, Size: g.size, Perm: g.perm}
		return func(d *dtu.DTU, ep kif.EpID) error {
			return d.ConfigMem(ep, cfg)
		}, nil
	}
	return nil, kif.NewError(kif.InvArgs, "activate", "%s is not a gate", g.Kind())
}

// unbind invalidates the endpoint g is activated on, if any.
func (k *Kernel) unbind(g gate) {
	st := g.state()
	if st.owner == nil {
		return
	}
	if st.owner.eps[st.ep] == g {
		delete(st.owner.eps, st.ep)
	}
	st.owner.dtu.Invalidate(st.ep)
	st.owner, st.ep = nil, kif.InvalidEP
}
