package com

import "github.com/GriffinCanCode/AgentOS/capcore/internal/kif"

// Gate is the part common to all gates: a capability that can be activated
// on an endpoint.
type Gate struct {
	env   *Env
	sel   kif.CapSel
	ep    kif.EpID
	owned bool
}

func newGate(env *Env, sel kif.CapSel, owned bool) Gate {
	return Gate{env: env, sel: sel, ep: kif.InvalidEP, owned: owned}
}

// Sel returns the capability selector
func (g *Gate) Sel() kif.CapSel { return g.sel }

// EP returns the endpoint the gate is activated on, or kif.InvalidEP.
func (g *Gate) EP() kif.EpID { return g.ep }

// activate binds the gate to a free endpoint unless it is bound already.
func (g *Gate) activate(addr uint64) error {
	if g.ep != kif.InvalidEP {
		return nil
	}
	ep, err := g.env.AllocEP()
	if err != nil {
		return err
	}
	if err := g.env.sys.Activate(ep, g.sel, addr); err != nil {
		g.env.FreeEP(ep)
		return err
	}
	g.ep = ep
	return nil
}

// rebind moves the endpoint of an activated gate to the capability at sel.
func (g *Gate) rebind(sel kif.CapSel) error {
	if g.ep != kif.InvalidEP {
		if err := g.env.sys.Activate(g.ep, sel, 0); err != nil {
			return err
		}
	}
	g.sel = sel
	return nil
}

// close revokes owned capabilities and frees the endpoint.
func (g *Gate) close() error {
	var err error
	if g.owned {
		if err = g.env.revoke(g.sel); err == nil {
			g.owned = false
			g.env.FreeSel(g.sel)
		}
	} else if g.ep != kif.InvalidEP {
		err = g.env.sys.Activate(g.ep, kif.InvalidSel, 0)
	}
	if g.ep != kif.InvalidEP {
		g.env.FreeEP(g.ep)
		g.ep = kif.InvalidEP
	}
	return err
}
