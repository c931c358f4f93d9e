package com

import (
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

// SGateArgs collects the parameters of a new SendGate.
type SGateArgs struct {
	rgate   *RecvGate
	label   kif.Label
	credits uint32
	sel     kif.CapSel
}

// NewSGateArgs starts a SendGate description for rgate with unlimited
// credits and label zero.
func NewSGateArgs(rgate *RecvGate) SGateArgs {
	return SGateArgs{rgate: rgate, sel: kif.InvalidSel}
}

// Label sets the label written into every message
func (a SGateArgs) Label(l kif.Label) SGateArgs {
	a.label = l
	return a
}

// Credits limits the number of messages; zero means unlimited
func (a SGateArgs) Credits(c uint32) SGateArgs {
	a.credits = c
	return a
}

// Sel places the gate at a given selector instead of a fresh one
func (a SGateArgs) Sel(sel kif.CapSel) SGateArgs {
	a.sel = sel
	return a
}

// SendGate sends messages to a RecvGate.
type SendGate struct {
	Gate
}

// NewSendGate creates a send gate for rgate with unlimited credits.
func NewSendGate(rgate *RecvGate) (*SendGate, error) {
	return NewSendGateWith(NewSGateArgs(rgate))
}

// NewSendGateWith creates a send gate as described by args.
func NewSendGateWith(args SGateArgs) (*SendGate, error) {
	env := args.rgate.env
	sel := args.sel
	if sel == kif.InvalidSel {
		sel = env.AllocSel()
	}
	if err := env.sys.CreateSGate(sel, args.rgate.sel, args.label, args.credits); err != nil {
		if args.sel == kif.InvalidSel {
			env.FreeSel(sel)
		}
		return nil, err
	}
	return &SendGate{Gate: newGate(env, sel, true)}, nil
}

// BindSendGate wraps a send gate capability the VPE received from elsewhere.
// Closing the gate does not revoke the capability.
func BindSendGate(env *Env, sel kif.CapSel) *SendGate {
	return &SendGate{Gate: newGate(env, sel, false)}
}

// Send transfers data to the receive gate. Replies go to reply, or to the
// default receive gate if reply is nil. The gate is activated on first use.
func (s *SendGate) Send(data []byte, reply *RecvGate) error {
	if err := s.activate(0); err != nil {
		return err
	}
	if reply == nil {
		reply = s.env.defRecv
	}
	if err := reply.Activate(); err != nil {
		return err
	}
	return s.env.dtu.Send(s.ep, data, s.replyLabel(), reply.ep)
}

// Rebind switches the gate to the capability at sel, keeping its endpoint.
func (s *SendGate) Rebind(sel kif.CapSel) error {
	return s.rebind(sel)
}

// Close revokes the gate if it was created by this VPE and frees its
// endpoint.
func (s *SendGate) Close() error {
	return s.close()
}

// replyLabel tags replies to messages sent through s.
func (s *SendGate) replyLabel() kif.Label {
	return kif.Label(s.sel)
}
