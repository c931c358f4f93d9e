package com

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/dtu"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

// MinSlotOrder is the smallest slot order that fits a message header.
const MinSlotOrder = 5

// RecvGate receives messages into a ring buffer of 2^order bytes, split into
// 2^msgOrder byte slots.
type RecvGate struct {
	Gate
	order    uint
	msgOrder uint
	bufAddr  uint64
	closed   bool
}

// NewRecvGate creates a receive gate with 2^slotOrder byte slots in a buffer
// of 2^totalOrder bytes.
//
// Every slot order up to totalOrder is accepted, but a slot has to hold
// dtu.HeaderSize bytes plus the payload. Gates with slots below MinSlotOrder
// can be activated and never receive anything; deliveries to them fail with
// kif.InvArgs.
func NewRecvGate(env *Env, slotOrder, totalOrder uint) (*RecvGate, error) {
	return newRecvGate(env, slotOrder, totalOrder)
}

func newRecvGate(env *Env, slotOrder, totalOrder uint) (*RecvGate, error) {
	if slotOrder > totalOrder || totalOrder >= 64 {
		return nil, kif.NewError(kif.InvArgs, "recvgate.new", "slot order %d, total order %d", slotOrder, totalOrder)
	}

	size := uint64(1) << totalOrder
	addr, err := env.allocRecvBuf(size)
	if err != nil {
		return nil, err
	}

	sel := env.AllocSel()
	if err := env.sys.CreateRGate(sel, totalOrder, slotOrder); err != nil {
		env.FreeSel(sel)
		env.freeRecvBuf(addr, size)
		return nil, err
	}

	return &RecvGate{
		Gate:     newGate(env, sel, true),
		order:    totalOrder,
		msgOrder: slotOrder,
		bufAddr:  addr,
	}, nil
}

// BindRecvGate wraps a receive gate capability the VPE received from its
// parent. The buffer is allocated here; closing the gate deactivates it but
// leaves the capability in place.
func BindRecvGate(env *Env, sel kif.CapSel, slotOrder, totalOrder uint) (*RecvGate, error) {
	if slotOrder > totalOrder || totalOrder >= 64 {
		return nil, kif.NewError(kif.InvArgs, "recvgate.bind", "slot order %d, total order %d", slotOrder, totalOrder)
	}
	addr, err := env.allocRecvBuf(uint64(1) << totalOrder)
	if err != nil {
		return nil, err
	}
	return &RecvGate{
		Gate:     newGate(env, sel, false),
		order:    totalOrder,
		msgOrder: slotOrder,
		bufAddr:  addr,
	}, nil
}

// Order returns the buffer order
func (r *RecvGate) Order() uint { return r.order }

// MsgOrder returns the slot order
func (r *RecvGate) MsgOrder() uint { return r.msgOrder }

// Slots returns the number of message slots
func (r *RecvGate) Slots() int { return 1 << (r.order - r.msgOrder) }

// Activate binds the gate to a free endpoint. It does nothing if the gate is
// active already.
func (r *RecvGate) Activate() error {
	return r.activate(r.bufAddr)
}

func (r *RecvGate) activateOn(ep kif.EpID) error {
	if err := r.env.sys.Activate(ep, r.sel, r.bufAddr); err != nil {
		return err
	}
	r.ep = ep
	return nil
}

// Fetch returns the oldest unread message, or nil if there is none.
func (r *RecvGate) Fetch() (*dtu.Message, error) {
	if err := r.Activate(); err != nil {
		return nil, err
	}
	return r.env.dtu.Fetch(r.ep, nil)
}

// Wait blocks until a message arrives and returns it. With expected set,
// only replies to messages sent through expected are accepted. The message
// occupies its slot until it is marked read or replied to.
func (r *RecvGate) Wait(ctx context.Context, expected *SendGate) (*dtu.Message, error) {
	if err := r.Activate(); err != nil {
		return nil, err
	}

	var match func(*dtu.Message) bool
	if expected != nil {
		ep, label := expected.ep, expected.replyLabel()
		match = func(m *dtu.Message) bool {
			return m.IsReply() && m.ReplyEP == ep && m.Label == label
		}
	}

	d := r.env.dtu
	for {
		msg, err := d.Fetch(r.ep, match)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		notify, err := d.Notify(r.ep)
		if err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		}
	}
}

// MarkRead frees the slot of msg.
func (r *RecvGate) MarkRead(msg *dtu.Message) error {
	return r.env.dtu.MarkRead(r.ep, msg)
}

// Reply answers msg and frees its slot.
func (r *RecvGate) Reply(msg *dtu.Message, data []byte) error {
	return r.env.dtu.Reply(r.ep, msg, data)
}

// Close revokes the gate and returns its buffer space.
func (r *RecvGate) Close() error {
	err := r.close()
	if !r.closed {
		r.closed = true
		r.env.freeRecvBuf(r.bufAddr, uint64(1)<<r.order)
	}
	return err
}
