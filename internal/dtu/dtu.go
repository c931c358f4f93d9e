package dtu

import (
	"sync"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

// DTU is the data transfer unit of one PE.
type DTU struct {
	noc *NoC
	pe  PEId
	vpe uint16

	mu  sync.Mutex
	eps []endpoint
}

// PE returns the PE the DTU belongs to
func (d *DTU) PE() PEId { return d.pe }

// VPE returns the id of the VPE running on the PE
func (d *DTU) VPE() uint16 { return d.vpe }

// EpCount returns the number of endpoints
func (d *DTU) EpCount() int { return len(d.eps) }

// ConfigSend turns ep into a send endpoint.
func (d *DTU) ConfigSend(ep kif.EpID, cfg SendConfig) error {
	if cfg.Credits == nil {
		cfg.Credits = NewCredits(0)
	}
	return d.config(ep, "dtu.config_send", func(e *endpoint) {
		e.typ = EpSend
		e.send = cfg
	})
}

// ConfigRecv turns ep into a receive endpoint with an empty ring buffer.
func (d *DTU) ConfigRecv(ep kif.EpID, cfg RecvConfig) error {
	if cfg.MsgOrder > cfg.Order {
		return kif.NewError(kif.InvArgs, "dtu.config_recv", "slot order %d exceeds buffer order %d", cfg.MsgOrder, cfg.Order)
	}
	return d.config(ep, "dtu.config_recv", func(e *endpoint) {
		e.typ = EpRecv
		e.recv = newRingBuf(cfg)
	})
}

// ConfigMem turns ep into a memory endpoint.
func (d *DTU) ConfigMem(ep kif.EpID, cfg MemConfig) error {
	return d.config(ep, "dtu.config_mem", func(e *endpoint) {
		e.typ = EpMem
		e.mem = cfg
	})
}

// Invalidate resets ep. Waiters on a receive endpoint are woken up.
func (d *DTU) Invalidate(ep kif.EpID) error {
	return d.config(ep, "dtu.invalidate", func(*endpoint) {})
}

func (d *DTU) config(ep kif.EpID, op string, fn func(e *endpoint)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if int(ep) >= len(d.eps) {
		return kif.NewError(kif.InvEP, op, "endpoint %d", ep)
	}
	e := &d.eps[ep]
	if e.recv != nil {
		close(e.recv.notify)
	}
	*e = endpoint{}
	fn(e)
	return nil
}

// Type returns the configuration state of ep.
func (d *DTU) Type(ep kif.EpID) EpType {
	d.mu.Lock()
	defer d.mu.Unlock()

	if int(ep) >= len(d.eps) {
		return EpInvalid
	}
	return d.eps[ep].typ
}

// Send transfers data through the send endpoint ep. The receiver can answer
// on replyEP of this DTU, tagged with replyLabel.
func (d *DTU) Send(ep kif.EpID, data []byte, replyLabel kif.Label, replyEP kif.EpID) error {
	err := d.send(ep, data, replyLabel, replyEP)
	d.noc.observe(OpSend, err)
	return err
}

func (d *DTU) send(ep kif.EpID, data []byte, replyLabel kif.Label, replyEP kif.EpID) error {
	const op = "dtu.send"

	d.mu.Lock()
	e, err := d.endpoint(ep, EpSend, op)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	cfg := e.send
	d.mu.Unlock()

	if err := checkPayload(op, len(data), 1<<cfg.MsgOrder); err != nil {
		return err
	}
	if !cfg.Credits.take() {
		return kif.NewError(kif.MissCredits, op, "endpoint %d", ep)
	}

	h := Header{
		SenderPE:   d.pe,
		SenderEP:   ep,
		ReplyEP:    replyEP,
		Length:     uint16(len(data)),
		SenderVPE:  d.vpe,
		Label:      cfg.Label,
		ReplyLabel: replyLabel,
	}
	if err := d.noc.deliver(cfg.DstPE, cfg.DstEP, cfg.DstID, h, data); err != nil {
		cfg.Credits.refund()
		return err
	}
	return nil
}

// Reply answers msg, which was received on ep. The reply goes to the endpoint
// the sender named and carries its reply label. On success the slot of msg is
// freed.
func (d *DTU) Reply(ep kif.EpID, msg *Message, data []byte) error {
	err := d.reply(ep, msg, data)
	d.noc.observe(OpReply, err)
	return err
}

func (d *DTU) reply(ep kif.EpID, msg *Message, data []byte) error {
	const op = "dtu.reply"

	d.mu.Lock()
	e, err := d.endpoint(ep, EpRecv, op)
	if err == nil {
		err = e.recv.check(msg, op)
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if len(data) > MaxPayload {
		return kif.NewError(kif.InvArgs, op, "%d bytes exceed the %d byte payload limit", len(data), MaxPayload)
	}

	h := Header{
		Flags:     FlagReply,
		SenderPE:  d.pe,
		SenderEP:  ep,
		ReplyEP:   msg.SenderEP,
		Length:    uint16(len(data)),
		SenderVPE: d.vpe,
		Label:     msg.ReplyLabel,
	}
	if err := d.noc.deliver(msg.SenderPE, msg.ReplyEP, 0, h, data); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if e, err := d.endpoint(ep, EpRecv, op); err == nil && e.recv.check(msg, op) == nil {
		e.recv.ack(msg)
	}
	return nil
}

// Fetch returns the oldest unread message on ep that match accepts, or nil if
// there is none. A nil match accepts every message.
func (d *DTU) Fetch(ep kif.EpID, match func(*Message) bool) (*Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.endpoint(ep, EpRecv, "dtu.fetch")
	if err != nil {
		return nil, err
	}
	return e.recv.fetch(match), nil
}

// MarkRead frees the slot of msg.
func (d *DTU) MarkRead(ep kif.EpID, msg *Message) error {
	const op = "dtu.mark_read"

	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.endpoint(ep, EpRecv, op)
	if err != nil {
		return err
	}
	if err := e.recv.check(msg, op); err != nil {
		return err
	}
	e.recv.ack(msg)
	return nil
}

// Notify returns a channel that receives a value whenever a message arrives
// on ep and is closed when ep is reconfigured.
func (d *DTU) Notify(ep kif.EpID) (<-chan struct{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.endpoint(ep, EpRecv, "dtu.notify")
	if err != nil {
		return nil, err
	}
	return e.recv.notify, nil
}

// Read copies memory at offset off of the memory endpoint ep into buf.
func (d *DTU) Read(ep kif.EpID, buf []byte, off uint64) error {
	err := d.access(ep, buf, off, kif.PermR, "dtu.read")
	d.noc.observe(OpRead, err)
	return err
}

// Write copies buf to offset off of the memory endpoint ep.
func (d *DTU) Write(ep kif.EpID, buf []byte, off uint64) error {
	err := d.access(ep, buf, off, kif.PermW, "dtu.write")
	d.noc.observe(OpWrite, err)
	return err
}

func (d *DTU) access(ep kif.EpID, buf []byte, off uint64, perm kif.Perm, op string) error {
	d.mu.Lock()
	e, err := d.endpoint(ep, EpMem, op)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	cfg := e.mem
	d.mu.Unlock()

	if !perm.Subset(cfg.Perm) {
		return kif.NewError(kif.NoPerm, op, "%s on %s window", perm, cfg.Perm)
	}
	size := uint64(len(buf))
	if off+size < off || off+size > cfg.Size {
		return kif.NewError(kif.InvArgs, op, "[%#x, %#x) outside window of %#x bytes", off, off+size, cfg.Size)
	}
	if size == 0 {
		return nil
	}
	if perm == kif.PermR {
		return d.noc.mem.Read(cfg.Addr.Add(off), buf)
	}
	return d.noc.mem.Write(cfg.Addr.Add(off), buf)
}

// Endpoints describes all endpoints in order.
func (d *DTU) Endpoints() []EndpointInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	infos := make([]EndpointInfo, len(d.eps))
	for i := range d.eps {
		infos[i] = d.eps[i].info(kif.EpID(i))
	}
	return infos
}

// endpoint returns ep if it is configured as typ. Callers hold d.mu.
func (d *DTU) endpoint(ep kif.EpID, typ EpType, op string) (*endpoint, error) {
	if int(ep) >= len(d.eps) {
		return nil, kif.NewError(kif.InvEP, op, "endpoint %d", ep)
	}
	e := &d.eps[ep]
	if e.typ != typ {
		return nil, kif.NewError(kif.InvEP, op, "endpoint %d is %s, not %s", ep, e.typ, typ)
	}
	return e, nil
}

// deliver puts a message into the receive endpoint ep if it still belongs to
// the configuration id.
func (d *DTU) deliver(ep kif.EpID, id uint64, h Header, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if int(ep) >= len(d.eps) {
		return kif.NewError(kif.RecvGone, "dtu.deliver", "PE%d has no endpoint %d", d.pe, ep)
	}
	e := &d.eps[ep]
	if e.typ != EpRecv || (id != 0 && e.recv.cfg.ID != id) {
		return kif.NewError(kif.RecvGone, "dtu.deliver", "PE%d:EP%d", d.pe, ep)
	}
	return e.recv.put(h, data)
}
