package dtu

import "github.com/GriffinCanCode/AgentOS/capcore/internal/kif"

type slotState uint8

const (
	slotFree slotState = iota
	slotUnread
	slotFetched
)

// ringBuf is the receive buffer of a receive endpoint: 2^order bytes split
// into 2^msgOrder byte slots.
type ringBuf struct {
	cfg    RecvConfig
	buf    []byte
	state  []slotState
	seq    []uint64
	wpos   int
	next   uint64
	notify chan struct{}
}

func newRingBuf(cfg RecvConfig) *ringBuf {
	slots := 1 << (cfg.Order - cfg.MsgOrder)
	return &ringBuf{
		cfg:    cfg,
		buf:    make([]byte, 1<<cfg.Order),
		state:  make([]slotState, slots),
		seq:    make([]uint64, slots),
		wpos:   slots - 1,
		notify: make(chan struct{}, 1),
	}
}

func (r *ringBuf) slotSize() int { return 1 << r.cfg.MsgOrder }

func (r *ringBuf) slot(i int) []byte {
	sz := r.slotSize()
	return r.buf[i*sz : (i+1)*sz]
}

// put writes the message into the next free slot after the last written one.
func (r *ringBuf) put(h Header, data []byte) error {
	if err := checkPayload("dtu.deliver", len(data), r.slotSize()); err != nil {
		return err
	}

	n := len(r.state)
	for i := 1; i <= n; i++ {
		idx := (r.wpos + i) % n
		if r.state[idx] != slotFree {
			continue
		}

		s := r.slot(idx)
		h.encode(s)
		copy(s[HeaderSize:], data)

		r.next++
		r.state[idx] = slotUnread
		r.seq[idx] = r.next
		r.wpos = idx

		select {
		case r.notify <- struct{}{}:
		default:
		}
		return nil
	}
	return kif.NewError(kif.NoSpace, "dtu.deliver", "all %d slots occupied", n)
}

// fetch returns the oldest unread message accepted by match.
func (r *ringBuf) fetch(match func(*Message) bool) *Message {
	var best *Message
	for i, st := range r.state {
		if st != slotUnread || (best != nil && r.seq[i] > best.seq) {
			continue
		}
		msg := r.message(i)
		if match == nil || match(msg) {
			best = msg
		}
	}
	if best != nil {
		r.state[best.slot] = slotFetched
	}
	return best
}

func (r *ringBuf) message(i int) *Message {
	s := r.slot(i)
	h := decodeHeader(s)
	data := make([]byte, h.Length)
	copy(data, s[HeaderSize:])
	return &Message{Header: h, Data: data, slot: i, seq: r.seq[i]}
}

// check verifies that msg still occupies its slot.
func (r *ringBuf) check(msg *Message, op string) error {
	if msg == nil || msg.slot < 0 || msg.slot >= len(r.state) ||
		r.state[msg.slot] == slotFree || r.seq[msg.slot] != msg.seq {
		return kif.NewError(kif.InvArgs, op, "message was already acknowledged")
	}
	return nil
}

func (r *ringBuf) ack(msg *Message) {
	r.state[msg.slot] = slotFree
}

func (r *ringBuf) occupied() (unread, total int) {
	for _, st := range r.state {
		if st != slotFree {
			total++
		}
		if st == slotUnread {
			unread++
		}
	}
	return unread, total
}
