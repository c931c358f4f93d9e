package dtu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

// HeaderSize is the size of the message header in a receive slot.
const HeaderSize = 24

// MaxPayload is the largest payload the header's length field can describe.
const MaxPayload = math.MaxUint16

// FlagReply marks a message sent with Reply.
const FlagReply uint8 = 1 << 0

// PEId identifies a processing element.
type PEId uint8

// Header precedes every message in a receive slot.
//
// Layout (little endian):
//
//	0  flags       u8
//	1  sender PE   u8
//	2  sender EP   u8
//	3  reply EP    u8
//	4  length      u16
//	6  sender VPE  u16
//	8  label       u64
//	16 reply label u64
type Header struct {
	Flags      uint8
	SenderPE   PEId
	SenderEP   kif.EpID
	ReplyEP    kif.EpID
	Length     uint16
	SenderVPE  uint16
	Label      kif.Label
	ReplyLabel kif.Label
}

// IsReply reports whether the message answers an earlier one.
func (h *Header) IsReply() bool {
	return h.Flags&FlagReply != 0
}

func (h *Header) encode(b []byte) {
	b[0] = h.Flags
	b[1] = byte(h.SenderPE)
	b[2] = byte(h.SenderEP)
	b[3] = byte(h.ReplyEP)
	binary.LittleEndian.PutUint16(b[4:], h.Length)
	binary.LittleEndian.PutUint16(b[6:], h.SenderVPE)
	binary.LittleEndian.PutUint64(b[8:], uint64(h.Label))
	binary.LittleEndian.PutUint64(b[16:], uint64(h.ReplyLabel))
}

func decodeHeader(b []byte) Header {
	return Header{
		Flags:      b[0],
		SenderPE:   PEId(b[1]),
		SenderEP:   kif.EpID(b[2]),
		ReplyEP:    kif.EpID(b[3]),
		Length:     binary.LittleEndian.Uint16(b[4:]),
		SenderVPE:  binary.LittleEndian.Uint16(b[6:]),
		Label:      kif.Label(binary.LittleEndian.Uint64(b[8:])),
		ReplyLabel: kif.Label(binary.LittleEndian.Uint64(b[16:])),
	}
}

// Message is a received message. It stays valid until it is marked read or
// replied to.
type Message struct {
	Header
	Data []byte

	slot int
	seq  uint64
}

// Slot returns the index of the ring buffer slot holding the message
func (m *Message) Slot() int { return m.slot }

func (m *Message) String() string {
	return fmt.Sprintf("Msg[label=%#x, len=%d, from=PE%d:EP%d, reply=%t]",
		uint64(m.Label), m.Length, m.SenderPE, m.SenderEP, m.IsReply())
}

func checkPayload(op string, n, slot int) error {
	if n > MaxPayload {
		return kif.NewError(kif.InvArgs, op, "%d bytes exceed the %d byte payload limit", n, MaxPayload)
	}
	if HeaderSize+n > slot {
		return kif.NewError(kif.InvArgs, op, "%d bytes do not fit into %d byte slots", n, slot)
	}
	return nil
}
