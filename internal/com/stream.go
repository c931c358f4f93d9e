package com

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/dtu"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

const wordSize = 8

// OStream marshals values into 8-byte aligned little-endian words. Strings
// and byte slices are a length word followed by the padded content.
type OStream struct {
	buf []byte
	err error
}

// Push appends vals. Supported are the integer types, bool, string, []byte,
// kif.Label and kif.CapSel.
func (o *OStream) Push(vals ...interface{}) *OStream {
	for _, v := range vals {
		switch v := v.(type) {
		case uint64:
			o.word(v)
		case uint32:
			o.word(uint64(v))
		case uint16:
			o.word(uint64(v))
		case uint8:
			o.word(uint64(v))
		case uint:
			o.word(uint64(v))
		case int64:
			o.word(uint64(v))
		case int32:
			o.word(uint64(int64(v)))
		case int:
			o.word(uint64(int64(v)))
		case bool:
			if v {
				o.word(1)
			} else {
				o.word(0)
			}
		case kif.Label:
			o.word(uint64(v))
		case kif.CapSel:
			o.word(uint64(v))
		case kif.Code:
			o.word(uint64(v))
		case string:
			o.bytes([]byte(v))
		case []byte:
			o.bytes(v)
		default:
			if o.err == nil {
				o.err = kif.NewError(kif.InvArgs, "ostream.push", "unsupported type %T", v)
			}
		}
	}
	return o
}

// Bytes returns the marshaled message
func (o *OStream) Bytes() []byte { return o.buf }

// Err returns the first marshaling error
func (o *OStream) Err() error { return o.err }

func (o *OStream) word(v uint64) {
	o.buf = binary.LittleEndian.AppendUint64(o.buf, v)
}

func (o *OStream) bytes(b []byte) {
	o.word(uint64(len(b)))
	o.buf = append(o.buf, b...)
	if pad := len(b) % wordSize; pad != 0 {
		o.buf = append(o.buf, make([]byte, wordSize-pad)...)
	}
}

// IStream unmarshals a received message word by word.
type IStream struct {
	rgate *RecvGate
	msg   *dtu.Message
	pos   int
	done  bool
}

// Msg returns the underlying message
func (is *IStream) Msg() *dtu.Message { return is.msg }

// Label returns the label of the send gate the message came through
func (is *IStream) Label() kif.Label { return is.msg.Label }

// Remaining returns the number of unread bytes
func (is *IStream) Remaining() int { return len(is.msg.Data) - is.pos }

// PopWord reads the next word.
func (is *IStream) PopWord() (uint64, error) {
	if is.Remaining() < wordSize {
		return 0, kif.NewError(kif.InvArgs, "istream.pop", "message exhausted at byte %d", is.pos)
	}
	v := binary.LittleEndian.Uint64(is.msg.Data[is.pos:])
	is.pos += wordSize
	return v, nil
}

// PopInt reads the next word as a signed integer.
func (is *IStream) PopInt() (int64, error) {
	v, err := is.PopWord()
	return int64(v), err
}

// PopBool reads the next word as a bool.
func (is *IStream) PopBool() (bool, error) {
	v, err := is.PopWord()
	return v != 0, err
}

// PopBytes reads a length-prefixed byte string.
func (is *IStream) PopBytes() ([]byte, error) {
	n, err := is.PopWord()
	if err != nil {
		return nil, err
	}
	if n > uint64(is.Remaining()) {
		return nil, kif.NewError(kif.InvArgs, "istream.pop", "string of %d bytes exceeds message", n)
	}
	b := make([]byte, n)
	copy(b, is.msg.Data[is.pos:])
	is.pos += int(n)
	if pad := int(n) % wordSize; pad != 0 {
		is.pos = min(is.pos+wordSize-pad, len(is.msg.Data))
	}
	return b, nil
}

// PopString reads a length-prefixed string.
func (is *IStream) PopString() (string, error) {
	b, err := is.PopBytes()
	return string(b), err
}

// Reply answers the message with vals and frees its slot.
func (is *IStream) Reply(vals ...interface{}) error {
	if is.done {
		return kif.NewError(kif.InvArgs, "istream.reply", "message already acknowledged")
	}
	if err := ReplyVMsg(is.rgate, is.msg, vals...); err != nil {
		return err
	}
	is.done = true
	return nil
}

// Done marks the message read unless it was replied to.
func (is *IStream) Done() error {
	if is.done {
		return nil
	}
	is.done = true
	return is.rgate.MarkRead(is.msg)
}

// SendVMsg marshals vals and sends them through sgate.
func SendVMsg(sgate *SendGate, reply *RecvGate, vals ...interface{}) error {
	var o OStream
	if err := o.Push(vals...).Err(); err != nil {
		return err
	}
	return sgate.Send(o.Bytes(), reply)
}

// ReplyVMsg marshals vals and sends them as reply to msg.
func ReplyVMsg(rgate *RecvGate, msg *dtu.Message, vals ...interface{}) error {
	var o OStream
	if err := o.Push(vals...).Err(); err != nil {
		return err
	}
	return rgate.Reply(msg, o.Bytes())
}

// RecvMsg waits for the next message on rgate.
func RecvMsg(ctx context.Context, rgate *RecvGate) (*IStream, error) {
	return RecvMsgFrom(ctx, rgate, nil)
}

// RecvMsgFrom waits for a reply to a message sent through sgate.
func RecvMsgFrom(ctx context.Context, rgate *RecvGate, sgate *SendGate) (*IStream, error) {
	msg, err := rgate.Wait(ctx, sgate)
	if err != nil {
		return nil, err
	}
	return &IStream{rgate: rgate, msg: msg}, nil
}

// Call sends vals through sgate and waits for the reply on the default
// receive gate.
func Call(ctx context.Context, sgate *SendGate, vals ...interface{}) (*IStream, error) {
	reply := sgate.env.defRecv
	if err := SendVMsg(sgate, reply, vals...); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return RecvMsgFrom(ctx, reply, sgate)
}
