package dtu

import (
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/mem"
)

// EpType is the configuration state of an endpoint.
type EpType uint8

const (
	EpInvalid EpType = iota
	EpSend
	EpRecv
	EpMem
)

func (t EpType) String() string {
	switch t {
	case EpSend:
		return "send"
	case EpRecv:
		return "receive"
	case EpMem:
		return "memory"
	default:
		return "invalid"
	}
}

// SendConfig configures a send endpoint.
type SendConfig struct {
	// DstPE and DstEP address the receive endpoint.
	DstPE PEId
	DstEP kif.EpID
	// DstID must match the ID of the receive endpoint's configuration.
	// Zero accepts any receive endpoint.
	DstID    uint64
	Label    kif.Label
	MsgOrder uint
	Credits  *Credits
}

// RecvConfig configures a receive endpoint.
type RecvConfig struct {
	ID       uint64
	Addr     uint64
	Order    uint
	MsgOrder uint
}

// MemConfig configures a memory endpoint.
type MemConfig struct {
	Addr mem.GlobAddr
	Size uint64
	Perm kif.Perm
}

type endpoint struct {
	typ  EpType
	send SendConfig
	recv *ringBuf
	mem  MemConfig
}

// EndpointInfo describes the configuration of one endpoint.
type EndpointInfo struct {
	EP       kif.EpID `json:"ep"`
	Type     string   `json:"type"`
	DstPE    PEId     `json:"dst_pe,omitempty"`
	DstEP    kif.EpID `json:"dst_ep,omitempty"`
	Label    uint64   `json:"label,omitempty"`
	Credits  string   `json:"credits,omitempty"`
	Order    uint     `json:"order,omitempty"`
	MsgOrder uint     `json:"msg_order,omitempty"`
	Occupied int      `json:"occupied,omitempty"`
	Unread   int      `json:"unread,omitempty"`
	Addr     string   `json:"addr,omitempty"`
	Size     uint64   `json:"size,omitempty"`
	Perm     string   `json:"perm,omitempty"`
}

func (e *endpoint) info(id kif.EpID) EndpointInfo {
	info := EndpointInfo{EP: id, Type: e.typ.String()}
	switch e.typ {
	case EpSend:
		info.DstPE = e.send.DstPE
		info.DstEP = e.send.DstEP
		info.Label = uint64(e.send.Label)
		info.MsgOrder = e.send.MsgOrder
		info.Credits = e.send.Credits.String()
	case EpRecv:
		info.Order = e.recv.cfg.Order
		info.MsgOrder = e.recv.cfg.MsgOrder
		info.Unread, info.Occupied = e.recv.occupied()
	case EpMem:
		info.Addr = e.mem.Addr.String()
		info.Size = e.mem.Size
		info.Perm = e.mem.Perm.String()
	}
	return info
}
