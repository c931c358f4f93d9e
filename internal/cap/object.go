package cap

import "github.com/GriffinCanCode/AgentOS/capcore/internal/kif"

// Kind identifies the type of kernel object behind a capability.
type Kind uint8

const (
	KindRGate Kind = iota
	KindSGate
	KindMGate
	KindVPE
	KindService
	KindSession
	KindMap
)

var kindNames = [...]string{
	KindRGate:   "rgate",
	KindSGate:   "sgate",
	KindMGate:   "mgate",
	KindVPE:     "vpe",
	KindService: "service",
	KindSession: "session",
	KindMap:     "map",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// CapType returns the table type capabilities of this kind live in.
func (k Kind) CapType() kif.CapType {
	if k == KindMap {
		return kif.CapMapping
	}
	return kif.CapObject
}

// Object is a kernel object that can be referenced by capabilities. Types
// implement it by embedding Header.
type Object interface {
	Kind() Kind
	header() *Header
}

// Destroyer is implemented by objects that hold resources. Destroy runs once,
// when the last capability referencing the object is destroyed.
type Destroyer interface {
	Destroy()
}

// Header carries the bookkeeping every kernel object needs.
type Header struct {
	refs int
}

func (h *Header) header() *Header { return h }

// Refs returns the number of capabilities referencing the object.
func (h *Header) Refs() int { return h.refs }

func acquire(o Object) {
	o.header().refs++
}

func release(o Object) {
	h := o.header()
	h.refs--
	if h.refs > 0 {
		return
	}
	if d, ok := o.(Destroyer); ok {
		d.Destroy()
	}
}
