package kif

// EpID identifies an endpoint of a DTU.
type EpID uint8

// Label is the opaque tag a send gate writes into every message header.
type Label uint64

const (
	// SyscallEP is the send endpoint towards the kernel.
	SyscallEP EpID = 0
	// DefRecvEP holds the default receive gate used for replies.
	DefRecvEP EpID = 1
	// FirstFreeEP is the first endpoint available to gates.
	FirstFreeEP EpID = 2
	// InvalidEP denotes an unbound gate.
	InvalidEP EpID = 0xFF
)

// InvalidAddr lets the kernel choose the physical address of a memory gate.
const InvalidAddr = ^uint64(0)

// Syscall enumerates the kernel operations.
type Syscall uint8

const (
	SysNoop Syscall = iota
	SysActivate
	SysCreateRGate
	SysCreateSGate
	SysCreateMGate
	SysCreateMap
	SysCreateSrv
	SysOpenSess
	SysCreateVPE
	SysDeriveMem
	SysExchange
	SysRevoke
)

var syscallNames = [...]string{
	SysNoop:        "noop",
	SysActivate:    "activate",
	SysCreateRGate: "create_rgate",
	SysCreateSGate: "create_sgate",
	SysCreateMGate: "create_mgate",
	SysCreateMap:   "create_map",
	SysCreateSrv:   "create_srv",
	SysOpenSess:    "open_sess",
	SysCreateVPE:   "create_vpe",
	SysDeriveMem:   "derive_mem",
	SysExchange:    "exchange",
	SysRevoke:      "revoke",
}

// String returns the syscall name as used in logs and metrics
func (s Syscall) String() string {
	if int(s) < len(syscallNames) {
		return syscallNames[s]
	}
	return "unknown"
}
