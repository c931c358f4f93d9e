package kif

import (
	"errors"
	"fmt"
)

// Code is the error kind carried by every failed kernel or DTU operation.
type Code int

const (
	NoError Code = iota
	InvArgs
	NoSuchCap
	AlreadyExists
	OutOfMem
	NoFreeEps
	MissCredits
	NoSpace
	NoPerm
	InvEP
	RecvGone
	NoFreePE
)

var codeNames = map[Code]string{
	NoError:       "no error",
	InvArgs:       "invalid arguments",
	NoSuchCap:     "no such capability",
	AlreadyExists: "already exists",
	OutOfMem:      "out of memory",
	NoFreeEps:     "no free endpoints",
	MissCredits:   "missing credits",
	NoSpace:       "no space",
	NoPerm:        "no permission",
	InvEP:         "invalid endpoint",
	RecvGone:      "receive gate gone",
	NoFreePE:      "no free PE",
}

// String returns the human readable name of the code
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is a kernel error. Op names the failing operation, Msg adds detail.
type Error struct {
	Code Code
	Op   string
	Msg  string
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	default:
		return e.Code.String()
	}
}

// Is reports whether target is a *Error with the same code, so that
// errors.Is(err, kif.ErrMissCredits) works for any operation.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinel errors for errors.Is comparisons.
var (
	ErrInvArgs       = &Error{Code: InvArgs}
	ErrNoSuchCap     = &Error{Code: NoSuchCap}
	ErrAlreadyExists = &Error{Code: AlreadyExists}
	ErrOutOfMem      = &Error{Code: OutOfMem}
	ErrNoFreeEps     = &Error{Code: NoFreeEps}
	ErrMissCredits   = &Error{Code: MissCredits}
	ErrNoSpace       = &Error{Code: NoSpace}
	ErrNoPerm        = &Error{Code: NoPerm}
	ErrInvEP         = &Error{Code: InvEP}
	ErrRecvGone      = &Error{Code: RecvGone}
	ErrNoFreePE      = &Error{Code: NoFreePE}
)

// NewError creates an error for op with a formatted message.
func NewError(code Code, op string, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of err. nil yields NoError; errors that do not
// wrap an *Error yield InvArgs.
func CodeOf(err error) Code {
	if err == nil {
		return NoError
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InvArgs
}
