package kif

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	err := NewError(MissCredits, "send", "ep %d", 3)

	assert.True(t, errors.Is(err, ErrMissCredits))
	assert.False(t, errors.Is(err, ErrNoSpace))

	wrapped := fmt.Errorf("ping failed: %w", err)
	assert.True(t, errors.Is(wrapped, ErrMissCredits))
	assert.Equal(t, MissCredits, CodeOf(wrapped))
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"code only", &Error{Code: OutOfMem}, "out of memory"},
		{"with op", &Error{Code: NoSuchCap, Op: "revoke"}, "revoke: no such capability"},
		{"with msg", &Error{Code: InvArgs, Msg: "bad order"}, "invalid arguments: bad order"},
		{"full", NewError(AlreadyExists, "create_rgate", "sel %d", 5), "create_rgate: already exists: sel 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, NoError, CodeOf(nil))
	assert.Equal(t, InvArgs, CodeOf(errors.New("plain")))
	assert.Equal(t, NoFreeEps, CodeOf(ErrNoFreeEps))
	assert.Equal(t, "code(99)", Code(99).String())
}

func TestPermSubset(t *testing.T) {
	assert.True(t, PermR.Subset(PermRW))
	assert.True(t, PermRW.Subset(PermRW))
	assert.True(t, Perm(0).Subset(PermR))
	assert.False(t, PermRW.Subset(PermR))
	assert.False(t, PermX.Subset(PermRW))
	assert.False(t, Perm(0x10).Valid())
	assert.Equal(t, "rw-", PermRW.String())
	assert.Equal(t, "--x", PermX.String())
}

func TestCapRngDesc(t *testing.T) {
	crd := NewCapRngDesc(CapObject, 10, 4)

	assert.Equal(t, uint64(14), crd.End())
	assert.True(t, crd.Contains(10))
	assert.True(t, crd.Contains(13))
	assert.False(t, crd.Contains(14))
	assert.False(t, crd.Contains(9))
	assert.Equal(t, "CRD[object: 10:4]", crd.String())
}

func TestSyscallNames(t *testing.T) {
	assert.Equal(t, "create_sgate", SysCreateSGate.String())
	assert.Equal(t, "revoke", SysRevoke.String())
	assert.Equal(t, "unknown", Syscall(200).String())
}
