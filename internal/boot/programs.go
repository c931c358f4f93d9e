package boot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/com"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

// Program is code run on a VPE. Service programs receive requests on
// Process.Gate and are reachable by their boot name.
type Program struct {
	Run     func(ctx context.Context, p *Process) error
	Service bool
}

// Process is a running program.
type Process struct {
	Name   string
	Args   []string
	Env    *com.Env
	VPE    *kernel.VPE
	Logger *zap.Logger
	// Gate receives requests for service programs.
	Gate *com.RecvGate

	machine *Machine
	vpeSel  kif.CapSel
	program Program
}

// Dial returns a send gate to the service booted under name.
func (p *Process) Dial(name string) (*com.SendGate, error) {
	return p.machine.dial(p, name)
}

// DefaultPrograms returns the built-in programs.
func DefaultPrograms() map[string]Program {
	return map[string]Program{
		"echo":    {Run: Echo, Service: true},
		"ping":    {Run: Ping},
		"memtest": {Run: MemTest},
	}
}

// Echo registers itself as a service and answers every request with the
// string it carries.
func Echo(ctx context.Context, p *Process) error {
	if err := p.Env.Syscalls().CreateSrv(p.Env.AllocSel(), p.Gate.Sel(), p.Name); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	p.Logger.Info("Serving", zap.String("service", p.Name))

	for {
		is, err := com.RecvMsg(ctx, p.Gate)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		s, err := is.PopString()
		if err != nil {
			if rerr := is.Reply(kif.InvArgs); rerr != nil {
				return rerr
			}
			continue
		}
		if err := is.Reply(kif.NoError, s); err != nil {
			return err
		}
	}
}

// Ping sends numbered requests to a service and checks the echoes.
// Arguments: [service [count]], defaulting to "echo" and 3.
func Ping(ctx context.Context, p *Process) error {
	service, count := "echo", 3
	if len(p.Args) > 0 {
		service = p.Args[0]
	}
	if len(p.Args) > 1 {
		n, err := strconv.Atoi(p.Args[1])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid count %q", p.Args[1])
		}
		count = n
	}

	sg, err := p.Dial(service)
	if err != nil {
		return err
	}
	defer sg.Close()

	for i := 0; i < count; i++ {
		want := "ping " + strconv.Itoa(i)
		is, err := com.Call(ctx, sg, want)
		if err != nil {
			return fmt.Errorf("call %d: %w", i, err)
		}
		code, err := is.PopWord()
		if err != nil {
			return err
		}
		if kif.Code(code) != kif.NoError {
			return kif.NewError(kif.Code(code), "ping", "request %d", i)
		}
		got, err := is.PopString()
		if err != nil {
			return err
		}
		if err := is.Done(); err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("echo mismatch: got %q, want %q", got, want)
		}
	}
	p.Logger.Info("Ping done", zap.String("service", service), zap.Int("count", count))
	return nil
}

// MemTest allocates a memory gate, checks that data round-trips through
// it and that a read-only derivation rejects writes.
func MemTest(_ context.Context, p *Process) error {
	const size = 0x1000

	mg, err := com.NewMemGate(p.Env, size, kif.PermRW)
	if err != nil {
		return err
	}
	defer mg.Close()

	pattern := bytes.Repeat([]byte{0xA5, 0x5A}, size/2)
	if err := mg.Write(pattern, 0); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	got := make([]byte, size)
	if err := mg.Read(got, 0); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if !bytes.Equal(got, pattern) {
		return errors.New("memory content differs from what was written")
	}

	ro, err := mg.Derive(size/2, size/2, kif.PermR)
	if err != nil {
		return fmt.Errorf("derive: %w", err)
	}
	defer ro.Close()
	if err := ro.Write([]byte{1}, 0); !errors.Is(err, kif.ErrNoPerm) {
		return fmt.Errorf("write through read-only gate: got %v, want %v", err, kif.ErrNoPerm)
	}
	half := make([]byte, size/2)
	if err := ro.Read(half, 0); err != nil {
		return fmt.Errorf("read derived: %w", err)
	}
	if !bytes.Equal(half, pattern[size/2:]) {
		return errors.New("derived gate sees different memory")
	}

	p.Logger.Info("Memory test passed", zap.Int("bytes", size))
	return nil
}
