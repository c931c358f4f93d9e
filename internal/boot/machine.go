// Package boot brings up a simulated machine: memory modules, the kernel,
// the root VPE and the programs listed by the platform description.
package boot

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/com"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/mem"
)

// Service gates are sized for small request messages.
const (
	serviceSlotOrder  = 8
	serviceTotalOrder = 12
)

// Machine is a booted kernel together with its root VPE.
type Machine struct {
	Kernel *kernel.Kernel
	Memory *mem.MainMemory
	Root   *kernel.VPE
	Env    *com.Env

	cfg      *config.Config
	logger   *zap.Logger
	programs map[string]Program

	mu       sync.Mutex
	procs    []*Process
	services map[string]kif.CapSel
}

// Option configures a Machine.
type Option func(*Machine)

// WithProgram makes p available to boot entries under name.
func WithProgram(name string, p Program) Option {
	return func(m *Machine) { m.programs[name] = p }
}

// Boot adds the memory modules, creates the kernel and the root VPE.
func Boot(cfg *config.Config, plat *config.Platform, logger *zap.Logger, kopts []kernel.Option, opts ...Option) (*Machine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if plat != nil {
		plat.Apply(cfg)
	}

	mm := mem.New(logger.Named("mem"))
	for _, mod := range config.Modules(cfg, plat) {
		if err := mm.Add(mem.NewModule(mem.ModID(mod.ID), mod.Size)); err != nil {
			return nil, fmt.Errorf("add memory module %d: %w", mod.ID, err)
		}
	}

	kcfg := kernel.DefaultConfig()
	kcfg.EpCount = cfg.Kernel.EpCount
	kcfg.MaxVPEs = cfg.Kernel.PEs
	kcfg.MaxSels = kif.CapSel(cfg.Kernel.MaxSels)
	kcfg.MaxRecvOrder = cfg.Kernel.MaxRecvOrder

	k, err := kernel.New(kcfg, mm, append([]kernel.Option{kernel.WithLogger(logger)}, kopts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kernel: %w", err)
	}

	root, err := k.CreateRoot("root")
	if err != nil {
		return nil, fmt.Errorf("create root VPE: %w", err)
	}
	env, err := com.NewEnv(root.Syscalls(), root.DTU(),
		com.WithRecvBufSize(cfg.Kernel.RecvBufSize),
		com.WithEnvLogger(logger.Named("com")),
	)
	if err != nil {
		return nil, fmt.Errorf("root environment: %w", err)
	}

	m := &Machine{
		Kernel:   k,
		Memory:   mm,
		Root:     root,
		Env:      env,
		cfg:      cfg,
		logger:   logger.Named("boot"),
		programs: DefaultPrograms(),
		services: make(map[string]kif.CapSel),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger.Info("Machine booted",
		zap.String("boot_id", k.BootID()),
		zap.Int("pes", kcfg.MaxVPEs),
		zap.Int("modules", len(mm.Modules())),
		zap.Uint64("memory", mm.Capacity()),
	)
	return m, nil
}

// Spawn creates a VPE for each entry and prepares its gates. Services are
// set up before any program runs, so clients can dial them regardless of
// the order of entries.
func (m *Machine) Spawn(entries []config.BootVPE) error {
	for _, e := range entries {
		prog, ok := m.programs[e.Program]
		if !ok {
			return fmt.Errorf("boot %s: unknown program %q", e.Name, e.Program)
		}
		if err := m.spawn(e, prog); err != nil {
			return fmt.Errorf("boot %s: %w", e.Name, err)
		}
	}
	return nil
}

func (m *Machine) spawn(e config.BootVPE, prog Program) error {
	sys := m.Env.Syscalls()

	vpeSel := m.Env.AllocSel()
	child, err := m.Root.Syscalls().CreateVPE(vpeSel, e.Name)
	if err != nil {
		return err
	}
	env, err := com.NewEnv(child.Syscalls(), child.DTU(),
		com.WithRecvBufSize(m.cfg.Kernel.RecvBufSize),
		com.WithEnvLogger(m.logger.Named(e.Name)),
	)
	if err != nil {
		return err
	}

	p := &Process{
		Name:    e.Name,
		Args:    e.Args,
		Env:     env,
		VPE:     child,
		Logger:  m.logger.Named(e.Name),
		machine: m,
		vpeSel:  vpeSel,
		program: prog,
	}

	if prog.Service {
		// the receive side moves to the server, the root keeps the send side
		// and hands out copies
		rgSel := m.Env.AllocSel()
		if err := sys.CreateRGate(rgSel, serviceTotalOrder, serviceSlotOrder); err != nil {
			return err
		}
		sgSel := m.Env.AllocSel()
		if err := sys.CreateSGate(sgSel, rgSel, kif.Label(vpeSel), 0); err != nil {
			return err
		}
		dst := env.AllocSel()
		if err := sys.Exchange(vpeSel, kif.NewCapRngDesc(kif.CapObject, rgSel, 1), dst, false); err != nil {
			return err
		}
		rg, err := com.BindRecvGate(env, dst, serviceSlotOrder, serviceTotalOrder)
		if err != nil {
			return err
		}
		if err := rg.Activate(); err != nil {
			return err
		}
		p.Gate = rg

		m.mu.Lock()
		if _, ok := m.services[e.Name]; ok {
			m.mu.Unlock()
			return fmt.Errorf("service %q already exists", e.Name)
		}
		m.services[e.Name] = sgSel
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.procs = append(m.procs, p)
	m.mu.Unlock()

	m.logger.Info("VPE spawned",
		zap.String("name", e.Name),
		zap.String("program", e.Program),
		zap.Uint16("vpe", child.ID()),
		zap.Bool("service", prog.Service),
	)
	return nil
}

// Run executes all spawned programs until they return or ctx is done. The
// first failing program cancels the others.
func (m *Machine) Run(ctx context.Context) error {
	m.mu.Lock()
	procs := append([]*Process(nil), m.procs...)
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range procs {
		g.Go(func() error {
			err := p.program.Run(gctx, p)
			if err != nil {
				p.Logger.Error("Program failed", zap.Error(err))
				return fmt.Errorf("%s: %w", p.Name, err)
			}
			p.Logger.Info("Program finished")
			return nil
		})
	}
	return g.Wait()
}

// Shutdown revokes every spawned VPE, which releases all of their
// resources.
func (m *Machine) Shutdown() error {
	m.mu.Lock()
	procs := m.procs
	m.procs = nil
	m.services = make(map[string]kif.CapSel)
	m.mu.Unlock()

	var first error
	for i := len(procs) - 1; i >= 0; i-- {
		p := procs[i]
		err := m.Env.Syscalls().Revoke(kif.SelVPE, kif.NewCapRngDesc(kif.CapObject, p.vpeSel, 1), true)
		if err != nil && first == nil {
			first = fmt.Errorf("revoke %s: %w", p.Name, err)
		}
	}
	m.logger.Info("Machine shut down", zap.Int("vpes", len(procs)))
	return first
}

// dial copies the send gate of service into the table of p.
func (m *Machine) dial(p *Process, service string) (*com.SendGate, error) {
	m.mu.Lock()
	sgSel, ok := m.services[service]
	m.mu.Unlock()
	if !ok {
		return nil, kif.NewError(kif.InvArgs, "dial", "unknown service %q", service)
	}

	dst := p.Env.AllocSel()
	crd := kif.NewCapRngDesc(kif.CapObject, sgSel, 1)
	if err := m.Env.Syscalls().Exchange(p.vpeSel, crd, dst, true); err != nil {
		return nil, err
	}
	return com.BindSendGate(p.Env, dst), nil
}
