package kernel

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/dtu"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/mem"
)

// VPEId identifies a VPE. VPE i runs on PE i.
type VPEId = uint16

// Metrics receives kernel measurements.
type Metrics interface {
	RecordSyscall(op, code string, duration time.Duration)
	SetVPEs(n int)
	SetCapabilities(n int)
	SetMemory(capacity, available uint64)
}

// Kernel is the single kernel instance of a machine.
type Kernel struct {
	cfg     Config
	logger  *zap.Logger
	mem     *mem.MainMemory
	noc     *dtu.NoC
	metrics Metrics
	tracer  *tracing.Tracer
	bootID  string
	started time.Time

	observer dtu.Observer

	// mu serializes all syscalls
	mu       sync.Mutex
	vpes     map[VPEId]*VPE
	nextVPE  int
	services map[string]*Service
	nextObj  uint64
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(k *Kernel) { k.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(k *Kernel) { k.metrics = m }
}

// WithTracer records every syscall as a span
func WithTracer(t *tracing.Tracer) Option {
	return func(k *Kernel) { k.tracer = t }
}

// WithTransferObserver reports DTU transfers to o
func WithTransferObserver(o dtu.Observer) Option {
	return func(k *Kernel) { k.observer = o }
}

// WithBootID tags the kernel instance
func WithBootID(id string) Option {
	return func(k *Kernel) { k.bootID = id }
}

// New creates a kernel managing mm. The memory modules must have been added
// before.
func New(cfg Config, mm *mem.MainMemory, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	k := &Kernel{
		cfg:      cfg,
		mem:      mm,
		started:  time.Now(),
		vpes:     make(map[VPEId]*VPE),
		services: make(map[string]*Service),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.logger == nil {
		k.logger = zap.NewNop()
	}
	k.logger = k.logger.Named("kernel")
	k.noc = dtu.NewNoC(mm, k.observer)

	k.logger.Info("Kernel initialized",
		zap.String("boot_id", k.bootID),
		zap.Int("pes", cfg.MaxVPEs),
		zap.Int("eps", cfg.EpCount),
		zap.Uint64("memory", mm.Capacity()),
	)
	k.publish()
	return k, nil
}

// Config returns the limits of the kernel
func (k *Kernel) Config() Config { return k.cfg }

// Memory returns the physical memory pool
func (k *Kernel) Memory() *mem.MainMemory { return k.mem }

// BootID returns the id of this kernel instance
func (k *Kernel) BootID() string { return k.bootID }

// CreateRoot starts a VPE that is not owned by any other VPE. Its only
// capability is the one for itself at kif.SelVPE.
func (k *Kernel) CreateRoot(name string) (*VPE, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	v, err := k.newVPE(name, nil)
	if err != nil {
		return nil, err
	}
	if _, err := v.objs.Create(kif.SelVPE, v); err != nil {
		k.discardVPE(v)
		return nil, err
	}
	k.publish()
	return v, nil
}

// VPE returns the VPE with the given id or nil.
func (k *Kernel) VPE(id VPEId) *VPE {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.vpes[id]
}

// newVPE allocates an id and a PE for a new VPE. Ids are handed out round
// robin, starting behind the last one.
func (k *Kernel) newVPE(name string, parent *VPE) (*VPE, error) {
	id := -1
	for i := 0; i < k.cfg.MaxVPEs; i++ {
		cand := (k.nextVPE + i) % k.cfg.MaxVPEs
		if _, used := k.vpes[VPEId(cand)]; !used {
			id = cand
			break
		}
	}
	if id < 0 {
		return nil, kif.NewError(kif.NoFreePE, "kernel.create_vpe", "all %d PEs are in use", k.cfg.MaxVPEs)
	}

	d, err := k.noc.Attach(dtu.PEId(id), VPEId(id), k.cfg.EpCount)
	if err != nil {
		return nil, err
	}

	v := newVPE(k, VPEId(id), name, parent, d)
	k.vpes[v.id] = v
	k.nextVPE = (id + 1) % k.cfg.MaxVPEs

	fields := []zap.Field{
		zap.Uint16("vpe", v.id),
		zap.String("name", name),
	}
	if parent != nil {
		fields = append(fields, zap.Uint16("parent", parent.id))
	}
	k.logger.Info("VPE created", fields...)
	return v, nil
}

// discardVPE undoes newVPE for a VPE no capability refers to yet.
func (k *Kernel) discardVPE(v *VPE) {
	v.dead = true
	k.noc.Detach(v.dtu.PE())
	delete(k.vpes, v.id)
}

func (k *Kernel) objectID() uint64 {
	k.nextObj++
	return k.nextObj
}

// publish pushes the current gauges to the metrics sink. Callers hold k.mu or
// own k exclusively.
func (k *Kernel) publish() {
	if k.metrics == nil {
		return
	}
	caps := 0
	for _, v := range k.vpes {
		caps += v.objs.Len() + v.maps.Len()
	}
	k.metrics.SetVPEs(len(k.vpes))
	k.metrics.SetCapabilities(caps)
	k.metrics.SetMemory(k.mem.Capacity(), k.mem.Available())
}

// syscall runs fn for v under the kernel lock and records the outcome.
func (k *Kernel) syscall(v *VPE, op kif.Syscall, fn func() error) error {
	var span *tracing.Span
	if k.tracer != nil {
		span, _ = k.tracer.StartSpan(context.Background(), "syscall."+op.String())
		span.SetTag("vpe", v.name)
	}
	start := time.Now()

	k.mu.Lock()
	var err error
	if v.dead {
		err = kif.NewError(kif.InvArgs, op.String(), "VPE %d is gone", v.id)
	} else {
		err = fn()
	}
	k.publish()
	k.mu.Unlock()

	duration := time.Since(start)
	code := kif.CodeOf(err)

	if err != nil {
		k.logger.Debug("Syscall failed",
			zap.Uint16("vpe", v.id),
			zap.Stringer("op", op),
			zap.Stringer("code", code),
			zap.Error(err),
		)
	} else {
		k.logger.Debug("Syscall",
			zap.Uint16("vpe", v.id),
			zap.Stringer("op", op),
			zap.Duration("duration", duration),
		)
	}
	if k.metrics != nil {
		k.metrics.RecordSyscall(op.String(), code.String(), duration)
	}
	if span != nil {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
		k.tracer.Submit(span)
	}
	return err
}
