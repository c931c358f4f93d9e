package kernel

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/cap"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/dtu"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

// VPE is an isolated execution context running on its own PE.
type VPE struct {
	cap.Header

	k       *Kernel
	id      VPEId
	name    string
	parent  *VPE
	dtu     *dtu.DTU
	objs    *cap.Table
	maps    *cap.Table
	eps     map[kif.EpID]gate
	created time.Time
	dead    bool
}

func newVPE(k *Kernel, id VPEId, name string, parent *VPE, d *dtu.DTU) *VPE {
	return &VPE{
		k:       k,
		id:      id,
		name:    name,
		parent:  parent,
		dtu:     d,
		objs:    cap.NewTable(id, kif.CapObject, k.cfg.MaxSels),
		maps:    cap.NewTable(id, kif.CapMapping, k.cfg.MaxMapSels),
		eps:     make(map[kif.EpID]gate),
		created: time.Now(),
	}
}

// Kind implements cap.Object
func (v *VPE) Kind() cap.Kind { return cap.KindVPE }

// ID returns the VPE id
func (v *VPE) ID() VPEId { return v.id }

// Name returns the name given at creation
func (v *VPE) Name() string { return v.name }

// DTU returns the DTU of the VPE's PE
func (v *VPE) DTU() *dtu.DTU { return v.dtu }

// Syscalls returns the handle through which the VPE talks to the kernel.
func (v *VPE) Syscalls() *Syscalls {
	return &Syscalls{k: v.k, vpe: v}
}

// Alive reports whether the VPE still exists.
func (v *VPE) Alive() bool {
	v.k.mu.Lock()
	defer v.k.mu.Unlock()
	return !v.dead
}

// table returns the capability table for typ.
func (v *VPE) table(typ kif.CapType) *cap.Table {
	if typ == kif.CapMapping {
		return v.maps
	}
	return v.objs
}

// Destroy kills the VPE once the last capability for it is gone. All of its
// capabilities are revoked and its endpoints are invalidated.
func (v *VPE) Destroy() {
	if v.dead {
		return
	}
	v.dead = true

	for _, g := range v.eps {
		v.k.unbind(g)
	}
	v.objs.RevokeAll()
	v.maps.RevokeAll()
	v.k.noc.Detach(v.dtu.PE())
	delete(v.k.vpes, v.id)

	v.k.logger.Info("VPE destroyed",
		zap.Uint16("vpe", v.id),
		zap.String("name", v.name),
		zap.Duration("lifetime", time.Since(v.created)),
	)
}

func (v *VPE) String() string {
	return fmt.Sprintf("VPE[id=%d, name=%s]", v.id, v.name)
}
