package kernel

import (
	"fmt"
	"sort"
	"time"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/cap"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/dtu"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/mem"
)

// Snapshot is a consistent view of the whole kernel state.
type Snapshot struct {
	BootID   string        `json:"boot_id"`
	Uptime   string        `json:"uptime"`
	Memory   MemInfo       `json:"memory"`
	VPEs     []VPEInfo     `json:"vpes"`
	Services []ServiceInfo `json:"services"`
}

// MemInfo summarizes physical memory.
type MemInfo struct {
	Capacity  uint64           `json:"capacity"`
	Available uint64           `json:"available"`
	Modules   []mem.ModuleInfo `json:"modules"`
}

// VPEInfo describes one VPE.
type VPEInfo struct {
	ID        VPEId     `json:"id"`
	Name      string    `json:"name"`
	PE        dtu.PEId  `json:"pe"`
	Parent    *VPEId    `json:"parent,omitempty"`
	Caps      int       `json:"caps"`
	Mappings  int       `json:"mappings"`
	Endpoints int       `json:"endpoints"`
	Created   time.Time `json:"created"`
}

// CapInfo describes one capability.
type CapInfo struct {
	Sel      kif.CapSel `json:"sel"`
	Type     string     `json:"type"`
	Kind     string     `json:"kind"`
	Parent   string     `json:"parent,omitempty"`
	Children int        `json:"children"`
	Object   string     `json:"object"`
}

// ServiceInfo describes a registered service.
type ServiceInfo struct {
	Name string `json:"name"`
	VPE  VPEId  `json:"vpe"`
}

// Snapshot returns the current state of the kernel.
func (k *Kernel) Snapshot() Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()

	snap := Snapshot{
		BootID: k.bootID,
		Uptime: time.Since(k.started).Round(time.Second).String(),
		Memory: k.memInfo(),
		VPEs:   k.vpeInfos(),
	}
	for _, srv := range k.services {
		snap.Services = append(snap.Services, ServiceInfo{Name: srv.name, VPE: srv.owner.id})
	}
	sort.Slice(snap.Services, func(i, j int) bool {
		return snap.Services[i].Name < snap.Services[j].Name
	})
	return snap
}

// MemoryInfo summarizes physical memory.
func (k *Kernel) MemoryInfo() MemInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.memInfo()
}

// VPEs describes all VPEs ordered by id.
func (k *Kernel) VPEs() []VPEInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.vpeInfos()
}

// Caps describes the capabilities of VPE id, objects first, then mappings.
func (k *Kernel) Caps(id VPEId) ([]CapInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	v, ok := k.vpes[id]
	if !ok {
		return nil, fmt.Errorf("vpe %d: %w", id, kif.ErrInvArgs)
	}
	infos := capInfos(v.objs)
	return append(infos, capInfos(v.maps)...), nil
}

// Endpoints describes the endpoints of VPE id.
func (k *Kernel) Endpoints(id VPEId) ([]dtu.EndpointInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	v, ok := k.vpes[id]
	if !ok {
		return nil, fmt.Errorf("vpe %d: %w", id, kif.ErrInvArgs)
	}
	return v.dtu.Endpoints(), nil
}

func (k *Kernel) memInfo() MemInfo {
	return MemInfo{
		Capacity:  k.mem.Capacity(),
		Available: k.mem.Available(),
		Modules:   k.mem.Modules(),
	}
}

func (k *Kernel) vpeInfos() []VPEInfo {
	infos := make([]VPEInfo, 0, len(k.vpes))
	for _, v := range k.vpes {
		info := VPEInfo{
			ID:        v.id,
			Name:      v.name,
			PE:        v.dtu.PE(),
			Caps:      v.objs.Len(),
			Mappings:  v.maps.Len(),
			Endpoints: len(v.eps),
			Created:   v.created,
		}
		if v.parent != nil {
			pid := v.parent.id
			info.Parent = &pid
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func capInfos(t *cap.Table) []CapInfo {
	sels := t.Selectors()
	infos := make([]CapInfo, 0, len(sels))
	for _, sel := range sels {
		c := t.Get(sel)
		info := CapInfo{
			Sel:      sel,
			Type:     t.Type().String(),
			Kind:     c.Object().Kind().String(),
			Children: len(c.Children()),
			Object:   fmt.Sprint(c.Object()),
		}
		if p := c.Parent(); p != nil {
			info.Parent = fmt.Sprintf("vpe%d:%d", p.Table().Owner(), p.Sel())
		}
		infos = append(infos, info)
	}
	return infos
}
