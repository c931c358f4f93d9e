package kernel

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/dtu"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

// Config holds the machine limits the kernel enforces.
type Config struct {
	// EpCount is the number of endpoints per DTU.
	EpCount int
	// MaxVPEs is the number of PEs, each running at most one VPE.
	MaxVPEs int
	// MaxSels bounds the object selectors of every VPE.
	MaxSels kif.CapSel
	// MaxMapSels bounds the mapping selectors (virtual page numbers).
	MaxMapSels kif.CapSel
	// MaxRecvOrder bounds the size of receive buffers.
	MaxRecvOrder uint
}

// DefaultConfig returns the limits of the default platform.
func DefaultConfig() Config {
	return Config{
		EpCount:      16,
		MaxVPEs:      16,
		MaxSels:      4096,
		MaxMapSels:   1 << 20,
		MaxRecvOrder: 20,
	}
}

// Validate checks that the limits can be served by the simulated hardware.
func (c Config) Validate() error {
	if c.EpCount <= int(kif.FirstFreeEP) || c.EpCount > dtu.MaxEndpoints {
		return fmt.Errorf("endpoint count %d out of range (%d, %d]", c.EpCount, kif.FirstFreeEP, dtu.MaxEndpoints)
	}
	if c.MaxVPEs < 1 || c.MaxVPEs > 256 {
		return fmt.Errorf("VPE count %d out of range [1, 256]", c.MaxVPEs)
	}
	if c.MaxSels <= kif.FirstFreeSel {
		return fmt.Errorf("selector limit %d leaves no free selectors", c.MaxSels)
	}
	if c.MaxMapSels == 0 {
		return fmt.Errorf("mapping selector limit must be positive")
	}
	if c.MaxRecvOrder < 6 || c.MaxRecvOrder > 24 {
		return fmt.Errorf("receive order %d out of range [6, 24]", c.MaxRecvOrder)
	}
	return nil
}
