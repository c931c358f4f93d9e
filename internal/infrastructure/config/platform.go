package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Platform describes a simulated machine: its PEs, endpoint counts, memory
// modules and the VPEs started at boot. It is read from YAML or TOML.
type Platform struct {
	Name      string         `yaml:"name" toml:"name"`
	PEs       int            `yaml:"pes" toml:"pes"`
	Endpoints int            `yaml:"endpoints" toml:"endpoints"`
	MaxSels   uint32         `yaml:"max_sels" toml:"max_sels"`
	RecvOrder uint           `yaml:"recv_order" toml:"recv_order"`
	Memory    []MemoryModule `yaml:"memory" toml:"memory"`
	Boot      []BootVPE      `yaml:"boot" toml:"boot"`
}

// MemoryModule is one physical memory module.
type MemoryModule struct {
	ID   uint16 `yaml:"id" toml:"id"`
	Size uint64 `yaml:"size" toml:"size"`
}

// BootVPE names a program the boot loader starts on its own PE.
type BootVPE struct {
	Name    string   `yaml:"name" toml:"name"`
	Program string   `yaml:"program" toml:"program"`
	Args    []string `yaml:"args" toml:"args"`
}

// LoadPlatform reads a platform description, choosing the decoder by file
// extension.
func LoadPlatform(path string) (*Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platform: %w", err)
	}
	return ParsePlatform(filepath.Ext(path), data)
}

// ParsePlatform decodes data in the format named by ext (".yaml", ".yml" or
// ".toml").
func ParsePlatform(ext string, data []byte) (*Platform, error) {
	var p Platform
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse yaml platform: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse toml platform: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported platform format %q", ext)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the description for internal consistency.
func (p *Platform) Validate() error {
	if p.PEs < 0 {
		return fmt.Errorf("platform %q: negative PE count", p.Name)
	}
	seen := make(map[uint16]bool, len(p.Memory))
	for _, m := range p.Memory {
		if m.Size == 0 {
			return fmt.Errorf("platform %q: memory module %d has no size", p.Name, m.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("platform %q: duplicate memory module %d", p.Name, m.ID)
		}
		seen[m.ID] = true
	}
	if p.PEs > 0 && len(p.Boot) > p.PEs {
		return fmt.Errorf("platform %q: %d boot VPEs exceed %d PEs", p.Name, len(p.Boot), p.PEs)
	}
	for i, b := range p.Boot {
		if b.Name == "" || b.Program == "" {
			return fmt.Errorf("platform %q: boot entry %d needs a name and a program", p.Name, i)
		}
	}
	return nil
}

// Apply overrides the environment configuration with every value the
// platform sets.
func (p *Platform) Apply(cfg *Config) {
	if p.PEs > 0 {
		cfg.Kernel.PEs = p.PEs
	}
	if p.Endpoints > 0 {
		cfg.Kernel.EpCount = p.Endpoints
	}
	if p.MaxSels > 0 {
		cfg.Kernel.MaxSels = p.MaxSels
	}
	if p.RecvOrder > 0 {
		cfg.Kernel.MaxRecvOrder = p.RecvOrder
	}
}

// Modules returns the memory modules to add at boot. Without a platform
// listing, MEM_MODULES modules of MEM_MODULE_SIZE bytes are numbered from 0.
func Modules(cfg *Config, p *Platform) []MemoryModule {
	if p != nil && len(p.Memory) > 0 {
		return p.Memory
	}
	mods := make([]MemoryModule, cfg.Memory.Modules)
	for i := range mods {
		mods[i] = MemoryModule{ID: uint16(i), Size: cfg.Memory.ModuleSize}
	}
	return mods
}
