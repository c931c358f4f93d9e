package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration.
type Config struct {
	Kernel    KernelConfig
	Memory    MemoryConfig
	HTTP      HTTPConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// KernelConfig holds the machine limits of the simulated platform.
type KernelConfig struct {
	PEs          int    `envconfig:"KERNEL_PES" default:"16"`
	EpCount      int    `envconfig:"KERNEL_EP_COUNT" default:"16"`
	MaxSels      uint32 `envconfig:"KERNEL_MAX_SELS" default:"4096"`
	MaxRecvOrder uint   `envconfig:"KERNEL_MAX_RECV_ORDER" default:"20"`
	RecvBufSize  uint64 `envconfig:"KERNEL_RECVBUF_SIZE" default:"1048576"`
	Platform     string `envconfig:"KERNEL_PLATFORM"`
}

// MemoryConfig describes the memory modules added at boot when no platform
// file lists any.
type MemoryConfig struct {
	Modules    int    `envconfig:"MEM_MODULES" default:"1"`
	ModuleSize uint64 `envconfig:"MEM_MODULE_SIZE" default:"67108864"`
}

// HTTPConfig holds the introspection server configuration.
type HTTPConfig struct {
	Addr    string `envconfig:"HTTP_ADDR" default:"127.0.0.1:8000"`
	Enabled bool   `envconfig:"HTTP_ENABLED" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the HTTP API.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Kernel: KernelConfig{
			PEs:          16,
			EpCount:      16,
			MaxSels:      4096,
			MaxRecvOrder: 20,
			RecvBufSize:  1 << 20,
		},
		Memory: MemoryConfig{
			Modules:    1,
			ModuleSize: 64 << 20,
		},
		HTTP: HTTPConfig{
			Addr:    "127.0.0.1:8000",
			Enabled: true,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate rejects values no platform can boot with. Kernel limits are
// checked again, more precisely, when the kernel is created.
func (c *Config) Validate() error {
	if c.Kernel.PEs < 1 {
		return fmt.Errorf("KERNEL_PES must be positive, got %d", c.Kernel.PEs)
	}
	if c.Memory.Modules < 0 {
		return fmt.Errorf("MEM_MODULES must not be negative, got %d", c.Memory.Modules)
	}
	if c.Memory.Modules > 0 && c.Memory.ModuleSize == 0 {
		return fmt.Errorf("MEM_MODULE_SIZE must be positive")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive, got %d", c.RateLimit.RequestsPerSecond)
	}
	return nil
}
