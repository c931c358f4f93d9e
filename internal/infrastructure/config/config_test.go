package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 16, cfg.Kernel.PEs)
	assert.Equal(t, 16, cfg.Kernel.EpCount)
	assert.Equal(t, uint32(4096), cfg.Kernel.MaxSels)
	assert.Equal(t, uint(20), cfg.Kernel.MaxRecvOrder)
	assert.Equal(t, uint64(1<<20), cfg.Kernel.RecvBufSize)
	assert.Empty(t, cfg.Kernel.Platform)

	assert.Equal(t, 1, cfg.Memory.Modules)
	assert.Equal(t, uint64(64<<20), cfg.Memory.ModuleSize)

	assert.Equal(t, "127.0.0.1:8000", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.Enabled)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	env := map[string]string{
		"KERNEL_PES":            "4",
		"KERNEL_EP_COUNT":       "8",
		"KERNEL_MAX_SELS":       "128",
		"KERNEL_MAX_RECV_ORDER": "16",
		"KERNEL_RECVBUF_SIZE":   "65536",
		"KERNEL_PLATFORM":       "/etc/capcore/platform.yaml",
		"MEM_MODULES":           "2",
		"MEM_MODULE_SIZE":       "1048576",
		"HTTP_ADDR":             ":9000",
		"HTTP_ENABLED":          "false",
		"LOG_LEVEL":             "debug",
		"LOG_DEV":               "true",
		"RATE_LIMIT_RPS":        "500",
		"RATE_LIMIT_BURST":      "1000",
		"RATE_LIMIT_ENABLED":    "false",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, KernelConfig{
		PEs:          4,
		EpCount:      8,
		MaxSels:      128,
		MaxRecvOrder: 16,
		RecvBufSize:  65536,
		Platform:     "/etc/capcore/platform.yaml",
	}, cfg.Kernel)
	assert.Equal(t, MemoryConfig{Modules: 2, ModuleSize: 1 << 20}, cfg.Memory)
	assert.Equal(t, HTTPConfig{Addr: ":9000", Enabled: false}, cfg.HTTP)
	assert.Equal(t, LogConfig{Level: "debug", Development: true}, cfg.Logging)
	assert.Equal(t, RateLimitConfig{RequestsPerSecond: 500, Burst: 1000, Enabled: false}, cfg.RateLimit)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"malformed number", "KERNEL_PES", "many"},
		{"zero PEs", "KERNEL_PES", "0"},
		{"negative modules", "MEM_MODULES", "-1"},
		{"zero module size", "MEM_MODULE_SIZE", "0"},
		{"zero rate", "RATE_LIMIT_RPS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)

			cfg := LoadOrDefault()
			assert.Equal(t, Default(), cfg)
		})
	}
}

func TestRateLimitDisabledSkipsRateCheck(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("RATE_LIMIT_RPS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.RateLimit.Enabled)
}
