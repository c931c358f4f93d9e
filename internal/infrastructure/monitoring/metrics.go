package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/dtu"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "capcore"

// Metrics holds all Prometheus metrics of one kernel instance. It implements
// kernel.Metrics and dtu.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// Kernel metrics
	Syscalls        *prometheus.CounterVec
	SyscallDuration *prometheus.HistogramVec
	VPEs            prometheus.Gauge
	Capabilities    prometheus.Gauge

	// Memory metrics
	MemoryCapacity  prometheus.Gauge
	MemoryAvailable prometheus.Gauge

	// DTU metrics
	Transfers *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	startTime time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot holds running totals for the JSON API.
type Snapshot struct {
	Syscalls        int64   `json:"syscalls"`
	FailedSyscalls  int64   `json:"failed_syscalls"`
	Transfers       int64   `json:"transfers"`
	FailedTransfers int64   `json:"failed_transfers"`
	Requests        int64   `json:"http_requests"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// NewMetrics creates the collectors on a registry of their own, so that
// several kernels can live in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		Syscalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syscalls_total",
				Help:      "Total number of syscalls by operation and result code",
			},
			[]string{"op", "code"},
		),
		SyscallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "syscall_duration_seconds",
				Help:      "Syscall latency including the wait for the kernel lock",
				Buckets:   []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3, 1e-2},
			},
			[]string{"op"},
		),
		VPEs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vpes",
			Help:      "Number of live VPEs",
		}),
		Capabilities: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capabilities",
			Help:      "Number of capabilities in all tables",
		}),
		MemoryCapacity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_capacity_bytes",
			Help:      "Total size of all memory modules",
		}),
		MemoryAvailable: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_available_bytes",
			Help:      "Unallocated bytes across all memory modules",
		}),
		Transfers: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dtu_transfers_total",
				Help:      "DTU transfers by kind and result code",
			},
			[]string{"op", "code"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of introspection API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Introspection API request duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since the kernel booted",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	return m
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordSyscall records one syscall.
func (m *Metrics) RecordSyscall(op, code string, duration time.Duration) {
	m.Syscalls.WithLabelValues(op, code).Inc()
	m.SyscallDuration.WithLabelValues(op).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Syscalls++
	if code != kif.NoError.String() {
		m.snapshot.FailedSyscalls++
	}
	m.mu.Unlock()
}

// SetVPEs sets the number of live VPEs.
func (m *Metrics) SetVPEs(n int) {
	m.VPEs.Set(float64(n))
}

// SetCapabilities sets the number of capabilities.
func (m *Metrics) SetCapabilities(n int) {
	m.Capabilities.Set(float64(n))
}

// SetMemory sets the memory gauges.
func (m *Metrics) SetMemory(capacity, available uint64) {
	m.MemoryCapacity.Set(float64(capacity))
	m.MemoryAvailable.Set(float64(available))
}

// ObserveTransfer records one DTU transfer.
func (m *Metrics) ObserveTransfer(op dtu.Op, code kif.Code) {
	m.Transfers.WithLabelValues(string(op), code.String()).Inc()

	m.mu.Lock()
	m.snapshot.Transfers++
	if code != kif.NoError {
		m.snapshot.FailedTransfers++
	}
	m.mu.Unlock()
}

// RecordHTTPRequest records an introspection API request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Requests++
	m.mu.Unlock()
}

// GetSnapshot returns the running totals.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
