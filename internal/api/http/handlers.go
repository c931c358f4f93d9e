// Package http serves a view of the running kernel. The only write is the
// runtime log level.
package http

import (
	"net/http"
	"time"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/dtu"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kernel"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Inspector is the part of the kernel the API reads from.
type Inspector interface {
	BootID() string
	Snapshot() kernel.Snapshot
	MemoryInfo() kernel.MemInfo
	VPEs() []kernel.VPEInfo
	Caps(id kernel.VPEId) ([]kernel.CapInfo, error)
	Endpoints(id kernel.VPEId) ([]dtu.EndpointInfo, error)
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	kernel  Inspector
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
	logger  *zap.Logger
	levels  LevelController
	started time.Time
}

// NewHandlers creates a handler set. metrics and tracer may be nil.
func NewHandlers(k Inspector, metrics *monitoring.Metrics, tracer *tracing.Tracer, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		kernel:  k,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger,
		started: time.Now(),
	}
}

// Register adds every route to r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.GET("/memory", h.Memory)
	r.GET("/vpes", h.ListVPEs)
	r.GET("/vpes/:id/caps", h.VPECaps)
	r.GET("/vpes/:id/eps", h.VPEEndpoints)
	r.GET("/snapshot", h.Snapshot)

	r.GET("/metrics/summary", h.MetricsSummary)
	r.GET("/traces", h.Traces)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
	if h.levels != nil {
		r.GET("/log/level", h.LogLevel)
		r.PUT("/log/level", h.SetLogLevel)
	}
}

// Root names the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "capcore kernel",
		"boot_id": h.kernel.BootID(),
	})
}

// Health reports liveness together with a few headline numbers.
func (h *Handlers) Health(c *gin.Context) {
	mem := h.kernel.MemoryInfo()
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"boot_id": h.kernel.BootID(),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"vpes":    len(h.kernel.VPEs()),
		"memory": gin.H{
			"capacity":  mem.Capacity,
			"available": mem.Available,
		},
	})
}
