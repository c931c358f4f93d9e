package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Memory describes physical memory.
func (h *Handlers) Memory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"memory":  h.kernel.MemoryInfo(),
	})
}

// ListVPEs lists all VPEs.
func (h *Handlers) ListVPEs(c *gin.Context) {
	vpes := h.kernel.VPEs()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"vpes":    vpes,
		"count":   len(vpes),
	})
}

// VPECaps lists the capabilities of one VPE.
func (h *Handlers) VPECaps(c *gin.Context) {
	id, ok := h.vpeID(c)
	if !ok {
		return
	}

	caps, err := h.kernel.Caps(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"vpe":     id,
		"caps":    caps,
		"count":   len(caps),
	})
}

// VPEEndpoints lists the endpoint configuration of one VPE's DTU.
func (h *Handlers) VPEEndpoints(c *gin.Context) {
	id, ok := h.vpeID(c)
	if !ok {
		return
	}

	eps, err := h.kernel.Endpoints(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"vpe":       id,
		"endpoints": eps,
	})
}

// Snapshot returns the whole kernel state. ?pretty=true indents the output.
func (h *Handlers) Snapshot(c *gin.Context) {
	snap := h.kernel.Snapshot()

	var (
		data []byte
		err  error
	)
	if pretty, _ := strconv.ParseBool(c.Query("pretty")); pretty {
		data, err = sonic.MarshalIndent(snap, "", "  ")
	} else {
		data, err = sonic.Marshal(snap)
	}
	if err != nil {
		h.logger.Error("Failed to encode snapshot", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to encode snapshot",
		})
		return
	}
	h.writeCompressed(c, "application/json; charset=utf-8", data)
}

func (h *Handlers) vpeID(c *gin.Context) (kernel.VPEId, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid VPE id " + strconv.Quote(c.Param("id")),
		})
		return 0, false
	}
	return kernel.VPEId(id), true
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, kif.ErrInvArgs) {
		status = http.StatusNotFound
	} else {
		h.logger.Error("Kernel query failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}
