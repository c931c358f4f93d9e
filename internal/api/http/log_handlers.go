package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelController changes the log level at runtime.
type LevelController interface {
	SetLevel(level string) error
	Level() zapcore.Level
}

// LogLevelRequest is the body of PUT /log/level.
type LogLevelRequest struct {
	Level string `json:"level" binding:"required"`
}

// WithLevels enables the /log/level routes.
func (h *Handlers) WithLevels(l LevelController) *Handlers {
	h.levels = l
	return h
}

// LogLevel reports the current log level.
func (h *Handlers) LogLevel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"level":   h.levels.Level().String(),
	})
}

// SetLogLevel changes the log level of the whole kernel.
func (h *Handlers) SetLogLevel(c *gin.Context) {
	var req LogLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid log level request",
		})
		return
	}

	old := h.levels.Level()
	if err := h.levels.SetLevel(req.Level); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	h.logger.Info("Log level changed",
		zap.Stringer("from", old),
		zap.Stringer("to", h.levels.Level()),
	)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"level":   h.levels.Level().String(),
	})
}
