package handlers

import (
	"net/http"
	"time"

	"github.com/EdwardLH219/pickd-backend/internal/health"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type HealthHandler struct {
	checker *health.Checker
	logger  *logrus.Logger
}

func NewHealthHandler(checker *health.Checker, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{checker: checker, logger: logger}
}

// HandleHealth reports dependency health, served from the periodic check's
// cache when possible.
func (h *HealthHandler) HandleHealth(c *gin.Context) {
	if cached, err := h.checker.CheckCached(c.Request.Context()); err == nil {
		h.respond(c, cached)
		return
	}

	overall := h.checker.CheckAll()
	h.respond(c, &overall)
}

func (h *HealthHandler) respond(c *gin.Context, overall *health.OverallHealth) {
	code := http.StatusOK
	if overall.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, overall)
}

// HandleLiveness is the bare process-is-up probe.
func (h *HealthHandler) HandleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
