package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/barnhand/corral/internal/queue"
	"github.com/barnhand/corral/internal/registry"
)

type SystemHandler struct {
	reg      *registry.Registry
	producer *queue.Producer
}

func NewSystemHandler(reg *registry.Registry, producer *queue.Producer) *SystemHandler {
	return &SystemHandler{reg: reg, producer: producer}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz checks the registry (hot + warm tier) and the NATS job queue
// (§6, §7 RegistryUnavailable is non-fatal for an in-flight chunk but is
// still surfaced here for operator visibility).
func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := h.reg.Ping(ctx); err != nil {
		checks["registry"] = err.Error()
		healthy = false
	} else {
		checks["registry"] = "ok"
	}

	if err := h.producer.Ping(); err != nil {
		checks["nats"] = err.Error()
		healthy = false
	} else {
		checks["nats"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}
