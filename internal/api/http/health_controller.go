package http

import (
	"context"
	"net/http"
	"time"

	"ozzus/sensu-agent/internal/domain"

	"github.com/gin-gonic/gin"
)

type AgentService interface {
	HealthCheck(ctx context.Context) error
	Ready(ctx context.Context) error
	GetStatus() domain.AgentStatus
}

type HealthController struct {
	agentService AgentService
	agentID      string
	version      string
	now          func() time.Time
}

func NewHealthController(agentService AgentService, agentID, version string) *HealthController {
	return &HealthController{
		agentService: agentService,
		agentID:      agentID,
		version:      version,
		now:          time.Now,
	}
}

// Health reports whether the agent loops are running.
func (h *HealthController) Health(c *gin.Context) {
	if err := h.agentService.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, domain.HealthResponse{
			Status:    domain.HealthStatusUnhealthy,
			Timestamp: h.now(),
			AgentID:   h.agentID,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, domain.HealthResponse{
		Status:    domain.HealthStatusHealthy,
		Timestamp: h.now(),
		AgentID:   h.agentID,
		Message:   "Agent is running",
	})
}

func (h *HealthController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.agentService.GetStatus())
}

// Ready also requires the agent to be subscribed on the bus.
func (h *HealthController) Ready(c *gin.Context) {
	if err := h.agentService.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"agent":     h.agentID,
			"message":   err.Error(),
			"timestamp": h.now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"agent":     h.agentID,
		"message":   "Agent is ready to process checks",
		"timestamp": h.now(),
	})
}

func (h *HealthController) Info(c *gin.Context) {
	status := h.agentService.GetStatus()

	c.JSON(http.StatusOK, gin.H{
		"agent_id":  h.agentID,
		"version":   h.version,
		"transport": status.Transport,
		"status":    status,
		"timestamp": h.now(),
		"components": []string{
			"check_processor",
			"standalone_scheduler",
			"subscriptions_receiver",
			"keepalive_scheduler",
			"local_socket",
		},
	})
}
