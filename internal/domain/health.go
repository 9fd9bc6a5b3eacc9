package domain

import "time"

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	AgentID   string       `json:"agent_id"`
	Message   string       `json:"message,omitempty"`
}

// InFlightCheck describes a check currently holding its lock.
type InFlightCheck struct {
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
	Attached  bool      `json:"attached"`
	Completed bool      `json:"completed"`
}

// ProcessorStats counts check outcomes since start.
type ProcessorStats struct {
	Executed uint64 `json:"executed"`
	Rejected uint64 `json:"rejected"`
	Dropped  uint64 `json:"dropped"`
}

// AgentStatus is the detailed status served on /status.
type AgentStatus struct {
	AgentID       string          `json:"agent_id"`
	IsRunning     bool            `json:"is_running"`
	Transport     string          `json:"transport"`
	Subscriptions []string        `json:"subscriptions"`
	SafeMode      bool            `json:"safemode"`
	Standalone    []string        `json:"standalone"`
	InFlight      []InFlightCheck `json:"in_flight"`
	Stats         ProcessorStats  `json:"stats"`
}
