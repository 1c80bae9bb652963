// Package health exposes the liveness and readiness probes served on the
// optional operations address.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Probe is what the handler needs from the dispatcher: a heartbeat
// timestamp updated every tick.
type Probe interface {
	LastTick() time.Time
}

// Handler manages health check endpoints.
type Handler struct {
	probe Probe

	// MaxTickAge is how stale the dispatcher heartbeat may be before the
	// server reports itself unready.
	MaxTickAge time.Duration
}

// NewHandler creates a health check handler watching the given probe.
func NewHandler(probe Probe) *Handler {
	return &Handler{probe: probe, MaxTickAge: 10 * time.Second}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live
// Returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// Returns 200 while the dispatcher heartbeat is fresh, 503 once it goes
// stale.
func (h *Handler) Readiness(c *gin.Context) {
	checks := make(map[string]string)

	dispatcherStatus := h.checkDispatcher()
	checks["dispatcher"] = dispatcherStatus

	status := "ready"
	statusCode := http.StatusOK
	if dispatcherStatus != "healthy" {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

func (h *Handler) checkDispatcher() string {
	if h.probe == nil {
		return "unhealthy"
	}
	if time.Since(h.probe.LastTick()) > h.MaxTickAge {
		return "unhealthy"
	}
	return "healthy"
}
