package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ardhilink/plotsync/internal/connectivity"
	"github.com/ardhilink/plotsync/internal/session"
)

// APIVersion is the current version of the API
const APIVersion = "0.1.0"

// HealthHandler handles health check and readiness endpoints.
type HealthHandler struct {
	session   *session.Session
	startTime time.Time
	env       string
}

// NewHealthHandler creates a new HealthHandler instance.
func NewHealthHandler(sess *session.Session, env string) *HealthHandler {
	return &HealthHandler{
		session:   sess,
		startTime: time.Now(),
		env:       env,
	}
}

// HealthResponse represents the basic health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status       string `json:"status"`
	Connectivity string `json:"connectivity"`
	LastSync     string `json:"last_sync,omitempty"`
}

// InfoResponse represents the API information response.
type InfoResponse struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Uptime      string `json:"uptime"`
}

// Health handles GET /health endpoint.
// Basic liveness check, no dependency probing.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
	})
}

// Ready handles GET /health/ready endpoint.
// Reports readiness based on remote-source connectivity: ready only once the
// session has connectivity to the registry.
func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.session.ConnectivityStatus()

	resp := ReadyResponse{
		Status:       "ready",
		Connectivity: string(status),
	}
	if last := h.session.LastSync(); !last.IsZero() {
		resp.LastSync = last.Format(time.RFC3339)
	}

	if status == connectivity.StatusDisconnected {
		resp.Status = "not ready"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Info handles GET /api/v1/info endpoint.
func (h *HealthHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, InfoResponse{
		Version:     APIVersion,
		Environment: h.env,
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
	})
}
