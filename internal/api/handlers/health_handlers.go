package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/services/monitor"
	"github.com/etrid/flarebridge/pkg/health"
)

// HealthHandler serves the probe endpoints. Readiness distinguishes a dead
// database from a single chain outage: the former fails the probe, the
// latter only degrades it.
type HealthHandler struct {
	livenessChecker  *health.HealthChecker
	readinessChecker *health.HealthChecker
	monitors         *monitor.Registry
	logger           *zap.Logger
	version          string
	startTime        time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(
	livenessChecker *health.HealthChecker,
	readinessChecker *health.HealthChecker,
	monitors *monitor.Registry,
	logger *zap.Logger,
	version string,
) *HealthHandler {
	return &HealthHandler{
		livenessChecker:  livenessChecker,
		readinessChecker: readinessChecker,
		monitors:         monitors,
		logger:           logger,
		version:          version,
		startTime:        time.Now(),
	}
}

// Liveness handles the liveness probe
// @Summary Liveness check
// @Description Returns 200 if the process is alive
// @Tags health
// @Produce json
// @Success 200 {object} health.HealthResponse
// @Failure 503 {object} health.HealthResponse
// @Router /health/liveness [get]
func (h *HealthHandler) Liveness(c *gin.Context) {
	status, checks := h.livenessChecker.Check(c.Request.Context())

	statusCode := http.StatusOK
	if status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health.HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    checks,
	})
}

// Readiness handles the readiness probe
// @Summary Readiness check
// @Description Returns 200 when the service can do useful work. A degraded report means some chains are down but the pipeline is still running.
// @Tags health
// @Produce json
// @Success 200 {object} health.HealthResponse
// @Failure 503 {object} health.HealthResponse
// @Router /health/readiness [get]
func (h *HealthHandler) Readiness(c *gin.Context) {
	status, checks := h.readinessChecker.Check(c.Request.Context())

	statusCode := http.StatusOK
	switch status {
	case health.StatusUnhealthy:
		statusCode = http.StatusServiceUnavailable
		h.logger.Warn("readiness check failed", zap.Any("checks", checks))
	case health.StatusDegraded:
		// Degraded still accepts traffic
		h.logger.Warn("service degraded", zap.Any("checks", checks))
	}

	c.JSON(statusCode, health.HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    checks,
	})
}

// Health handles the general health endpoint
// @Summary General health check
// @Description Returns overall service health with per-component detail
// @Tags health
// @Produce json
// @Success 200 {object} health.HealthResponse
// @Failure 503 {object} health.HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	status, checks := h.readinessChecker.Check(c.Request.Context())

	uptime := time.Since(h.startTime)
	for name, check := range checks {
		checks[name] = check.WithMetadata("uptime_seconds", int(uptime.Seconds()))
	}

	statusCode := http.StatusOK
	if status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health.HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    checks,
	})
}

// ListMonitors returns the status snapshot of every chain monitor
// @Summary List chain monitors
// @Tags health
// @Produce json
// @Success 200 {array} entities.MonitorHealth
// @Security BearerAuth
// @Router /monitors [get]
func (h *HealthHandler) ListMonitors(c *gin.Context) {
	respondSuccess(c, h.monitors.Health())
}

// Version reports the running build
// @Summary Build version
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /version [get]
func (h *HealthHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	})
}

// Ping handles simple ping endpoint (no checks, always returns 200)
// @Summary Ping
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /ping [get]
func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now().Unix(),
		"version": h.version,
	})
}
